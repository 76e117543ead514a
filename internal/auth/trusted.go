package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zathomas/sparsemapcontent/internal/errdefs"
)

// EncodeTrustedToken produces "HMAC;principal;timestamp" where timestamp is
// Unix milliseconds and HMAC is the base64 HMAC-SHA1 of "principal;timestamp"
// under secret.
func EncodeTrustedToken(secret []byte, principal string, at time.Time) string {
	payload := principal + PrincipalSeparator + strconv.FormatInt(at.UnixMilli(), 10)
	return trustedMAC(secret, payload) + PrincipalSeparator + payload
}

// DecodeTrustedToken verifies token and returns the principal it names.
// Tokens older than maxAge, or stamped more than maxAge in the future, are
// rejected. Every failure matches errdefs.ErrInvalidToken.
func DecodeTrustedToken(secret []byte, token string, now time.Time, maxAge time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: trusted login is not configured", errdefs.ErrInvalidToken)
	}
	first := strings.Index(token, PrincipalSeparator)
	last := strings.LastIndex(token, PrincipalSeparator)
	if first <= 0 || last <= first+1 {
		return "", fmt.Errorf("%w: malformed trusted token", errdefs.ErrInvalidToken)
	}
	mac, principal, stamp := token[:first], token[first+1:last], token[last+1:]

	if !hmac.Equal([]byte(mac), []byte(trustedMAC(secret, principal+PrincipalSeparator+stamp))) {
		return "", fmt.Errorf("%w: trusted token signature mismatch", errdefs.ErrInvalidToken)
	}

	millis, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad trusted token timestamp", errdefs.ErrInvalidToken)
	}
	age := now.Sub(time.UnixMilli(millis))
	if age > maxAge || age < -maxAge {
		return "", fmt.Errorf("%w: trusted token expired", errdefs.ErrInvalidToken)
	}
	return principal, nil
}

func trustedMAC(secret []byte, payload string) string {
	h := hmac.New(sha1.New, secret)
	h.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
