package auth

import (
	"fmt"
	"slices"
	"strings"
)

// Well-known principals and users created by bootstrap.
const (
	// Everyone is implicitly held by every subject, anonymous included.
	Everyone = "everyone"

	// Administrators members bypass every access check.
	Administrators = "administrators"

	AdminUser     = "admin"
	AnonymousUser = "anonymous"
)

// PrefixProxy marks a proxy principal, held only while a valid content
// token for it resolves.
const PrefixProxy = "proxy:"

// PrincipalSeparator joins principal lists in stored rows and casbin
// request subjects.
const PrincipalSeparator = ";"

// ProxyPrincipal creates a proxy principal identifier
// Example: ProxyPrincipal("share-123") → "proxy:share-123"
func ProxyPrincipal(name string) string {
	return PrefixProxy + name
}

// IsProxyPrincipal reports whether principal carries the proxy prefix.
func IsProxyPrincipal(principal string) bool {
	return strings.HasPrefix(principal, PrefixProxy) && len(principal) > len(PrefixProxy)
}

// ExtractProxyName extracts the name from a proxy principal
// Example: ExtractProxyName("proxy:share-123") → "share-123", nil
func ExtractProxyName(principal string) (string, error) {
	if !IsProxyPrincipal(principal) {
		return "", fmt.Errorf("invalid proxy principal: %s (expected prefix %s)", principal, PrefixProxy)
	}
	return strings.TrimPrefix(principal, PrefixProxy), nil
}

// SplitPrincipals parses a stored principal list, dropping blanks and
// duplicates while keeping order.
func SplitPrincipals(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, PrincipalSeparator) {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// JoinPrincipals is the inverse of SplitPrincipals.
func JoinPrincipals(principals []string) string {
	return strings.Join(SplitPrincipals(strings.Join(principals, PrincipalSeparator)), PrincipalSeparator)
}

// IsReservedID reports whether id names a bootstrap identity that cannot be
// deleted.
func IsReservedID(id string) bool {
	switch id {
	case AdminUser, AnonymousUser, Administrators, Everyone:
		return true
	}
	return false
}
