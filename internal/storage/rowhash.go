package storage

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/zathomas/sparsemapcontent/internal/errdefs"
)

// DefaultRowHashAlgorithm produces 160-bit row ids.
const DefaultRowHashAlgorithm = "SHA1"

const rowIDMemoSize = 4096

var rowHashAlgorithms = map[string]func() hash.Hash{
	"SHA1":    sha1.New,
	"SHA-1":   sha1.New,
	"SHA256":  sha256.New,
	"SHA-256": sha256.New,
	"BLAKE3":  func() hash.Hash { return blake3.New() },
}

// RowHasher maps (keyspace, column family, key) to a fixed-length row id:
// base64url(hash(keyspace ":" columnFamily ":" key)). The mapping is pure
// and stable across restarts.
type RowHasher struct {
	algorithm string
	newHash   func() hash.Hash
	memo      *lru.Cache[string, string]
}

// NewRowHasher returns a hasher for the named algorithm. An empty name
// selects SHA1; an unknown name is a configuration error.
func NewRowHasher(algorithm string) (*RowHasher, error) {
	if algorithm == "" {
		algorithm = DefaultRowHashAlgorithm
	}
	name := strings.ToUpper(strings.TrimSpace(algorithm))
	newHash, ok := rowHashAlgorithms[name]
	if !ok {
		return nil, errdefs.Configuration("unknown row hash algorithm %q", algorithm)
	}
	memo, err := lru.New[string, string](rowIDMemoSize)
	if err != nil {
		return nil, errdefs.Configuration("row id memo: %v", err)
	}
	return &RowHasher{algorithm: name, newHash: newHash, memo: memo}, nil
}

// MustRowHasher is NewRowHasher for known-good algorithm names.
func MustRowHasher(algorithm string) *RowHasher {
	h, err := NewRowHasher(algorithm)
	if err != nil {
		panic(err)
	}
	return h
}

// Algorithm returns the normalised algorithm name.
func (h *RowHasher) Algorithm() string {
	return h.algorithm
}

// RowID returns the row id for the logical key.
func (h *RowHasher) RowID(keyspace, columnFamily, key string) string {
	logical := keyspace + ":" + columnFamily + ":" + key
	if id, ok := h.memo.Get(logical); ok {
		return id
	}
	d := h.newHash()
	d.Write([]byte(logical))
	id := base64.RawURLEncoding.EncodeToString(d.Sum(nil))
	h.memo.Add(logical, id)
	return id
}

// DecodeRowID returns the raw digest behind a row id.
func DecodeRowID(id string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(id)
}
