package accesscontrol

import (
	"fmt"
	"strings"

	"github.com/zathomas/sparsemapcontent/internal/events"
)

// Zone partitions ACLs. Admin is flat; the other zones are hierarchical
// and inherit along "/" separated paths.
type Zone string

const (
	ZoneAdmin         Zone = events.ZoneAdmin
	ZoneAuthorizables Zone = events.ZoneAuthorizables
	ZoneContent       Zone = events.ZoneContent
)

// RootPath is the top of every hierarchical zone.
const RootPath = "/"

// ParseZone accepts a zone name.
func ParseZone(s string) (Zone, error) {
	switch z := Zone(strings.ToLower(strings.TrimSpace(s))); z {
	case ZoneAdmin, ZoneAuthorizables, ZoneContent:
		return z, nil
	}
	return "", fmt.Errorf("unknown zone %q", s)
}

func (z Zone) String() string { return string(z) }

// Hierarchical reports whether ACLs in z inherit from parent paths.
func (z Zone) Hierarchical() bool {
	return z != ZoneAdmin
}

// NormalizePath trims separators and collapses empty segments; the root is
// returned as RootPath.
func NormalizePath(path string) string {
	var parts []string
	for _, seg := range strings.Split(strings.TrimSpace(path), "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return RootPath
	}
	return strings.Join(parts, "/")
}

// PathChain returns path followed by each ancestor, ending at RootPath.
//
//	PathChain("a/b/c") → ["a/b/c", "a/b", "a", "/"]
func PathChain(path string) []string {
	p := NormalizePath(path)
	if p == RootPath {
		return []string{RootPath}
	}
	chain := []string{p}
	for {
		i := strings.LastIndex(p, "/")
		if i < 0 {
			break
		}
		p = p[:i]
		chain = append(chain, p)
	}
	return append(chain, RootPath)
}

// aclKey is the logical row key of the ACL for zone and path.
func aclKey(zone Zone, path string) string {
	return string(zone) + ";" + NormalizePath(path)
}
