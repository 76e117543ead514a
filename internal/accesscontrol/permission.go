package accesscontrol

import (
	"fmt"
	"math/bits"
	"strings"
)

// Permission is a bitmask of rights. Grants and denials are stored as
// separate masks per principal.
type Permission uint32

const (
	Read Permission = 1 << iota
	Write
	Delete
	ReadACL
	WriteACL
	DeleteACL
	ReadProperty
	WriteProperty
)

// Composite permissions.
const (
	AnythingACL      = ReadACL | WriteACL | DeleteACL
	AnythingProperty = ReadProperty | WriteProperty
	Anything         = Read | Write | Delete | AnythingACL | AnythingProperty

	// Administer is what it takes to change an object's ACL.
	Administer = WriteACL
)

var permissionNames = []struct {
	p    Permission
	name string
}{
	{Read, "read"},
	{Write, "write"},
	{Delete, "delete"},
	{ReadACL, "read-acl"},
	{WriteACL, "write-acl"},
	{DeleteACL, "delete-acl"},
	{ReadProperty, "read-property"},
	{WriteProperty, "write-property"},
}

var compositeNames = map[string]Permission{
	"anything":          Anything,
	"anything-acl":      AnythingACL,
	"anything-property": AnythingProperty,
	"administer":        Administer,
	"all":               Anything,
}

// Has reports whether every bit of want is in p.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

// Names lists the single permissions set in p, lowest bit first.
func (p Permission) Names() []string {
	var out []string
	for _, pn := range permissionNames {
		if p&pn.p != 0 {
			out = append(out, pn.name)
		}
	}
	return out
}

func (p Permission) String() string {
	if p == 0 {
		return "none"
	}
	if p == Anything {
		return "anything"
	}
	return strings.Join(p.Names(), ",")
}

// Count is the number of single permissions in p.
func (p Permission) Count() int {
	return bits.OnesCount32(uint32(p))
}

// ParsePermission parses a comma separated list of permission names such
// as "read,write-property" or "anything".
func ParsePermission(s string) (Permission, error) {
	var out Permission
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if p, ok := compositeNames[name]; ok {
			out |= p
			continue
		}
		found := false
		for _, pn := range permissionNames {
			if pn.name == name {
				out |= pn.p
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown permission %q", name)
		}
	}
	if out == 0 {
		return 0, fmt.Errorf("no permission in %q", s)
	}
	return out, nil
}
