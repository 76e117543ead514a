// Package content stores property bags addressed by slash separated paths.
// Access follows the content zone ACLs, which inherit from parent paths.
// Proxy principal tokens are ordinary content items, so this package also
// provides the resolver that finds them.
package content

import (
	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
	"github.com/zathomas/sparsemapcontent/internal/storage"
)

// Stored bookkeeping fields.
const (
	PathField   = "_path"
	ParentField = "_parent"
)

func managed(name string) bool {
	return name == PathField || name == ParentField
}

// Content is one stored item. Changes are local until Manager.Update.
type Content struct {
	path    string
	props   map[string]any
	changes storage.Row
	access  *accesscontrol.PropertyACL
	isNew   bool
}

// New returns an unsaved item at path. Property rights are settled when
// it is saved.
func New(path string, props map[string]any) *Content {
	c := &Content{
		path:    accesscontrol.NormalizePath(path),
		props:   map[string]any{},
		changes: storage.Row{},
		isNew:   true,
	}
	for k, v := range props {
		c.SetProperty(k, v)
	}
	return c
}

func load(path string, row storage.Row, access *accesscontrol.PropertyACL) *Content {
	c := &Content{path: path, props: map[string]any{}, changes: storage.Row{}, access: access}
	for k, v := range row {
		if managed(k) || (access != nil && !access.CanRead(k)) {
			continue
		}
		c.props[k] = v
	}
	return c
}

// Path locates the item.
func (c *Content) Path() string { return c.path }

// Properties returns a copy of the readable properties.
func (c *Content) Properties() map[string]any {
	out := make(map[string]any, len(c.props))
	for k, v := range c.props {
		out[k] = v
	}
	return out
}

func (c *Content) Property(name string) (any, bool) {
	v, ok := c.props[name]
	return v, ok
}

// SetProperty changes the local copy. Properties the loading session may
// not write are ignored.
func (c *Content) SetProperty(name string, value any) {
	if managed(name) || !c.writable(name) {
		return
	}
	c.props[name] = value
	c.changes[name] = value
}

func (c *Content) RemoveProperty(name string) {
	if managed(name) || !c.writable(name) {
		return
	}
	if _, ok := c.props[name]; !ok {
		return
	}
	delete(c.props, name)
	c.changes[name] = storage.Removed
}

func (c *Content) writable(name string) bool {
	return c.access == nil || (c.access.CanRead(name) && c.access.CanWrite(name))
}

// restrict adopts the saving session's property rights. Pending changes
// to properties it may not write are dropped and their local values put
// back to stored.
func (c *Content) restrict(access *accesscontrol.PropertyACL, stored storage.Row) {
	c.access = access
	for name := range c.changes {
		if c.writable(name) {
			continue
		}
		delete(c.changes, name)
		if v, ok := stored[name]; ok && access.CanRead(name) {
			c.props[name] = v
		} else {
			delete(c.props, name)
		}
	}
}

// IsNew reports whether the item has never been saved.
func (c *Content) IsNew() bool { return c.isNew }

// IsModified reports unsaved changes.
func (c *Content) IsModified() bool { return c.isNew || len(c.changes) > 0 }

func (c *Content) pending() storage.Row {
	out := c.changes.Clone()
	if c.isNew {
		out[PathField] = c.path
		out[ParentField] = parentOf(c.path)
	}
	return out
}

func (c *Content) saved() {
	c.changes = storage.Row{}
	c.isNew = false
}

// parentOf returns the parent path, RootPath for top level items.
func parentOf(path string) string {
	chain := accesscontrol.PathChain(path)
	if len(chain) < 2 {
		return accesscontrol.RootPath
	}
	return chain[1]
}
