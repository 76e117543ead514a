// Package events carries store change notifications to in-process
// listeners. Create, update and delete events are routed by zone to a
// topic; login and logout are audit-only.
package events

import (
	"context"
	"time"
)

// Zones events are routed by.
const (
	ZoneAdmin         = "admin"
	ZoneAuthorizables = "authorizables"
	ZoneContent       = "content"
)

// Kind of change.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
	KindLogin   Kind = "login"
	KindLogout  Kind = "logout"
)

// Resource types carried on events.
const (
	ResourceUser    = "user"
	ResourceGroup   = "group"
	ResourceContent = "content"
	ResourceACL     = "acl"
)

var topics = map[string]map[Kind]string{
	ZoneAdmin: {
		KindCreated: "sparse/admin/created",
		KindUpdated: "sparse/admin/updated",
		KindDeleted: "sparse/admin/deleted",
	},
	ZoneAuthorizables: {
		KindCreated: "sparse/authorizables/created",
		KindUpdated: "sparse/authorizables/updated",
		KindDeleted: "sparse/authorizables/deleted",
	},
	ZoneContent: {
		KindCreated: "sparse/content/created",
		KindUpdated: "sparse/content/updated",
		KindDeleted: "sparse/content/deleted",
	},
}

// Session topics.
const (
	TopicLogin  = "sparse/session/login"
	TopicLogout = "sparse/session/logout"
)

// Topic returns the topic for a change in zone. Unknown zones fall back to
// the content topics.
func Topic(zone string, kind Kind) string {
	switch kind {
	case KindLogin:
		return TopicLogin
	case KindLogout:
		return TopicLogout
	}
	byKind, ok := topics[zone]
	if !ok {
		byKind = topics[ZoneContent]
	}
	return byKind[kind]
}

// Event describes one change.
type Event struct {
	Topic        string
	Kind         Kind
	Zone         string
	Path         string
	UserID       string
	ResourceType string
	// IsNew is true when the update created the object.
	IsNew bool
	// Before is the stored state prior to the change, nil for new objects.
	Before    map[string]any
	SessionID string
	At        time.Time
}

// Update builds an update event; isNew selects the created topic.
func Update(zone, path, userID, resourceType string, isNew bool, before map[string]any) Event {
	kind := KindUpdated
	if isNew {
		kind = KindCreated
	}
	return Event{
		Topic:        Topic(zone, kind),
		Kind:         kind,
		Zone:         zone,
		Path:         path,
		UserID:       userID,
		ResourceType: resourceType,
		IsNew:        isNew,
		Before:       before,
		At:           time.Now().UTC(),
	}
}

// Delete builds a delete event.
func Delete(zone, path, userID, resourceType string, before map[string]any) Event {
	return Event{
		Topic:        Topic(zone, KindDeleted),
		Kind:         KindDeleted,
		Zone:         zone,
		Path:         path,
		UserID:       userID,
		ResourceType: resourceType,
		Before:       before,
		At:           time.Now().UTC(),
	}
}

// Listener receives store notifications. Implementations must not block
// for long; they run on the caller's goroutine.
type Listener interface {
	OnUpdate(ctx context.Context, e Event)
	OnDelete(ctx context.Context, e Event)
	OnLogin(ctx context.Context, userID, sessionID string)
	OnLogout(ctx context.Context, userID, sessionID string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) OnUpdate(context.Context, Event)          {}
func (Nop) OnDelete(context.Context, Event)          {}
func (Nop) OnLogin(context.Context, string, string)  {}
func (Nop) OnLogout(context.Context, string, string) {}

// Multi fans out to every listener in order.
type Multi []Listener

func (m Multi) OnUpdate(ctx context.Context, e Event) {
	for _, l := range m {
		l.OnUpdate(ctx, e)
	}
}

func (m Multi) OnDelete(ctx context.Context, e Event) {
	for _, l := range m {
		l.OnDelete(ctx, e)
	}
}

func (m Multi) OnLogin(ctx context.Context, userID, sessionID string) {
	for _, l := range m {
		l.OnLogin(ctx, userID, sessionID)
	}
}

func (m Multi) OnLogout(ctx context.Context, userID, sessionID string) {
	for _, l := range m {
		l.OnLogout(ctx, userID, sessionID)
	}
}
