package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggingListener writes every notification to a zerolog logger.
type LoggingListener struct {
	Logger zerolog.Logger
}

func (l LoggingListener) OnUpdate(_ context.Context, e Event) {
	l.Logger.Debug().
		Str("topic", e.Topic).
		Str("zone", e.Zone).
		Str("path", e.Path).
		Str("user", e.UserID).
		Str("resource_type", e.ResourceType).
		Bool("new", e.IsNew).
		Msg("store update")
}

func (l LoggingListener) OnDelete(_ context.Context, e Event) {
	l.Logger.Debug().
		Str("topic", e.Topic).
		Str("zone", e.Zone).
		Str("path", e.Path).
		Str("user", e.UserID).
		Str("resource_type", e.ResourceType).
		Msg("store delete")
}

func (l LoggingListener) OnLogin(_ context.Context, userID, sessionID string) {
	l.Logger.Info().Str("user", userID).Str("session", sessionID).Msg("login")
}

func (l LoggingListener) OnLogout(_ context.Context, userID, sessionID string) {
	l.Logger.Info().Str("user", userID).Str("session", sessionID).Msg("logout")
}
