// Package cmdutil holds helpers shared by the sparse subcommands.
package cmdutil

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zathomas/sparsemapcontent/internal/config"
	"github.com/zathomas/sparsemapcontent/internal/logger"
	"github.com/zathomas/sparsemapcontent/internal/session"
)

// Bundle is an open repository plus the session a command acts through.
type Bundle struct {
	Config     *config.Config
	Repository *session.Repository
	Session    *session.Session
}

// Close logs the session out and closes the repository.
func (b *Bundle) Close(ctx context.Context) {
	if b == nil {
		return
	}
	if b.Session != nil {
		b.Session.Logout(ctx)
	}
	if b.Repository != nil {
		_ = b.Repository.Close()
	}
}

// OpenRepository loads configuration, opens the repository and logs in
// administratively as the user named by --as, or admin when it is unset.
func OpenRepository(cmd *cobra.Command) (*Bundle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewWithWriter(os.Stderr, "sparse")
	if cfg.UsesMemoryStore() {
		log.Warn().Msg("no database configured; changes will not outlive this command")
	}

	ctx := cmd.Context()
	repo, err := session.Open(ctx, cfg, session.Dependencies{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	as := ""
	if f := cmd.Flag("as"); f != nil {
		as = f.Value.String()
	}
	sess, err := repo.LoginAdministrative(ctx, as)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to log in: %w", err)
	}

	return &Bundle{Config: cfg, Repository: repo, Session: sess}, nil
}

// ParseProperties turns "name=value" pairs into a property map.
func ParseProperties(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property %q: expected name=value", pair)
		}
		props[name] = value
	}
	return props, nil
}
