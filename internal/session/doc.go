// Package session wires the store together and hands out sessions.
//
// A Repository owns the process-wide pieces: the storage backend, the
// shared row cache, the access control engine and the admin zone policy.
// Opening it bootstraps the built-in identities and root ACLs when they
// are missing.
//
// A Session is one authenticated user's view of the store. Its managers
// check every call against that user's principals:
//
//	repo, err := session.Open(ctx, cfg, session.Dependencies{Logger: log})
//	s, err := repo.Login(ctx, "alice", password)
//	defer s.Logout(ctx)
//	item, err := s.Content().Get(ctx, "docs/report")
//
// Sessions are cheap and independent. The Repository is safe for
// concurrent use; a Session is meant for one call chain at a time.
package session
