package accesscontrol

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zathomas/sparsemapcontent/internal/errdefs"
	"github.com/zathomas/sparsemapcontent/internal/telemetry"
)

const tracerName = "sparse/accesscontrol"

// Manager answers access questions for one subject. It is cheap to create
// and carries no per-call state, so a session can share it across
// goroutines.
type Manager struct {
	svc      *Service
	subject  Subject
	resolver TokenResolver
}

// Subject returns the identity the manager decides for.
func (m *Manager) Subject() Subject { return m.subject }

// WithTokenResolver returns a manager that also consults r for proxy
// tokens. The receiver is unchanged.
func (m *Manager) WithTokenResolver(r TokenResolver) *Manager {
	return &Manager{svc: m.svc, subject: m.subject, resolver: chainAll(r, m.resolver)}
}

func (m *Manager) resolverFor(ctx context.Context) TokenResolver {
	return chainAll(m.svc.resolver, m.resolver, RequestResolver(ctx))
}

// Can reports whether the subject holds every bit of want on path.
func (m *Manager) Can(ctx context.Context, zone Zone, path string, want Permission) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "acl.Check",
		attribute.String(telemetry.AttrZone, string(zone)),
		attribute.String(telemetry.AttrPath, path),
		attribute.String(telemetry.AttrPermission, want.String()),
		attribute.String(telemetry.AttrPrincipal, m.subject.UserID),
	)
	defer span.End()

	ok, err := m.svc.check(ctx, m.subject, m.resolverFor(ctx), zone, path, want)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	span.SetAttributes(attribute.Bool(telemetry.AttrAllowed, ok))
	m.svc.metrics.RecordCheck(ctx, string(zone), ok)
	return ok, nil
}

// Check is Can returning an *errdefs.AccessDeniedError on refusal.
func (m *Manager) Check(ctx context.Context, zone Zone, path string, want Permission) error {
	ok, err := m.Can(ctx, zone, path, want)
	if err != nil {
		return err
	}
	if !ok {
		m.svc.logger.Debug().
			Str("principal", m.subject.UserID).
			Str("zone", string(zone)).
			Str("path", path).
			Str("permission", want.String()).
			Msg("access denied")
		return errdefs.AccessDenied(m.subject.UserID, string(zone), NormalizePath(path), want.String())
	}
	return nil
}

// GetACL returns the entries stored on path itself. Requires ReadACL.
func (m *Manager) GetACL(ctx context.Context, zone Zone, path string) (*ACL, error) {
	if err := m.Check(ctx, zone, path, ReadACL); err != nil {
		return nil, err
	}
	if !zone.Hierarchical() {
		return m.svc.admin.ACL(NormalizePath(path), false)
	}
	return m.svc.loadACL(ctx, zone, NormalizePath(path))
}

// EffectiveACL merges the entries of path and its ancestors; for each
// principal and scope the entry on the nearest path wins. Requires ReadACL.
func (m *Manager) EffectiveACL(ctx context.Context, zone Zone, path string) (*ACL, error) {
	if err := m.Check(ctx, zone, path, ReadACL); err != nil {
		return nil, err
	}
	return m.svc.effectiveACL(ctx, zone, path)
}

// SetACL applies modifications to the ACL on path. Requires WriteACL.
func (m *Manager) SetACL(ctx context.Context, zone Zone, path string, mods ...Modification) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "acl.Set",
		attribute.String(telemetry.AttrZone, string(zone)),
		attribute.String(telemetry.AttrPath, path),
		attribute.String(telemetry.AttrPrincipal, m.subject.UserID),
	)
	defer span.End()

	if err := m.Check(ctx, zone, path, WriteACL); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if err := m.svc.setACL(ctx, m.subject.UserID, zone, path, mods); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// Principals lists the principals the effective ACL grants (or, with
// denied, refuses) every bit of perm on path. Requires ReadACL.
func (m *Manager) Principals(ctx context.Context, zone Zone, path string, perm Permission, denied bool) ([]string, error) {
	a, err := m.EffectiveACL(ctx, zone, path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range a.Entries() {
		if e.Property != "" {
			continue
		}
		mask := e.Grant
		if denied {
			mask = e.Deny
		}
		if mask.Has(perm) {
			out = append(out, e.Principal)
		}
	}
	return out, nil
}

// SignContentToken binds token to the object at zone and path: it records
// the target and signs the validator's protected fields with the object's
// secret, creating the secret on first use. The caller stores the token.
// Requires WriteACL on the object.
func (m *Manager) SignContentToken(ctx context.Context, token *Token, zone Zone, path string) error {
	if token == nil || token.Principal() == "" {
		return fmt.Errorf("%w: token names no principal", errdefs.ErrInvalidToken)
	}
	if !zone.Hierarchical() {
		return fmt.Errorf("%w: tokens cannot be signed in the %s zone", errdefs.ErrInvalidToken, zone)
	}
	plugin := m.svc.validators.Get(token.Validator())
	if plugin == nil {
		return fmt.Errorf("%w: unknown validator %q", errdefs.ErrInvalidToken, token.Validator())
	}
	path = NormalizePath(path)
	if err := m.Check(ctx, zone, path, WriteACL); err != nil {
		return err
	}
	secret, err := m.svc.objectSecret(ctx, zone, path)
	if err != nil {
		return err
	}
	target := aclKey(zone, path)
	token.Properties[TokenValidatorField] = token.Validator()
	token.Properties[TokenTargetField] = target
	token.Properties[TokenHMACField] = signToken(secret, target, token, plugin.ProtectedFields())
	return nil
}

// PropertyACL lists the properties of the object at path the subject may
// not read or write. Only properties with property scoped entries on the
// path or its ancestors appear; a property bit no entry settles follows
// the object level Read or Write decision.
func (m *Manager) PropertyACL(ctx context.Context, zone Zone, path string) (*PropertyACL, error) {
	out := &PropertyACL{readDenied: map[string]struct{}{}, writeDenied: map[string]struct{}{}}
	if m.subject.IsAdmin() || IsElevated(ctx) || !zone.Hierarchical() {
		return out, nil
	}

	ev := m.svc.newEvaluation(ctx, m.subject, zone, m.resolverFor(ctx))
	props := map[string]struct{}{}
	for _, p := range PathChain(path) {
		a, err := ev.acl(p)
		if err != nil {
			return nil, err
		}
		for _, prop := range a.Properties() {
			props[prop] = struct{}{}
		}
	}
	if len(props) == 0 {
		return out, nil
	}

	object, err := ev.decide(path, "", Read|Write)
	if err != nil {
		return nil, err
	}
	for prop := range props {
		d, err := ev.decide(path, prop, AnythingProperty)
		if err != nil {
			return nil, err
		}
		if !allowedProperty(d, ReadProperty, object, Read) {
			out.readDenied[prop] = struct{}{}
		}
		if !allowedProperty(d, WriteProperty, object, Write) {
			out.writeDenied[prop] = struct{}{}
		}
	}
	return out, nil
}

func allowedProperty(d decision, bit Permission, object decision, fallback Permission) bool {
	switch {
	case d.denied&bit != 0:
		return false
	case d.granted&bit != 0:
		return true
	}
	return object.granted.Has(fallback)
}

// PropertyACL is the per-property outcome for one object and subject.
type PropertyACL struct {
	readDenied  map[string]struct{}
	writeDenied map[string]struct{}
}

// CanRead reports whether property may be read.
func (p *PropertyACL) CanRead(property string) bool {
	_, denied := p.readDenied[property]
	return !denied
}

// CanWrite reports whether property may be written.
func (p *PropertyACL) CanWrite(property string) bool {
	_, denied := p.writeDenied[property]
	return !denied
}

// ReadDenied lists the unreadable properties.
func (p *PropertyACL) ReadDenied() []string { return sortedKeys(p.readDenied) }

// WriteDenied lists the unwritable properties.
func (p *PropertyACL) WriteDenied() []string { return sortedKeys(p.writeDenied) }

// Redact returns a copy of props without unreadable properties.
func (p *PropertyACL) Redact(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if p.CanRead(k) {
			out[k] = v
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
