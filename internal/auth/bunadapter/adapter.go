// Package bunadapter persists the admin-zone casbin policy in the same
// database as the row store.
package bunadapter

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/uptrace/bun"
)

// PolicyRule is one casbin line. Every column is part of the primary key so
// duplicate lines collapse.
type PolicyRule struct {
	bun.BaseModel `bun:"table:sparse_admin_policies,alias:ap"`

	Ptype string `bun:",pk,type:varchar(16),notnull"` // "p"
	V0    string `bun:",pk,type:varchar(255)"`         // principal
	V1    string `bun:",pk,type:varchar(255)"`         // object pattern
	V2    string `bun:",pk,type:varchar(64)"`          // permission name
	V3    string `bun:",pk,type:varchar(16)"`          // allow | deny
}

var _ persist.Adapter = (*Adapter)(nil)

// Adapter implements persist.Adapter on a shared *bun.DB.
type Adapter struct {
	db *bun.DB
}

// NewAdapter expects the sparse_admin_policies table to exist.
func NewAdapter(db *bun.DB) *Adapter {
	return &Adapter{db: db}
}

// LoadPolicy loads every stored line into m.
func (a *Adapter) LoadPolicy(m model.Model) error {
	var rules []*PolicyRule
	if err := a.db.NewSelect().Model(&rules).Scan(context.Background()); err != nil {
		return fmt.Errorf("load admin policies: %w", err)
	}
	for _, r := range rules {
		if err := persist.LoadPolicyArray(r.values(), m); err != nil {
			return fmt.Errorf("load admin policy line: %w", err)
		}
	}
	return nil
}

// SavePolicy replaces the stored policy with m.
func (a *Adapter) SavePolicy(m model.Model) error {
	var rules []*PolicyRule
	for ptype, assertion := range m["p"] {
		for _, line := range assertion.Policy {
			rules = append(rules, newPolicyRule(ptype, line))
		}
	}
	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*PolicyRule)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("clear admin policies: %w", err)
		}
		for _, r := range rules {
			if _, err := tx.NewInsert().Model(r).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
				return fmt.Errorf("save admin policy: %w", err)
			}
		}
		return nil
	})
}

// AddPolicy stores one line.
func (a *Adapter) AddPolicy(_ string, ptype string, rule []string) error {
	_, err := a.db.NewInsert().
		Model(newPolicyRule(ptype, rule)).
		On("CONFLICT DO NOTHING").
		Exec(context.Background())
	if err != nil {
		return fmt.Errorf("add admin policy: %w", err)
	}
	return nil
}

// RemovePolicy deletes one line.
func (a *Adapter) RemovePolicy(_ string, ptype string, rule []string) error {
	r := newPolicyRule(ptype, rule)
	_, err := a.db.NewDelete().Model((*PolicyRule)(nil)).
		Where("ptype = ?", r.Ptype).
		Where("v0 = ?", r.V0).
		Where("v1 = ?", r.V1).
		Where("v2 = ?", r.V2).
		Where("v3 = ?", r.V3).
		Exec(context.Background())
	if err != nil {
		return fmt.Errorf("remove admin policy: %w", err)
	}
	return nil
}

// RemoveFilteredPolicy deletes lines whose fields from fieldIndex on match
// the non-empty fieldValues.
func (a *Adapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	q := a.db.NewDelete().Model((*PolicyRule)(nil)).Where("ptype = ?", ptype)
	columns := []string{"v0", "v1", "v2", "v3"}
	for i, v := range fieldValues {
		col := fieldIndex + i
		if v == "" || col < 0 || col >= len(columns) {
			continue
		}
		q = q.Where("? = ?", bun.Ident(columns[col]), v)
	}
	if _, err := q.Exec(context.Background()); err != nil {
		return fmt.Errorf("remove filtered admin policy: %w", err)
	}
	return nil
}

func newPolicyRule(ptype string, rule []string) *PolicyRule {
	r := &PolicyRule{Ptype: ptype}
	fields := []*string{&r.V0, &r.V1, &r.V2, &r.V3}
	for i := 0; i < len(rule) && i < len(fields); i++ {
		*fields[i] = rule[i]
	}
	return r
}

// values returns the line as casbin expects it: ptype first, trailing
// empty fields dropped.
func (r *PolicyRule) values() []string {
	line := []string{r.Ptype, r.V0, r.V1, r.V2, r.V3}
	for len(line) > 1 && line[len(line)-1] == "" {
		line = line[:len(line)-1]
	}
	return line
}
