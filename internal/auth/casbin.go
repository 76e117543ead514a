package auth

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
)

//go:embed model.conf
var casbinModelContent string

// Policy effects stored in the eft column.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// ActionAnything in a policy matches every requested action.
const ActionAnything = "anything"

// InitEnforcer creates the admin zone enforcer from the embedded model.
// With a nil adapter policies live in memory only.
func InitEnforcer(adapter persist.Adapter) (casbin.IEnforcer, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if adapter == nil {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	}
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	// Request subjects carry every principal the caller holds.
	enforcer.AddFunction("principalMatch", PrincipalMatchFunction())

	if adapter != nil {
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, fmt.Errorf("load casbin policies: %w", err)
		}
	}

	return enforcer, nil
}

// RequestSubject joins the acting principals into one casbin subject.
func RequestSubject(principals ...string) string {
	return strings.Join(principals, PrincipalSeparator)
}

// PrincipalMatchFunction returns the principalMatch function for Casbin.
// It matches when the policy subject is one of the request's principals.
func PrincipalMatchFunction() func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if len(args) != 2 {
			return false, fmt.Errorf("principalMatch requires 2 arguments: request subject, policy subject")
		}
		requested, ok := args[0].(string)
		if !ok {
			return false, fmt.Errorf("principalMatch: first argument must be string")
		}
		policy, ok := args[1].(string)
		if !ok {
			return false, fmt.Errorf("principalMatch: second argument must be string")
		}
		return slices.Contains(strings.Split(requested, PrincipalSeparator), policy), nil
	}
}
