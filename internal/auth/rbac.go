package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// rbacModel is the casbin RBAC model used by the capability matrix.
// Policies live in memory; there is no external policy file to drift.
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// Resources checked by the capability matrix.
const (
	ResourceSession = "session"
	ResourceContext = "context"
	ResourcePage    = "page"
	ResourceAction  = "action"
	ResourceAdmin   = "admin"
)

// Actions on resources.
const (
	ActRead    = "read"
	ActWrite   = "write"
	ActExecute = "execute"
	ActDelete  = "delete"
)

// capabilities maps each role to its allowed resource/action pairs.
// admin gets a wildcard; readonly only reads.
var capabilities = [][3]string{
	{"role:admin", "*", "*"},

	{"role:user", ResourceSession, ActRead},
	{"role:user", ResourceSession, ActWrite},
	{"role:user", ResourceSession, ActDelete},
	{"role:user", ResourceContext, ActRead},
	{"role:user", ResourceContext, ActWrite},
	{"role:user", ResourceContext, ActDelete},
	{"role:user", ResourcePage, ActRead},
	{"role:user", ResourcePage, ActWrite},
	{"role:user", ResourcePage, ActDelete},
	{"role:user", ResourceAction, ActExecute},
	{"role:user", ResourceAction, ActRead},

	{"role:readonly", ResourceSession, ActRead},
	{"role:readonly", ResourceContext, ActRead},
	{"role:readonly", ResourcePage, ActRead},
	{"role:readonly", ResourceAction, ActRead},
}

func newEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("parsing rbac model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("creating enforcer: %w", err)
	}
	for _, p := range capabilities {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("adding policy %v: %w", p, err)
		}
	}
	return e, nil
}
