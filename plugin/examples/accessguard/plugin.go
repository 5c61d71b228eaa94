package accessguard

import (
	"context"
	"fmt"

	casbinlib "github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/leeforge/pluginhost/plugin"
	"go.uber.org/zap"
)

// ClassName is the class the access guard registers under.
const ClassName = "AccessGuard"

const modelText = `
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

func init() {
	plugin.MustRegister(Class())
}

// Class describes the access guard for a ClassRegistry.
func Class() plugin.Class {
	return plugin.Class{
		Name:        ClassName,
		Description: "Stops events whose user is not allowed by the casbin policy",
		New: func(app *plugin.AppContext, id int64) (plugin.Plugin, error) {
			return New(app, id), nil
		},
	}
}

// Settings is the settings block of the access guard's descriptor.
//
// Policies are (subject, object, action) triples, Roles are (user, role)
// pairs. Objects may use keyMatch wildcards such as "survey/*".
type Settings struct {
	Events   []string   `json:"events"`
	Policies [][]string `json:"policies"`
	Roles    [][]string `json:"roles"`
}

// Guard vetoes events for users the policy does not allow.
//
// The checked request is read from the event payload: "user" is the subject,
// "resource" the object (defaults to the event name) and "action" the action
// (defaults to "dispatch"). Denied events get "denied_by" set and are stopped.
type Guard struct {
	*plugin.Base
	enforcer *casbinlib.Enforcer
}

func New(app *plugin.AppContext, id int64) *Guard {
	return &Guard{Base: plugin.NewBase(ClassName, id, app)}
}

func (g *Guard) Init(ctx context.Context) error {
	var settings Settings
	if err := g.Config().Bind(&settings); err != nil {
		return fmt.Errorf("access guard settings: %w", err)
	}

	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}
	enforcer, err := casbinlib.NewEnforcer(m)
	if err != nil {
		return fmt.Errorf("failed to create enforcer: %w", err)
	}
	for _, p := range settings.Policies {
		if len(p) != 3 {
			return fmt.Errorf("policy %v: want subject, object, action", p)
		}
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return err
		}
	}
	for _, r := range settings.Roles {
		if len(r) != 2 {
			return fmt.Errorf("role %v: want user, role", r)
		}
		if _, err := enforcer.AddGroupingPolicy(r[0], r[1]); err != nil {
			return err
		}
	}
	g.enforcer = enforcer

	for _, name := range settings.Events {
		g.Listen(g, name, g.check)
	}
	return nil
}

func (g *Guard) check(ctx context.Context, e *plugin.Event) error {
	user := e.GetString("user", "")
	resource := e.GetString("resource", e.Name)
	action := e.GetString("action", "dispatch")

	ok, err := g.enforcer.Enforce(user, resource, action)
	if err != nil {
		return fmt.Errorf("enforce %s on %s: %w", user, resource, err)
	}
	if !ok {
		g.Logger().Info("event denied",
			zap.String("event", e.Name),
			zap.String("user", user),
			zap.String("resource", resource),
			zap.String("action", action))
		e.Set("denied_by", ClassName)
		e.Stop()
	}
	return nil
}

func (g *Guard) Disable(ctx context.Context) error {
	g.Unlisten(g, plugin.AllEvents)
	return nil
}

var (
	_ plugin.Initializer  = (*Guard)(nil)
	_ plugin.Disableable  = (*Guard)(nil)
	_ plugin.Configurable = (*Guard)(nil)
)
