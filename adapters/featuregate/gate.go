package featuregate

import (
	"context"
	"slices"

	"github.com/goliatone/go-featuregate/gate"
)

// Rule decides a feature from the actor claims.
type Rule func(claims gate.ActorClaims) bool

// RequireRole enables a feature only for actors holding role.
func RequireRole(role string) Rule {
	return func(claims gate.ActorClaims) bool {
		return slices.Contains(claims.Roles, role)
	}
}

// DenyRole disables a feature for actors holding role.
func DenyRole(role string) Rule {
	return func(claims gate.ActorClaims) bool {
		return !slices.Contains(claims.Roles, role)
	}
}

// RequirePerm enables a feature only for actors holding perm.
func RequirePerm(perm string) Rule {
	return func(claims gate.ActorClaims) bool {
		return slices.Contains(claims.Perms, perm)
	}
}

// GateOption customizes a ClaimsGate.
type GateOption func(*ClaimsGate)

// WithRule sets the rule deciding key.
func WithRule(key string, rule Rule) GateOption {
	return func(g *ClaimsGate) {
		if g == nil || key == "" || rule == nil {
			return
		}
		g.rules[key] = rule
	}
}

// WithDefault sets the result for keys without a rule (default: enabled).
func WithDefault(enabled bool) GateOption {
	return func(g *ClaimsGate) {
		if g == nil {
			return
		}
		g.fallback = enabled
	}
}

// ClaimsGate is a gate.FeatureGate that decides features from the claims
// of the user behind the request.
type ClaimsGate struct {
	claims   gate.ClaimsProvider
	rules    map[string]Rule
	fallback bool
}

// NewClaimsGate builds a gate resolving claims through claims.
func NewClaimsGate(claims gate.ClaimsProvider, opts ...GateOption) *ClaimsGate {
	g := &ClaimsGate{
		claims:   claims,
		rules:    make(map[string]Rule),
		fallback: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.claims == nil {
		g.claims = NewClaimsProvider()
	}
	return g
}

// Enabled implements gate.FeatureGate.
func (g *ClaimsGate) Enabled(ctx context.Context, key string, _ ...gate.ResolveOption) (bool, error) {
	rule, ok := g.rules[key]
	if !ok {
		return g.fallback, nil
	}
	claims, err := g.claims.ClaimsFromContext(ctx)
	if err != nil {
		return false, err
	}
	return rule(claims), nil
}

var _ gate.FeatureGate = (*ClaimsGate)(nil)
