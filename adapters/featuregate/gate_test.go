package featuregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/provider/memory"
	"github.com/goliatone/go-featuregate/gate"
)

func TestClaimsGateRules(t *testing.T) {
	user := authstate.User{ID: "user-1", Status: authstate.UserStatusAnonymous, ProviderID: "anonymous"}
	claims := NewClaimsProvider(WithUserExtractor(func(context.Context) (authstate.User, bool) {
		return user, true
	}))

	g := NewClaimsGate(claims,
		WithRule(authstate.FeatureAnonymous, DenyRole("authenticated")),
		WithRule(authstate.FeatureGoogle, RequireRole("authenticated")),
		WithRule(authstate.FeaturePassword, RequirePerm("provider:anonymous")),
	)

	tests := []struct {
		key  string
		want bool
	}{
		{key: authstate.FeatureAnonymous, want: true},
		{key: authstate.FeatureGoogle, want: false},
		{key: authstate.FeaturePassword, want: true},
		{key: authstate.FeaturePasswordless, want: true},
	}
	for _, tt := range tests {
		got, err := g.Enabled(context.Background(), tt.key)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.key, err)
		}
		if got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.key, tt.want, got)
		}
	}
}

func TestClaimsGateDefault(t *testing.T) {
	g := NewClaimsGate(nil, WithDefault(false))
	got, err := g.Enabled(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Fatalf("expected keys without a rule to be disabled")
	}
}

type failingClaims struct{ err error }

func (f failingClaims) ClaimsFromContext(context.Context) (gate.ActorClaims, error) {
	return gate.ActorClaims{}, f.err
}

func TestClaimsGateClaimsError(t *testing.T) {
	boom := errors.New("claims offline")
	g := NewClaimsGate(failingClaims{err: boom}, WithRule(authstate.FeatureGoogle, RequireRole("authenticated")))

	got, err := g.Enabled(context.Background(), authstate.FeatureGoogle)
	if !errors.Is(err, boom) {
		t.Fatalf("expected claims error, got %v", err)
	}
	if got {
		t.Fatalf("expected feature to be disabled on error")
	}
}

func TestClaimsGateGuardsCoordinator(t *testing.T) {
	ctx := context.Background()

	provider := memory.New(memory.Config{
		Google: &memory.GoogleProfile{Email: "g@example.com", DisplayName: "Grace"},
	})
	defer provider.Close()

	var coord *authstate.Coordinator
	claims := NewClaimsProvider(WithUserSource(func() authstate.User { return coord.CurrentUser() }))
	g := NewClaimsGate(claims, WithRule(authstate.FeatureAnonymous, DenyRole("authenticated")))

	coord = authstate.NewCoordinator(provider, authstate.WithFeatureGate(g))
	defer coord.Close()

	if err := coord.SignInAnonymously(ctx); err != nil {
		t.Fatalf("expected anonymous sign in for a visitor, got %v", err)
	}

	if err := coord.SignInWithGoogle(ctx); err != nil {
		t.Fatalf("unexpected google sign in error: %v", err)
	}
	waitForUser(t, coord, authstate.User.IsAuthenticated)

	// no user on ctx, the claims come from the coordinator
	enabled, err := g.Enabled(ctx, authstate.FeatureAnonymous)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enabled {
		t.Fatalf("expected anonymous sign in to be disabled for an authenticated user")
	}

	err = coord.SignInAnonymously(ctx)
	if !errors.Is(err, authstate.ErrAnonymousSignIn) || !errors.Is(err, authstate.ErrFeatureDisabled) {
		t.Fatalf("expected feature disabled anonymous failure, got %v", err)
	}
}

func waitForUser(t *testing.T, coord *authstate.Coordinator, cond func(authstate.User) bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond(coord.CurrentUser()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user condition not met, current user: %#v", coord.CurrentUser())
}
