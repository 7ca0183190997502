package featuregate

import (
	"context"
	"reflect"
	"sort"
	"testing"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-featuregate/gate"
)

func TestClaimsFromUserDefaults(t *testing.T) {
	user := authstate.User{
		ID:            "user-123",
		ProviderID:    "password",
		EmailVerified: true,
		Status:        authstate.UserStatusAuthenticated,
	}

	claims := ClaimsFromUser(user)

	if claims.SubjectID != "user-123" {
		t.Fatalf("expected SubjectID to use user ID, got %q", claims.SubjectID)
	}
	if !reflect.DeepEqual(claims.Roles, []string{"authenticated"}) {
		t.Fatalf("unexpected roles: %#v", claims.Roles)
	}
	expectedPerms := []string{"email:verified", "provider:password"}
	if !reflect.DeepEqual(claims.Perms, expectedPerms) {
		t.Fatalf("unexpected perms: %#v", claims.Perms)
	}
}

func TestClaimsFromUserWithoutSession(t *testing.T) {
	claims := ClaimsFromUser(authstate.SignedOutUser())
	if !reflect.DeepEqual(claims, gate.ActorClaims{}) {
		t.Fatalf("expected empty claims, got %#v", claims)
	}
}

func TestClaimsProviderClaimsFromContextMissingUser(t *testing.T) {
	provider := NewClaimsProvider()

	claims, err := provider.ClaimsFromContext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(claims, gate.ActorClaims{}) {
		t.Fatalf("expected empty claims, got %#v", claims)
	}
}

func TestClaimsProviderUserSource(t *testing.T) {
	cached := authstate.User{ID: "anon-1", IsAnonymous: true, Status: authstate.UserStatusAnonymous}
	provider := NewClaimsProvider(WithUserSource(func() authstate.User { return cached }))

	claims, err := provider.ClaimsFromContext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.SubjectID != "anon-1" || !reflect.DeepEqual(claims.Roles, []string{"anonymous"}) {
		t.Fatalf("unexpected claims: %#v", claims)
	}

	ctx := authstate.WithUser(context.Background(), authstate.User{ID: "ctx-user", Status: authstate.UserStatusAuthenticated})
	claims, err = provider.ClaimsFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.SubjectID != "ctx-user" {
		t.Fatalf("expected context user to win, got %q", claims.SubjectID)
	}
}

func TestClaimsProviderCustomFormatter(t *testing.T) {
	provider := NewClaimsProvider(
		WithPermissionFormatter(func(resource, value string) string {
			return resource + "." + value
		}),
	)

	ctx := authstate.WithUser(context.Background(), authstate.User{
		ID:         "user-1",
		ProviderID: "google.com",
		Status:     authstate.UserStatusAuthenticated,
	})

	claims, err := provider.ClaimsFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(claims.Perms, []string{"provider.google.com"}) {
		t.Fatalf("unexpected perms: %#v", claims.Perms)
	}
}

func TestPermissionProviderMerge(t *testing.T) {
	provider := NewPermissionProvider()

	ctx := authstate.WithUser(context.Background(), authstate.User{
		ID:         "user-1",
		ProviderID: "password",
		Status:     authstate.UserStatusAuthenticated,
	})
	claims := gate.ActorClaims{Perms: []string{"from-claims"}}

	perms, err := provider.Permissions(ctx, claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"from-claims", "provider:password"}
	if !reflect.DeepEqual(perms, expected) {
		t.Fatalf("unexpected perms: %#v", perms)
	}
}

func TestPermissionProviderCustomResolver(t *testing.T) {
	provider := NewPermissionProvider(WithPermConflictResolver(func(existing, derived []string) []string {
		return derived
	}))

	ctx := authstate.WithUser(context.Background(), authstate.User{
		ID:            "user-1",
		ProviderID:    "emailLink",
		EmailVerified: true,
		Status:        authstate.UserStatusAuthenticated,
	})
	claims := gate.ActorClaims{Perms: []string{"from-claims"}}

	perms, err := provider.Permissions(ctx, claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Strings(perms)
	expected := []string{"email:verified", "provider:emailLink"}
	if !reflect.DeepEqual(perms, expected) {
		t.Fatalf("unexpected perms: %#v", perms)
	}
}

func TestActorRefFromUserUsesStatusType(t *testing.T) {
	user := authstate.User{
		ID:          "user-1",
		DisplayName: "Ada",
		Status:      authstate.UserStatusAuthenticated,
	}

	ref := ActorRefFromUser(user)

	if ref.Type != "user" {
		t.Fatalf("expected actor type %q, got %q", "user", ref.Type)
	}
	if ref.ID != "user-1" || ref.Name != "Ada" {
		t.Fatalf("unexpected ref: %#v", ref)
	}

	if _, ok := ActorRefFromContext(context.Background()); ok {
		t.Fatalf("expected no actor without a context user")
	}
}
