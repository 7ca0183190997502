package featuregate

import (
	"context"
	"sort"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-featuregate/gate"
)

// UserExtractor extracts an authstate.User from context.
type UserExtractor func(context.Context) (authstate.User, bool)

// RoleMapper builds role identifiers from a user.
type RoleMapper func(user authstate.User) []string

// PermMapper builds permission identifiers from a user.
type PermMapper func(user authstate.User) []string

// PermissionFormatter formats a resource/value pair into a permission string.
type PermissionFormatter func(resource, value string) string

// Option customizes ClaimsProvider behavior.
type Option func(*ClaimsProvider)

// ClaimsProvider derives feature claims from the user attached to a context.
// The coordinator attaches its cached user before every gate check.
type ClaimsProvider struct {
	extractor     UserExtractor
	roleMapper    RoleMapper
	permMapper    PermMapper
	permFormatter PermissionFormatter
}

// NewClaimsProvider builds a claims provider using authstate.UserFromContext.
func NewClaimsProvider(opts ...Option) *ClaimsProvider {
	provider := &ClaimsProvider{
		extractor:     authstate.UserFromContext,
		permFormatter: defaultPermissionFormatter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.extractor == nil {
		provider.extractor = authstate.UserFromContext
	}
	if provider.permFormatter == nil {
		provider.permFormatter = defaultPermissionFormatter
	}
	if provider.roleMapper == nil {
		provider.roleMapper = defaultRoleMapper
	}
	if provider.permMapper == nil {
		provider.permMapper = defaultPermMapper(provider.permFormatter)
	}
	return provider
}

// WithUserExtractor overrides the user extractor.
func WithUserExtractor(extractor UserExtractor) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.extractor = extractor
	}
}

// WithUserSource reads claims from source when the context carries no user,
// typically a coordinator's CurrentUser.
func WithUserSource(source func() authstate.User) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil || source == nil {
			return
		}
		provider.extractor = func(ctx context.Context) (authstate.User, bool) {
			if user, ok := authstate.UserFromContext(ctx); ok {
				return user, true
			}
			return source(), true
		}
	}
}

// WithRoleMapper overrides the default role mapper.
func WithRoleMapper(mapper RoleMapper) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.roleMapper = mapper
	}
}

// WithPermMapper overrides the default permission mapper.
func WithPermMapper(mapper PermMapper) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.permMapper = mapper
	}
}

// WithPermissionFormatter customizes the resource/value permission formatter.
func WithPermissionFormatter(format PermissionFormatter) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.permFormatter = format
	}
}

// ClaimsFromContext implements gate.ClaimsProvider.
func (p *ClaimsProvider) ClaimsFromContext(ctx context.Context) (gate.ActorClaims, error) {
	if p == nil || p.extractor == nil {
		return gate.ActorClaims{}, nil
	}
	user, ok := p.extractor(ctx)
	if !ok {
		return gate.ActorClaims{}, nil
	}
	return claimsFromUser(user, p.roleMapper, p.permMapper), nil
}

// ClaimsFromUser builds ActorClaims from a user using defaults.
func ClaimsFromUser(user authstate.User) gate.ActorClaims {
	return claimsFromUser(user, defaultRoleMapper, defaultPermMapper(defaultPermissionFormatter))
}

func claimsFromUser(user authstate.User, roleMapper RoleMapper, permMapper PermMapper) gate.ActorClaims {
	if !user.HasSession() {
		return gate.ActorClaims{}
	}
	claims := gate.ActorClaims{
		SubjectID: user.ID,
	}
	if roleMapper != nil {
		claims.Roles = roleMapper(user)
	}
	if permMapper != nil {
		claims.Perms = permMapper(user)
	}
	return claims
}

func defaultRoleMapper(user authstate.User) []string {
	if user.Status == "" {
		return nil
	}
	return []string{string(user.Status)}
}

func defaultPermMapper(format PermissionFormatter) PermMapper {
	return func(user authstate.User) []string {
		formatter := format
		if formatter == nil {
			formatter = defaultPermissionFormatter
		}

		attrs := map[string]string{}
		if user.ProviderID != "" {
			attrs["provider"] = user.ProviderID
		}
		if user.EmailVerified {
			attrs["email"] = "verified"
		}
		if len(attrs) == 0 {
			return nil
		}

		resources := make([]string, 0, len(attrs))
		for resource := range attrs {
			resources = append(resources, resource)
		}
		sort.Strings(resources)
		perms := make([]string, 0, len(attrs))
		for _, resource := range resources {
			perms = append(perms, formatter(resource, attrs[resource]))
		}
		return perms
	}
}

func defaultPermissionFormatter(resource, value string) string {
	return resource + ":" + value
}

// PermConflictResolver combines claims perms with derived perms.
type PermConflictResolver func(existing, derived []string) []string

// PermOption customizes permission provider behavior.
type PermOption func(*PermissionProvider)

// PermissionProvider derives permissions from claims and the context user.
type PermissionProvider struct {
	extractor        UserExtractor
	conflictResolver PermConflictResolver
}

// NewPermissionProvider builds a permission provider using authstate.UserFromContext.
func NewPermissionProvider(opts ...PermOption) *PermissionProvider {
	provider := &PermissionProvider{
		extractor:        authstate.UserFromContext,
		conflictResolver: mergePerms,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.extractor == nil {
		provider.extractor = authstate.UserFromContext
	}
	if provider.conflictResolver == nil {
		provider.conflictResolver = mergePerms
	}
	return provider
}

// WithPermUserExtractor overrides the extractor used to derive permissions.
func WithPermUserExtractor(extractor UserExtractor) PermOption {
	return func(provider *PermissionProvider) {
		if provider == nil {
			return
		}
		provider.extractor = extractor
	}
}

// WithPermConflictResolver overrides how derived permissions are merged.
func WithPermConflictResolver(resolver PermConflictResolver) PermOption {
	return func(provider *PermissionProvider) {
		if provider == nil {
			return
		}
		provider.conflictResolver = resolver
	}
}

// Permissions implements gate.PermissionProvider.
func (p *PermissionProvider) Permissions(ctx context.Context, claims gate.ActorClaims) ([]string, error) {
	if p == nil {
		return claims.Perms, nil
	}
	var derived []string
	if p.extractor != nil {
		if user, ok := p.extractor(ctx); ok && user.HasSession() {
			derived = defaultPermMapper(defaultPermissionFormatter)(user)
		}
	}
	if p.conflictResolver == nil {
		return mergePerms(claims.Perms, derived), nil
	}
	return p.conflictResolver(claims.Perms, derived), nil
}

func mergePerms(existing, derived []string) []string {
	if len(existing) == 0 && len(derived) == 0 {
		return nil
	}
	merged := make([]string, 0, len(existing)+len(derived))
	merged = append(merged, existing...)
	merged = append(merged, derived...)
	return merged
}

// ActorRefFromUser builds an ActorRef from a user.
func ActorRefFromUser(user authstate.User) gate.ActorRef {
	ref := authstate.ActorRefFromUser(user)
	return gate.ActorRef{
		ID:   ref.ID,
		Type: ref.Type,
		Name: user.DisplayName,
	}
}

// ActorRefFromContext extracts an ActorRef from context.
func ActorRefFromContext(ctx context.Context) (gate.ActorRef, bool) {
	user, ok := authstate.UserFromContext(ctx)
	if !ok {
		return gate.ActorRef{}, false
	}
	return ActorRefFromUser(user), true
}

var _ gate.ClaimsProvider = (*ClaimsProvider)(nil)
var _ gate.PermissionProvider = (*PermissionProvider)(nil)
