package authstate

import (
	"github.com/google/uuid"
)

// UserStatus classifies how the provider knows the user
type UserStatus string

const (
	// UserStatusUnknown is the status before the provider reports anything
	UserStatusUnknown UserStatus = "unknown"
	// UserStatusUnauthenticated means the provider reported no signed in user
	UserStatusUnauthenticated UserStatus = "unauthenticated"
	// UserStatusAnonymous is a provider session without a verified identity
	UserStatusAnonymous UserStatus = "anonymous"
	// UserStatusAuthenticated is a signed in user with a real identity
	UserStatusAuthenticated UserStatus = "authenticated"
)

// User is the principal published by the provider. Values are treated as
// immutable once published; use WithMetadata to derive a modified copy.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email,omitempty"`
	DisplayName   string         `json:"display_name,omitempty"`
	PhotoURL      string         `json:"photo_url,omitempty"`
	ProviderID    string         `json:"provider_id,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	IsAnonymous   bool           `json:"is_anonymous,omitempty"`
	Status        UserStatus     `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// DefaultUser returns the placeholder held before the provider emits.
// It always carries a fresh identifier.
func DefaultUser() User {
	return User{
		ID:     uuid.NewString(),
		Status: UserStatusUnknown,
	}
}

// SignedOutUser returns the value providers publish after a sign out.
func SignedOutUser() User {
	return User{
		ID:     uuid.NewString(),
		Status: UserStatusUnauthenticated,
	}
}

// IsAuthenticated reports whether the user has a real identity
func (u User) IsAuthenticated() bool {
	return u.Status == UserStatusAuthenticated
}

// HasSession reports whether the provider holds a session for the user,
// anonymous sessions included.
func (u User) HasSession() bool {
	return u.Status == UserStatusAuthenticated || u.Status == UserStatusAnonymous
}

// WithMetadata returns a copy of the user with key set in its metadata.
func (u User) WithMetadata(key string, val any) User {
	meta := make(map[string]any, len(u.Metadata)+1)
	for k, v := range u.Metadata {
		meta[k] = v
	}
	meta[key] = val
	u.Metadata = meta
	return u
}

func actorType(u User) string {
	switch u.Status {
	case UserStatusAuthenticated:
		return "user"
	case UserStatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}
