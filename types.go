package authstate

import (
	"context"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// PendingEmailKey is the storage key holding the email awaiting link confirmation
const PendingEmailKey = "pending_signin_email"

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

// Provider is the authentication capability the coordinator delegates to.
// Implementations raise *Failure values for the failures they classify
// themselves (for example ErrInvalidLink or ErrUserNotFound on link
// completion); any other error is translated by the coordinator.
type Provider interface {
	// UserChanges streams the authenticated user. The channel is closed when
	// ctx is done or the provider stops publishing.
	UserChanges(ctx context.Context) <-chan User
	SendSignInLinkToEmail(ctx context.Context, email string) error
	IsSignInWithEmailLink(ctx context.Context, link string) (bool, error)
	SignInWithEmailLink(ctx context.Context, email, link string) error
	SignInWithEmailAndPassword(ctx context.Context, email, password string) error
	SignInWithGoogle(ctx context.Context) error
	SignInAnonymously(ctx context.Context) error
	SignOut(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
}

// Storage is the key value capability used by the passwordless flow.
// ReadString returns an error matching ErrKeyNotFound for missing keys.
type Storage interface {
	ReadString(ctx context.Context, key string) (string, error)
	WriteString(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ExpiringStorage is implemented by stores that can expire a value.
type ExpiringStorage interface {
	Storage
	WriteStringTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// Authenticator is the surface shared by Coordinator and StoredCoordinator.
type Authenticator interface {
	UserChanges(ctx context.Context) *UserStream
	CurrentUser() User
	SendSignInLinkToEmail(ctx context.Context, email string) error
	IsSignInWithEmailLink(ctx context.Context, link string) (bool, error)
	SignInWithEmailAndPassword(ctx context.Context, email, password string) error
	SignInWithGoogle(ctx context.Context) error
	SignInAnonymously(ctx context.Context) error
	SignOut(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
}
