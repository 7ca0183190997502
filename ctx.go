package authstate

import (
	"context"
)

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithUser sets the User in the given context
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// UserFromContext finds the user from the context.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	raw, ok := ctx.Value(userCtxKey).(User)
	return raw, ok
}

// withCurrentUser attaches current unless ctx already carries a user.
func withCurrentUser(ctx context.Context, current User) context.Context {
	if _, ok := UserFromContext(ctx); ok {
		return ctx
	}
	return WithUser(ctx, current)
}
