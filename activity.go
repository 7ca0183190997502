package authstate

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLinkSent          ActivityEventType = "auth.link.sent"
	ActivityEventLinkSendFailure   ActivityEventType = "auth.link.send.failure"
	ActivityEventLinkSignInSuccess ActivityEventType = "auth.link.signin.success"
	ActivityEventLinkSignInFailure ActivityEventType = "auth.link.signin.failure"
	ActivityEventSignInSuccess     ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure     ActivityEventType = "auth.signin.failure"
	ActivityEventSignOut           ActivityEventType = "auth.signout"
	ActivityEventSignOutFailure    ActivityEventType = "auth.signout.failure"
	ActivityEventAccountDeleted    ActivityEventType = "auth.account.deleted"
	ActivityEventAccountFailure    ActivityEventType = "auth.account.delete.failure"
)

// ActorRef identifies who was signed in when the event happened.
type ActorRef struct {
	ID   string
	Type string
}

// ActorRefFromUser identifies user as an actor. Type is "user", "anonymous"
// or "unknown" depending on the user status.
func ActorRefFromUser(user User) ActorRef {
	return ActorRef{ID: user.ID, Type: actorType(user)}
}

// ActivityEvent captures audit-friendly information about an operation.
type ActivityEvent struct {
	EventType   ActivityEventType
	Actor       ActorRef
	Operation   string
	FailureKind Kind
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
