package authstate

import (
	"context"
	"errors"
)

// Coordinator fronts a Provider without any local storage. Callers keep the
// pending email themselves and hand it back when completing a link.
type Coordinator struct {
	*core
}

// NewCoordinator subscribes to the provider's user stream and returns a
// storage free coordinator. It panics when provider is nil.
func NewCoordinator(provider Provider, opts ...Option) *Coordinator {
	return &Coordinator{core: newCore(provider, opts...)}
}

// SendSignInLinkToEmail asks the provider to send a sign in link.
func (c *Coordinator) SendSignInLinkToEmail(ctx context.Context, email string) error {
	meta := map[string]any{"email": email}

	if err := c.checkFeature(ctx, opSendLink); err != nil {
		return c.failed(ctx, opSendLink, err, meta)
	}

	if err := c.provider.SendSignInLinkToEmail(ctx, email); err != nil {
		return c.failed(ctx, opSendLink, translateAt(err, "dispatch", KindSendLink), meta)
	}

	c.succeeded(ctx, opSendLink, meta)
	return nil
}

// SignInWithEmailLink completes a link sign in for email.
func (c *Coordinator) SignInWithEmailLink(ctx context.Context, email, link string) error {
	meta := map[string]any{"email": email}

	if err := c.checkFeature(ctx, opLinkSignIn); err != nil {
		return c.failed(ctx, opLinkSignIn, err, meta)
	}

	if err := c.completeLink(ctx, email, link); err != nil {
		return c.failed(ctx, opLinkSignIn, err, meta)
	}

	c.succeeded(ctx, opLinkSignIn, meta)
	return nil
}

// StoredCoordinator keeps the pending email in Storage between sending the
// link and completing it, so the link alone is enough to sign in.
type StoredCoordinator struct {
	*core
	storage Storage
}

// NewStoredCoordinator returns a coordinator backed by storage. It panics when
// provider or storage is nil.
func NewStoredCoordinator(provider Provider, storage Storage, opts ...Option) *StoredCoordinator {
	if storage == nil {
		panic("authstate: missing Storage")
	}
	return &StoredCoordinator{
		core:    newCore(provider, opts...),
		storage: storage,
	}
}

// Storage returns the store holding the pending email.
func (c *StoredCoordinator) Storage() Storage {
	return c.storage
}

// SendSignInLinkToEmail asks the provider to send a link and, once sent,
// records email as pending. Storage is not touched when the provider fails.
func (c *StoredCoordinator) SendSignInLinkToEmail(ctx context.Context, email string) error {
	meta := map[string]any{"email": email}

	if err := c.checkFeature(ctx, opSendLink); err != nil {
		return c.failed(ctx, opSendLink, err, meta)
	}

	if err := c.provider.SendSignInLinkToEmail(ctx, email); err != nil {
		return c.failed(ctx, opSendLink, translateAt(err, "dispatch", KindSendLink), meta)
	}

	if err := c.writePending(ctx, email); err != nil {
		failure := newFailure(KindSendLink, err, 2).WithMetadata(map[string]any{
			MetadataStage: "persist",
		})
		return c.failed(ctx, opSendLink, failure, meta)
	}

	c.succeeded(ctx, opSendLink, meta)
	return nil
}

// SignInWithEmailLink reads the pending email, completes the link with the
// provider and clears the pending email. The stored email is always the one
// passed to the provider.
func (c *StoredCoordinator) SignInWithEmailLink(ctx context.Context, link string) error {
	if err := c.checkFeature(ctx, opLinkSignIn); err != nil {
		return c.failed(ctx, opLinkSignIn, err, nil)
	}

	key := c.config.PendingEmailKey

	email, err := c.storage.ReadString(ctx, key)
	if err == nil && email == "" {
		err = NewStorageError(ErrKeyNotFound, "read", key, nil)
	}
	if err != nil {
		failure := newFailure(KindInvalidLink, err, 2).WithMetadata(map[string]any{
			MetadataStage: "read",
			"key":         key,
		})
		return c.failed(ctx, opLinkSignIn, failure, nil)
	}

	meta := map[string]any{"email": email}

	if err := c.completeLink(ctx, email, link); err != nil {
		return c.failed(ctx, opLinkSignIn, err, meta)
	}

	if err := c.storage.Delete(ctx, key); err != nil {
		failure := newFailure(KindInvalidLink, err, 2).WithMetadata(map[string]any{
			MetadataStage:    "cleanup",
			MetadataSignedIn: true,
			"key":            key,
		})
		return c.failed(ctx, opLinkSignIn, failure, meta)
	}

	c.succeeded(ctx, opLinkSignIn, meta)
	return nil
}

// PendingEmail returns the email awaiting link confirmation, if any.
func (c *StoredCoordinator) PendingEmail(ctx context.Context) (string, bool, error) {
	email, err := c.storage.ReadString(ctx, c.config.PendingEmailKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return email, email != "", nil
}

func (c *StoredCoordinator) writePending(ctx context.Context, email string) error {
	key := c.config.PendingEmailKey
	if ttl := c.config.PendingEmailTTL; ttl > 0 {
		if expiring, ok := c.storage.(ExpiringStorage); ok {
			return expiring.WriteStringTTL(ctx, key, email, ttl)
		}
		c.logger.Warn("storage does not support expiry, pending email kept until used", "ttl", ttl)
	}
	return c.storage.WriteString(ctx, key, email)
}

// completeLink calls the provider. InvalidLink and UserNotFound failures
// raised by the provider pass through, anything else becomes InvalidLink.
func (c *core) completeLink(ctx context.Context, email, link string) error {
	if err := c.provider.SignInWithEmailLink(ctx, email, link); err != nil {
		return translateAt(err, "complete", KindInvalidLink, KindUserNotFound)
	}
	return nil
}

// translateAt is translate for the link flows: failures it creates are
// tagged with the stage they were raised at.
func translateAt(err error, stage string, kind Kind, passthrough ...Kind) error {
	if err == nil || passesThrough(err, kind, passthrough...) {
		return err
	}
	return newFailure(kind, err, 3).WithMetadata(map[string]any{MetadataStage: stage})
}
