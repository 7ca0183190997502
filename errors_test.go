package authstate_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureMatchesSentinelByKind(t *testing.T) {
	cause := errors.New("boom")
	failure := authstate.NewFailure(authstate.KindLogout, cause)

	assert.ErrorIs(t, failure, authstate.ErrLogout)
	assert.ErrorIs(t, failure, cause)
	assert.NotErrorIs(t, failure, authstate.ErrDeleteAccount)
	assert.Equal(t, "sign out failed: boom", failure.Error())

	wrapped := fmt.Errorf("outer: %w", failure)
	kind, ok := authstate.KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, authstate.KindLogout, kind)
}

func TestFailureDoesNotMatchFailureWithCause(t *testing.T) {
	a := authstate.NewFailure(authstate.KindLogout, errors.New("a"))
	b := authstate.NewFailure(authstate.KindLogout, errors.New("b"))

	assert.NotErrorIs(t, a, b)
}

func TestFailureWithoutCauseIsNotASentinel(t *testing.T) {
	a := authstate.NewFailure(authstate.KindUserNotFound, nil)
	b := authstate.NewFailure(authstate.KindUserNotFound, nil)

	assert.NotErrorIs(t, a, b)
	assert.NotErrorIs(t, authstate.ErrUserNotFound, a)
	assert.ErrorIs(t, a, authstate.ErrUserNotFound)
	assert.ErrorIs(t, a, a)
}

func TestFailureCapturesOrigin(t *testing.T) {
	failure := authstate.NewFailure(authstate.KindSendLink, nil)

	frames := failure.StackTrace()
	require.NotEmpty(t, frames)
	assert.True(t, strings.HasSuffix(frames[0].Function, "TestFailureCapturesOrigin"), frames[0].Function)
	assert.Contains(t, failure.Origin(), "errors_test.go")
}

func TestFailureRichError(t *testing.T) {
	cause := errors.New("no account")
	failure := authstate.NewFailure(authstate.KindUserNotFound, cause).
		WithMetadata(map[string]any{"email": "a@example.com"})

	rich := failure.RichError()
	require.NotNil(t, rich)
	assert.Equal(t, goerrors.CategoryNotFound, rich.Category)
	assert.Equal(t, authstate.TextCodeUserNotFound, rich.TextCode)
	assert.Equal(t, "user_not_found", rich.Metadata["kind"])
	assert.Equal(t, "no account", rich.Metadata["cause"])
	assert.Equal(t, "a@example.com", rich.Metadata["email"])
	assert.Same(t, failure, rich.Source)

	again := failure.RichError()
	assert.NotSame(t, rich, again)
}

func TestIsCleanupFailure(t *testing.T) {
	assert.False(t, authstate.IsCleanupFailure(nil))
	assert.False(t, authstate.IsCleanupFailure(errors.New("plain")))
	assert.False(t, authstate.IsCleanupFailure(authstate.NewFailure(authstate.KindInvalidLink, nil)))

	cleanup := authstate.NewFailure(authstate.KindInvalidLink, errors.New("delete")).
		WithMetadata(map[string]any{authstate.MetadataSignedIn: true})
	assert.True(t, authstate.IsCleanupFailure(cleanup))

	other := authstate.NewFailure(authstate.KindLogout, nil).
		WithMetadata(map[string]any{authstate.MetadataSignedIn: true})
	assert.False(t, authstate.IsCleanupFailure(other))
}

func TestStorageErrorClassification(t *testing.T) {
	backend := errors.New("connection reset")
	err := authstate.NewStorageError(authstate.ErrStorageRead, "read", "k", backend)

	assert.ErrorIs(t, err, authstate.ErrStorageRead)
	assert.ErrorIs(t, err, backend)
	assert.NotErrorIs(t, err, authstate.ErrKeyNotFound)
	assert.Equal(t, `storage read "k": connection reset`, err.Error())

	missing := authstate.NewStorageError(authstate.ErrKeyNotFound, "read", "k", nil)
	assert.ErrorIs(t, missing, authstate.ErrKeyNotFound)
	assert.Equal(t, `storage read "k": storage key not found`, missing.Error())
}
