package authstate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFeatureGateDeniesPasswordless(t *testing.T) {
	ctx := context.Background()
	stubGate := &stubFeatureGate{enabled: map[string]bool{authstate.FeaturePasswordless: false}}

	provider := NewMockProvider()
	storage := new(MockStorage)

	coord := authstate.NewStoredCoordinator(provider, storage,
		append(quietOptions(), authstate.WithFeatureGate(stubGate))...)
	defer coord.Close()

	err := coord.SendSignInLinkToEmail(ctx, "a@example.com")
	require.ErrorIs(t, err, authstate.ErrSendLink)
	require.ErrorIs(t, err, authstate.ErrFeatureDisabled)

	err = coord.SignInWithEmailLink(ctx, "link")
	require.ErrorIs(t, err, authstate.ErrInvalidLink)
	require.ErrorIs(t, err, authstate.ErrFeatureDisabled)

	assert.Equal(t, []string{authstate.FeaturePasswordless, authstate.FeaturePasswordless}, stubGate.calls)
	provider.AssertNotCalled(t, "SendSignInLinkToEmail", mock.Anything, mock.Anything)
	storage.AssertNotCalled(t, "ReadString", mock.Anything, mock.Anything)
}

func TestFeatureGateDeniesSignInMethods(t *testing.T) {
	ctx := context.Background()
	stubGate := &stubFeatureGate{enabled: map[string]bool{
		authstate.FeatureAnonymous: false,
		authstate.FeatureGoogle:    false,
		authstate.FeaturePassword:  false,
	}}

	provider := NewMockProvider()
	coord := authstate.NewCoordinator(provider, append(quietOptions(), authstate.WithFeatureGate(stubGate))...)
	defer coord.Close()

	err := coord.SignInAnonymously(ctx)
	assert.ErrorIs(t, err, authstate.ErrAnonymousSignIn)
	assert.ErrorIs(t, err, authstate.ErrFeatureDisabled)

	err = coord.SignInWithGoogle(ctx)
	assert.ErrorIs(t, err, authstate.ErrGoogleSignIn)

	err = coord.SignInWithEmailAndPassword(ctx, "a@example.com", "pw")
	assert.ErrorIs(t, err, authstate.ErrPasswordSignIn)

	provider.AssertNotCalled(t, "SignInAnonymously", mock.Anything)
	provider.AssertNotCalled(t, "SignInWithGoogle", mock.Anything)
}

func TestFeatureGateNotConsultedForSignOut(t *testing.T) {
	ctx := context.Background()
	stubGate := &stubFeatureGate{err: errors.New("gate down")}

	provider := NewMockProvider()
	provider.On("SignOut", ctx).Return(nil).Once()
	provider.On("DeleteAccount", ctx).Return(nil).Once()

	coord := authstate.NewCoordinator(provider, append(quietOptions(), authstate.WithFeatureGate(stubGate))...)
	defer coord.Close()

	require.NoError(t, coord.SignOut(ctx))
	require.NoError(t, coord.DeleteAccount(ctx))
	assert.Empty(t, stubGate.calls)
}

func TestFeatureGateErrorIsWrapped(t *testing.T) {
	ctx := context.Background()
	gateErr := errors.New("gate down")
	stubGate := &stubFeatureGate{err: gateErr}

	provider := NewMockProvider()
	coord := authstate.NewCoordinator(provider, append(quietOptions(), authstate.WithFeatureGate(stubGate))...)
	defer coord.Close()

	err := coord.SignInAnonymously(ctx)
	require.ErrorIs(t, err, authstate.ErrAnonymousSignIn)
	provider.AssertNotCalled(t, "SignInAnonymously", mock.Anything)
}

func TestFeatureGateSeesCurrentUser(t *testing.T) {
	ctx := context.Background()
	stubGate := &stubFeatureGate{}

	provider := NewMockProvider()
	provider.On("SignInWithGoogle", mock.Anything).Return(nil).Twice()

	coord := authstate.NewCoordinator(provider, append(quietOptions(), authstate.WithFeatureGate(stubGate))...)
	defer coord.Close()

	anon := authstate.User{ID: "anon-1", IsAnonymous: true, Status: authstate.UserStatusAnonymous}
	provider.Emit(anon)
	require.Eventually(t, func() bool { return coord.CurrentUser().ID == "anon-1" }, time.Second, 5*time.Millisecond)

	require.NoError(t, coord.SignInWithGoogle(ctx))

	caller := authstate.User{ID: "caller", Status: authstate.UserStatusAuthenticated}
	require.NoError(t, coord.SignInWithGoogle(authstate.WithUser(ctx, caller)))

	stubGate.mu.Lock()
	defer stubGate.mu.Unlock()
	require.Len(t, stubGate.users, 2)
	assert.Equal(t, "anon-1", stubGate.users[0].ID)
	assert.Equal(t, "caller", stubGate.users[1].ID)
}
