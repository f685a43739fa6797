package session_test

import (
	"context"
	"testing"
	"time"

	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/logger"
	"carepool/internal/memstore"
	"carepool/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager() (*session.Manager, *memstore.Store) {
	store := memstore.New()
	return session.NewManager(logger.Discard(), store), store
}

func TestRegister(t *testing.T) {
	manager, _ := newManager()
	ctx := context.Background()

	user, err := manager.Register(ctx, session.RegisterParams{Name: "Alice", Email: " Alice@Example.COM ", Password: "correct horse battery"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email, "emails are normalized")
	assert.NotEqual(t, "correct horse battery", user.PasswordHash)

	_, err = manager.Register(ctx, session.RegisterParams{Name: "Imposter", Email: "alice@example.com", Password: "something else"})
	assert.True(t, fault.IsConflict(err), "got %v", err)
}

func TestLoginAndAuthenticate(t *testing.T) {
	manager, store := newManager()
	ctx := context.Background()

	registered, err := manager.Register(ctx, session.RegisterParams{Name: "Alice", Email: "alice@example.com", Password: "correct horse battery"})
	require.NoError(t, err)

	t.Run("round_trip", func(t *testing.T) {
		minted, user, err := manager.Login(ctx, session.LoginParams{Email: "alice@example.com", Password: "correct horse battery"})
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
		assert.NotEmpty(t, minted.Token)
		assert.True(t, minted.ExpiresAt.After(time.Now()))

		authenticated, err := manager.Authenticate(ctx, minted.Token)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, authenticated.ID)
	})

	t.Run("wrong_password_and_unknown_email_fail_alike", func(t *testing.T) {
		_, _, badPassword := manager.Login(ctx, session.LoginParams{Email: "alice@example.com", Password: "wrong"})
		_, _, badEmail := manager.Login(ctx, session.LoginParams{Email: "nobody@example.com", Password: "correct horse battery"})
		assert.True(t, fault.IsAuthorization(badPassword), "got %v", badPassword)
		assert.True(t, fault.IsAuthorization(badEmail), "got %v", badEmail)
		assert.Equal(t, badPassword.Error(), badEmail.Error())
	})

	t.Run("expired_tokens_are_rejected", func(t *testing.T) {
		expired, err := store.CreateSession(ctx, database.CreateSessionParams{
			Token:     "stale-token",
			UserID:    registered.ID,
			ExpiresAt: time.Now().UTC().Add(-time.Hour),
		})
		require.NoError(t, err)

		_, err = manager.Authenticate(ctx, expired.Token)
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})

	t.Run("unknown_tokens_are_rejected", func(t *testing.T) {
		_, err := manager.Authenticate(ctx, "no-such-token")
		assert.True(t, fault.IsAuthorization(err), "got %v", err)
	})
}

func TestChildren(t *testing.T) {
	manager, _ := newManager()
	ctx := context.Background()
	parent, err := manager.Register(ctx, session.RegisterParams{Name: "Alice", Email: "alice@example.com", Password: "correct horse battery"})
	require.NoError(t, err)

	child, err := manager.AddChild(ctx, parent.ID, session.AddChildParams{Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentID)

	children, err := manager.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestDevices(t *testing.T) {
	manager, _ := newManager()
	ctx := context.Background()
	user, err := manager.Register(ctx, session.RegisterParams{Name: "Alice", Email: "alice@example.com", Password: "correct horse battery"})
	require.NoError(t, err)

	device, err := manager.RegisterDevice(ctx, user.ID, session.RegisterDeviceParams{Token: "tok-1", Platform: "ios"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, device.UserID)

	require.NoError(t, manager.RemoveDevice(ctx, user.ID, "tok-1"))
	err = manager.RemoveDevice(ctx, user.ID, "tok-1")
	assert.True(t, fault.IsNotFound(err), "got %v", err)
}
