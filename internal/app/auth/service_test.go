package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authsvc "chatter/internal/app/auth"
	domainauth "chatter/internal/domain/auth"
	"chatter/internal/domain/chat"
	"chatter/internal/infra/security"
	"chatter/internal/infra/storage/memory"
)

func newAuthService() *authsvc.Service {
	return &authsvc.Service{
		Store:      memory.NewStore(),
		Sessions:   memory.NewSessionStore(),
		Passwords:  security.BcryptHasher{Cost: 4},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: time.Hour,
	}
}

func TestRegisterLoginResolve(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	result, err := svc.Register(ctx, authsvc.RegisterParams{
		Email:    "  Alice@Example.com ",
		Name:     "Alice",
		Password: "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", result.User.Email)
	assert.NotEmpty(t, result.Token)

	resolved, err := svc.ResolveToken(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, resolved.ID)

	login, err := svc.Login(ctx, authsvc.LoginParams{Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, login.User.ID)
	assert.NotEqual(t, result.Token, login.Token)
}

func TestRegisterValidation(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	_, err := svc.Register(ctx, authsvc.RegisterParams{Email: "", Name: "x", Password: "longenough"})
	assert.True(t, chat.IsValidation(err))

	_, err = svc.Register(ctx, authsvc.RegisterParams{Email: "a@b.c", Name: "", Password: "longenough"})
	assert.True(t, chat.IsValidation(err))

	_, err = svc.Register(ctx, authsvc.RegisterParams{Email: "a@b.c", Name: "x", Password: "short"})
	assert.ErrorIs(t, err, authsvc.ErrPasswordTooShort)

	_, err = svc.Register(ctx, authsvc.RegisterParams{Email: "dup@b.c", Name: "x", Password: "longenough"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, authsvc.RegisterParams{Email: "DUP@b.c", Name: "y", Password: "longenough"})
	assert.True(t, chat.IsValidation(err))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	_, err := svc.Register(ctx, authsvc.RegisterParams{Email: "a@b.c", Name: "x", Password: "longenough"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, authsvc.LoginParams{Email: "a@b.c", Password: "wrong password"})
	assert.ErrorIs(t, err, authsvc.ErrInvalidCredentials)
	_, err = svc.Login(ctx, authsvc.LoginParams{Email: "nobody@b.c", Password: "longenough"})
	assert.ErrorIs(t, err, authsvc.ErrInvalidCredentials)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	result, err := svc.Register(ctx, authsvc.RegisterParams{Email: "a@b.c", Name: "x", Password: "longenough"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, result.Token))
	_, err = svc.ResolveToken(ctx, result.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestSessionExpiry(t *testing.T) {
	store := memory.NewSessionStore()
	session, err := domainauth.NewSession(domainauth.CreateSessionParams{
		Token:  "tok",
		UserID: 1,
		TTL:    time.Millisecond,
		Now:    time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), session))

	_, err = store.Get(context.Background(), "tok")
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}
