package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/JakeFAU/linkscraper/internal/scraper"
	"github.com/JakeFAU/linkscraper/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type staticIDs struct{ n int }

func (g *staticIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("session-%d", g.n), nil
}

func newTestService(t *testing.T, clock scraper.Clock) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc, err := NewService(store, Config{BcryptCost: bcrypt.MinCost, Clock: clock, IDs: &staticIDs{}})
	require.NoError(t, err)
	return svc, store
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil, Config{})
	require.Error(t, err)

	_, err = NewService(memory.NewStore(), Config{BcryptCost: 99})
	require.ErrorContains(t, err, "bcrypt cost")
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, nil)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "  ada@example.com ", "secret1")
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", reg.User.Email)
	require.Len(t, reg.Value, tokenBytes*2)

	user, err := store.GetUser(ctx, reg.User.ID)
	require.NoError(t, err)
	require.NotEqual(t, "secret1", user.PasswordHash)

	login, err := svc.Login(ctx, "ADA@example.com", "secret1")
	require.NoError(t, err)
	require.NotEqual(t, reg.Value, login.Value)

	for _, token := range []string{reg.Value, login.Value} {
		id, err := svc.Resolve(ctx, token)
		require.NoError(t, err)
		require.Equal(t, reg.User.ID, id)
	}

	me, err := svc.Me(ctx, reg.User.ID)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", me.Email)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	tests := []struct {
		name     string
		email    string
		password string
		want     string
	}{
		{"bad email", "not-an-email", "secret1", "Please provide a valid email"},
		{"empty email", "", "secret1", "Please provide a valid email"},
		{"short password", "ada@example.com", "12345", "Password must be at least 6 characters long"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.email, tc.password)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tc.want, verr.Message)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	_, err := svc.Register(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), "Ada@Example.com", "secret2")
	require.ErrorIs(t, err, scraper.ErrDuplicate)
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	_, err := svc.Register(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "ada@example.com", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@example.com", "secret1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestResolveRejectsBadTokens(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Now()}
	svc, _ := newTestService(t, clock)
	tok, err := svc.Register(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), "short")
	require.ErrorIs(t, err, ErrInvalidToken)

	forged := tok.Value[:TokenPrefixLen] + "0000000000000000"
	_, err = svc.Resolve(context.Background(), forged)
	require.ErrorIs(t, err, ErrInvalidToken)

	clock.t = clock.t.Add(DefaultTokenTTL + time.Minute)
	_, err = svc.Resolve(context.Background(), tok.Value)
	require.ErrorIs(t, err, ErrInvalidToken)
}
