package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/linkscraper/internal/scraper"
	"github.com/JakeFAU/linkscraper/internal/storage/postgres"
)

// setupStore starts a Postgres container, applies migrations and returns a
// connected store.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("linkscraper_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	version, err := postgres.Migrate(dsn)
	require.NoError(t, err)
	require.Equal(t, uint(1), version)

	store, err := postgres.Connect(ctx, postgres.Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestStoreLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, scraper.User{Email: "ada@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, scraper.User{Email: "ADA@example.com", PasswordHash: "other"})
	require.ErrorIs(t, err, scraper.ErrDuplicate)

	page, err := store.CreatePage(ctx, scraper.Page{URL: "https://example.com", UserID: user.ID})
	require.NoError(t, err)
	require.Equal(t, scraper.PagePending, page.Status)

	pending, err := store.ListPendingPages(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkProcessing(ctx, page.ID))
	scrapedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.CompletePage(ctx, page.ID, "Example", []scraper.Link{
		{URL: "https://example.com/a", Name: "A"},
		{URL: "https://example.com/b", Name: "B"},
	}, scrapedAt))

	got, err := store.GetUserPage(ctx, page.ID, user.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.PageCompleted, got.Status)
	require.Equal(t, 2, got.LinkCount)
	require.Equal(t, "Example", got.Title)

	links, total, err := store.ListLinks(ctx, page.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "A", links[0].Name)

	require.ErrorIs(t, store.DeleteLink(ctx, links[0].ID, user.ID+1), scraper.ErrNotFound)
	require.NoError(t, store.DeleteLink(ctx, links[0].ID, user.ID))
	got, err = store.GetPage(ctx, page.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.LinkCount)

	pages, total, err := store.ListPages(ctx, scraper.PageFilter{UserID: user.ID, Status: scraper.PageCompleted})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, pages, 1)

	require.NoError(t, store.DeletePage(ctx, page.ID, user.ID))
	_, total, err = store.ListLinks(ctx, page.ID, 0, 0)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestSessionsExpire(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store := setupStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, scraper.User{Email: "bob@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	require.NoError(t, store.CreateSession(ctx, scraper.Session{
		ID: "live", UserID: user.ID, TokenPrefix: "abcd1234", TokenHash: "h1", ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, store.CreateSession(ctx, scraper.Session{
		ID: "stale", UserID: user.ID, TokenPrefix: "abcd1234", TokenHash: "h2", ExpiresAt: time.Now().Add(-time.Hour),
	}))

	sessions, err := store.GetSessionsByPrefix(ctx, "abcd1234")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "live", sessions[0].ID)
}
