package scraper

import (
	"context"
	"io"
	"time"
)

// PageStore persists page records and the links extracted from them.
type PageStore interface {
	CreatePage(ctx context.Context, page Page) (Page, error)
	GetPage(ctx context.Context, id int64) (Page, error)
	GetUserPage(ctx context.Context, id, userID int64) (Page, error)
	ListPages(ctx context.Context, filter PageFilter) ([]Page, int, error)
	// ListPendingPages returns pages still in pending status, oldest first.
	ListPendingPages(ctx context.Context) ([]Page, error)
	MarkProcessing(ctx context.Context, id int64) error
	// CompletePage stores links and marks the page completed in one unit.
	CompletePage(ctx context.Context, id int64, title string, links []Link, scrapedAt time.Time) error
	FailPage(ctx context.Context, id int64, errMsg string) error
	// DeletePage removes a user's page and all of its links.
	DeletePage(ctx context.Context, id, userID int64) error
}

// LinkStore reads and deletes extracted links.
type LinkStore interface {
	ListLinks(ctx context.Context, pageID int64, limit, offset int) ([]Link, int, error)
	// DeleteLink removes a link only when its page belongs to userID.
	DeleteLink(ctx context.Context, id, userID int64) error
}

// UserStore persists accounts and sessions.
type UserStore interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	CreateSession(ctx context.Context, session Session) error
	GetSessionsByPrefix(ctx context.Context, prefix string) ([]Session, error)
}

// Store bundles every persistence concern behind one handle.
type Store interface {
	PageStore
	LinkStore
	UserStore
	Ping(ctx context.Context) error
	Close()
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
