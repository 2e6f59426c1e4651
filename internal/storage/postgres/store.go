// Package postgres provides the Postgres-backed scraper.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/linkscraper/internal/scraper"
)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements scraper.Store on Postgres.
type Store struct {
	pool pool
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const pageColumns = `id, url, title, user_id, status, link_count, error_message, scraped_at, created_at, updated_at`

func scanPage(row pgx.Row) (scraper.Page, error) {
	var (
		p      scraper.Page
		title  *string
		errMsg *string
		status string
	)
	if err := row.Scan(&p.ID, &p.URL, &title, &p.UserID, &status, &p.LinkCount, &errMsg,
		&p.ScrapedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return scraper.Page{}, err
	}
	p.Status = scraper.PageStatus(status)
	if title != nil {
		p.Title = *title
	}
	if errMsg != nil {
		p.ErrorMessage = *errMsg
	}
	return p, nil
}

func collectPages(rows pgx.Rows) ([]scraper.Page, error) {
	defer rows.Close()
	out := []scraper.Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

// CreatePage inserts a page and returns it with database defaults applied.
func (s *Store) CreatePage(ctx context.Context, page scraper.Page) (scraper.Page, error) {
	status := page.Status
	if status == "" {
		status = scraper.PagePending
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO pages (url, user_id, status) VALUES ($1, $2, $3) RETURNING `+pageColumns,
		page.URL, page.UserID, string(status))
	created, err := scanPage(row)
	if err != nil {
		return scraper.Page{}, fmt.Errorf("insert page: %w", err)
	}
	return created, nil
}

// GetPage fetches a page by id.
func (s *Store) GetPage(ctx context.Context, id int64) (scraper.Page, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id)
	page, err := scanPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Page{}, fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	if err != nil {
		return scraper.Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// GetUserPage fetches a page only when userID owns it.
func (s *Store) GetUserPage(ctx context.Context, id, userID int64) (scraper.Page, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1 AND user_id = $2`, id, userID)
	page, err := scanPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Page{}, fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	if err != nil {
		return scraper.Page{}, fmt.Errorf("get user page: %w", err)
	}
	return page, nil
}

// ListPages returns filtered pages newest first and the unpaged total. A zero
// UserID or empty Status matches everything.
func (s *Store) ListPages(ctx context.Context, filter scraper.PageFilter) ([]scraper.Page, int, error) {
	const where = ` WHERE ($1::bigint = 0 OR user_id = $1) AND ($2::text = '' OR status = $2)`
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pages`+where,
		filter.UserID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pages: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages`+where+` ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
		filter.UserID, string(filter.Status), limitArg(filter.Limit), max(filter.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("list pages: %w", err)
	}
	pages, err := collectPages(rows)
	if err != nil {
		return nil, 0, err
	}
	return pages, total, nil
}

// ListPendingPages returns pending pages oldest first.
func (s *Store) ListPendingPages(ctx context.Context) ([]scraper.Page, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE status = 'pending' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending pages: %w", err)
	}
	return collectPages(rows)
}

// MarkProcessing moves a page to processing.
func (s *Store) MarkProcessing(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pages SET status = 'processing', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark page processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	return nil
}

// CompletePage replaces the page's links with a bulk copy and marks it
// completed, all in one transaction.
func (s *Store) CompletePage(ctx context.Context, id int64, title string, links []scraper.Link, scrapedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete page: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE page_id = $1`, id); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	if len(links) > 0 {
		rows := make([][]any, 0, len(links))
		for _, l := range links {
			rows = append(rows, []any{id, l.URL, l.Name, scrapedAt})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"links"},
			[]string{"page_id", "url", "name", "created_at"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy links: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, `UPDATE pages
SET title = $2, link_count = $3, status = 'completed', error_message = NULL, scraped_at = $4, updated_at = now()
WHERE id = $1`, id, title, len(links), scrapedAt)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete page: %w", err)
	}
	return nil
}

// FailPage marks a page failed with errMsg.
func (s *Store) FailPage(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pages SET status = 'failed', error_message = $2, updated_at = now() WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("fail page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	return nil
}

// DeletePage removes a user's page; links go with it through ON DELETE CASCADE.
func (s *Store) DeletePage(ctx context.Context, id, userID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pages WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	return nil
}

// ListLinks returns a page's links newest first, ties in insertion order.
func (s *Store) ListLinks(ctx context.Context, pageID int64, limit, offset int) ([]scraper.Link, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM links WHERE page_id = $1`, pageID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count links: %w", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT id, page_id, url, coalesce(name, ''), created_at FROM links
WHERE page_id = $1 ORDER BY created_at DESC, id ASC LIMIT $2 OFFSET $3`, pageID, limitArg(limit), max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()
	links := []scraper.Link{}
	for rows.Next() {
		var l scraper.Link
		if err := rows.Scan(&l.ID, &l.PageID, &l.URL, &l.Name, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate links: %w", err)
	}
	return links, total, nil
}

// DeleteLink removes a link when its page belongs to userID and decrements the
// page's link count.
func (s *Store) DeleteLink(ctx context.Context, id, userID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete link: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var pageID int64
	err = tx.QueryRow(ctx, `DELETE FROM links l USING pages p
WHERE l.id = $1 AND l.page_id = p.id AND p.user_id = $2
RETURNING l.page_id`, id, userID).Scan(&pageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("link %d: %w", id, scraper.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE pages SET link_count = GREATEST(link_count - 1, 0), updated_at = now()
WHERE id = $1`, pageID); err != nil {
		return fmt.Errorf("decrement link count: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete link: %w", err)
	}
	return nil
}

// CreateUser inserts a user. A taken email yields scraper.ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, user scraper.User) (scraper.User, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id, created_at`,
		user.Email, user.PasswordHash).Scan(&user.ID, &user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return scraper.User{}, fmt.Errorf("user %s: %w", user.Email, scraper.ErrDuplicate)
	}
	if err != nil {
		return scraper.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (scraper.User, error) {
	return s.getUser(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

// GetUserByEmail fetches a user by email, ignoring case.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (scraper.User, error) {
	return s.getUser(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (scraper.User, error) {
	var u scraper.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.User{}, fmt.Errorf("user %v: %w", arg, scraper.ErrNotFound)
	}
	if err != nil {
		return scraper.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateSession stores an issued token.
func (s *Store) CreateSession(ctx context.Context, session scraper.Session) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_prefix, token_hash, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.UserID, session.TokenPrefix, session.TokenHash, session.ExpiresAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSessionsByPrefix returns unexpired sessions for a token prefix.
func (s *Store) GetSessionsByPrefix(ctx context.Context, prefix string) ([]scraper.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, token_prefix, token_hash, expires_at, created_at
FROM sessions WHERE token_prefix = $1 AND expires_at > now()`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []scraper.Session
	for rows.Next() {
		var sess scraper.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.TokenPrefix, &sess.TokenHash,
			&sess.ExpiresAt, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
