// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/linkscraper/internal/scraper"
)

// Store implements scraper.Store in memory. Data does not survive a restart,
// so pending pages are only recoverable with the postgres store.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	pages    map[int64]scraper.Page
	links    map[int64]scraper.Link
	users    map[int64]scraper.User
	sessions []scraper.Session
	nextPage int64
	nextLink int64
	nextUser int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:   func() time.Time { return time.Now().UTC() },
		pages: make(map[int64]scraper.Page),
		links: make(map[int64]scraper.Link),
		users: make(map[int64]scraper.User),
	}
}

// CreatePage stores a new page with status pending unless one is given.
func (s *Store) CreatePage(_ context.Context, page scraper.Page) (scraper.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPage++
	now := s.now()
	page.ID = s.nextPage
	if page.Status == "" {
		page.Status = scraper.PagePending
	}
	page.CreatedAt, page.UpdatedAt = now, now
	s.pages[page.ID] = page
	return page, nil
}

// GetPage fetches a page by id.
func (s *Store) GetPage(_ context.Context, id int64) (scraper.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[id]
	if !ok {
		return scraper.Page{}, fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	return page, nil
}

// GetUserPage fetches a page only when userID owns it.
func (s *Store) GetUserPage(ctx context.Context, id, userID int64) (scraper.Page, error) {
	page, err := s.GetPage(ctx, id)
	if err != nil {
		return scraper.Page{}, err
	}
	if page.UserID != userID {
		return scraper.Page{}, fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	return page, nil
}

// ListPages returns the filtered pages newest first plus the unpaged total.
func (s *Store) ListPages(_ context.Context, filter scraper.PageFilter) ([]scraper.Page, int, error) {
	s.mu.RLock()
	matched := make([]scraper.Page, 0, len(s.pages))
	for _, page := range s.pages {
		if filter.UserID != 0 && page.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && page.Status != filter.Status {
			continue
		}
		matched = append(matched, page)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return window(matched, filter.Limit, filter.Offset), len(matched), nil
}

// ListPendingPages returns pending pages oldest first.
func (s *Store) ListPendingPages(_ context.Context) ([]scraper.Page, error) {
	s.mu.RLock()
	var out []scraper.Page
	for _, page := range s.pages {
		if page.Status == scraper.PagePending {
			out = append(out, page)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarkProcessing moves a page to processing.
func (s *Store) MarkProcessing(_ context.Context, id int64) error {
	return s.updatePage(id, func(p *scraper.Page) {
		p.Status = scraper.PageProcessing
	})
}

// CompletePage replaces the page's links and marks it completed.
func (s *Store) CompletePage(_ context.Context, id int64, title string, links []scraper.Link, scrapedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	s.deleteLinksLocked(id)
	now := s.now()
	for _, link := range links {
		s.nextLink++
		link.ID = s.nextLink
		link.PageID = id
		link.CreatedAt = now
		s.links[link.ID] = link
	}
	ts := scrapedAt
	page.Title = title
	page.LinkCount = len(links)
	page.Status = scraper.PageCompleted
	page.ErrorMessage = ""
	page.ScrapedAt = &ts
	page.UpdatedAt = now
	s.pages[id] = page
	return nil
}

// FailPage marks a page failed with errMsg.
func (s *Store) FailPage(_ context.Context, id int64, errMsg string) error {
	return s.updatePage(id, func(p *scraper.Page) {
		p.Status = scraper.PageFailed
		p.ErrorMessage = errMsg
	})
}

// DeletePage removes a user's page and its links.
func (s *Store) DeletePage(_ context.Context, id, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok || page.UserID != userID {
		return fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	s.deleteLinksLocked(id)
	delete(s.pages, id)
	return nil
}

// ListLinks returns a page's links newest first, ties in insertion order.
func (s *Store) ListLinks(_ context.Context, pageID int64, limit, offset int) ([]scraper.Link, int, error) {
	s.mu.RLock()
	var matched []scraper.Link
	for _, link := range s.links {
		if link.PageID == pageID {
			matched = append(matched, link)
		}
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return window(matched, limit, offset), len(matched), nil
}

// DeleteLink removes a link when its page belongs to userID and keeps the
// page's link count in step.
func (s *Store) DeleteLink(_ context.Context, id, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return fmt.Errorf("link %d: %w", id, scraper.ErrNotFound)
	}
	page, ok := s.pages[link.PageID]
	if !ok || page.UserID != userID {
		return fmt.Errorf("link %d: %w", id, scraper.ErrNotFound)
	}
	delete(s.links, id)
	if page.LinkCount > 0 {
		page.LinkCount--
	}
	page.UpdatedAt = s.now()
	s.pages[page.ID] = page
	return nil
}

// CreateUser stores a user; emails are unique case-insensitively.
func (s *Store) CreateUser(_ context.Context, user scraper.User) (scraper.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return scraper.User{}, fmt.Errorf("user %s: %w", user.Email, scraper.ErrDuplicate)
		}
	}
	s.nextUser++
	user.ID = s.nextUser
	user.CreatedAt = s.now()
	s.users[user.ID] = user
	return user, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(_ context.Context, id int64) (scraper.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return scraper.User{}, fmt.Errorf("user %d: %w", id, scraper.ErrNotFound)
	}
	return user, nil
}

// GetUserByEmail fetches a user by email, ignoring case.
func (s *Store) GetUserByEmail(_ context.Context, email string) (scraper.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return scraper.User{}, fmt.Errorf("user %s: %w", email, scraper.ErrNotFound)
}

// CreateSession stores an issued token.
func (s *Store) CreateSession(_ context.Context, session scraper.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	s.sessions = append(s.sessions, session)
	return nil
}

// GetSessionsByPrefix returns unexpired sessions whose token starts with prefix.
func (s *Store) GetSessionsByPrefix(_ context.Context, prefix string) ([]scraper.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var out []scraper.Session
	for _, session := range s.sessions {
		if session.TokenPrefix == prefix && session.ExpiresAt.After(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) updatePage(id int64, mutate func(*scraper.Page)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return fmt.Errorf("page %d: %w", id, scraper.ErrNotFound)
	}
	mutate(&page)
	page.UpdatedAt = s.now()
	s.pages[id] = page
	return nil
}

func (s *Store) deleteLinksLocked(pageID int64) {
	for id, link := range s.links {
		if link.PageID == pageID {
			delete(s.links, id)
		}
	}
}

// window applies limit and offset; a non-positive limit returns everything
// after offset.
func window[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
