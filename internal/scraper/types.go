package scraper

import (
	"net/http"
	"time"
)

// JobState represents the lifecycle state of a scrape job held by the queue.
type JobState string

// Job states. Pending and Running are transient, Completed and Failed are terminal.
const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether s may move to next.
// The only legal moves are pending->running and running->{completed,failed}.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// Job is one scrape request tracked by the queue.
type Job struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	OwnerID    int64      `json:"owner_id"`
	RecordID   int64      `json:"record_id"`
	State      JobState   `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Runtime returns the wall time between admission and completion, or zero
// while the job has not finished.
func (j Job) Runtime() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// Result is the success payload of a fetch-extract run.
type Result struct {
	Title     string `json:"title"`
	LinkCount int    `json:"link_count"`
	Links     []Link `json:"links,omitempty"`
}

// PageStatus mirrors the pages.status column.
type PageStatus string

// Page statuses persisted in the page store.
const (
	PagePending    PageStatus = "pending"
	PageProcessing PageStatus = "processing"
	PageCompleted  PageStatus = "completed"
	PageFailed     PageStatus = "failed"
)

// ParsePageStatus validates a status filter coming from a client.
func ParsePageStatus(s string) (PageStatus, bool) {
	switch PageStatus(s) {
	case PagePending, PageProcessing, PageCompleted, PageFailed:
		return PageStatus(s), true
	default:
		return "", false
	}
}

// Page is the persisted record a scrape job updates.
type Page struct {
	ID           int64      `json:"id"`
	URL          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	UserID       int64      `json:"user_id"`
	Status       PageStatus `json:"status"`
	LinkCount    int        `json:"link_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ScrapedAt    *time.Time `json:"scraped_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Link is an outbound anchor extracted from a page.
type Link struct {
	ID        int64     `json:"id"`
	PageID    int64     `json:"page_id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PageFilter narrows ListPages results.
type PageFilter struct {
	UserID int64
	Status PageStatus
	Limit  int
	Offset int
}

// User is an account allowed to submit pages.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is an issued bearer token. Only the prefix and a bcrypt hash of the
// full token are stored.
type Session struct {
	ID          string
	UserID      int64
	TokenPrefix string
	TokenHash   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
