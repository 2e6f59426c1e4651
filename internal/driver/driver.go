// Package driver owns the queue's process lifecycle: it resubmits pages left
// pending by a previous run and drains running jobs on shutdown.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkscraper/internal/queue"
	"github.com/JakeFAU/linkscraper/internal/scraper"
)

// Defaults for Shutdown.
const (
	DefaultPollInterval = time.Second
	DefaultTimeout      = 30 * time.Second
)

// ErrClosed is returned by Submit once shutdown has begun.
var ErrClosed = errors.New("queue is shutting down")

// Queue is the part of *queue.Queue the driver needs.
type Queue interface {
	Submit(url string, ownerID, recordID int64) string
	Status() queue.Status
	Close()
}

// PendingLister loads persisted pages that never started.
type PendingLister interface {
	ListPendingPages(ctx context.Context) ([]scraper.Page, error)
}

// Config controls the driver.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *zap.Logger
}

// Driver gates submissions and coordinates startup recovery and shutdown.
type Driver struct {
	queue  Queue
	pages  PendingLister
	cfg    Config
	logger *zap.Logger
	closed atomic.Bool
}

// New builds a Driver around q.
func New(q Queue, pages PendingLister, cfg Config) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{queue: q, pages: pages, cfg: cfg, logger: logger.Named("driver")}
}

// Recover submits every pending page, oldest first, and returns how many
// were submitted.
func (d *Driver) Recover(ctx context.Context) (int, error) {
	pages, err := d.pages.ListPendingPages(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending pages: %w", err)
	}
	for _, page := range pages {
		d.queue.Submit(page.URL, page.UserID, page.ID)
	}
	if len(pages) > 0 {
		d.logger.Info("recovered pending pages", zap.Int("count", len(pages)))
	}
	return len(pages), nil
}

// Submit forwards to the queue unless shutdown has begun.
func (d *Driver) Submit(url string, ownerID, recordID int64) (string, error) {
	if d.closed.Load() {
		return "", ErrClosed
	}
	return d.queue.Submit(url, ownerID, recordID), nil
}

// Closed reports whether Shutdown has been called.
func (d *Driver) Closed() bool {
	return d.closed.Load()
}

// Status exposes the queue snapshot.
func (d *Driver) Status() queue.Status {
	return d.queue.Status()
}

// Shutdown stops new submissions and admission, then polls until no job is
// running or the timeout passes. Jobs still pending stay pending in the store
// and are recovered on the next start. A timeout is logged, not returned; only
// cancellation of ctx produces an error.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.closed.Store(true)
	d.queue.Close()

	st := d.queue.Status()
	if st.RunningCount == 0 {
		d.logger.Info("queue drained", zap.Int("pending", st.PendingCount))
		return nil
	}
	d.logger.Info("waiting for running jobs", zap.Int("running", st.RunningCount), zap.Duration("timeout", d.cfg.Timeout))

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(d.cfg.Timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for running jobs: %w", ctx.Err())
		case <-deadline.C:
			st = d.queue.Status()
			d.logger.Warn("shutdown timeout reached with jobs still running",
				zap.Int("running", st.RunningCount),
				zap.Int("pending", st.PendingCount),
			)
			return nil
		case <-ticker.C:
			st = d.queue.Status()
			if st.RunningCount == 0 {
				d.logger.Info("queue drained", zap.Int("pending", st.PendingCount))
				return nil
			}
		}
	}
}
