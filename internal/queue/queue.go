// Package queue runs scrape jobs with a fixed concurrency ceiling. Jobs are
// admitted in submission order by a single admission loop, and each finished
// job frees its slot before the loop looks for more work.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkscraper/internal/clock/system"
	"github.com/JakeFAU/linkscraper/internal/id/uuid"
	"github.com/JakeFAU/linkscraper/internal/progress"
	"github.com/JakeFAU/linkscraper/internal/scraper"
)

// Defaults applied when the matching Config field is zero.
const (
	DefaultMaxConcurrent   = 3
	DefaultHistoryCapacity = 100
	DefaultRecentLimit     = 10
)

// ScrapeFunc performs the fetch-extract work for one admitted job. The queue
// treats it as opaque; a returned error or a panic marks the job failed.
type ScrapeFunc func(ctx context.Context, job scraper.Job) (scraper.Result, error)

// Config controls the queue.
//   - MaxConcurrent: jobs allowed in Running at once (default 3).
//   - HistoryCapacity: terminal jobs retained for RecentJobs (default 100).
//   - Clock, IDs: time and id sources (default system clock, UUIDv7).
//   - Emitter: optional progress event sink.
//   - BaseContext: parent context handed to every ScrapeFunc call.
//   - Logger: structured logger, scoped as "queue".
type Config struct {
	MaxConcurrent   int
	HistoryCapacity int
	Clock           scraper.Clock
	IDs             scraper.IDGenerator
	Emitter         progress.Emitter
	BaseContext     context.Context
	Logger          *zap.Logger
}

// Status is a point-in-time snapshot of queue occupancy.
type Status struct {
	PendingCount        int  `json:"pending_count"`
	RunningCount        int  `json:"running_count"`
	AdmissionLoopActive bool `json:"admission_loop_active"`
	// CompletedCount and FailedCount cover the retained history only.
	CompletedCount int `json:"completed_count"`
	FailedCount    int `json:"failed_count"`
	MaxConcurrent  int `json:"max_concurrent"`
}

// Queue admits submitted jobs in FIFO order while keeping at most
// MaxConcurrent of them running.
type Queue struct {
	maxConcurrent int
	scrape        ScrapeFunc
	clock         scraper.Clock
	ids           scraper.IDGenerator
	emitter       progress.Emitter
	baseCtx       context.Context
	logger        *zap.Logger
	fallbackSeq   atomic.Uint64

	mu        sync.Mutex
	pending   []*scraper.Job
	running   int
	admitting bool
	closed    bool
	history   *history
}

// New validates cfg and returns an idle queue.
func New(cfg Config, scrape ScrapeFunc) (*Queue, error) {
	if scrape == nil {
		return nil, errors.New("scrape func is required")
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent must be > 0, got %d", cfg.MaxConcurrent)
	}
	if cfg.HistoryCapacity == 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.HistoryCapacity < 0 {
		return nil, fmt.Errorf("history capacity must be > 0, got %d", cfg.HistoryCapacity)
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		maxConcurrent: cfg.MaxConcurrent,
		scrape:        scrape,
		clock:         cfg.Clock,
		ids:           cfg.IDs,
		emitter:       cfg.Emitter,
		baseCtx:       cfg.BaseContext,
		logger:        cfg.Logger.Named("queue"),
		history:       newHistory(cfg.HistoryCapacity),
	}, nil
}

// Submit enqueues a pending job for url and returns its id. It never blocks on
// job execution.
func (q *Queue) Submit(url string, ownerID, recordID int64) string {
	job := &scraper.Job{
		ID:        q.newID(),
		URL:       url,
		OwnerID:   ownerID,
		RecordID:  recordID,
		State:     scraper.JobPending,
		CreatedAt: q.clock.Now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	depth := len(q.pending)
	snapshot := *job
	q.mu.Unlock()

	q.logger.Info("job submitted",
		zap.String("job_id", snapshot.ID),
		zap.String("url", snapshot.URL),
		zap.Int64("record_id", snapshot.RecordID),
		zap.Int("pending", depth),
	)
	q.emit(progress.Event{
		JobID:    snapshot.ID,
		RecordID: snapshot.RecordID,
		TS:       snapshot.CreatedAt,
		Stage:    progress.StageJobSubmit,
		URL:      snapshot.URL,
	})

	q.tryAdmitMore()
	return snapshot.ID
}

// tryAdmitMore admits pending jobs while slots are free. Only one caller runs
// the loop at a time; others return immediately. The exit check and the reset
// of the admitting flag happen under one lock acquisition, so work that
// arrives while the loop is active is picked up by that loop.
func (q *Queue) tryAdmitMore() {
	q.mu.Lock()
	if q.admitting || q.closed {
		q.mu.Unlock()
		return
	}
	q.admitting = true
	for {
		if q.closed || len(q.pending) == 0 || q.running >= q.maxConcurrent {
			q.admitting = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		if !q.transitionLocked(job, scraper.JobRunning) {
			continue
		}
		started := q.clock.Now()
		job.StartedAt = &started
		q.running++
		snapshot := *job
		running := q.running
		q.mu.Unlock()

		q.logger.Info("job started",
			zap.String("job_id", snapshot.ID),
			zap.String("url", snapshot.URL),
			zap.Int64("record_id", snapshot.RecordID),
			zap.Int("running", running),
		)
		q.emit(progress.Event{
			JobID:    snapshot.ID,
			RecordID: snapshot.RecordID,
			TS:       started,
			Stage:    progress.StageJobStart,
			URL:      snapshot.URL,
		})
		go q.run(job, snapshot)

		q.mu.Lock()
	}
}

// run executes one job. The deferred completion always frees the slot, even
// when the scrape func panics.
func (q *Queue) run(job *scraper.Job, snapshot scraper.Job) {
	var (
		result scraper.Result
		err    error
	)
	defer func() {
		if rec := recover(); rec != nil {
			err = scraper.UnexpectedError(fmt.Errorf("panic in scrape: %v", rec))
		}
		q.complete(job, result, err)
	}()
	result, err = q.scrape(q.baseCtx, snapshot)
}

func (q *Queue) complete(job *scraper.Job, result scraper.Result, err error) {
	next := scraper.JobCompleted
	if err != nil {
		next = scraper.JobFailed
	}
	finished := q.clock.Now()

	q.mu.Lock()
	q.running--
	if q.transitionLocked(job, next) {
		job.FinishedAt = &finished
		if err != nil {
			job.Error = scraper.Classify(err).UserMessage()
		} else {
			job.Result = &scraper.Result{Title: result.Title, LinkCount: result.LinkCount}
		}
		q.history.push(*job)
	}
	snapshot := *job
	q.mu.Unlock()

	fields := []zap.Field{
		zap.String("job_id", snapshot.ID),
		zap.String("url", snapshot.URL),
		zap.Int64("record_id", snapshot.RecordID),
		zap.Duration("runtime", snapshot.Runtime()),
	}
	evt := progress.Event{
		JobID:    snapshot.ID,
		RecordID: snapshot.RecordID,
		TS:       finished,
		URL:      snapshot.URL,
		Dur:      snapshot.Runtime(),
	}
	if err != nil {
		q.logger.Warn("job failed", append(fields, zap.Error(err))...)
		evt.Stage = progress.StageJobError
		evt.Note = snapshot.Error
	} else {
		q.logger.Info("job completed", append(fields, zap.Int("links", result.LinkCount))...)
		evt.Stage = progress.StageJobDone
		evt.Links = result.LinkCount
	}
	q.emit(evt)

	q.tryAdmitMore()
}

// transitionLocked applies next to job if the state machine allows it.
func (q *Queue) transitionLocked(job *scraper.Job, next scraper.JobState) bool {
	if !job.State.CanTransition(next) {
		q.logger.Error("illegal job transition",
			zap.String("job_id", job.ID),
			zap.String("from", string(job.State)),
			zap.String("to", string(next)),
		)
		return false
	}
	job.State = next
	return true
}

// Close stops admitting pending jobs. Running jobs finish normally and jobs
// still pending stay pending. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.logger.Info("queue closed", zap.Int("pending", len(q.pending)), zap.Int("running", q.running))
}

// Status returns the current occupancy snapshot.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	completed, failed := q.history.counts()
	return Status{
		PendingCount:        len(q.pending),
		RunningCount:        q.running,
		AdmissionLoopActive: q.admitting,
		CompletedCount:      completed,
		FailedCount:         failed,
		MaxConcurrent:       q.maxConcurrent,
	}
}

// RecentJobs returns up to limit of the most recently finished jobs, oldest
// first and newest last. A non-positive limit means DefaultRecentLimit.
func (q *Queue) RecentJobs(limit int) []scraper.Job {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history.recent(limit)
}

func (q *Queue) emit(evt progress.Event) {
	if q.emitter != nil {
		q.emitter.Emit(evt)
	}
}

func (q *Queue) newID() string {
	id, err := q.ids.NewID()
	if err == nil && id != "" {
		return id
	}
	seq := q.fallbackSeq.Add(1)
	q.logger.Warn("id generator failed; using sequence id", zap.Error(err), zap.Uint64("seq", seq))
	return fmt.Sprintf("job-%d-%d", q.clock.Now().UnixNano(), seq)
}
