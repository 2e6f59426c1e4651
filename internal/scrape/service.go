// Package scrape implements the fetch-extract run the queue executes for each
// job: fetch the page, pull out its title and links, and persist the outcome
// on the page record.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkscraper/internal/clock/system"
	"github.com/JakeFAU/linkscraper/internal/extract"
	"github.com/JakeFAU/linkscraper/internal/metrics"
	"github.com/JakeFAU/linkscraper/internal/progress"
	"github.com/JakeFAU/linkscraper/internal/scraper"
)

// Config wires the service's collaborators. Archive, Hasher and Emitter are
// optional.
type Config struct {
	Pages         scraper.PageStore
	Fetcher       scraper.Fetcher
	Archive       scraper.BlobStore
	Hasher        scraper.Hasher
	ArchivePrefix string
	Clock         scraper.Clock
	Emitter       progress.Emitter
	Logger        *zap.Logger
}

// Service performs fetch-extract runs against the page store.
type Service struct {
	pages   scraper.PageStore
	fetcher scraper.Fetcher
	archive scraper.BlobStore
	hasher  scraper.Hasher
	prefix  string
	clock   scraper.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// New validates cfg and builds a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Pages == nil {
		return nil, errors.New("page store is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.Archive != nil && cfg.Hasher == nil {
		return nil, errors.New("hasher is required when archiving")
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		pages:   cfg.Pages,
		fetcher: cfg.Fetcher,
		archive: cfg.Archive,
		hasher:  cfg.Hasher,
		prefix:  cfg.ArchivePrefix,
		clock:   cfg.Clock,
		emitter: cfg.Emitter,
		logger:  cfg.Logger.Named("scrape"),
	}, nil
}

// Scrape runs one job. On failure the page is marked failed with a message
// meant for end users and the returned error is a *scraper.FetchError.
// Panics after the page is loaded are recovered and persisted the same way.
func (s *Service) Scrape(ctx context.Context, job scraper.Job) (res scraper.Result, err error) {
	page, err := s.pages.GetPage(ctx, job.RecordID)
	if err != nil {
		cause := fmt.Errorf("load page %d: %w", job.RecordID, err)
		if errors.Is(err, scraper.ErrNotFound) {
			return scraper.Result{}, scraper.UnexpectedError(cause)
		}
		return scraper.Result{}, s.fail(ctx, job.RecordID, scraper.UnexpectedError(cause))
	}
	defer func() {
		if r := recover(); r != nil {
			res = scraper.Result{}
			err = s.fail(ctx, page.ID, scraper.UnexpectedError(fmt.Errorf("panic in scrape: %v", r)))
		}
	}()

	if err := s.pages.MarkProcessing(ctx, page.ID); err != nil {
		return scraper.Result{}, s.fail(ctx, page.ID, fmt.Errorf("mark page processing: %w", err))
	}

	resp, err := s.fetcher.Fetch(ctx, scraper.FetchRequest{URL: page.URL})
	s.emitFetch(job, page.URL, resp)
	if err != nil {
		return scraper.Result{}, s.fail(ctx, page.ID, err)
	}
	s.archiveBody(ctx, page.ID, resp)

	doc, err := extract.Extract(page.URL, resp.Body)
	if err != nil {
		return scraper.Result{}, s.fail(ctx, page.ID, scraper.ParseError(err))
	}
	for i := range doc.Links {
		doc.Links[i].PageID = page.ID
	}
	if err := s.pages.CompletePage(ctx, page.ID, doc.Title, doc.Links, s.clock.Now()); err != nil {
		return scraper.Result{}, s.fail(ctx, page.ID, fmt.Errorf("complete page: %w", err))
	}

	s.logger.Debug("page scraped",
		zap.Int64("page_id", page.ID),
		zap.String("title", doc.Title),
		zap.Int("links", len(doc.Links)),
	)
	return scraper.Result{Title: doc.Title, LinkCount: len(doc.Links), Links: doc.Links}, nil
}

func (s *Service) fail(ctx context.Context, pageID int64, cause error) error {
	fe := scraper.Classify(cause)
	if err := s.pages.FailPage(ctx, pageID, fe.UserMessage()); err != nil {
		s.logger.Error("mark page failed", zap.Int64("page_id", pageID), zap.Error(err))
	}
	return fe
}

// archiveBody stores the raw HTML under <prefix>/<page id>/<sha256>.html.
// Archive failures never fail the scrape.
func (s *Service) archiveBody(ctx context.Context, pageID int64, resp scraper.FetchResponse) {
	if s.archive == nil || len(resp.Body) == 0 {
		return
	}
	digest, err := s.hasher.Hash(resp.Body)
	if err != nil {
		s.logger.Warn("hash page body", zap.Int64("page_id", pageID), zap.Error(err))
		return
	}
	key := path.Join(s.prefix, strconv.FormatInt(pageID, 10), digest+".html")
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	uri, err := s.archive.PutObject(ctx, key, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		s.logger.Warn("archive page body", zap.Int64("page_id", pageID), zap.Error(err))
		return
	}
	s.logger.Debug("page body archived", zap.Int64("page_id", pageID), zap.String("uri", uri))
}

func (s *Service) emitFetch(job scraper.Job, target string, resp scraper.FetchResponse) {
	if s.emitter == nil || resp.StatusCode == 0 {
		return
	}
	s.emitter.Emit(progress.Event{
		JobID:       job.ID,
		RecordID:    job.RecordID,
		TS:          s.clock.Now(),
		Stage:       progress.StageFetchDone,
		Site:        metrics.SanitizeSite(target),
		URL:         target,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})
}
