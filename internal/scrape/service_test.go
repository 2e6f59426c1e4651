package scrape

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkscraper/internal/hash/sha256"
	"github.com/JakeFAU/linkscraper/internal/progress"
	"github.com/JakeFAU/linkscraper/internal/queue"
	"github.com/JakeFAU/linkscraper/internal/scraper"
	"github.com/JakeFAU/linkscraper/internal/storage/memory"
)

const sampleHTML = `<html><head><title>Docs</title></head><body>
<a href="/guide">Guide</a>
<a href="mailto:hi@example.com">Mail</a>
<a href="https://golang.org"><img alt="Go"></a>
</body></html>`

type fakeFetcher struct {
	resp scraper.FetchResponse
	err  error
	got  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
	f.got = append(f.got, req.URL)
	return f.resp, f.err
}

type panickingFetcher struct{}

func (panickingFetcher) Fetch(context.Context, scraper.FetchRequest) (scraper.FetchResponse, error) {
	panic("nil response body")
}

// flakyStore fails GetPage or CompletePage while delegating everything else.
type flakyStore struct {
	*memory.Store
	getErr      error
	completeErr error
}

func (f *flakyStore) GetPage(ctx context.Context, id int64) (scraper.Page, error) {
	if f.getErr != nil {
		return scraper.Page{}, f.getErr
	}
	return f.Store.GetPage(ctx, id)
}

func (f *flakyStore) CompletePage(ctx context.Context, id int64, title string, links []scraper.Link, at time.Time) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	return f.Store.CompletePage(ctx, id, title, links, at)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type brokenArchive struct{}

func (brokenArchive) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *eventLog) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

var testTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func seedPage(t *testing.T, store *memory.Store, rawURL string) scraper.Page {
	t.Helper()
	page, err := store.CreatePage(context.Background(), scraper.Page{URL: rawURL, UserID: 1})
	require.NoError(t, err)
	return page
}

func TestScrapeSuccessPersistsLinksAndArchives(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	blobs := memory.NewBlobStore()
	events := &eventLog{}
	page := seedPage(t, store, "https://example.com/docs/")
	fetcher := &fakeFetcher{resp: scraper.FetchResponse{
		URL:        "https://example.com/docs/",
		StatusCode: http.StatusOK,
		Body:       []byte(sampleHTML),
		Duration:   20 * time.Millisecond,
	}}

	svc, err := New(Config{
		Pages:         store,
		Fetcher:       fetcher,
		Archive:       blobs,
		Hasher:        sha256.New(),
		ArchivePrefix: "raw",
		Clock:         fixedClock{testTime},
		Emitter:       events,
	})
	require.NoError(t, err)

	res, err := svc.Scrape(context.Background(), scraper.Job{ID: "job-1", URL: page.URL, RecordID: page.ID})
	require.NoError(t, err)
	require.Equal(t, "Docs", res.Title)
	require.Equal(t, 2, res.LinkCount)
	require.Equal(t, []string{"https://example.com/docs/"}, fetcher.got)

	stored, err := store.GetPage(context.Background(), page.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.PageCompleted, stored.Status)
	require.Equal(t, "Docs", stored.Title)
	require.Equal(t, 2, stored.LinkCount)
	require.Equal(t, testTime, *stored.ScrapedAt)

	links, total, err := store.ListLinks(context.Background(), page.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "https://example.com/guide", links[0].URL)
	require.Equal(t, "Go", links[1].Name)

	digest, err := sha256.New().Hash([]byte(sampleHTML))
	require.NoError(t, err)
	body, ok := blobs.Object("raw/1/" + digest + ".html")
	require.True(t, ok)
	require.Equal(t, sampleHTML, string(body))

	require.Len(t, events.events, 1)
	require.Equal(t, progress.StageFetchDone, events.events[0].Stage)
	require.Equal(t, "example.com", events.events[0].Site)
	require.Equal(t, progress.Status2xx, events.events[0].StatusClass)
}

func TestScrapeHTTPFailureMarksPageFailed(t *testing.T) {
	t.Parallel()

	cases := map[int]string{
		http.StatusTooManyRequests:     "Rate limited by website. Too many requests.",
		http.StatusForbidden:           "Access forbidden. The website is blocking automated requests.",
		http.StatusNotFound:            "Page not found (404).",
		http.StatusInternalServerError: "HTTP Error 500: Internal Server Error",
	}
	for code, want := range cases {
		store := memory.NewStore()
		page := seedPage(t, store, "https://example.com")
		fetcher := &fakeFetcher{
			resp: scraper.FetchResponse{StatusCode: code},
			err:  scraper.HTTPStatusError(code),
		}
		svc, err := New(Config{Pages: store, Fetcher: fetcher})
		require.NoError(t, err)

		_, err = svc.Scrape(context.Background(), scraper.Job{RecordID: page.ID})
		var fe *scraper.FetchError
		require.True(t, errors.As(err, &fe))
		require.Equal(t, scraper.KindHTTPStatus, fe.Kind)
		require.Equal(t, code, fe.StatusCode)

		stored, err := store.GetPage(context.Background(), page.ID)
		require.NoError(t, err)
		require.Equal(t, scraper.PageFailed, stored.Status)
		require.Equal(t, want, stored.ErrorMessage)
	}
}

func TestScrapeNetworkFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	page := seedPage(t, store, "https://unreachable.invalid")
	svc, err := New(Config{Pages: store, Fetcher: &fakeFetcher{err: context.DeadlineExceeded}})
	require.NoError(t, err)

	_, err = svc.Scrape(context.Background(), scraper.Job{RecordID: page.ID})
	require.Equal(t, scraper.KindNetwork, scraper.Classify(err).Kind)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := store.GetPage(context.Background(), page.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.PageFailed, stored.Status)
	require.NotEmpty(t, stored.ErrorMessage)
}

func TestScrapeMissingPage(t *testing.T) {
	t.Parallel()

	svc, err := New(Config{Pages: memory.NewStore(), Fetcher: &fakeFetcher{}})
	require.NoError(t, err)

	_, err = svc.Scrape(context.Background(), scraper.Job{RecordID: 404})
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.Equal(t, scraper.KindUnexpected, scraper.Classify(err).Kind)
}

func TestScrapeArchiveFailureDoesNotFailJob(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	page := seedPage(t, store, "https://example.com")
	svc, err := New(Config{
		Pages:   store,
		Fetcher: &fakeFetcher{resp: scraper.FetchResponse{StatusCode: 200, Body: []byte(sampleHTML)}},
		Archive: brokenArchive{},
		Hasher:  sha256.New(),
	})
	require.NoError(t, err)

	res, err := svc.Scrape(context.Background(), scraper.Job{RecordID: page.ID})
	require.NoError(t, err)
	require.Equal(t, 2, res.LinkCount)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Fetcher: &fakeFetcher{}})
	require.Error(t, err)
	_, err = New(Config{Pages: memory.NewStore()})
	require.Error(t, err)
	_, err = New(Config{Pages: memory.NewStore(), Fetcher: &fakeFetcher{}, Archive: memory.NewBlobStore()})
	require.ErrorContains(t, err, "hasher")
}

func TestScrapePanicMarksPageFailed(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	page := seedPage(t, store, "https://example.com")
	svc, err := New(Config{Pages: store, Fetcher: panickingFetcher{}})
	require.NoError(t, err)

	res, err := svc.Scrape(context.Background(), scraper.Job{RecordID: page.ID})
	require.Zero(t, res)
	require.Equal(t, scraper.KindUnexpected, scraper.Classify(err).Kind)
	require.ErrorContains(t, err, "nil response body")

	stored, err := store.GetPage(context.Background(), page.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.PageFailed, stored.Status)
	require.Contains(t, stored.ErrorMessage, "panic in scrape")
}

func TestScrapePanicThroughQueuePersistsFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	page := seedPage(t, store, "https://example.com")
	svc, err := New(Config{Pages: store, Fetcher: panickingFetcher{}})
	require.NoError(t, err)
	q, err := queue.New(queue.Config{MaxConcurrent: 1}, svc.Scrape)
	require.NoError(t, err)

	q.Submit(page.URL, page.UserID, page.ID)
	require.Eventually(t, func() bool { return q.Status().FailedCount == 1 }, 2*time.Second, 5*time.Millisecond)

	jobs := q.RecentJobs(1)
	require.Len(t, jobs, 1)
	require.Contains(t, jobs[0].Error, "panic in scrape")

	stored, err := store.GetPage(context.Background(), page.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.PageFailed, stored.Status)
	require.Equal(t, jobs[0].Error, stored.ErrorMessage)
}

func TestScrapeStoreFailuresArePersisted(t *testing.T) {
	t.Parallel()

	t.Run("load", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{Store: memory.NewStore(), getErr: errors.New("connection reset by peer")}
		page := seedPage(t, store.Store, "https://example.com")
		svc, err := New(Config{Pages: store, Fetcher: &fakeFetcher{}})
		require.NoError(t, err)

		_, err = svc.Scrape(context.Background(), scraper.Job{RecordID: page.ID})
		require.Equal(t, scraper.KindUnexpected, scraper.Classify(err).Kind)

		stored, err := store.Store.GetPage(context.Background(), page.ID)
		require.NoError(t, err)
		require.Equal(t, scraper.PageFailed, stored.Status)
		require.Contains(t, stored.ErrorMessage, "connection reset by peer")
	})

	t.Run("complete", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{Store: memory.NewStore(), completeErr: errors.New("deadlock detected")}
		page := seedPage(t, store.Store, "https://example.com")
		svc, err := New(Config{
			Pages:   store,
			Fetcher: &fakeFetcher{resp: scraper.FetchResponse{StatusCode: 200, Body: []byte(sampleHTML)}},
		})
		require.NoError(t, err)

		_, err = svc.Scrape(context.Background(), scraper.Job{RecordID: page.ID})
		require.Equal(t, scraper.KindUnexpected, scraper.Classify(err).Kind)

		stored, err := store.Store.GetPage(context.Background(), page.ID)
		require.NoError(t, err)
		require.Equal(t, scraper.PageFailed, stored.Status)
		require.Contains(t, stored.ErrorMessage, "deadlock detected")
	})
}
