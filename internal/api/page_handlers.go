package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkscraper/internal/auth"
	"github.com/JakeFAU/linkscraper/internal/driver"
	"github.com/JakeFAU/linkscraper/internal/queue"
	"github.com/JakeFAU/linkscraper/internal/scraper"
)

const (
	defaultPageSize = 20
	defaultLinkSize = 50
	maxPageSize     = 100
	maxLinkSize     = 500
	storeTimeout    = 5 * time.Second
)

// pageHandler exposes page submission, listing and queue endpoints scoped to
// the authenticated user.
type pageHandler struct {
	store   scraper.Store
	jobs    Jobs
	history History
	timeout time.Duration
	logger  *zap.Logger
}

func newPageHandler(store scraper.Store, jobs Jobs, history History, logger *zap.Logger) *pageHandler {
	return &pageHandler{
		store:   store,
		jobs:    jobs,
		history: history,
		timeout: storeTimeout,
		logger:  logger,
	}
}

// paginated mirrors the {docs, pages, total} envelope list endpoints return.
type paginated[T any] struct {
	Docs  []T `json:"docs"`
	Pages int `json:"pages"`
	Total int `json:"total"`
}

func newPaginated[T any](docs []T, total, size int) paginated[T] {
	if docs == nil {
		docs = []T{}
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return paginated[T]{Docs: docs, Pages: pages, Total: total}
}

type createPageRequest struct {
	URL string `json:"url"`
}

// create handles POST /api/pages. It stores a pending page, submits it to the
// queue and returns 201 without waiting for the scrape.
func (h *pageHandler) create(w http.ResponseWriter, r *http.Request) {
	if h.jobs.Closed() {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	var req createPageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	target := strings.TrimSpace(req.URL)
	if target == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}
	if !validURL(target) {
		writeError(w, http.StatusBadRequest, "Invalid URL format")
		return
	}
	userID, _ := auth.UserID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	page, err := h.store.CreatePage(ctx, scraper.Page{URL: target, UserID: userID, Status: scraper.PagePending})
	if err != nil {
		h.logger.Error("create page", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add page")
		return
	}
	jobID, err := h.jobs.Submit(page.URL, userID, page.ID)
	if errors.Is(err, driver.ErrClosed) {
		// The page stays pending and is picked up by startup recovery.
		h.logger.Warn("page stored during shutdown", zap.Int64("page_id", page.ID))
	} else if err != nil {
		h.logger.Error("submit page", zap.Int64("page_id", page.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Page added successfully",
		"page":    page,
		"job_id":  jobID,
	})
}

// list handles GET /api/pages?page=&paginate=&status=.
func (h *pageHandler) list(w http.ResponseWriter, r *http.Request) {
	number, size, err := parsePagination(r, defaultPageSize, maxPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status scraper.PageStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := scraper.ParsePageStatus(strings.ToLower(raw))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = parsed
	}
	userID, _ := auth.UserID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	pages, total, err := h.store.ListPages(ctx, scraper.PageFilter{
		UserID: userID,
		Status: status,
		Limit:  size,
		Offset: (number - 1) * size,
	})
	if err != nil {
		h.logger.Error("list pages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch pages")
		return
	}
	writeJSON(w, http.StatusOK, newPaginated(pages, total, size))
}

// get handles GET /api/pages/{id}.
func (h *pageHandler) get(w http.ResponseWriter, r *http.Request) {
	page, ok := h.ownedPage(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// links handles GET /api/pages/{id}/links?page=&paginate=.
func (h *pageHandler) links(w http.ResponseWriter, r *http.Request) {
	number, size, err := parsePagination(r, defaultLinkSize, maxLinkSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, ok := h.ownedPage(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	links, total, err := h.store.ListLinks(ctx, page.ID, size, (number-1)*size)
	if err != nil {
		h.logger.Error("list links", zap.Int64("page_id", page.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch links")
		return
	}
	writeJSON(w, http.StatusOK, newPaginated(links, total, size))
}

// delete handles DELETE /api/pages/{id}; links are removed with the page.
func (h *pageHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	userID, _ := auth.UserID(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	err = h.store.DeletePage(ctx, id, userID)
	if errors.Is(err, scraper.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Page not found")
		return
	}
	if err != nil {
		h.logger.Error("delete page", zap.Int64("page_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete page")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Page and all associated links deleted successfully"})
}

// deleteLink handles DELETE /api/pages/links/{linkID}.
func (h *pageHandler) deleteLink(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "linkID")
	if err != nil {
		writeError(w, http.StatusNotFound, "Link not found or unauthorized")
		return
	}
	userID, _ := auth.UserID(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	err = h.store.DeleteLink(ctx, id, userID)
	if errors.Is(err, scraper.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Link not found or unauthorized")
		return
	}
	if err != nil {
		h.logger.Error("delete link", zap.Int64("link_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Link deleted successfully"})
}

// queueStatus handles GET /api/pages/queue/status.
func (h *pageHandler) queueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Status())
}

// queueRecent handles GET /api/pages/queue/recent?limit=.
func (h *pageHandler) queueRecent(w http.ResponseWriter, r *http.Request) {
	limit := queue.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = val
	}
	jobs := h.history.RecentJobs(limit)
	if jobs == nil {
		jobs = []scraper.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// ownedPage loads the {id} page for the current user, writing 404 when it is
// missing or belongs to someone else.
func (h *pageHandler) ownedPage(w http.ResponseWriter, r *http.Request) (scraper.Page, bool) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusNotFound, "Page not found")
		return scraper.Page{}, false
	}
	userID, _ := auth.UserID(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	page, err := h.store.GetUserPage(ctx, id, userID)
	if errors.Is(err, scraper.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Page not found")
		return scraper.Page{}, false
	}
	if err != nil {
		h.logger.Error("get page", zap.Int64("page_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch page details")
		return scraper.Page{}, false
	}
	return page, true
}

func parseID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + param)
	}
	return id, nil
}

// parsePagination reads the 1-based page number and page size.
func parsePagination(r *http.Request, def, maxSize int) (int, int, error) {
	q := r.URL.Query()
	number := 1
	if raw := q.Get("page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid page")
		}
		number = val
	}
	size := def
	if raw := q.Get("paginate"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid paginate")
		}
		size = min(val, maxSize)
	}
	return number, size, nil
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
