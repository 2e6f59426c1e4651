package queue

import "github.com/JakeFAU/linkscraper/internal/scraper"

// history is a fixed-capacity ring of terminal jobs. Pushing into a full ring
// evicts the oldest entry. Callers hold the queue mutex.
type history struct {
	buf       []scraper.Job
	start     int
	size      int
	completed int
	failed    int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]scraper.Job, capacity)}
}

func (h *history) push(job scraper.Job) {
	if h.size == len(h.buf) {
		h.count(h.buf[h.start].State, -1)
		h.buf[h.start] = job
		h.start = (h.start + 1) % len(h.buf)
	} else {
		h.buf[(h.start+h.size)%len(h.buf)] = job
		h.size++
	}
	h.count(job.State, 1)
}

func (h *history) count(state scraper.JobState, delta int) {
	switch state {
	case scraper.JobCompleted:
		h.completed += delta
	case scraper.JobFailed:
		h.failed += delta
	}
}

func (h *history) counts() (completed, failed int) {
	return h.completed, h.failed
}

// recent copies the newest limit entries in finish order, newest last.
func (h *history) recent(limit int) []scraper.Job {
	if limit > h.size {
		limit = h.size
	}
	out := make([]scraper.Job, 0, limit)
	for i := h.size - limit; i < h.size; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}
