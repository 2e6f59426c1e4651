// Package main is the linkscraper executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, auth and page endpoints. A submitted URL is stored as a
//     pending page and handed to the queue driver; the request returns before the scrape runs.
//   - Queue: internal/queue admits jobs in FIFO order with at most queue.max_concurrent running. Finished jobs move to
//     a bounded history ring exposed at /api/pages/queue/recent.
//   - Scrape pipeline: each job fetches the page through the Colly fetcher, optionally archives the raw body
//     (local/GCS), extracts the title and links with goquery and stores them in one transaction.
//   - Lifecycle: on start, pages left pending by a previous run are resubmitted; on SIGTERM submissions are refused
//     and running jobs get queue.shutdown_timeout_seconds to finish.
//   - Plumbing: Viper and godotenv load config; zap logs; Prometheus metrics at /metrics; optional NATS job events;
//     Redis or in-process rate limiting.
//
// Quick checklist:
//   - Configure env vars: SCRAPER_SERVER_PORT or PORT, SCRAPER_QUEUE_MAX_CONCURRENT or MAX_CONCURRENT_SCRAPERS,
//     SCRAPER_DB_DSN or DATABASE_URL, SCRAPER_REDIS_URL, SCRAPER_EVENTS_NATS_URL, SCRAPER_ARCHIVE_*.
//   - Run locally: go run . serve --config config.yaml (or rely solely on env overrides).
package main
