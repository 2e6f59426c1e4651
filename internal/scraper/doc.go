// Package scraper defines the domain types shared across the link scraper:
// scrape jobs and their lifecycle, persisted pages and links, users and
// sessions, the typed fetch error taxonomy, and the collaborator interfaces
// (stores, fetcher, blob store, clock, ID generator) wired together in
// internal/server.
package scraper
