// Package store keeps the listing collection in memory, mirrors it to
// a disk snapshot and persists it to durable storage.
package store

import (
	"time"

	"enjoytravel/traveldealworker/internal/crawler"
)

// Query selects and orders listings for the read API.
type Query struct {
	Search    string `json:"search"`
	Category  string `json:"category"`
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
}

// Normalize clamps pagination and sort parameters to safe values.
func (q *Query) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.SortOrder != "desc" {
		q.SortOrder = "asc"
	}
	switch q.SortBy {
	case "title", "price", "rating", "date":
	default:
		q.SortBy = ""
	}
}

// Offset returns the row offset for the normalized page.
func (q *Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Storage is the durable backend for listings. Implementations must
// keep inactive listings around so a bad crawl can be diagnosed.
type Storage interface {
	// FindActive returns the active listings matching the query, the
	// total match count and the most recent update time.
	FindActive(q Query) ([]*crawler.ListingRecord, int, time.Time, error)

	// FindBySlug returns one active listing by its slug, nil when absent.
	FindBySlug(slug string) (*crawler.ListingRecord, error)

	// Upsert inserts or updates a listing and marks it active.
	Upsert(rec *crawler.ListingRecord, seenAt time.Time) error

	// MarkInactiveExcept deactivates every listing whose ID is not in ids.
	MarkInactiveExcept(ids []string) error

	// Close releases the backend connection.
	Close() error
}
