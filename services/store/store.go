package store

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"enjoytravel/traveldealworker/internal/crawler"
	"enjoytravel/traveldealworker/logger"
	"enjoytravel/traveldealworker/pkg/errors"
)

// Result is the envelope the read API returns for a listing query.
type Result struct {
	Listings   []*crawler.ListingRecord `json:"data"`
	Page       int                      `json:"page"`
	Limit      int                      `json:"limit"`
	Total      int                      `json:"total"`
	TotalPages int                      `json:"totalPages"`
	Cached     bool                     `json:"cached"`
	Timestamp  time.Time                `json:"timestamp"`
}

// Store holds the current listing collection in memory and mirrors it
// to a disk snapshot and durable storage on every completed refresh.
// Storage is optional; without it the store runs memory plus snapshot
// only.
type Store struct {
	mu        sync.RWMutex
	listings  []*crawler.ListingRecord
	timestamp time.Time

	refreshing atomic.Bool

	freshness    time.Duration
	snapshotPath string
	storage      Storage

	// now is swappable for tests
	now func() time.Time
}

// New creates a Store. storage may be nil.
func New(freshness time.Duration, snapshotPath string, storage Storage) *Store {
	return &Store{
		freshness:    freshness,
		snapshotPath: snapshotPath,
		storage:      storage,
		now:          time.Now,
	}
}

// Load warms the store from the disk snapshot, falling back to
// durable storage when no snapshot exists. Called once at startup.
func (s *Store) Load() {
	log := logger.ForStore()

	snap, err := LoadSnapshot(s.snapshotPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load snapshot")
	}
	if snap != nil && len(snap.Listings) > 0 {
		s.mu.Lock()
		s.listings = snap.Listings
		s.timestamp = snap.Timestamp
		s.mu.Unlock()
		log.Info().Int("count", len(snap.Listings)).Msg("Loaded listings from snapshot")
		return
	}

	if s.storage == nil {
		log.Info().Msg("No snapshot found and no storage configured, starting empty")
		return
	}

	records, _, updated, err := s.storage.FindActive(Query{Page: 1, Limit: 100, SortBy: "date", SortOrder: "desc"})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load listings from storage")
		return
	}
	if len(records) > 0 {
		s.mu.Lock()
		s.listings = records
		s.timestamp = updated
		s.mu.Unlock()
		log.Info().Int("count", len(records)).Msg("Loaded listings from storage")
	}
}

// Fresh reports whether the in-memory collection is younger than the
// freshness window. A collection exactly as old as the window counts
// as stale.
func (s *Store) Fresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.listings) == 0 {
		return false
	}
	return s.now().Sub(s.timestamp) < s.freshness
}

// Listings returns the current collection and its timestamp.
func (s *Store) Listings() ([]*crawler.ListingRecord, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listings, s.timestamp
}

// Count returns the number of listings currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}

// BeginRefresh claims the single refresh slot. Returns false when a
// refresh is already running.
func (s *Store) BeginRefresh() bool {
	return s.refreshing.CompareAndSwap(false, true)
}

// AbortRefresh releases the refresh slot without touching the data.
func (s *Store) AbortRefresh() {
	s.refreshing.Store(false)
}

// CompleteRefresh swaps in the new collection, then mirrors it to the
// snapshot and durable storage. An empty collection aborts the swap
// so one bad crawl cannot wipe a good dataset. Persistence failures
// are logged but do not roll back the in-memory swap.
func (s *Store) CompleteRefresh(listings []*crawler.ListingRecord) error {
	defer s.refreshing.Store(false)

	log := logger.ForStore()

	if len(listings) == 0 {
		return errors.NewValidation("store", "refusing to replace listings with an empty crawl result")
	}

	now := s.now()

	s.mu.Lock()
	s.listings = listings
	s.timestamp = now
	s.mu.Unlock()

	if err := SaveSnapshot(s.snapshotPath, listings, now); err != nil {
		log.Warn().Err(err).Msg("Failed to save snapshot")
	} else {
		log.Info().Int("count", len(listings)).Msg("Saved listings snapshot")
	}

	if s.storage != nil {
		s.persist(listings, now)
	}

	return nil
}

func (s *Store) persist(listings []*crawler.ListingRecord, now time.Time) {
	log := logger.ForStore()

	ids := make([]string, 0, len(listings))
	seen := make(map[string]bool, len(listings))
	for _, rec := range listings {
		if !seen[rec.ID] {
			seen[rec.ID] = true
			ids = append(ids, rec.ID)
		}
	}

	if err := s.storage.MarkInactiveExcept(ids); err != nil {
		log.Warn().Err(err).Msg("Failed to deactivate stale listings")
	}

	persisted := 0
	for _, rec := range listings {
		if err := s.storage.Upsert(rec, now); err != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("Failed to upsert listing")
			continue
		}
		persisted++
	}

	log.Info().Int("count", persisted).Msg("Persisted listings to storage")
}

// Query serves the read API. Durable storage is consulted first; when
// it is unavailable or empty the in-memory collection answers with
// the cached flag set.
func (s *Store) Query(q Query) Result {
	q.Normalize()

	if s.storage != nil {
		records, total, updated, err := s.storage.FindActive(q)
		if err != nil {
			logger.ForStore().Warn().Err(err).Msg("Storage query failed, falling back to memory")
		} else if len(records) > 0 {
			return Result{
				Listings:   records,
				Page:       q.Page,
				Limit:      q.Limit,
				Total:      total,
				TotalPages: totalPages(total, q.Limit),
				Timestamp:  updated,
			}
		}
	}

	return s.queryMemory(q)
}

func (s *Store) queryMemory(q Query) Result {
	s.mu.RLock()
	listings := s.listings
	timestamp := s.timestamp
	s.mu.RUnlock()

	filtered := listings
	if q.Search != "" || q.Category != "" {
		filtered = make([]*crawler.ListingRecord, 0, len(listings))
		search := strings.ToLower(q.Search)
		category := strings.ToLower(q.Category)
		for _, rec := range listings {
			if category != "" && strings.ToLower(rec.Category) != category {
				continue
			}
			if search != "" && !matchesSearch(rec, search) {
				continue
			}
			filtered = append(filtered, rec)
		}
	}

	total := len(filtered)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	return Result{
		Listings:   filtered[start:end],
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: totalPages(total, q.Limit),
		Cached:     true,
		Timestamp:  timestamp,
	}
}

// Get looks up one listing by slug, trying storage first and the
// in-memory collection second.
func (s *Store) Get(slug string) *crawler.ListingRecord {
	if s.storage != nil {
		rec, err := s.storage.FindBySlug(slug)
		if err != nil {
			logger.ForStore().Warn().Err(err).Str("slug", slug).Msg("Storage lookup failed, falling back to memory")
		} else if rec != nil {
			return rec
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.listings {
		if rec.ID == slug {
			return rec
		}
	}
	return nil
}

func matchesSearch(rec *crawler.ListingRecord, search string) bool {
	return strings.Contains(strings.ToLower(rec.Title), search) ||
		strings.Contains(strings.ToLower(rec.Description), search) ||
		strings.Contains(strings.ToLower(rec.Category), search) ||
		strings.Contains(strings.ToLower(rec.Location), search)
}

func totalPages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
