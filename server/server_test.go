package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"enjoytravel/traveldealworker/config"
	"enjoytravel/traveldealworker/internal/crawler"
	"enjoytravel/traveldealworker/services/store"
	"enjoytravel/traveldealworker/services/worker"
)

type staticFetcher struct {
	mu      sync.Mutex
	html    string
	fetched []string
}

func (f *staticFetcher) Login(ctx context.Context, email, password string) error { return nil }
func (f *staticFetcher) FetchPage(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	return f.html, nil
}
func (f *staticFetcher) Close() error { return nil }

func (f *staticFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func testServer(t *testing.T, triggerSecret string) (*Server, *store.Store) {
	t.Helper()

	cfg := &config.Config{
		BaseURL:        "https://mobile.attractionsg.com",
		Categories:     []string{"attractions"},
		MaxPages:       20,
		DetailLimit:    40,
		MinTitleLength: 4,
		Freshness:      6 * time.Hour,
		SnapshotPath:   filepath.Join(t.TempDir(), "listings.json"),
		TriggerSecret:  triggerSecret,
		Environment:    "test",
	}

	st := store.New(cfg.Freshness, cfg.SnapshotPath, nil)
	factory := func() (crawler.PageFetcher, error) {
		return &staticFetcher{html: `<html><body>
			<div class="ticket-item"><h3>Singapore Zoo</h3><a href="https://mobile.attractionsg.com/ticket/zoo-1">Book</a><img src="/z.jpg"><span class="price">$48</span><del>$60</del></div>
		</body></html>`}, nil
	}
	w := worker.New(cfg, st, factory, nil, nil)

	return New(cfg, st, w), st
}

func seedStore(t *testing.T, st *store.Store, n int) {
	t.Helper()
	records := make([]*crawler.ListingRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, &crawler.ListingRecord{
			ID:    "deal-" + string(rune('a'+i)),
			Title: "Deal " + string(rune('A'+i)),
		})
	}
	assert.NoError(t, st.CompleteRefresh(records))
}

func TestHealthz(t *testing.T) {
	srv, st := testServer(t, "")
	seedStore(t, st, 3)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["total"])
}

func TestListingsEndpoint(t *testing.T) {
	srv, st := testServer(t, "")
	seedStore(t, st, 5)

	req := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(`{"page":2,"limit":2}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success    bool                     `json:"success"`
		Data       []crawler.ListingRecord  `json:"data"`
		Pagination map[string]interface{}   `json:"pagination"`
		Cached     bool                     `json:"cached"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Len(t, body.Data, 2)
	assert.Equal(t, float64(5), body.Pagination["total"])
	assert.Equal(t, float64(3), body.Pagination["totalPages"])
	assert.True(t, body.Cached)
}

func TestListingsEndpointEmptyBody(t *testing.T) {
	srv, st := testServer(t, "")
	seedStore(t, st, 1)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/listings", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListingEndpoint(t *testing.T) {
	srv, st := testServer(t, "")
	seedStore(t, st, 2)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listings/deal-b", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool                   `json:"success"`
		Listing *crawler.ListingRecord `json:"listing"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Deal B", body.Listing.Title)

	// Unknown slug answers success false, not 404
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listings/nope", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Nil(t, body.Listing)
}

func TestCrawlEndpointAuth(t *testing.T) {
	srv, _ := testServer(t, "trigger-secret")

	// Missing token is rejected
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/crawl", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong token is rejected
	req := httptest.NewRequest(http.MethodPost, "/api/crawl", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct token runs the crawl
	req = httptest.NewRequest(http.MethodPost, "/api/crawl", nil)
	req.Header.Set("Authorization", "Bearer trigger-secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result worker.Result
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Total)
}

func TestCrawlEndpointDetailLimit(t *testing.T) {
	cfg := &config.Config{
		BaseURL:        "https://mobile.attractionsg.com",
		Categories:     []string{"attractions"},
		MaxPages:       20,
		DetailLimit:    40,
		MinTitleLength: 4,
		Freshness:      6 * time.Hour,
		SnapshotPath:   filepath.Join(t.TempDir(), "listings.json"),
		Environment:    "test",
	}
	st := store.New(cfg.Freshness, cfg.SnapshotPath, nil)

	// Every page serves two imageless cards, so both qualify for
	// detail enrichment
	fetcher := &staticFetcher{html: `<html><body>
		<div class="ticket-item"><h3>City Tour Bus</h3><a href="/ticket/bus-1">Book</a><span class="price">$20</span></div>
		<div class="ticket-item"><h3>River Cruise</h3><a href="/ticket/cruise-2">Book</a><span class="price">$25</span></div>
	</body></html>`}
	factory := func() (crawler.PageFetcher, error) { return fetcher, nil }
	w := worker.New(cfg, st, factory, nil, nil)
	srv := New(cfg, st, w)

	req := httptest.NewRequest(http.MethodPost, "/api/crawl", strings.NewReader(`{"detailLimit":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Two seed pages (home + category) plus a single detail fetch
	assert.Equal(t, 3, fetcher.fetchCount())
}

func TestRefreshEndpoint(t *testing.T) {
	srv, st := testServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "processing", body["status"])

	// The background crawl lands shortly after
	deadline := time.Now().Add(5 * time.Second)
	for st.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 1, st.Count())
}
