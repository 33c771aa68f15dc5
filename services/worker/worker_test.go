package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"enjoytravel/traveldealworker/config"
	"enjoytravel/traveldealworker/internal/crawler"
	"enjoytravel/traveldealworker/services/store"
)

const listingPage = `<html><body>
	<div class="ticket-item">
		<h3>Universal Studios Singapore</h3>
		<a href="/ticket/uss-101">Book</a>
		<span class="price">SGD 89</span>
		<span class="price">SGD 150</span>
	</div>
	<div class="ticket-item">
		<h3>Night Safari</h3>
		<a href="/ticket/safari-99">Book</a>
		<img src="/images/safari.jpg">
		<span class="price">S$ 45</span>
	</div>
</body></html>`

const detailPage = `<html><body>
	<div class="main-image"><img src="/images/hero.jpg"></div>
	<div class="description">A full day of rides and shows across all the themed zones of the park, suitable for the whole family.</div>
	<span class="price">SGD 85</span>
	<del>SGD 150</del>
</body></html>`

// stubFetcher serves canned HTML instead of driving a browser
type stubFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	fetched  []string
	loggedIn bool
	loginErr error
	fetchErr error
}

func (f *stubFetcher) Login(ctx context.Context, email, password string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *stubFetcher) FetchPage(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()

	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	if html, ok := f.pages[url]; ok {
		return html, nil
	}
	return "<html><body></body></html>", nil
}

func (f *stubFetcher) Close() error { return nil }

// stubPublisher records publishes and trims instead of talking to redis
type stubPublisher struct {
	mu        sync.Mutex
	published []string
	trims     int
}

func (p *stubPublisher) Publish(key string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, key)
	return nil
}

func (p *stubPublisher) TrimStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trims++
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		BaseURL:        "https://mobile.attractionsg.com",
		Categories:     []string{"attractions"},
		SearchTerms:    []string{"zoo"},
		Email:          "worker@example.com",
		Password:       "secret",
		MaxPages:       20,
		DetailLimit:    40,
		DetailDelay:    0,
		MinTitleLength: 4,
		Freshness:      6 * time.Hour,
		SnapshotPath:   filepath.Join(t.TempDir(), "listings.json"),
	}
}

func newTestWorker(cfg *config.Config, fetcher crawler.PageFetcher) (*Worker, *store.Store) {
	st := store.New(cfg.Freshness, cfg.SnapshotPath, nil)
	factory := func() (crawler.PageFetcher, error) { return fetcher, nil }
	return New(cfg, st, factory, nil, nil), st
}

func TestCrawl(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{
		pages: map[string]string{
			"https://mobile.attractionsg.com/":                      listingPage,
			"https://mobile.attractionsg.com/ticket/uss-101":        detailPage,
			"https://mobile.attractionsg.com/category/attractions": "<html><body></body></html>",
		},
	}
	w, st := newTestWorker(cfg, fetcher)

	result := w.Crawl(context.Background(), Request{})
	assert.True(t, result.Success)
	assert.False(t, result.Cached)
	assert.Equal(t, 2, result.Total)
	assert.True(t, fetcher.loggedIn)

	listings, _ := st.Listings()
	assert.Len(t, listings, 2)

	// The card without an image was enriched from its detail page
	uss := listings[0]
	assert.Equal(t, "Universal Studios Singapore", uss.Title)
	assert.Equal(t, "https://mobile.attractionsg.com/images/hero.jpg", uss.Image)
	assert.Contains(t, uss.Description, "themed zones")

	// The search seed is skipped outside full crawls
	assert.NotContains(t, fetcher.fetched, "https://mobile.attractionsg.com/search?q=zoo")
}

func TestCrawlDetailLimitOverride(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{pages: map[string]string{
		"https://mobile.attractionsg.com/": listingPage,
	}}
	w, _ := newTestWorker(cfg, fetcher)

	// Both cards qualify for enrichment, the request cap stops after one
	result := w.Crawl(context.Background(), Request{DetailLimit: 1})
	assert.True(t, result.Success)
	assert.Contains(t, fetcher.fetched, "https://mobile.attractionsg.com/ticket/uss-101")
	assert.NotContains(t, fetcher.fetched, "https://mobile.attractionsg.com/ticket/safari-99")
}

func TestCrawlPublishesAndTrims(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{pages: map[string]string{
		"https://mobile.attractionsg.com/": listingPage,
	}}
	st := store.New(cfg.Freshness, cfg.SnapshotPath, nil)
	pub := &stubPublisher{}
	w := New(cfg, st, func() (crawler.PageFetcher, error) { return fetcher, nil }, nil, pub)

	result := w.Crawl(context.Background(), Request{})
	assert.True(t, result.Success)
	assert.Equal(t, []string{"b64_listings"}, pub.published)
	assert.Equal(t, 1, pub.trims)
}

func TestCrawlFullVisitsSearchSeeds(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{pages: map[string]string{
		"https://mobile.attractionsg.com/": listingPage,
	}}
	w, _ := newTestWorker(cfg, fetcher)

	result := w.Crawl(context.Background(), Request{FullCrawl: true})
	assert.True(t, result.Success)
	assert.Contains(t, fetcher.fetched, "https://mobile.attractionsg.com/search?q=zoo")
}

func TestCrawlServesFreshCache(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{pages: map[string]string{
		"https://mobile.attractionsg.com/": listingPage,
	}}
	w, _ := newTestWorker(cfg, fetcher)

	first := w.Crawl(context.Background(), Request{})
	assert.True(t, first.Success)
	fetchCount := len(fetcher.fetched)

	second := w.Crawl(context.Background(), Request{})
	assert.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Total, second.Total)
	// No pages were fetched for the cached answer
	assert.Len(t, fetcher.fetched, fetchCount)
}

func TestCrawlLoginFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{loginErr: assert.AnError}
	w, st := newTestWorker(cfg, fetcher)

	result := w.Crawl(context.Background(), Request{})
	assert.False(t, result.Success)
	assert.Equal(t, 0, st.Count())

	// The refresh slot was released
	assert.True(t, st.BeginRefresh())
	st.AbortRefresh()
}

func TestCrawlEmptyResultKeepsOldData(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{pages: map[string]string{
		"https://mobile.attractionsg.com/": listingPage,
	}}
	w, st := newTestWorker(cfg, fetcher)

	first := w.Crawl(context.Background(), Request{})
	assert.True(t, first.Success)

	// Every page is empty on the second run
	fetcher.pages = map[string]string{}
	second := w.Crawl(context.Background(), Request{FullCrawl: true})
	assert.False(t, second.Success)
	assert.Equal(t, 2, st.Count())
}

func TestCrawlDisabledDelegatesToWebhook(t *testing.T) {
	var gotAuth string
	var gotBody Request
	called := make(chan struct{}, 1)

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, decodeJSON(r, &gotBody))
		called <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := testConfig(t)
	cfg.CrawlDisabled = true
	cfg.WebhookURL = hook.URL
	cfg.WebhookSecret = "hook-secret"

	fetcher := &stubFetcher{}
	w, _ := newTestWorker(cfg, fetcher)

	result := w.Crawl(context.Background(), Request{FullCrawl: true, MaxPages: 5})
	assert.True(t, result.Success)
	assert.True(t, result.Cached)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never called")
	}
	assert.Equal(t, "Bearer hook-secret", gotAuth)
	assert.True(t, gotBody.FullCrawl)
	assert.Equal(t, 5, gotBody.MaxPages)

	// The browser never started
	assert.False(t, fetcher.loggedIn)
	assert.Empty(t, fetcher.fetched)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
