// Package worker orchestrates crawl runs: seed pages, dedup, detail
// enrichment, store refresh and stream publishing.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"enjoytravel/traveldealworker/config"
	"enjoytravel/traveldealworker/internal/crawler"
	"enjoytravel/traveldealworker/logger"
	"enjoytravel/traveldealworker/pkg/errors"
	"enjoytravel/traveldealworker/services/cache"
	"enjoytravel/traveldealworker/services/publisher"
	"enjoytravel/traveldealworker/services/store"
)

// Request selects the crawl mode. A full crawl also visits the search
// seeds and enriches the first maxPages listings unconditionally. A
// positive detailLimit overrides the configured enrichment cap for
// incremental crawls.
type Request struct {
	FullCrawl   bool `json:"fullCrawl"`
	MaxPages    int  `json:"maxPages"`
	DetailLimit int  `json:"detailLimit,omitempty"`
}

// Result reports the outcome of a crawl request.
type Result struct {
	Success   bool      `json:"success"`
	Total     int       `json:"total"`
	Cached    bool      `json:"cached"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// FetcherFactory builds a fresh PageFetcher per crawl run.
type FetcherFactory func() (crawler.PageFetcher, error)

// Worker runs crawls against the deal site and pushes the results
// through the store and publisher.
type Worker struct {
	cfg        *config.Config
	store      *store.Store
	extractor  *crawler.Extractor
	newFetcher FetcherFactory
	cacheSvc   cache.CacheService
	pub        publisher.Publisher
	httpClient *http.Client
}

// New creates a Worker. cacheSvc and pub may be nil.
func New(cfg *config.Config, st *store.Store, newFetcher FetcherFactory, cacheSvc cache.CacheService, pub publisher.Publisher) *Worker {
	return &Worker{
		cfg:        cfg,
		store:      st,
		extractor:  crawler.NewExtractor(crawler.DefaultSelectors(), cfg.BaseURL, cfg.MinTitleLength),
		newFetcher: newFetcher,
		cacheSvc:   cacheSvc,
		pub:        pub,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Crawl handles one crawl request. Fresh data short-circuits unless a
// full crawl was asked for. On hosts where crawling is disabled the
// request is delegated to the configured webhook and cached data is
// returned.
func (w *Worker) Crawl(ctx context.Context, req Request) Result {
	log := logger.ForWorker()

	if req.MaxPages <= 0 {
		req.MaxPages = w.cfg.MaxPages
	}

	if w.store.Count() == 0 {
		w.store.Load()
	}

	if !req.FullCrawl && w.store.Fresh() {
		_, ts := w.store.Listings()
		return Result{Success: true, Cached: true, Total: w.store.Count(), Timestamp: ts}
	}

	if w.cfg.CrawlDisabled {
		return w.delegate(ctx, req)
	}

	if !w.store.BeginRefresh() {
		_, ts := w.store.Listings()
		return Result{
			Success:   true,
			Cached:    true,
			Total:     w.store.Count(),
			Timestamp: ts,
			Message:   "A crawl is already in progress.",
		}
	}

	log.Info().Bool("fullCrawl", req.FullCrawl).Int("maxPages", req.MaxPages).Msg("Starting crawl")

	listings, err := w.run(ctx, req)
	if err != nil {
		w.store.AbortRefresh()
		log.Error().Err(err).Msg("Crawl failed")
		_, ts := w.store.Listings()
		return Result{
			Success:   false,
			Cached:    true,
			Total:     w.store.Count(),
			Timestamp: ts,
			Message:   err.Error(),
		}
	}

	if err := w.store.CompleteRefresh(listings); err != nil {
		log.Error().Err(err).Msg("Refusing crawl result")
		_, ts := w.store.Listings()
		return Result{
			Success:   false,
			Cached:    true,
			Total:     w.store.Count(),
			Timestamp: ts,
			Message:   err.Error(),
		}
	}

	w.publish(listings)

	log.Info().Int("total", len(listings)).Msg("Crawl complete")
	return Result{Success: true, Total: len(listings), Timestamp: time.Now()}
}

// run performs the actual browser crawl and returns the deduplicated,
// enriched listings.
func (w *Worker) run(ctx context.Context, req Request) ([]*crawler.ListingRecord, error) {
	log := logger.ForWorker()

	fetcher, err := w.newFetcher()
	if err != nil {
		return nil, err
	}
	defer fetcher.Close()

	if err := fetcher.Login(ctx, w.cfg.Email, w.cfg.Password); err != nil {
		return nil, err
	}
	log.Info().Msg("Logged in")

	var all []*crawler.ListingRecord
	for _, seedURL := range w.seedURLs(req.FullCrawl) {
		if w.isBlocked(seedURL) {
			log.Warn().Str("seed", seedURL).Msg("Seed is rate limited, skipping")
			continue
		}

		records, err := w.crawlSeed(ctx, fetcher, seedURL)
		if err != nil {
			logger.ForSeed(seedURL).Warn().Err(err).Msg("Seed crawl failed")
			if errors.IsType(err, errors.ErrorTypeRateLimit) {
				w.block(seedURL)
			}
			continue
		}

		logger.ForSeed(seedURL).Info().Int("count", len(records)).Msg("Extracted listings")
		all = append(all, records...)
	}

	unique := crawler.Deduplicate(all)
	log.Info().Int("total", len(unique)).Msg("Deduplicated listings")

	w.enrich(ctx, fetcher, unique, req)

	return unique, nil
}

// seedURLs returns the pages to visit in order: home, category pages,
// and for full crawls the search pages too.
func (w *Worker) seedURLs(fullCrawl bool) []string {
	seeds := []string{w.cfg.HomeURL()}
	for _, category := range w.cfg.Categories {
		seeds = append(seeds, w.cfg.CategoryURL(category))
	}
	if fullCrawl {
		for _, term := range w.cfg.SearchTerms {
			seeds = append(seeds, w.cfg.SearchURL(term))
		}
	}
	return seeds
}

func (w *Worker) crawlSeed(ctx context.Context, fetcher crawler.PageFetcher, seedURL string) ([]*crawler.ListingRecord, error) {
	html, err := fetcher.FetchPage(ctx, seedURL)
	if err != nil {
		return nil, err
	}
	return w.extractor.ExtractListings(html)
}

// enrich visits detail pages for the listings that need it. Full
// crawls take the first maxPages listings head-on; incremental crawls
// only visit listings flagged by the detail predicate, capped by the
// detail limit.
func (w *Worker) enrich(ctx context.Context, fetcher crawler.PageFetcher, listings []*crawler.ListingRecord, req Request) {
	log := logger.ForWorker()

	limit := req.MaxPages
	if !req.FullCrawl {
		detailCap := w.cfg.DetailLimit
		if req.DetailLimit > 0 {
			detailCap = req.DetailLimit
		}
		if limit > detailCap {
			limit = detailCap
		}
	}

	var targets []*crawler.ListingRecord
	if req.FullCrawl {
		targets = listings
	} else {
		for _, rec := range listings {
			if crawler.NeedsDetail(rec) {
				targets = append(targets, rec)
			}
		}
	}
	if len(targets) > limit {
		targets = targets[:limit]
	}

	if len(targets) == 0 {
		return
	}
	log.Info().Int("count", len(targets)).Msg("Enriching listings with detail pages")

	for _, rec := range targets {
		if ctx.Err() != nil {
			log.Warn().Msg("Enrichment cancelled")
			return
		}

		html, err := fetcher.FetchPage(ctx, rec.Link)
		if err != nil {
			log.Warn().Err(err).Str("title", rec.Title).Msg("Detail fetch failed")
			continue
		}

		detailed, err := w.extractor.ExtractDetail(html, rec)
		if err != nil {
			log.Warn().Err(err).Str("title", rec.Title).Msg("Detail parse failed")
			continue
		}

		crawler.Merge(rec, detailed)
		time.Sleep(w.cfg.DetailDelay)
	}
}

// delegate hands the crawl off to the external webhook worker and
// answers from the cache. The webhook call is fire-and-forget.
func (w *Worker) delegate(ctx context.Context, req Request) Result {
	log := logger.ForWorker()

	message := "Crawling is disabled on this host. Serving cached data. Run the crawler via an external worker to refresh."
	if w.cfg.WebhookURL != "" {
		if err := w.callWebhook(ctx, req); err != nil {
			log.Error().Err(err).Msg("Failed to call crawler webhook")
		} else {
			log.Info().Str("webhook", w.cfg.WebhookURL).Msg("Delegated crawl to webhook")
			message = "Delegated crawl to the external worker webhook."
		}
	}

	_, ts := w.store.Listings()
	if ts.IsZero() {
		ts = time.Now()
	}
	return Result{
		Success:   true,
		Cached:    true,
		Total:     w.store.Count(),
		Timestamp: ts,
		Message:   message,
	}
}

func (w *Worker) callWebhook(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.NewPublisher("webhook", "failed to encode webhook payload", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.NewPublisher("webhook", "failed to build webhook request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.cfg.WebhookSecret != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.cfg.WebhookSecret)
	}

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return errors.NewPublisher("webhook", "webhook call failed", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.NewPublisher("webhook", "webhook returned "+resp.Status, nil)
	}
	return nil
}

// publish pushes the crawl result onto the stream for downstream
// consumers.
func (w *Worker) publish(listings []*crawler.ListingRecord) {
	if w.pub == nil {
		return
	}
	log := logger.ForPublisher()

	payload, err := json.Marshal(listings)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode listings for publishing")
		return
	}

	if err := w.pub.Publish("b64_listings", payload); err != nil {
		log.Error().Err(err).Msg("Failed to publish listings")
		return
	}
	log.Info().Int("count", len(listings)).Msg("Published listings to stream")

	if err := w.pub.TrimStream(); err != nil {
		log.Warn().Err(err).Msg("Failed to trim stream")
	}
}

const blockValue = "1"

func (w *Worker) isBlocked(seedURL string) bool {
	if w.cacheSvc == nil {
		return false
	}
	val, err := w.cacheSvc.Get(blockKey(seedURL))
	return err == nil && string(val) == blockValue
}

func (w *Worker) block(seedURL string) {
	if w.cacheSvc == nil {
		return
	}
	if err := w.cacheSvc.Set(blockKey(seedURL), []byte(blockValue), w.cfg.SeedBlockTime); err != nil {
		logger.ForWorker().Warn().Err(err).Str("seed", seedURL).Msg("Failed to set seed block key")
	}
}

func blockKey(seedURL string) string {
	return "seed_block:" + seedURL
}
