package crawler

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"enjoytravel/traveldealworker/helpers"
	"enjoytravel/traveldealworker/logger"
	"enjoytravel/traveldealworker/pkg/errors"
)

// Browser is a chromedp-backed PageFetcher. The deal site renders its
// listings client side and gates prices behind a member login, so a
// real browser session is required for the primary fetch path. Plain
// HTTP with browser headers is kept as a fallback for pages that
// render without a session.
type Browser struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancelCtx   context.CancelFunc

	baseURL     string
	navTimeout  time.Duration
	settleDelay time.Duration
	loggedIn    bool
}

// NewBrowser launches a headless Chrome instance. The binary is
// located via CHROME_BIN, PATH, then well-known install locations.
func NewBrowser(baseURL string, navTimeout, settleDelay time.Duration) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if bin := findChromeBinary(); bin != "" {
		logger.Debug("Using browser binary: %s", bin)
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &Browser{
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		browserCtx:  browserCtx,
		cancelCtx:   cancelCtx,
		baseURL:     baseURL,
		navTimeout:  navTimeout,
		settleDelay: settleDelay,
	}, nil
}

// Login opens the site root and submits the member credentials. All
// subsequent fetches reuse the authenticated session.
func (b *Browser) Login(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return errors.NewConfiguration("login credentials are not set", nil)
	}

	runCtx, cancel := context.WithTimeout(b.browserCtx, b.navTimeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(b.baseURL+"/"),
		chromedp.WaitVisible(`input[type="email"], input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="email"], input[name="email"]`, email, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="password"], input[name="password"]`, password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"], input[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
	)
	if err != nil {
		return errors.NewFetch("login", "failed to log in", err)
	}

	b.loggedIn = true
	return nil
}

// FetchPage navigates to the URL, waits for the page to settle and
// returns the rendered HTML. Falls back to a plain HTTP fetch when
// the browser session is unavailable.
func (b *Browser) FetchPage(ctx context.Context, url string) (string, error) {
	runCtx, cancel := context.WithTimeout(b.browserCtx, b.navTimeout)
	defer cancel()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(b.settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err == nil {
		return html, nil
	}

	if b.loggedIn {
		return "", errors.NewFetch(url, "failed to fetch page", err)
	}

	// No session to lose, try a plain request before giving up
	reader, ferr := helpers.FetchWithRandomHeaders(url)
	if ferr != nil {
		if helpers.IsRateLimited(ferr) {
			return "", errors.NewRateLimit(url, 0)
		}
		return "", errors.NewFetch(url, "failed to fetch page", ferr)
	}
	body, ferr := io.ReadAll(reader)
	if ferr != nil {
		return "", errors.NewFetch(url, "failed to read page body", ferr)
	}
	return string(body), nil
}

// Close shuts down the browser and its allocator.
func (b *Browser) Close() error {
	b.cancelCtx()
	b.cancelAlloc()
	return nil
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
