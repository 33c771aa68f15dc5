// Package crawler implements selector-driven extraction of travel deal
// listings from rendered HTML pages.
package crawler

import (
	"context"
	"time"
)

// ListingRecord is a single travel deal listing assembled from a card
// on a listing page and optionally enriched from its detail page.
type ListingRecord struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Price          string         `json:"price,omitempty"`
	PriceAmount    *float64       `json:"priceAmount,omitempty"`
	OriginalPrice  string         `json:"originalPrice,omitempty"`
	OriginalAmount *float64       `json:"originalPriceAmount,omitempty"`
	Discount       string         `json:"discount,omitempty"`
	Image          string         `json:"image,omitempty"`
	Category       string         `json:"category,omitempty"`
	Location       string         `json:"location,omitempty"`
	Rating         *float64       `json:"rating,omitempty"`
	Link           string         `json:"link,omitempty"`
	ValidFrom      string         `json:"validFrom,omitempty"`
	ValidTo        string         `json:"validTo,omitempty"`
	Duration       string         `json:"duration,omitempty"`
	AgeRestriction string         `json:"ageRestriction,omitempty"`
	Cancellation   string         `json:"cancellation,omitempty"`
	LastUpdated    time.Time      `json:"lastUpdated"`
	Gallery        []string       `json:"gallery,omitempty"`
	Options        []TicketOption `json:"options,omitempty"`
}

// TicketOption is one purchasable ticket variant parsed from a detail page.
type TicketOption struct {
	Name           string   `json:"name,omitempty"`
	Code           string   `json:"code,omitempty"`
	PriceText      string   `json:"priceText,omitempty"`
	PriceAmount    *float64 `json:"priceAmount,omitempty"`
	OriginalText   string   `json:"originalPriceText,omitempty"`
	OriginalAmount *float64 `json:"originalPriceAmount,omitempty"`
	Validity       string   `json:"validity,omitempty"`
	Details        string   `json:"details,omitempty"`
}

// PriceInfo holds the current and original price picked from a scope.
type PriceInfo struct {
	PriceText      string
	PriceAmount    *float64
	OriginalText   string
	OriginalAmount *float64
}

// SelectorSet defines the ordered selector cascades used to locate
// cards and their fields. Each list is tried in order and the first
// selector that yields a match wins.
type SelectorSet struct {
	Card        []string
	Title       []string
	Description []string
	Price       []string
	Original    []string
	Category    []string
	Location    []string
	Rating      []string
	DetailDesc  []string
	Gallery     []string
}

// DefaultSelectors returns the selector cascades tuned for the
// mobile.attractionsg.com listing and detail pages.
func DefaultSelectors() SelectorSet {
	return SelectorSet{
		Card: []string{
			"div.ticket-item",
			"div.product-item",
			"article.ticket",
			"div.card",
			`div[class*="ticket"]`,
			`div[class*="product"]`,
			"div.item",
			"li.ticket",
			"li.product",
		},
		Title: []string{
			"h2", "h3", "h4", ".title", `[class*="title"]`, "a",
		},
		Description: []string{
			".description", "p", `[class*="desc"]`,
		},
		Price: []string{
			".price",
			`[class*="price"]`,
			".amount",
			`[class*="amount"]`,
		},
		Original: []string{
			".original-price",
			".old-price",
			`[class*="original"]`,
		},
		Category: []string{
			".category", `[class*="category"]`, ".tag",
		},
		Location: []string{
			".location", `[class*="location"]`, ".venue",
		},
		Rating: []string{
			".rating", `[class*="rating"]`,
		},
		DetailDesc: []string{
			".description",
			".detail-description",
			".product-description",
			`[class*="description"]`,
			".content",
			`[class*="content"]`,
			".details",
			`[class*="details"]`,
			`p[class*="desc"]`,
			"p:not(:empty)",
		},
		Gallery: []string{
			".main-image img",
			".product-image img",
			".hero-image img",
			".detail-image img",
			".banner-image img",
			`img[class*="main"]`,
			`img[class*="hero"]`,
			`img[class*="detail"]`,
			`img[class*="banner"]`,
			".image-gallery img",
			".slider img",
			"picture img",
			"img",
		},
	}
}

// PageFetcher renders pages and returns their HTML. Implementations
// must be safe for sequential use from a single crawl run.
type PageFetcher interface {
	// Login authenticates against the deal site before any page fetch.
	Login(ctx context.Context, email, password string) error

	// FetchPage navigates to the URL and returns the rendered HTML.
	FetchPage(ctx context.Context, url string) (string, error)

	// Close releases the underlying browser resources.
	Close() error
}
