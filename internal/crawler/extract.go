package crawler

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"enjoytravel/traveldealworker/pkg/errors"
)

// Extractor turns rendered HTML into listing records using ordered
// selector cascades.
type Extractor struct {
	Selectors      SelectorSet
	BaseURL        string
	MinTitleLength int

	// now is swappable for tests
	now func() time.Time
}

// NewExtractor creates an Extractor with the given selector set.
func NewExtractor(selectors SelectorSet, baseURL string, minTitleLength int) *Extractor {
	return &Extractor{
		Selectors:      selectors,
		BaseURL:        baseURL,
		MinTitleLength: minTitleLength,
		now:            time.Now,
	}
}

// ExtractListings parses a listing page and returns one record per
// card. The card cascade is tried in order and the first selector
// that produces at least one record wins. Cards without a usable
// title are skipped.
func (e *Extractor) ExtractListings(html string) ([]*ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.NewParsing("listing", "failed to parse listing HTML", err)
	}

	for _, selector := range e.Selectors.Card {
		items := doc.Find(selector)
		if items.Length() == 0 {
			continue
		}

		var records []*ListingRecord
		items.Each(func(_ int, card *goquery.Selection) {
			if rec := e.buildRecord(card); rec != nil {
				records = append(records, rec)
			}
		})

		if len(records) > 0 {
			return records, nil
		}
	}

	return nil, nil
}

// ExtractDetail parses a detail page and returns a copy of rec
// enriched with description, gallery, ticket options and body-scope
// prices. Fields already present on rec survive when the detail page
// yields nothing better.
func (e *Extractor) ExtractDetail(html string, rec *ListingRecord) (*ListingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.NewParsing(rec.Link, "failed to parse detail HTML", err)
	}

	detailed := *rec
	body := doc.Find("body")

	gallery := e.extractGallery(doc)
	if len(gallery) > 0 {
		detailed.Gallery = gallery
		detailed.Image = gallery[0]
	}

	prices := ExtractPriceInfo(body)
	if prices.PriceText != "" {
		detailed.Price = prices.PriceText
		detailed.PriceAmount = prices.PriceAmount
	} else if text := e.fallbackPrice(body); text != "" {
		detailed.Price = text
		detailed.PriceAmount = ParsePriceAmount(text)
	}
	if prices.OriginalText != "" {
		detailed.OriginalPrice = prices.OriginalText
		detailed.OriginalAmount = prices.OriginalAmount
	}

	// Description cascade wants real prose, not stray captions
	for _, selector := range e.Selectors.DetailDesc {
		desc := strings.TrimSpace(doc.Find(selector).First().Text())
		if len(desc) > 50 {
			detailed.Description = desc
			break
		}
	}

	if options := e.extractTicketOptions(doc); len(options) > 0 {
		detailed.Options = options
	}

	if rating := extractRating(body, e.Selectors.Rating); rating != nil {
		detailed.Rating = rating
	}
	if loc := firstText(body, e.Selectors.Location); loc != "" {
		detailed.Location = loc
	}

	detailed.Duration = strings.TrimSpace(doc.Find(`.duration, [class*="duration"]`).First().Text())
	detailed.AgeRestriction = strings.TrimSpace(doc.Find(`.age-restriction, [class*="age"]`).First().Text())
	detailed.Cancellation = strings.TrimSpace(doc.Find(`.cancellation, [class*="cancellation"]`).First().Text())
	detailed.ValidFrom = strings.TrimSpace(doc.Find(`.valid-from, [class*="valid"]`).First().Text())
	detailed.ValidTo = strings.TrimSpace(doc.Find(`.valid-to, [class*="valid-to"]`).First().Text())

	detailed.Discount = DeriveDiscount(detailed.PriceAmount, detailed.OriginalAmount)
	detailed.LastUpdated = e.now()

	return &detailed, nil
}

// buildRecord assembles one record from a card element. Returns nil
// when the card has no title or the title is too short to be a deal.
func (e *Extractor) buildRecord(card *goquery.Selection) *ListingRecord {
	rawTitle := strings.TrimSpace(card.Find(strings.Join(e.Selectors.Title, ", ")).First().Text())
	if rawTitle == "" {
		return nil
	}

	// Drop price fragments and badges that leak into the title block
	title := strings.TrimSpace(strings.SplitN(rawTitle, "\n", 2)[0])
	if len(title) < e.MinTitleLength {
		return nil
	}

	link, _ := card.Find("a").First().Attr("href")
	now := e.now()

	img := card.Find("img").First()
	rawImage := img.AttrOr("src", "")
	if rawImage == "" {
		rawImage = img.AttrOr("data-src", "")
	}
	if rawImage == "" {
		rawImage = img.AttrOr("data-lazy-src", "")
	}
	if rawImage == "" {
		rawImage = img.AttrOr("data-original", "")
	}
	if rawImage == "" {
		if srcset := img.AttrOr("srcset", ""); srcset != "" {
			first := strings.TrimSpace(strings.SplitN(srcset, ",", 2)[0])
			rawImage = strings.SplitN(first, " ", 2)[0]
		}
	}

	image := NormalizeURL(e.BaseURL, rawImage)
	if strings.Contains(image, "undefined") {
		image = ""
	}

	prices := ExtractPriceInfo(card)
	priceText := prices.PriceText
	priceAmount := prices.PriceAmount
	if priceText == "" {
		if text := e.fallbackPrice(card); text != "" {
			priceText = text
			priceAmount = ParsePriceAmount(text)
		}
	}
	originalText := prices.OriginalText
	originalAmount := prices.OriginalAmount
	if originalText == "" {
		if text := firstText(card, e.Selectors.Original); text != "" {
			originalText = text
			originalAmount = ParsePriceAmount(text)
		}
	}

	rec := &ListingRecord{
		ID:             GenerateID(title, link, now),
		Title:          title,
		Description:    firstText(card, e.Selectors.Description),
		Price:          priceText,
		PriceAmount:    priceAmount,
		OriginalPrice:  originalText,
		OriginalAmount: originalAmount,
		Image:          image,
		Category:       firstText(card, e.Selectors.Category),
		Location:       firstText(card, e.Selectors.Location),
		Rating:         extractRating(card, e.Selectors.Rating),
		Link:           NormalizeURL(e.BaseURL, link),
		LastUpdated:    now,
	}
	rec.Discount = DeriveDiscount(rec.PriceAmount, rec.OriginalAmount)

	return rec
}

// fallbackPrice scans the price selector cascade for the first text
// that looks like money.
func (e *Extractor) fallbackPrice(scope *goquery.Selection) string {
	for _, selector := range e.Selectors.Price {
		text := strings.TrimSpace(scope.Find(selector).First().Text())
		if text != "" && strings.ContainsAny(text, "$0123456789") {
			return text
		}
	}
	return ""
}

func (e *Extractor) extractGallery(doc *goquery.Document) []string {
	var images []string
	seen := make(map[string]bool)

	for _, selector := range e.Selectors.Gallery {
		doc.Find(selector).Each(func(_ int, img *goquery.Selection) {
			src := img.AttrOr("src", "")
			if src == "" {
				src = img.AttrOr("data-src", "")
			}
			if src == "" {
				src = img.AttrOr("data-lazy-src", "")
			}
			if src == "" {
				src = img.AttrOr("data-original", "")
			}
			if src == "" {
				src = img.AttrOr("data-lazy", "")
			}
			if src == "" {
				return
			}
			if strings.Contains(src, "placeholder") || strings.Contains(src, "logo") || strings.Contains(src, "icon") {
				return
			}
			normalized := NormalizeURL(e.BaseURL, src)
			if normalized != "" && !seen[normalized] {
				seen[normalized] = true
				images = append(images, normalized)
			}
		})

		if len(images) > 0 {
			break
		}
	}

	return images
}

func (e *Extractor) extractTicketOptions(doc *goquery.Document) []TicketOption {
	var options []TicketOption

	doc.Find(".tickets-wrapper .row").Each(func(_ int, row *goquery.Selection) {
		cols := row.Children()
		infoCol := cols.First()
		priceCol := cols.Eq(1)
		actionCol := cols.Eq(2)

		name := strings.TrimSpace(infoCol.Find("b").First().Text())
		code := strings.TrimSpace(infoCol.Find("i").First().Text())
		originalText := strings.TrimSpace(infoCol.Find("span").First().Text())
		validity := strings.TrimSpace(infoCol.Find("div").FilterFunction(func(_ int, div *goquery.Selection) bool {
			return strings.Contains(strings.ToLower(div.Text()), "valid")
		}).First().Text())

		priceText := strings.TrimSpace(priceCol.Text())

		clone := infoCol.Clone()
		clone.Find("b, i, span, div").Remove()
		details := whitespaceRe.ReplaceAllString(strings.TrimSpace(clone.Text()), " ")

		if name == "" && priceText == "" {
			return
		}

		option := TicketOption{
			Name:           name,
			Code:           code,
			PriceText:      priceText,
			PriceAmount:    ParsePriceAmount(priceText),
			OriginalText:   originalText,
			OriginalAmount: ParsePriceAmount(originalText),
			Validity:       validity,
			Details:        details,
		}

		if action := whitespaceRe.ReplaceAllString(strings.TrimSpace(actionCol.Text()), " "); action != "" {
			if option.Details != "" {
				option.Details = option.Details + " " + action
			} else {
				option.Details = action
			}
		}

		options = append(options, option)
	})

	return options
}

// firstText returns the trimmed text of the first element matched by
// the cascade, or an empty string.
func firstText(scope *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		if text := strings.TrimSpace(scope.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func extractRating(scope *goquery.Selection, selectors []string) *float64 {
	text := firstText(scope, selectors)
	if text == "" {
		return nil
	}
	m := ratingRe.FindString(text)
	if m == "" {
		return nil
	}
	rating, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &rating
}
