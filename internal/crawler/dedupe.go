package crawler

import "strings"

// Deduplicate drops later records that share a title (case
// insensitive) and link with an earlier one. The first occurrence
// wins so listing-page order is preserved.
func Deduplicate(records []*ListingRecord) []*ListingRecord {
	seen := make(map[string]bool, len(records))
	unique := make([]*ListingRecord, 0, len(records))

	for _, rec := range records {
		key := strings.ToLower(rec.Title) + "-" + rec.Link
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, rec)
	}

	return unique
}

// Merge copies every non-empty field from the detail record onto the
// listing record. Listing fields are never blanked by an empty detail
// field.
func Merge(target, source *ListingRecord) {
	if source.Description != "" {
		target.Description = source.Description
	}
	if source.Price != "" {
		target.Price = source.Price
		target.PriceAmount = source.PriceAmount
	}
	if source.OriginalPrice != "" {
		target.OriginalPrice = source.OriginalPrice
		target.OriginalAmount = source.OriginalAmount
	}
	if source.Discount != "" {
		target.Discount = source.Discount
	}
	if source.Image != "" {
		target.Image = source.Image
	}
	if source.Category != "" {
		target.Category = source.Category
	}
	if source.Location != "" {
		target.Location = source.Location
	}
	if source.Rating != nil {
		target.Rating = source.Rating
	}
	if source.Duration != "" {
		target.Duration = source.Duration
	}
	if source.AgeRestriction != "" {
		target.AgeRestriction = source.AgeRestriction
	}
	if source.Cancellation != "" {
		target.Cancellation = source.Cancellation
	}
	if source.ValidFrom != "" {
		target.ValidFrom = source.ValidFrom
	}
	if source.ValidTo != "" {
		target.ValidTo = source.ValidTo
	}
	if len(source.Gallery) > 0 {
		target.Gallery = source.Gallery
	}
	if len(source.Options) > 0 {
		target.Options = source.Options
	}
	if source.LastUpdated.After(target.LastUpdated) {
		target.LastUpdated = source.LastUpdated
	}
}

// badImageIndicators flag stock placeholder assets that a detail
// fetch should try to replace.
var badImageIndicators = []string{"placeholder", "default", "no-image", "missing", "blank"}

// NeedsDetail reports whether a record is worth a detail page fetch.
// Records without an https link can never be enriched. Missing
// images, missing or unparseable original prices, and prices equal to
// their original all warrant a visit, as do placeholder images.
func NeedsDetail(rec *ListingRecord) bool {
	if rec.Link == "" || !strings.HasPrefix(rec.Link, "https://") {
		return false
	}
	if rec.Image == "" {
		return true
	}

	price := ParsePriceAmount(rec.Price)
	original := ParsePriceAmount(rec.OriginalPrice)
	if rec.OriginalPrice == "" || original == nil || price == nil || *price == *original {
		return true
	}

	lower := strings.ToLower(rec.Image)
	for _, indicator := range badImageIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
