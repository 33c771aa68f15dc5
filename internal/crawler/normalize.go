package crawler

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"enjoytravel/traveldealworker/helpers"
)

var (
	currencyMarkerRe = regexp.MustCompile(`(?i)(\$|SGD|S\$)`)
	amountRe         = regexp.MustCompile(`(?:SGD|S\$|\$)\s*([0-9][0-9.,]*)`)
	noiseRe          = regexp.MustCompile(`(?i)credit|top up|total`)
	originalMarkerRe = regexp.MustCompile(`(?i)RP|UP|ORIGINAL|RETAIL|WAS`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
	slugRe           = regexp.MustCompile(`[^a-z0-9]+`)
	nonNumericRe     = regexp.MustCompile(`[^0-9.,]`)
	ratingRe         = regexp.MustCompile(`[0-9]+(\.[0-9]+)?`)
)

type priceCandidate struct {
	text   string
	amount float64
}

// ExtractPriceInfo walks every element under scope and picks the
// current and original price for the listing. Texts longer than 80
// characters, duplicates, and wallet noise (credit, top up, total) are
// skipped. Among current candidates the lowest amount wins; among
// original candidates (strikethrough or RP/UP marked) the highest
// wins. When no explicit original exists but more than one current
// candidate was seen, the highest current is promoted to original.
func ExtractPriceInfo(scope *goquery.Selection) PriceInfo {
	var current []priceCandidate
	var original []priceCandidate
	seen := make(map[string]bool)

	scope.Find("*").Each(func(_ int, el *goquery.Selection) {
		text := whitespaceRe.ReplaceAllString(strings.TrimSpace(el.Text()), " ")
		if text == "" || len(text) > 80 {
			return
		}
		if seen[text] {
			return
		}
		if !currencyMarkerRe.MatchString(text) {
			return
		}
		if noiseRe.MatchString(text) {
			return
		}

		m := amountRe.FindStringSubmatch(text)
		if m == nil {
			return
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return
		}

		seen[text] = true

		tag := goquery.NodeName(el)
		class := strings.ToLower(el.AttrOr("class", ""))

		if originalMarkerRe.MatchString(text) ||
			tag == "del" || tag == "s" ||
			strings.Contains(class, "strike") ||
			strings.Contains(class, "line-through") {
			original = append(original, priceCandidate{text: text, amount: amount})
		} else {
			current = append(current, priceCandidate{text: text, amount: amount})
		}
	})

	var info PriceInfo

	if len(current) > 0 {
		sorted := append([]priceCandidate(nil), current...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].amount < sorted[j].amount })
		info.PriceText = sorted[0].text
		amt := sorted[0].amount
		info.PriceAmount = &amt
	}

	switch {
	case len(original) > 0:
		sorted := append([]priceCandidate(nil), original...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].amount > sorted[j].amount })
		info.OriginalText = sorted[0].text
		amt := sorted[0].amount
		info.OriginalAmount = &amt
	case len(current) > 1:
		// No strikethrough price on the page, treat the highest
		// current candidate as the implied original.
		sorted := append([]priceCandidate(nil), current...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].amount > sorted[j].amount })
		info.OriginalText = sorted[0].text
		amt := sorted[0].amount
		info.OriginalAmount = &amt
	}

	return info
}

// ParsePriceAmount strips everything but digits, dots and commas from
// a price string and parses the remainder. Returns nil when nothing
// numeric is left.
func ParsePriceAmount(price string) *float64 {
	if price == "" {
		return nil
	}
	numeric := strings.ReplaceAll(nonNumericRe.ReplaceAllString(price, ""), ",", "")
	// Trailing sentence punctuation survives the strip ("45.00" from
	// "$45.00 (incl. GST)" becomes "45.00."), so take the longest
	// parseable prefix instead of failing outright.
	for numeric != "" {
		parsed, err := strconv.ParseFloat(numeric, 64)
		if err == nil {
			return &parsed
		}
		numeric = numeric[:len(numeric)-1]
	}
	return nil
}

// NormalizeURL resolves a raw attribute value against the site base.
// Inline data URIs pass through untouched, protocol-relative URLs get
// https, absolute URLs are kept, and everything else is joined to base.
func NormalizeURL(base, raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "data:") {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasPrefix(raw, "/") {
		return base + raw
	}
	return base + "/" + raw
}

// Slugify lowercases the title and collapses every non-alphanumeric
// run into a single hyphen.
func Slugify(title string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}

// GenerateID builds a stable listing ID from the title slug and the
// last path segment of the link. Listings without a usable link get a
// timestamp suffix instead.
func GenerateID(title, link string, now time.Time) string {
	slug := Slugify(title)

	var linkPart string
	if link != "" {
		if last, err := helpers.GetSplitPart(link, "/", -1); err == nil {
			linkPart = strings.SplitN(last, "?", 2)[0]
		}
	}
	if linkPart == "" {
		ts := strconv.FormatInt(now.UnixMilli(), 10)
		linkPart = ts[len(ts)-6:]
	}

	return slug + "-" + linkPart
}

// DeriveDiscount formats the saving between original and current price
// as a percentage string. Empty when either amount is missing or the
// original is not higher than the current price.
func DeriveDiscount(price, original *float64) string {
	if price == nil || original == nil || *original <= *price || *original == 0 {
		return ""
	}
	pct := (*original - *price) / *original * 100
	return fmt.Sprintf("-%d%%", int(pct+0.5))
}
