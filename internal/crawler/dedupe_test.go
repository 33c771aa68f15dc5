package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduplicate(t *testing.T) {
	records := []*ListingRecord{
		{Title: "Night Safari", Link: "https://example.com/a", Price: "S$ 45"},
		{Title: "NIGHT SAFARI", Link: "https://example.com/a", Price: "S$ 50"},
		{Title: "Night Safari", Link: "https://example.com/b"},
		{Title: "Zoo Pass", Link: "https://example.com/a"},
	}

	unique := Deduplicate(records)
	assert.Len(t, unique, 3)
	// First occurrence wins
	assert.Equal(t, "S$ 45", unique[0].Price)
	assert.Equal(t, "https://example.com/b", unique[1].Link)
	assert.Equal(t, "Zoo Pass", unique[2].Title)
}

func TestMerge(t *testing.T) {
	earlier := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	target := &ListingRecord{
		Title:       "Night Safari",
		Description: "Short blurb",
		Price:       "S$ 45",
		Image:       "https://cdn.example.com/card.jpg",
		LastUpdated: earlier,
	}
	source := &ListingRecord{
		Title:         "Night Safari",
		Description:   "Full detail page description",
		OriginalPrice: "S$ 60",
		Gallery:       []string{"https://cdn.example.com/hero.jpg"},
		LastUpdated:   later,
	}

	Merge(target, source)

	assert.Equal(t, "Full detail page description", target.Description)
	assert.Equal(t, "S$ 60", target.OriginalPrice)
	// Empty detail fields never blank listing fields
	assert.Equal(t, "S$ 45", target.Price)
	assert.Equal(t, "https://cdn.example.com/card.jpg", target.Image)
	assert.Equal(t, []string{"https://cdn.example.com/hero.jpg"}, target.Gallery)
	assert.Equal(t, later, target.LastUpdated)
}

func TestMergeDoesNotRewind(t *testing.T) {
	later := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	target := &ListingRecord{Title: "Zoo Pass", LastUpdated: later}
	source := &ListingRecord{Title: "Zoo Pass", LastUpdated: later.Add(-time.Hour)}

	Merge(target, source)
	assert.Equal(t, later, target.LastUpdated)
}

func TestNeedsDetail(t *testing.T) {
	tests := []struct {
		name string
		rec  *ListingRecord
		want bool
	}{
		{
			name: "no link",
			rec:  &ListingRecord{Title: "Zoo Pass"},
			want: false,
		},
		{
			name: "plain http link",
			rec:  &ListingRecord{Link: "http://example.com/x"},
			want: false,
		},
		{
			name: "missing image",
			rec:  &ListingRecord{Link: "https://example.com/x", Price: "S$ 45", OriginalPrice: "S$ 60"},
			want: true,
		},
		{
			name: "missing original price",
			rec: &ListingRecord{
				Link:  "https://example.com/x",
				Image: "https://cdn.example.com/a.jpg",
				Price: "S$ 45",
			},
			want: true,
		},
		{
			name: "price equals original",
			rec: &ListingRecord{
				Link:          "https://example.com/x",
				Image:         "https://cdn.example.com/a.jpg",
				Price:         "S$ 45",
				OriginalPrice: "S$ 45",
			},
			want: true,
		},
		{
			name: "placeholder image",
			rec: &ListingRecord{
				Link:          "https://example.com/x",
				Image:         "https://cdn.example.com/placeholder.jpg",
				Price:         "S$ 45",
				OriginalPrice: "S$ 60",
			},
			want: true,
		},
		{
			name: "complete record",
			rec: &ListingRecord{
				Link:          "https://example.com/x",
				Image:         "https://cdn.example.com/a.jpg",
				Price:         "S$ 45",
				OriginalPrice: "S$ 60",
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsDetail(tt.rec))
		})
	}
}
