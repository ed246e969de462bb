package listing

import (
	"fmt"
	"log"
	"sort"
	"time"

	"zoopla_fetcher/graphql"
	"zoopla_fetcher/models"
	"zoopla_fetcher/numeric"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// HistoryEntries flattens an API price history into entries ordered by date.
// The price of each entry is the first number in its price label; entries
// with no number in the label or an unreadable date are skipped.
func HistoryEntries(listingID string, ph *graphql.PriceHistory) []models.PriceHistoryEntry {
	if ph == nil {
		return nil
	}

	type labelled struct {
		date  string
		label string
		kind  models.ChangeType
	}
	var raw []labelled
	if fp := ph.FirstPublished; fp != nil {
		raw = append(raw, labelled{fp.FirstPublishedDate, fp.PriceLabel, models.ChangeListing})
	}
	if ls := ph.LastSale; ls != nil {
		raw = append(raw, labelled{ls.Date, ls.PriceLabel, models.ChangeLastSold})
	}
	for _, pc := range ph.PriceChanges {
		raw = append(raw, labelled{pc.PriceChangeDate, pc.PriceLabel, models.ChangeListing})
	}

	entries := make([]models.PriceHistoryEntry, 0, len(raw))
	for _, r := range raw {
		date, err := parseDate(r.date)
		if err != nil {
			log.Printf("[warn] listing %s: skipping %s entry: %v", listingID, r.kind, err)
			continue
		}
		price, ok := numeric.FirstNumber(r.label)
		if !ok {
			log.Printf("[warn] listing %s: skipping %s entry: no price in label %q", listingID, r.kind, r.label)
			continue
		}
		entries = append(entries, models.PriceHistoryEntry{
			ListingID:  listingID,
			Date:       date,
			Price:      price,
			ChangeType: r.kind,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})
	return entries
}

// FirstListed returns the raw first-published date, if the history has one.
func FirstListed(ph *graphql.PriceHistory) *string {
	if ph == nil || ph.FirstPublished == nil {
		return nil
	}
	d := ph.FirstPublished.FirstPublishedDate
	return &d
}

// Summarize computes the fractional change between consecutive listing_change
// prices. Entries must already be in date order.
func Summarize(entries []models.PriceHistoryEntry, firstListed *string) models.HistorySummary {
	var prices []float64
	for _, e := range entries {
		if e.ChangeType == models.ChangeListing {
			prices = append(prices, e.Price)
		}
	}

	var changes []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		changes = append(changes, (prices[i]-prices[i-1])/prices[i-1])
	}

	summary := models.HistorySummary{
		FirstListed:          firstListed,
		NumberOfPriceChanges: len(changes),
	}
	if len(changes) == 0 {
		return summary
	}

	sum, lo, hi := 0.0, changes[0], changes[0]
	for _, c := range changes {
		sum += c
		lo = min(lo, c)
		hi = max(hi, c)
	}
	avg := sum / float64(len(changes))
	summary.AvgPctPerPriceChange = &avg
	summary.MaxPctPerPriceChange = &hi
	summary.MinPctPerPriceChange = &lo
	return summary
}
