package models

import "time"

type ChangeType string

const (
	ChangeListing  ChangeType = "listing_change"
	ChangeLastSold ChangeType = "last_sold"
)

type PriceHistoryEntry struct {
	ListingID  string     `json:"listingId" db:"listing_id"`
	Date       time.Time  `json:"date" db:"date"`
	Price      float64    `json:"price" db:"price"`
	ChangeType ChangeType `json:"price_change_type" db:"price_change_type"`
}

// HistorySummary condenses the listing_change entries of a price history.
// The pct fields are nil when there were no consecutive changes to compare.
type HistorySummary struct {
	FirstListed          *string  `json:"first_listed"`
	NumberOfPriceChanges int      `json:"number_of_price_changes"`
	AvgPctPerPriceChange *float64 `json:"avg_pct_per_price_change"`
	MaxPctPerPriceChange *float64 `json:"max_pct_per_price_change"`
	MinPctPerPriceChange *float64 `json:"min_pct_per_price_change"`
}

func (s HistorySummary) Record() Record {
	r := Record{
		"first_listed":             nil,
		"number_of_price_changes":  s.NumberOfPriceChanges,
		"avg_pct_per_price_change": nil,
		"max_pct_per_price_change": nil,
		"min_pct_per_price_change": nil,
	}
	if s.FirstListed != nil {
		r["first_listed"] = *s.FirstListed
	}
	if s.AvgPctPerPriceChange != nil {
		r["avg_pct_per_price_change"] = *s.AvgPctPerPriceChange
	}
	if s.MaxPctPerPriceChange != nil {
		r["max_pct_per_price_change"] = *s.MaxPctPerPriceChange
	}
	if s.MinPctPerPriceChange != nil {
		r["min_pct_per_price_change"] = *s.MinPctPerPriceChange
	}
	return r
}
