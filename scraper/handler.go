package scraper

import (
	"context"

	"zoopla_fetcher/models"
)

// URLSource resolves a query to its listing URLs.
type URLSource interface {
	ListingURLs(ctx context.Context, q models.QuerySpec) ([]string, error)
}

// KeyResolver finds the price-history API key using a live listing page.
type KeyResolver interface {
	ExtractAPIKey(ctx context.Context, listingURL string) (string, error)
}

// ListingExtractor produces the per-listing output of a run.
type ListingExtractor interface {
	ExtractAll(ctx context.Context, url, apiKey string) (models.Record, error)
	ExtractHistory(ctx context.Context, url, apiKey string) ([]models.PriceHistoryEntry, error)
}

// RunStore persists runs, their results and their log lines.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.QueryRun) error
	UpdateRun(ctx context.Context, run *models.QueryRun) error
	SaveResult(ctx context.Context, result *models.RunResult) error
	Log(ctx context.Context, entry *models.RunLog) error
}

// Sink receives every completed run.
type Sink interface {
	Name() string
	Publish(ctx context.Context, result *models.RunResult) error
}
