package listing

import (
	"context"
	"fmt"

	"zoopla_fetcher/graphql"
	"zoopla_fetcher/models"
)

const DefaultFloorPlanCDN = "https://lid.zoocdn.com/u/2400/1800/"

// Measurer reports the square footage shown on a floor plan image.
type Measurer interface {
	SqFootage(ctx context.Context, imageURL string) (float64, bool)
}

// HistoryClient fetches a listing's price history from the API.
type HistoryClient interface {
	PriceHistory(ctx context.Context, listingID, apiKey string) (*graphql.Data, error)
}

type Extractor struct {
	loader       *Loader
	measurer     Measurer
	history      HistoryClient
	floorPlanCDN string
}

func NewExtractor(loader *Loader, measurer Measurer, history HistoryClient, floorPlanCDN string) *Extractor {
	if floorPlanCDN == "" {
		floorPlanCDN = DefaultFloorPlanCDN
	}
	return &Extractor{
		loader:       loader,
		measurer:     measurer,
		history:      history,
		floorPlanCDN: floorPlanCDN,
	}
}

// ExtractAll loads the listing page at url and returns its aggregate record.
func (e *Extractor) ExtractAll(ctx context.Context, url, apiKey string) (models.Record, error) {
	s, err := e.loader.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	return e.Aggregate(ctx, s, apiKey)
}

// ExtractHistory loads the listing page at url and returns its detailed
// price history.
func (e *Extractor) ExtractHistory(ctx context.Context, url, apiKey string) ([]models.PriceHistoryEntry, error) {
	s, err := e.loader.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	entries, _, err := e.History(ctx, s, apiKey)
	return entries, err
}

// Measurement is the largest non-zero square footage across the listing's
// floor plans.
func (e *Extractor) Measurement(ctx context.Context, s *State) (float64, bool) {
	var best float64
	found := false
	for _, u := range FloorPlanURLs(s, e.floorPlanCDN) {
		v, ok := e.measurer.SqFootage(ctx, u)
		if !ok || v == 0 {
			continue
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	return best, found
}

// History returns the date-ordered price history entries of the listing
// together with the raw API payload. A listing without history yields no
// entries and no error.
func (e *Extractor) History(ctx context.Context, s *State, apiKey string) ([]models.PriceHistoryEntry, *graphql.ListingDetails, error) {
	data, err := e.history.PriceHistory(ctx, s.ListingID(), apiKey)
	if err != nil {
		return nil, nil, fmt.Errorf("price history for %s: %w", s.ListingID(), err)
	}
	if data.ListingDetails == nil {
		return nil, nil, nil
	}
	return HistoryEntries(s.ListingID(), data.ListingDetails.PriceHistory), data.ListingDetails, nil
}

// Aggregate combines every projection of the listing into one record. The
// price-history summary is only present when the listing has history.
func (e *Extractor) Aggregate(ctx context.Context, s *State, apiKey string) (models.Record, error) {
	rec := models.Record{}
	rec.Merge(MainDetails(s))
	rec.Merge(POIs(s))
	rec.Merge(Description(s))
	rec.Merge(Location(s))

	sqft, hasSqft := e.Measurement(ctx, s)
	rec["total_sq_footage"] = nil
	if hasSqft {
		rec["total_sq_footage"] = sqft
	}

	entries, ld, err := e.History(ctx, s, apiKey)
	if err != nil {
		return nil, err
	}
	if ld != nil && ld.PriceHistory != nil && len(entries) > 0 {
		rec.Merge(Summarize(entries, FirstListed(ld.PriceHistory)).Record())
	}
	if ld != nil && ld.ViewCount != nil && ld.ViewCount.ViewCount30Day != nil {
		rec["view_count_30day"] = *ld.ViewCount.ViewCount30Day
	}

	rec[models.ListingIDKey] = s.ListingID()

	if hasSqft {
		if price, ok := rec.Float("price"); ok {
			rec["pounds_per_sq_foot"] = price / sqft
		}
	}
	return rec, nil
}
