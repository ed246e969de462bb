package models

import (
	"errors"
	"fmt"
)

type QueryType string

const (
	QueryForSale QueryType = "for-sale"
	QueryToRent  QueryType = "to-rent"
)

type PropertyType string

const (
	PropertyAny       PropertyType = ""
	PropertyHouses    PropertyType = "houses"
	PropertyFlats     PropertyType = "flats"
	PropertyFarmsLand PropertyType = "farms_land"
)

var (
	ErrInvalidQueryType    = errors.New("query type must be either 'for-sale' or 'to-rent'")
	ErrInvalidPropertyType = errors.New("property type must be empty (all), 'houses', 'flats' or 'farms_land'")
)

// QuerySpec is the set of search filters for one query run. Build it with
// NewQuerySpec so the boolean toggles start from the portal's defaults.
type QuerySpec struct {
	Query                      string       `json:"q" yaml:"q"`
	Type                       QueryType    `json:"type" yaml:"type"`
	PriceMin                   *int         `json:"price_min,omitempty" yaml:"price_min"`
	PriceMax                   *int         `json:"price_max,omitempty" yaml:"price_max"`
	BedsMin                    *int         `json:"beds_min,omitempty" yaml:"beds_min"`
	BedsMax                    *int         `json:"beds_max,omitempty" yaml:"beds_max"`
	RadiusMiles                float64      `json:"radius" yaml:"radius"`
	PropertyType               PropertyType `json:"property_type,omitempty" yaml:"property_type"`
	SharedOwnership            bool         `json:"shared_ownership" yaml:"shared_ownership"`
	NewHomes                   bool         `json:"new_homes" yaml:"new_homes"`
	IncludeAuctions            bool         `json:"include_auctions" yaml:"include_auctions"`
	IncludeSold                bool         `json:"include_sold" yaml:"include_sold"`
	RetirementHomes            bool         `json:"retirement_homes" yaml:"retirement_homes"`
	IncludeSharedAccommodation bool         `json:"include_shared_accommodation" yaml:"include_shared_accommodation"`
}

func NewQuerySpec(q string) QuerySpec {
	return QuerySpec{
		Query:           q,
		Type:            QueryForSale,
		NewHomes:        true,
		IncludeAuctions: true,
		RetirementHomes: true,
	}
}

func (q QuerySpec) Validate() error {
	switch q.Type {
	case QueryForSale, QueryToRent:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidQueryType, q.Type)
	}

	switch q.PropertyType {
	case PropertyAny, PropertyHouses, PropertyFlats, PropertyFarmsLand:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidPropertyType, q.PropertyType)
	}

	if q.Query == "" {
		return errors.New("query string is required")
	}
	return nil
}

// ExtractMode selects what the orchestrator produces per listing.
type ExtractMode string

const (
	ModeDetails ExtractMode = "details"
	ModeHistory ExtractMode = "history"
)

func ParseExtractMode(s string) (ExtractMode, error) {
	switch ExtractMode(s) {
	case ModeDetails, "":
		return ModeDetails, nil
	case ModeHistory:
		return ModeHistory, nil
	}
	return "", fmt.Errorf("unknown extract mode: %s", s)
}
