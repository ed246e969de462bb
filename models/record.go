package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Record is the flat set of attributes extracted for one listing.
// A failed listing is represented by an empty Record.
type Record map[string]any

const ListingIDKey = "listingId"

func (r Record) Empty() bool {
	return len(r) == 0
}

func (r Record) ListingID() string {
	return FormatID(r[ListingIDKey])
}

// Merge copies src into r, overwriting existing keys.
func (r Record) Merge(src Record) {
	for k, v := range src {
		r[k] = v
	}
}

func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns the value at key as a float64 when it holds a number.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// FormatID renders a JSON-decoded listing id. Listing ids arrive as JSON
// numbers, which decode to float64.
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprint(id)
	}
}

// StoredRecord is one row of a run's result table as persisted.
type StoredRecord struct {
	RunID       string          `json:"run_id" db:"run_id"`
	Position    int             `json:"position" db:"position"`
	ListingID   string          `json:"listing_id" db:"listing_id"`
	URL         string          `json:"url" db:"url"`
	Fingerprint string          `json:"fingerprint" db:"fingerprint"`
	Failed      bool            `json:"failed" db:"failed"`
	Data        json.RawMessage `json:"data" db:"data"`
}
