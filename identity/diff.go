package identity

import (
	"sort"

	"zoopla_fetcher/models"
)

// Changes classifies the listings of a run against the fingerprints of the
// previous completed run of the same query.
type Changes struct {
	New       []string `json:"new"`
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
	Removed   []string `json:"removed"`
}

// Diff compares stored rows with previous fingerprints keyed by listing id.
// A failed row is neither classified nor reported as removed.
func Diff(current []models.StoredRecord, previous map[string]string) Changes {
	c := Changes{
		New:       []string{},
		Changed:   []string{},
		Unchanged: []string{},
		Removed:   []string{},
	}
	seen := make(map[string]bool, len(current))

	for _, r := range current {
		if r.ListingID == "" || seen[r.ListingID] {
			continue
		}
		seen[r.ListingID] = true
		// a failed fetch says nothing about whether the listing is still up
		if r.Failed {
			continue
		}

		prev, ok := previous[r.ListingID]
		switch {
		case !ok:
			c.New = append(c.New, r.ListingID)
		case prev != r.Fingerprint:
			c.Changed = append(c.Changed, r.ListingID)
		default:
			c.Unchanged = append(c.Unchanged, r.ListingID)
		}
	}

	for id := range previous {
		if !seen[id] {
			c.Removed = append(c.Removed, id)
		}
	}
	sort.Strings(c.Removed)
	return c
}
