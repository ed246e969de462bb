package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"

	"zoopla_fetcher/models"
)

var detailsPathRegex = regexp.MustCompile(`/details/(\d+)`)

// Fingerprint hashes the canonical JSON of a record. encoding/json sorts map
// keys, so equal records always hash the same.
func Fingerprint(rec models.Record) string {
	if rec.Empty() {
		return ""
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// ListingIDFromURL returns the numeric id in a listing details URL, or "".
func ListingIDFromURL(url string) string {
	m := detailsPathRegex.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}
