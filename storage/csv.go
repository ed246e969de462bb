package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"zoopla_fetcher/models"
)

// WriteRecordsCSV writes one row per record: listingId first, then the sorted
// union of every other key. An empty record produces a blank row.
func WriteRecordsCSV(w io.Writer, records []models.Record) error {
	keySet := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec {
			if k != models.ListingIDKey {
				keySet[k] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{models.ListingIDKey}, keys...)); err != nil {
		return err
	}

	row := make([]string, len(keys)+1)
	for _, rec := range records {
		row[0] = rec.ListingID()
		for i, k := range keys {
			row[i+1] = formatCell(rec[k])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteHistoryCSV(w io.Writer, entries []models.PriceHistoryEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{models.ListingIDKey, "date", "price", "price_change_type"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{
			e.ListingID,
			e.Date.Format(time.RFC3339),
			strconv.FormatFloat(e.Price, 'f', -1, 64),
			string(e.ChangeType),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportRun writes the run's table to dir/<run id>.csv and returns the path.
func ExportRun(dir string, result *models.RunResult) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, result.Run.ID.String()+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if result.Run.Mode == models.ModeHistory {
		err = WriteHistoryCSV(f, result.History)
	} else {
		err = WriteRecordsCSV(f, result.Records)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		if b, err := json.Marshal(x); err == nil {
			return string(b)
		}
		return fmt.Sprint(x)
	}
}
