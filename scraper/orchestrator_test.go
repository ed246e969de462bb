package scraper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"zoopla_fetcher/config"
	"zoopla_fetcher/models"
)

type fakeURLs struct {
	urls []string
	err  error
}

func (f *fakeURLs) ListingURLs(ctx context.Context, q models.QuerySpec) ([]string, error) {
	return f.urls, f.err
}

type fakeKeys struct {
	key   string
	err   error
	calls []string
}

func (f *fakeKeys) ExtractAPIKey(ctx context.Context, listingURL string) (string, error) {
	f.calls = append(f.calls, listingURL)
	return f.key, f.err
}

// fakeExtractor fails for any URL containing "broken" and sleeps longer for
// earlier URLs so completion order differs from submission order.
type fakeExtractor struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeExtractor) ExtractAll(ctx context.Context, url, apiKey string) (models.Record, error) {
	f.seen(apiKey)
	if strings.Contains(url, "broken") {
		return nil, errors.New("could not extract raw data")
	}
	if strings.Contains(url, "panic") {
		var m models.Record
		m["x"] = 1
	}
	id := url[strings.LastIndex(url, "/")+1:]
	time.Sleep(time.Duration(len(id)) * time.Millisecond)
	return models.Record{models.ListingIDKey: id, "price": 100000.0}, nil
}

func (f *fakeExtractor) ExtractHistory(ctx context.Context, url, apiKey string) ([]models.PriceHistoryEntry, error) {
	f.seen(apiKey)
	if strings.Contains(url, "broken") {
		return nil, errors.New("price history for 0: graphql API error 500")
	}
	if strings.Contains(url, "panic") {
		var entries []models.PriceHistoryEntry
		_ = entries[3]
	}
	id := url[strings.LastIndex(url, "/")+1:]
	return []models.PriceHistoryEntry{
		{ListingID: id, Price: 1, ChangeType: models.ChangeListing},
		{ListingID: id, Price: 2, ChangeType: models.ChangeListing},
	}, nil
}

func (f *fakeExtractor) seen(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
}

type fakeStore struct {
	mu      sync.Mutex
	created []*models.QueryRun
	updated []models.QueryRun
	saved   []*models.RunResult
	logs    []models.RunLog
}

func (s *fakeStore) CreateRun(ctx context.Context, run *models.QueryRun) error {
	s.created = append(s.created, run)
	return nil
}

func (s *fakeStore) UpdateRun(ctx context.Context, run *models.QueryRun) error {
	s.updated = append(s.updated, *run)
	return nil
}

func (s *fakeStore) SaveResult(ctx context.Context, result *models.RunResult) error {
	s.saved = append(s.saved, result)
	return nil
}

func (s *fakeStore) Log(ctx context.Context, entry *models.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

type recordingSink struct {
	published int
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(ctx context.Context, result *models.RunResult) error {
	s.published++
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{Queries: make(map[string]*config.SavedQuery)}
	cfg.Fetch.Threads = 4
	return cfg
}

func listingURLs(ids ...string) []string {
	urls := make([]string, len(ids))
	for i, id := range ids {
		urls[i] = "https://www.zoopla.co.uk/for-sale/details/" + id
	}
	return urls
}

func TestRun_IsolatesListingFailures(t *testing.T) {
	urls := listingURLs("111111", "broken", "2222", "33", "4")
	keys := &fakeKeys{key: "k3y"}
	ext := &fakeExtractor{}
	store := &fakeStore{}
	sink := &recordingSink{}

	o := NewOrchestrator(testConfig(), &fakeURLs{urls: urls}, keys, ext, store)
	o.AddSink(sink)

	result, err := o.Run(context.Background(), "se23", models.NewQuerySpec("SE23"), models.ModeDetails)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(result.Records) != len(urls) {
		t.Fatalf("expected %d records, got %d", len(urls), len(result.Records))
	}
	if !result.Records[1].Empty() {
		t.Fatalf("expected failing listing to produce an empty record, got %v", result.Records[1])
	}
	for i, id := range []string{"111111", "", "2222", "33", "4"} {
		if result.Records[i].ListingID() != id {
			t.Fatalf("record %d: expected listing %q, got %q", i, id, result.Records[i].ListingID())
		}
	}

	if len(keys.calls) != 1 || keys.calls[0] != urls[0] {
		t.Fatalf("expected key resolved once from first url, got %v", keys.calls)
	}
	for _, k := range ext.keys {
		if k != "k3y" {
			t.Fatalf("expected every task to receive the shared key, got %q", k)
		}
	}

	run := result.Run
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.RecordsOK != 4 || run.RecordsFailed != 1 {
		t.Fatalf("expected 4 ok / 1 failed, got %d / %d", run.RecordsOK, run.RecordsFailed)
	}
	if len(store.saved) != 1 || sink.published != 1 {
		t.Fatalf("expected result saved and published once, got %d / %d", len(store.saved), sink.published)
	}
	if len(store.updated) != 1 || store.updated[0].FinishedAt == nil {
		t.Fatalf("expected run to be finalised")
	}

	var loggedURL bool
	for _, l := range store.logs {
		if l.Level == models.LogLevelError && strings.Contains(l.Message, urls[1]) {
			loggedURL = true
		}
	}
	if !loggedURL {
		t.Fatalf("expected the failing url to be logged")
	}
}

func TestRun_HistoryConcatenatesInOrder(t *testing.T) {
	urls := listingURLs("9", "broken", "8")
	o := NewOrchestrator(testConfig(), &fakeURLs{urls: urls}, &fakeKeys{key: "k"}, &fakeExtractor{}, nil)

	result, err := o.Run(context.Background(), "", models.NewQuerySpec("SE23"), models.ModeHistory)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.History) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(result.History))
	}
	ids := make([]string, len(result.History))
	for i, e := range result.History {
		ids[i] = e.ListingID
	}
	got := strings.Join(ids, " ")
	if got != "9 9 8 8" {
		t.Fatalf("expected entries in url order, got %s", got)
	}
	if result.Records != nil {
		t.Fatalf("expected no aggregate records in history mode")
	}
}

func TestRun_KeyFailureAbortsRun(t *testing.T) {
	store := &fakeStore{}
	ext := &fakeExtractor{}
	o := NewOrchestrator(testConfig(), &fakeURLs{urls: listingURLs("1", "2")}, &fakeKeys{err: errors.New("no API key found")}, ext, store)

	_, err := o.Run(context.Background(), "se23", models.NewQuerySpec("SE23"), models.ModeDetails)
	if err == nil {
		t.Fatalf("expected run to fail without an API key")
	}
	if len(ext.keys) != 0 {
		t.Fatalf("expected no listing extraction, got %d calls", len(ext.keys))
	}
	if len(store.updated) != 1 || store.updated[0].Status != models.RunStatusFailed {
		t.Fatalf("expected run stored as failed, got %+v", store.updated)
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected nothing saved for a failed run")
	}
}

func TestRun_URLFailureAbortsRun(t *testing.T) {
	o := NewOrchestrator(testConfig(), &fakeURLs{err: ErrNoTotalResults}, &fakeKeys{}, &fakeExtractor{}, nil)

	_, err := o.Run(context.Background(), "", models.NewQuerySpec("SE23"), models.ModeDetails)
	if !errors.Is(err, ErrNoTotalResults) {
		t.Fatalf("expected ErrNoTotalResults, got %v", err)
	}
}

func TestRun_NoListings(t *testing.T) {
	keys := &fakeKeys{key: "k"}
	o := NewOrchestrator(testConfig(), &fakeURLs{}, keys, &fakeExtractor{}, nil)

	result, err := o.Run(context.Background(), "", models.NewQuerySpec("SE23"), models.ModeDetails)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Run.Status != models.RunStatusCompleted || len(result.Records) != 0 {
		t.Fatalf("expected empty completed run, got %+v", result.Run)
	}
	if len(keys.calls) != 0 {
		t.Fatalf("expected no key lookup without listings")
	}
}

func TestRun_InvalidSpec(t *testing.T) {
	o := NewOrchestrator(testConfig(), &fakeURLs{}, &fakeKeys{}, &fakeExtractor{}, nil)
	spec := models.NewQuerySpec("SE23")
	spec.PropertyType = "bungalows"

	if _, err := o.Run(context.Background(), "", spec, models.ModeDetails); !errors.Is(err, models.ErrInvalidPropertyType) {
		t.Fatalf("expected ErrInvalidPropertyType, got %v", err)
	}
}

func TestRunAll_Paused(t *testing.T) {
	cfg := testConfig()
	cfg.Queries["se23"] = &config.SavedQuery{Name: "se23", Mode: models.ModeDetails, Spec: models.NewQuerySpec("SE23")}
	urls := &fakeURLs{urls: listingURLs("1")}
	keys := &fakeKeys{key: "k"}
	o := NewOrchestrator(cfg, urls, keys, &fakeExtractor{}, nil)

	o.Pause()
	o.RunAll(context.Background())
	if len(keys.calls) != 0 {
		t.Fatalf("expected paused orchestrator to skip runs")
	}

	o.Resume()
	o.RunAll(context.Background())
	if len(keys.calls) != 1 {
		t.Fatalf("expected one run after resume, got %d", len(keys.calls))
	}
}

func TestRun_RecoversFromExtractorPanic(t *testing.T) {
	store := &fakeStore{}
	o := NewOrchestrator(testConfig(), &fakeURLs{urls: listingURLs("1", "panic", "3")}, &fakeKeys{key: "k"}, &fakeExtractor{}, store)

	result, err := o.Run(context.Background(), "se23", models.NewQuerySpec("SE23"), models.ModeDetails)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Records) != 3 || !result.Records[1].Empty() {
		t.Fatalf("expected empty middle record, got %v", result.Records)
	}
	if result.Records[0].ListingID() != "1" || result.Records[2].ListingID() != "3" {
		t.Fatalf("unexpected records %v", result.Records)
	}
	if result.Run.RecordsFailed != 1 {
		t.Fatalf("expected 1 failure, got %d", result.Run.RecordsFailed)
	}

	found := false
	for _, l := range store.logs {
		if l.Level == models.LogLevelError && strings.Contains(l.Message, listingURLs("panic")[0]) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the panicking url to be logged, got %+v", store.logs)
	}

	result, err = o.Run(context.Background(), "se23", models.NewQuerySpec("SE23"), models.ModeHistory)
	if err != nil {
		t.Fatalf("history run failed: %v", err)
	}
	if len(result.History) != 4 || result.Run.RecordsFailed != 1 {
		t.Fatalf("expected 4 entries and 1 failure, got %d and %d", len(result.History), result.Run.RecordsFailed)
	}
}

func TestRunQuery_Paused(t *testing.T) {
	cfg := testConfig()
	cfg.Queries["se23"] = &config.SavedQuery{Name: "se23", Mode: models.ModeDetails, Spec: models.NewQuerySpec("SE23")}
	keys := &fakeKeys{key: "k"}
	o := NewOrchestrator(cfg, &fakeURLs{urls: listingURLs("1")}, keys, &fakeExtractor{}, nil)

	o.Pause()
	if _, err := o.RunQuery(context.Background(), "se23"); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if len(keys.calls) != 0 {
		t.Fatalf("expected no run while paused")
	}

	o.Resume()
	if _, err := o.RunQuery(context.Background(), "se23"); err != nil {
		t.Fatalf("run after resume: %v", err)
	}
}
