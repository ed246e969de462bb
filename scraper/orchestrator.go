package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"zoopla_fetcher/config"
	"zoopla_fetcher/logging"
	"zoopla_fetcher/models"
	"zoopla_fetcher/workers"
)

var ErrPaused = errors.New("fetcher is paused")

type Orchestrator struct {
	cfg       *config.Config
	urls      URLSource
	keys      KeyResolver
	extractor ListingExtractor
	store     RunStore
	sinks     []Sink
	threads   int
	paused    atomic.Bool
}

func NewOrchestrator(cfg *config.Config, urls URLSource, keys KeyResolver, extractor ListingExtractor, store RunStore) *Orchestrator {
	threads := cfg.Fetch.Threads
	if threads <= 0 {
		threads = workers.DefaultThreads
	}
	return &Orchestrator{
		cfg:       cfg,
		urls:      urls,
		keys:      keys,
		extractor: extractor,
		store:     store,
		threads:   threads,
	}
}

// AddSink registers a destination that receives every completed run.
func (o *Orchestrator) AddSink(s Sink) {
	o.sinks = append(o.sinks, s)
}

func (o *Orchestrator) SetThreads(n int) {
	if n > 0 {
		o.threads = n
	}
}

// RunAll runs every saved query in name order. A failing query is logged and
// does not stop the others.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.paused.Load() {
		logging.Warnf("orchestrator", "paused, skipping run")
		return nil
	}

	for _, name := range o.QueryNames() {
		if _, err := o.RunQuery(ctx, name); err != nil {
			logging.Errorf("orchestrator", "query %s: %v", name, err)
		}
	}
	return nil
}

// RunQuery runs one saved query. It refuses while the orchestrator is paused,
// which covers runs triggered through the API.
func (o *Orchestrator) RunQuery(ctx context.Context, name string) (*models.RunResult, error) {
	if o.paused.Load() {
		return nil, ErrPaused
	}
	q, ok := o.cfg.Queries[name]
	if !ok {
		return nil, fmt.Errorf("unknown query: %s", name)
	}
	return o.Run(ctx, name, q.Spec, q.Mode)
}

// Run resolves the query to listing URLs, resolves the API key once, then
// extracts every listing on the worker pool. Setup failures abort the run;
// per-listing failures are logged and leave an empty slot.
func (o *Orchestrator) Run(ctx context.Context, name string, spec models.QuerySpec, mode models.ExtractMode) (*models.RunResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	run := models.NewQueryRun(name, spec, mode)
	if o.store != nil {
		if err := o.store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}
	result := &models.RunResult{Run: run}

	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		if o.store != nil {
			if err := o.store.UpdateRun(ctx, run); err != nil {
				log.Printf("Warning: failed to update run %s: %v", run.ID, err)
			}
		}
	}()

	o.log(ctx, run, models.LogLevelInfo, fmt.Sprintf("Starting %s query for %q", mode, spec.Query))

	urls, err := o.urls.ListingURLs(ctx, spec)
	if err != nil {
		return nil, o.fail(ctx, run, fmt.Errorf("collect listing urls: %w", err))
	}
	result.URLs = urls
	run.ListingsFound = len(urls)

	if len(urls) == 0 {
		o.log(ctx, run, models.LogLevelWarn, "Query returned no listings")
		run.Status = models.RunStatusCompleted
		return result, nil
	}

	o.log(ctx, run, models.LogLevelInfo, "Extracting price history API key")
	apiKey, err := o.keys.ExtractAPIKey(ctx, urls[0])
	if err != nil {
		return nil, o.fail(ctx, run, fmt.Errorf("resolve api key: %w", err))
	}

	var failed atomic.Int64
	switch mode {
	case models.ModeHistory:
		result.History = o.extractHistory(ctx, run, urls, apiKey, &failed)
	default:
		result.Records = o.extractDetails(ctx, run, urls, apiKey, &failed)
	}
	run.RecordsFailed = int(failed.Load())
	run.RecordsOK = len(urls) - run.RecordsFailed
	run.Status = models.RunStatusCompleted

	o.log(ctx, run, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d listings, %d extracted, %d failed", run.ListingsFound, run.RecordsOK, run.RecordsFailed))

	o.publish(ctx, result)
	return result, nil
}

func (o *Orchestrator) extractDetails(ctx context.Context, run *models.QueryRun, urls []string, apiKey string, failed *atomic.Int64) []models.Record {
	return workers.OrderedMap(ctx, urls, o.threads, func(ctx context.Context, url string) models.Record {
		rec, err := o.extractAll(ctx, url, apiKey)
		if err != nil {
			failed.Add(1)
			o.log(ctx, run, models.LogLevelError, fmt.Sprintf("Error extracting property details %s: %v", url, err))
			return models.Record{}
		}
		return rec
	}, workers.LogProgress(run.QueryName+" details", 50))
}

func (o *Orchestrator) extractHistory(ctx context.Context, run *models.QueryRun, urls []string, apiKey string, failed *atomic.Int64) []models.PriceHistoryEntry {
	perListing := workers.OrderedMap(ctx, urls, o.threads, func(ctx context.Context, url string) []models.PriceHistoryEntry {
		entries, err := o.extractHistoryOne(ctx, url, apiKey)
		if err != nil {
			failed.Add(1)
			o.log(ctx, run, models.LogLevelError, fmt.Sprintf("Error extracting property price history %s: %v", url, err))
			return nil
		}
		return entries
	}, workers.LogProgress(run.QueryName+" history", 50))

	var all []models.PriceHistoryEntry
	for _, entries := range perListing {
		all = append(all, entries...)
	}
	return all
}

// extractAll and extractHistoryOne turn an extractor panic into an error so
// one listing cannot take down the batch.
func (o *Orchestrator) extractAll(ctx context.Context, url, apiKey string) (rec models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.extractor.ExtractAll(ctx, url, apiKey)
}

func (o *Orchestrator) extractHistoryOne(ctx context.Context, url, apiKey string) (entries []models.PriceHistoryEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.extractor.ExtractHistory(ctx, url, apiKey)
}

func (o *Orchestrator) publish(ctx context.Context, result *models.RunResult) {
	if o.store != nil {
		if err := o.store.SaveResult(ctx, result); err != nil {
			o.log(ctx, result.Run, models.LogLevelError, fmt.Sprintf("Save result: %v", err))
		}
	}
	for _, s := range o.sinks {
		if err := s.Publish(ctx, result); err != nil {
			o.log(ctx, result.Run, models.LogLevelError, fmt.Sprintf("Sink %s: %v", s.Name(), err))
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, run *models.QueryRun, err error) error {
	run.Status = models.RunStatusFailed
	run.Error = err.Error()
	o.log(ctx, run, models.LogLevelError, err.Error())
	return err
}

func (o *Orchestrator) Pause() {
	o.paused.Store(true)
	log.Println("Fetcher paused")
}

func (o *Orchestrator) Resume() {
	o.paused.Store(false)
	log.Println("Fetcher resumed")
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) log(ctx context.Context, run *models.QueryRun, level models.LogLevel, message string) {
	component := run.QueryName
	if component == "" {
		component = "adhoc"
	}
	log.Printf("[%s] %s: %s", level, component, message)
	if o.store != nil {
		o.store.Log(ctx, &models.RunLog{
			RunID:     run.ID.String(),
			Timestamp: time.Now(),
			Level:     level,
			Message:   message,
			Component: component,
		})
	}
}

func (o *Orchestrator) QueryNames() []string {
	names := make([]string, 0, len(o.cfg.Queries))
	for name := range o.cfg.Queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
