package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"zoopla_fetcher/api"
	"zoopla_fetcher/config"
	"zoopla_fetcher/floorplan"
	"zoopla_fetcher/graphql"
	"zoopla_fetcher/httputil"
	"zoopla_fetcher/listing"
	"zoopla_fetcher/logging"
	"zoopla_fetcher/models"
	"zoopla_fetcher/scheduler"
	"zoopla_fetcher/scraper"
	"zoopla_fetcher/storage"
	"zoopla_fetcher/workers"
)

// optInt is an integer flag that stays nil unless set.
type optInt struct{ p **int }

func (o optInt) String() string {
	if o.p == nil || *o.p == nil {
		return ""
	}
	return strconv.Itoa(**o.p)
}

func (o optInt) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*o.p = &n
	return nil
}

var (
	daemon     = flag.Bool("daemon", false, "Run the scheduler and HTTP API")
	runAll     = flag.Bool("scrape", false, "Run every saved query once and exit")
	savedQuery = flag.String("query", "", "Run one saved query by name and exit")
	countOnly  = flag.Bool("count", false, "Print the number of results for -q and exit")

	query        = flag.String("q", "", "Search text, e.g. a postcode or area")
	queryType    = flag.String("type", string(models.QueryForSale), "for-sale or to-rent")
	radius       = flag.Float64("radius", 0, "Search radius in miles")
	propertyType = flag.String("property-type", "", "houses, flats or farms_land (empty for all)")

	sharedOwnership     = flag.Bool("shared-ownership", false, "Include shared ownership")
	newHomes            = flag.Bool("new-homes", true, "Include new homes")
	auctions            = flag.Bool("auctions", true, "Include auctions")
	includeSold         = flag.Bool("include-sold", false, "Include sold STC / let agreed")
	retirement          = flag.Bool("retirement", true, "Include retirement homes")
	sharedAccommodation = flag.Bool("shared-accommodation", false, "Include shared accommodation (rentals)")

	mode    = flag.String("mode", string(models.ModeDetails), "details or history")
	threads = flag.Int("threads", 0, "Concurrent listing fetches (default FETCH_THREADS)")
	out     = flag.String("out", "", "CSV output path, - for stdout (default EXPORT_DIR/<run id>.csv)")
)

func main() {
	spec := models.NewQuerySpec("")
	flag.Var(optInt{&spec.PriceMin}, "price-min", "Minimum price")
	flag.Var(optInt{&spec.PriceMax}, "price-max", "Maximum price")
	flag.Var(optInt{&spec.BedsMin}, "beds-min", "Minimum bedrooms")
	flag.Var(optInt{&spec.BedsMax}, "beds-max", "Maximum bedrooms")
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath, logging.DefaultMaxSize)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting zoopla_fetcher...")
	log.Printf("Loaded %d saved queries", len(cfg.Queries))
	for name, q := range cfg.Queries {
		log.Printf("  - %s (%s %q)", name, q.Mode, q.Spec.Query)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients := httputil.NewClients(&cfg.HTTP)
	if cfg.HTTP.ProxyURL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.HTTP.ProxyURL))
	}

	searcher := scraper.NewSearcher(clients, cfg.Portal.BaseURL)

	spec.Query = *query
	spec.Type = models.QueryType(*queryType)
	spec.RadiusMiles = *radius
	spec.PropertyType = models.PropertyType(*propertyType)
	spec.SharedOwnership = *sharedOwnership
	spec.NewHomes = *newHomes
	spec.IncludeAuctions = *auctions
	spec.IncludeSold = *includeSold
	spec.RetirementHomes = *retirement
	spec.IncludeSharedAccommodation = *sharedAccommodation

	if *countOnly {
		if err := spec.Validate(); err != nil {
			log.Fatalf("Invalid query: %v", err)
		}
		total, err := searcher.TotalListings(ctx, spec)
		if err != nil {
			log.Fatalf("Count failed: %v", err)
		}
		fmt.Printf("%s results\n", humanize.Comma(int64(total)))
		return
	}

	locator, err := listing.NewStateLocator(cfg.Fetch.StateLocator)
	if err != nil {
		log.Fatalf("Invalid STATE_LOCATOR: %v", err)
	}

	measurer := floorplan.NewExtractor(clients.Pages, floorplan.NewTesseractOCR(cfg.Fetch.TesseractPath))
	if cfg.Fetch.TempDir != "" {
		measurer.SetTempDir(cfg.Fetch.TempDir)
	}

	gql := graphql.NewClient(clients.API, cfg.Portal.GraphQLURL)
	gql.SetScriptPrefix(cfg.Portal.ScriptPrefix)

	extractor := listing.NewExtractor(listing.NewLoader(clients.Pages, locator), measurer, gql, cfg.Portal.FloorPlanCDN)

	sqliteStore, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.Storage.DBPath)

	orchestrator := scraper.NewOrchestrator(cfg, searcher, gql, extractor, sqliteStore)
	orchestrator.SetThreads(*threads)

	var listings api.ListingStore
	if cfg.Storage.PostgresURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Storage.PostgresURL))
		orchestrator.AddSink(pgStore)
		listings = pgStore
	}

	if *daemon {
		var uploader workers.S3Uploader
		if cfg.S3.Enabled() {
			s3, err := storage.NewS3Uploader(ctx, cfg.S3)
			if err != nil {
				log.Fatalf("Failed to configure S3: %v", err)
			}
			uploader = s3
			log.Printf("Uploading exports to s3://%s", cfg.S3.Bucket)
		}
		orchestrator.AddSink(workers.NewExportWorker(cfg.Storage.ExportDir, uploader))
		runDaemon(ctx, cfg, orchestrator, sqliteStore, listings)
		return
	}

	var result *models.RunResult
	switch {
	case *runAll:
		if err := orchestrator.RunAll(ctx); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		log.Println("All saved queries complete")
		return
	case *savedQuery != "":
		result, err = orchestrator.RunQuery(ctx, *savedQuery)
	default:
		m, perr := models.ParseExtractMode(*mode)
		if perr != nil {
			log.Fatalf("Invalid -mode: %v", perr)
		}
		result, err = orchestrator.Run(ctx, "", spec, m)
	}
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	if err := writeResult(cfg, result, *out); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	log.Printf("Run %s complete: %d listings, %d failed", result.Run.ID, result.Run.ListingsFound, result.Run.RecordsFailed)
}

func writeResult(cfg *config.Config, result *models.RunResult, path string) error {
	if path == "" {
		written, err := storage.ExportRun(cfg.Storage.ExportDir, result)
		if err != nil {
			return err
		}
		log.Printf("Wrote %s", written)
		return nil
	}

	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if result.Run.Mode == models.ModeHistory {
		return storage.WriteHistoryCSV(w, result.History)
	}
	return storage.WriteRecordsCSV(w, result.Records)
}

func runDaemon(ctx context.Context, cfg *config.Config, orchestrator *scraper.Orchestrator, store *storage.SQLiteStore, listings api.ListingStore) {
	sched := scheduler.New(cfg.Scheduler, orchestrator)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: api.NewRouter(api.NewHandlers(store, listings, orchestrator, sched)),
	}
	go func() {
		log.Printf("API listening on %s", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	sched.Stop()
	log.Println("Goodbye!")
}

// maskConnectionString hides the password of a URL-style DSN or proxy URL.
// Anything else is returned unchanged.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); !ok {
		return connStr
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
