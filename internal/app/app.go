package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"hdxscraper/internal/admin"
	"hdxscraper/internal/catalog"
	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/fallback"
	"hdxscraper/internal/infrastructure"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/runner"
	"hdxscraper/internal/scraper"
	"hdxscraper/internal/sources"
	transport "hdxscraper/internal/transport/http"
)

// Version is set at build time.
var Version = "dev"

// Options are the per invocation settings of the command line.
type Options struct {
	ConfigPath   string
	ScrapersPath string
	// Output is where the run result is written. Empty skips writing.
	Output     string
	Today      string
	Levels     []string
	Include    []string
	Force      []string
	Prioritise []string
}

// Application holds the collaborators of a run.
type Application struct {
	Config    *config.Config
	Document  *config.Document
	Runner    *runner.Runner
	Telemetry *infrastructure.Telemetry
	Store     fallback.Store
	Server    *http.Server
	Logger    *slog.Logger

	opts    Options
	closers []func() error
}

// Load reads the configuration and scraper document named by opts and
// builds the application.
func Load(ctx context.Context, opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.ScrapersPath == "" {
		return nil, apperrors.NewConfigError("no scraper document given", nil)
	}
	doc, err := config.LoadScrapers(opts.ScrapersPath)
	if err != nil {
		return nil, err
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return New(ctx, cfg, doc, opts, logger)
}

// New builds the application from loaded configuration.
func New(ctx context.Context, cfg *config.Config, doc *config.Document, opts Options, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Today != "" {
		cfg.Run.Today = opts.Today
	}
	if len(opts.Levels) > 0 {
		cfg.Run.Levels = opts.Levels
	}
	today, err := cfg.TodayTime(time.Now())
	if err != nil {
		return nil, apperrors.NewConfigError("invalid today", err)
	}

	a := &Application{Config: cfg, Document: doc, Logger: logger, opts: opts}
	logger.InfoContext(ctx, "application_starting",
		slog.String("version", Version),
		slog.Int("scrapers", len(doc.Scrapers)),
		slog.Int("aggregations", len(doc.Aggregations)),
		slog.Time("today", today))

	tel, err := infrastructure.InitTelemetry(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.Telemetry = tel

	fetcher, err := reader.NewFetcher(reader.FetcherConfig{
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
		Timeout:           cfg.Fetch.Timeout,
		UserAgent:         cfg.Fetch.UserAgent,
		S3: &reader.S3Config{
			Endpoint:  cfg.Fetch.S3.Endpoint,
			Region:    cfg.Fetch.S3.Region,
			AccessKey: cfg.Fetch.S3.AccessKey,
			SecretKey: cfg.Fetch.S3.SecretKey,
			UseSSL:    cfg.Fetch.S3.UseSSL,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	var (
		locator reader.Locator
		cat     sources.Catalog
	)
	if cfg.Fetch.CatalogURL != "" {
		ckan, err := catalog.NewCKAN(cfg.Fetch.CatalogURL, fetcher, logger)
		if err != nil {
			return nil, err
		}
		locator, cat = ckan, ckan
	}
	rd, err := a.readers(ctx, fetcher, locator)
	if err != nil {
		return nil, err
	}

	matcher, err := a.matcher()
	if err != nil {
		return nil, err
	}

	var regions *scraper.RegionLookup
	if doc.Regions != nil {
		regions, err = scraper.LoadRegions(ctx, rd, doc.Regions, cfg.Run.Countries)
		if err != nil {
			return nil, fmt.Errorf("failed to load regions: %w", err)
		}
		logger.InfoContext(ctx, "regions_loaded", slog.String("regions", regions.String()))
	}

	fallbacks, err := a.loadFallbacks(ctx)
	if err != nil {
		return nil, err
	}

	registry := runner.NewRegistry()
	if err := runner.RegisterDocument(registry, doc, regions); err != nil {
		return nil, err
	}
	a.Runner, err = runner.New(runner.Config{
		Registry: registry,
		Context: scraper.RunContext{
			Today:      today,
			Countries:  cfg.Run.Countries,
			Reader:     rd,
			Matcher:    matcher,
			Catalog:    cat,
			DateFormat: sources.NewDateFormat(nil, cfg.Sources.DateFormat, cfg.Sources.RangeSeparator),
		},
		Fallbacks:        fallbacks,
		Additional:       doc.AdditionalSources,
		OverwriteSources: cfg.Sources.Overwrite,
		TracerProvider:   tel.TracerProvider,
		MeterProvider:    tel.MeterProvider,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Application) readers(ctx context.Context, fetcher *reader.Fetcher, locator reader.Locator) (reader.Reader, error) {
	multi := reader.NewMulti(locator)
	multi.Register(&reader.CSVReader{Opener: fetcher, Logger: a.Logger}, "csv", "text/csv")
	multi.Register(&reader.XLSXReader{Opener: fetcher, Logger: a.Logger}, "xlsx", "xls")
	multi.Register(&reader.JSONReader{Opener: fetcher, Logger: a.Logger}, "json")

	fetch := a.Config.Fetch
	if fetch.SheetsCredentials == "" && fetch.SheetsAPIKey == "" {
		return multi, nil
	}
	var creds []byte
	if fetch.SheetsCredentials != "" {
		data, err := os.ReadFile(fetch.SheetsCredentials)
		if err != nil {
			return nil, apperrors.NewConfigError("failed to read sheets credentials", err)
		}
		creds = data
	}
	sheets, err := reader.NewSheetsReader(ctx, creds, fetch.SheetsAPIKey, a.Logger)
	if err != nil {
		return nil, err
	}
	multi.Register(sheets, "gsheet")
	return multi, nil
}

func (a *Application) matcher() (admin.Matcher, error) {
	var units []admin.Unit
	if path := a.Config.Run.AdminUnits; path != "" {
		loaded, err := config.LoadAdminUnits(path)
		if err != nil {
			return nil, err
		}
		units = loaded
	} else {
		a.Logger.Warn("admin_units_missing")
	}
	m := a.Config.Matching
	return admin.NewTableMatcher(units, admin.MatcherOptions{
		Threshold:  m.Threshold,
		Rules:      m.Rules,
		DenyTokens: m.DenyTokens,
		CacheSize:  m.CacheSize,
		Logger:     a.Logger,
	})
}

// loadFallbacks opens the configured store and reads the previous results.
// A store without results yet is not an error.
func (a *Application) loadFallbacks(ctx context.Context) (*fallback.Set, error) {
	run := a.Config.Run
	switch {
	case run.PostgresDSN != "":
		pg, err := fallback.OpenPostgres(ctx, run.PostgresDSN, "latest")
		if err != nil {
			return nil, err
		}
		a.Store = pg
		a.closers = append(a.closers, pg.Close)
	case run.FallbackFile != "":
		a.Store = fallback.NewFileStore(run.FallbackFile)
	default:
		return nil, nil
	}

	set, err := a.Store.Load(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			a.Logger.WarnContext(ctx, "fallbacks_missing")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load fallbacks: %w", err)
	}
	a.Logger.InfoContext(ctx, "fallbacks_loaded", slog.Int("levels", len(set.Levels)))
	return set, nil
}

// Run performs one run and writes its results to the output file and the
// fallback store. Unit failures are logged, not returned.
func (a *Application) Run(ctx context.Context) error {
	ctx = infrastructure.EnsureRunID(ctx)
	err := a.Runner.Run(ctx, runner.Options{
		Include:      a.opts.Include,
		ForceInclude: a.opts.Force,
		Prioritise:   a.opts.Prioritise,
		Levels:       a.Config.Run.Levels,
		Concurrency:  a.Config.Run.Concurrency,
	})
	var list *runner.ErrorList
	switch {
	case errors.As(err, &list):
		for _, ue := range list.Errors {
			a.Logger.WarnContext(ctx, "unit_error",
				slog.String("unit", ue.Unit),
				slog.String("level", ue.Level),
				slog.String("type", string(ue.Type)),
				slog.String("error", ue.Error()))
		}
	case err != nil:
		return err
	}
	return a.save(ctx)
}

func (a *Application) save(ctx context.Context) error {
	set := runner.FallbackSet(a.Runner.Results(), a.Runner.Sources())
	if a.opts.Output != "" {
		if err := fallback.NewFileStore(a.opts.Output).Save(ctx, set); err != nil {
			return err
		}
		a.Logger.InfoContext(ctx, "results_written", slog.String("path", a.opts.Output))
	}
	if pg, ok := a.Store.(*fallback.PostgresStore); ok {
		if err := pg.Save(ctx, set); err != nil {
			return err
		}
		a.Logger.InfoContext(ctx, "fallbacks_saved")
	}
	return nil
}

// Handler returns the HTTP surface of the application.
func (a *Application) Handler() http.Handler {
	return transport.NewRouter(transport.RouterConfig{
		Service:           a.Runner,
		Run:               a.Run,
		Version:           Version,
		MetricsHandler:    a.Telemetry.MetricsHandler,
		TracerProvider:    a.Telemetry.TracerProvider,
		RequestsPerSecond: a.Config.Server.RequestsPerSecond,
		Burst:             a.Config.Server.Burst,
		Logger:            a.Logger,
	})
}

// Serve performs one run and serves the results until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.Run(ctx); err != nil {
		return err
	}
	a.Server = &http.Server{
		Addr:         a.Config.Server.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.InfoContext(ctx, "server_started", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	a.Logger.InfoContext(ctx, "server_stopped")
	return nil
}

// Close releases the stores and flushes telemetry.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
