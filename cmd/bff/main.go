// Package main is the entry point for the Concierge portal BFF.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/concierge/internal/config"
	"github.com/pitabwire/concierge/internal/definition"
	"github.com/pitabwire/concierge/internal/fetch"
	"github.com/pitabwire/concierge/internal/i18n"
	"github.com/pitabwire/concierge/internal/metadata"
	"github.com/pitabwire/concierge/internal/observability"
	"github.com/pitabwire/concierge/internal/openapi"
	"github.com/pitabwire/concierge/internal/table"
	"github.com/pitabwire/concierge/internal/transport"
	"github.com/pitabwire/concierge/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "concierge-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	oaIndex := openapi.NewIndex()
	specSources := buildSpecSources(cfg)
	if err := oaIndex.Load(specSources); err != nil {
		logger.Error("OpenAPI index load failed", zap.Error(err))
		return 1
	}
	for _, svc := range oaIndex.Services() {
		metrics.SetOpenAPIOperationsIndexed(svc, float64(len(oaIndex.AllOperationIDs(svc))))
	}

	defs := &definitionSet{
		loader:    definition.NewLoader(cfg.Definitions.StrictChecksums),
		validator: definition.NewValidator(),
		index:     oaIndex,
		dirs:      cfg.Definitions.Directories,
		metrics:   metrics,
		logger:    logger,
	}
	registry, err := defs.initial()
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	bundle := i18n.NewBundle(cfg.I18n.DefaultLocale)
	if err := bundle.LoadDir(cfg.I18n.Directory); err != nil {
		logger.Error("message catalogs failed to load", zap.Error(err))
		return 1
	}
	logger.Info("message catalogs loaded", zap.Strings("locales", bundle.Languages()))

	backends := fetch.NewHTTPFetcher(cfg.Services,
		fetch.WithObserver(metrics),
		fetch.WithLogger(logger),
	)
	var fetcher table.Fetcher = backends
	var pageCache fetch.Cache
	if cfg.Cache.Enabled {
		pageCache, err = fetch.NewCache(cfg.Cache)
		if err != nil {
			logger.Error("page cache initialization failed", zap.Error(err))
			return 1
		}
		fetcher = fetch.NewCachingFetcher(fetcher, pageCache, cfg.Cache.TTL,
			fetch.WithCacheObserver(metrics),
			fetch.WithCacheLogger(logger),
		)
		logger.Info("page cache enabled", zap.String("driver", cfg.Cache.Driver), zap.Duration("ttl", cfg.Cache.TTL))
	}

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Len() > 0 },
		OpenAPILoaded: func() bool {
			return len(specSources) == 0 || oaIndex.Len() > 0
		},
		OpenCircuits: backends.OpenCircuits,
	}
	if hc, ok := pageCache.(observability.HealthChecker); ok {
		readiness.PageCache = hc
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Authenticate:  transport.Authenticate(cfg.Identity, jwks),
		Tables:        metadata.NewTableProvider(registry, oaIndex, cfg.Table.DefaultLimit),
		Fetcher:       fetcher,
		Translations:  bundle,
		LocaleMatcher: bundle.Match,
		Metrics:       metrics,
		Readiness:     readiness,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go defs.watch(ctx, registry)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("tables", registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if c, ok := pageCache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Error("page cache close error", zap.Error(err))
		}
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSpecSources resolves spec files against the specs directory. A
// configured service base URL overrides the document's servers entry so
// that endpoints route to the matching backend client.
func buildSpecSources(cfg *config.Config) []openapi.SpecSource {
	sources := make([]openapi.SpecSource, len(cfg.Specs.Sources))
	for i, s := range cfg.Specs.Sources {
		specPath := s.SpecFile
		if cfg.Specs.Directory != "" && !filepath.IsAbs(specPath) {
			specPath = filepath.Join(cfg.Specs.Directory, specPath)
		}
		sources[i] = openapi.SpecSource{
			ServiceID: s.ServiceID,
			BaseURL:   cfg.Services[s.ServiceID].BaseURL,
			SpecPath:  specPath,
		}
	}
	return sources
}

// definitionSet loads, validates and hot-reloads table definitions.
type definitionSet struct {
	loader    *definition.Loader
	validator *definition.Validator
	index     *openapi.Index
	dirs      []string
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func (d *definitionSet) load() ([]model.DomainDefinition, error) {
	defs, err := d.loader.LoadAll(d.dirs)
	if err != nil {
		return nil, err
	}
	if verrs := d.validator.Validate(defs, d.index); len(verrs) > 0 {
		for _, ve := range verrs {
			d.logger.Error("definition validation error",
				zap.String("path", ve.Path),
				zap.String("code", ve.Code),
				zap.String("message", ve.Message),
			)
		}
		return nil, fmt.Errorf("definition validation failed with %d errors", len(verrs))
	}
	return defs, nil
}

func (d *definitionSet) initial() (*definition.Registry, error) {
	defs, err := d.load()
	if err != nil {
		d.metrics.RecordDefinitionReload("failure")
		return nil, err
	}
	registry := definition.NewRegistry(defs)
	d.metrics.RecordDefinitionReload("success")
	d.metrics.SetDefinitionsLoaded(float64(registry.Len()))
	d.logger.Info("definitions loaded",
		zap.Int("domains", len(defs)),
		zap.Int("tables", registry.Len()),
		zap.String("checksum", registry.Checksum()),
	)
	return registry, nil
}

// watch reloads definitions on SIGHUP. A failed reload keeps the current
// registry.
func (d *definitionSet) watch(ctx context.Context, registry *definition.Registry) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			defs, err := d.load()
			if err != nil {
				d.metrics.RecordDefinitionReload("failure")
				d.logger.Error("definition reload failed, keeping current set", zap.Error(err))
				continue
			}
			previous := registry.Checksum()
			registry.Replace(defs)
			d.metrics.RecordDefinitionReload("success")
			d.metrics.SetDefinitionsLoaded(float64(registry.Len()))
			d.logger.Info("definitions reloaded",
				zap.Int("tables", registry.Len()),
				zap.Bool("changed", previous != registry.Checksum()),
			)
		}
	}
}
