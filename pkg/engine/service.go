package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/api"
	"github.com/ethpandaops/gridstat/pkg/catalog"
	"github.com/ethpandaops/gridstat/pkg/catalog/rediscatalog"
	"github.com/ethpandaops/gridstat/pkg/clickhouse"
	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/observability"
	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/ethpandaops/gridstat/pkg/scheduler"
	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/ethpandaops/gridstat/pkg/sink/geotiff"
	"github.com/ethpandaops/gridstat/pkg/sink/sqlsink"
	"github.com/ethpandaops/gridstat/pkg/sink/tabular"
	"github.com/ethpandaops/gridstat/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotOpen is returned when the runner is requested before Open
var ErrNotOpen = errors.New("engine is not open")

type closer struct {
	name  string
	close func() error
}

// Service encapsulates the gridstat application
type Service struct {
	config *Config
	log    *logrus.Logger

	registry    *datasets.Registry
	catalog     catalog.Catalog
	redisClient *redis.Client
	pool        *worker.Pool

	openOnce sync.Once
	openErr  error
	ready    atomic.Bool

	driver  *pipeline.Driver
	tables  []sink.TableSink
	rasters []sink.RasterSink
	closers []closer

	scheduler scheduler.Service
	api       api.Service

	// Servers
	healthServer  *http.Server
	pprofServer   *http.Server
	metricsServer *http.Server
}

// NewService creates a new gridstat application
func NewService(log *logrus.Logger, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry, err := LoadRegistry(cfg.Datasets.Path)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client

	if cfg.Catalog.Type == CatalogRedis {
		opts, optErr := cfg.Catalog.Redis.NewOptions()
		if optErr != nil {
			return nil, optErr
		}

		redisClient = redis.NewClient(opts)
	}

	cat, err := newCatalog(log, &cfg.Catalog, registry, redisClient)
	if err != nil {
		return nil, err
	}

	pool, err := worker.NewPool(log, cfg.Worker)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Service{
		config:      cfg,
		log:         log,
		registry:    registry,
		catalog:     cat,
		redisClient: redisClient,
		pool:        pool,
	}, nil
}

// LoadRegistry returns the built-in datasets overridden by the file at
// path, if any.
func LoadRegistry(path string) (*datasets.Registry, error) {
	registry, err := datasets.NewBuiltinRegistry()
	if err != nil {
		return nil, err
	}

	if path == "" {
		return registry, nil
	}

	if err := registry.LoadFile(path); err != nil {
		return nil, err
	}

	return registry, nil
}

// SyntheticCatalog generates frames for every dataset of registry.
func SyntheticCatalog(registry *datasets.Registry, cfg SyntheticConfig) (*catalog.Synthetic, error) {
	syn := catalog.NewSynthetic()

	for _, ds := range registry.List() {
		cadence := ds.Cadence
		if !cadence.Valid() {
			cadence.Granularity = ds.Granularity
		}

		if err := syn.Register(ds.CatalogID(), catalog.Source{
			Grid:    cfg.Grid,
			Bands:   ds.BandNames(),
			Cadence: cadence,
			Value:   catalog.Seasonal(cfg.Scale),
		}); err != nil {
			return nil, fmt.Errorf("failed to register synthetic dataset %s: %w", ds.ID, err)
		}
	}

	return syn, nil
}

// Seed copies the frames of each dataset over its range from src into dst.
func Seed(ctx context.Context, log logrus.FieldLogger, src catalog.Catalog, dst catalog.Writer, cfgs []datasets.Config) error {
	for _, ds := range cfgs {
		start, end := ds.PartitionRange()

		n, err := catalog.Copy(ctx, src, dst, ds.CatalogID(), catalog.Query{
			Dataset: ds.CatalogID(),
			Start:   start,
			End:     end,
		}, catalog.DefaultCopyBatch)
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", ds.ID, err)
		}

		log.WithFields(logrus.Fields{
			"dataset": ds.ID,
			"catalog": ds.CatalogID(),
			"frames":  n,
		}).Info("Seeded catalog")
	}

	return nil
}

func newCatalog(log logrus.FieldLogger, cfg *CatalogConfig, registry *datasets.Registry, client *redis.Client) (catalog.Catalog, error) {
	switch cfg.Type {
	case CatalogRedis:
		return rediscatalog.New(log, client, &cfg.Redis, rediscatalog.WithFrameCache(cfg.CacheFrames)), nil
	case CatalogMemory:
		return catalog.NewMemory(), nil
	default:
		return SyntheticCatalog(registry, cfg.Synthetic)
	}
}

// Registry returns the dataset registry
func (a *Service) Registry() *datasets.Registry { return a.registry }

// Catalog returns the configured catalog
func (a *Service) Catalog() catalog.Catalog { return a.catalog }

// Runner returns the pipeline driver. Open must have succeeded.
func (a *Service) Runner() (pipeline.Runner, error) {
	if a.driver == nil {
		return nil, ErrNotOpen
	}

	return a.driver, nil
}

// Open preloads the memory catalog, connects the sinks and builds the
// pipeline driver. It is safe to call more than once.
func (a *Service) Open(ctx context.Context) error {
	a.openOnce.Do(func() {
		a.openErr = a.open(ctx)
	})

	return a.openErr
}

func (a *Service) open(ctx context.Context) error {
	if mem, ok := a.catalog.(*catalog.Memory); ok && len(a.config.Catalog.Preload) > 0 {
		if err := a.preload(ctx, mem); err != nil {
			return err
		}
	}

	if err := a.openSinks(ctx); err != nil {
		return err
	}

	driver, err := pipeline.NewDriver(a.log, pipeline.Deps{
		Catalog: a.catalog,
		Engine:  algebra.NewLocal(a.log),
		Pool:    a.pool,
		Tables:  a.tables,
		Rasters: a.rasters,
	}, a.config.Pipeline)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	a.driver = driver

	return nil
}

func (a *Service) preload(ctx context.Context, mem *catalog.Memory) error {
	src, err := SyntheticCatalog(a.registry, a.config.Catalog.Synthetic)
	if err != nil {
		return err
	}

	cfgs := make([]datasets.Config, 0, len(a.config.Catalog.Preload))

	for _, id := range a.config.Catalog.Preload {
		ds, err := a.registry.Get(id)
		if err != nil {
			return err
		}

		cfgs = append(cfgs, ds)
	}

	return Seed(ctx, a.log, src, catalog.MemoryWriter(mem), cfgs)
}

func (a *Service) openSinks(ctx context.Context) error {
	out := a.config.Outputs

	if out.CSV {
		a.tables = append(a.tables, tabular.New(out.Directory))
	}

	if out.GeoTIFF {
		a.rasters = append(a.rasters, geotiff.New(out.Directory))
	}

	if out.SQL.Enabled {
		s, err := sqlsink.Open(ctx, a.log, out.SQL)
		if err != nil {
			return fmt.Errorf("failed to open sql sink: %w", err)
		}

		a.tables = append(a.tables, s)
		a.closers = append(a.closers, closer{name: "sql sink", close: s.Close})
	}

	if out.ClickHouse.Enabled {
		client, err := clickhouse.NewClient(a.log, &out.ClickHouse)
		if err != nil {
			return fmt.Errorf("failed to setup ClickHouse client: %w", err)
		}

		s := clickhouse.NewSink(a.log, client, &out.ClickHouse)
		if err := s.Setup(ctx, out.ClickHouse.Cluster); err != nil {
			return fmt.Errorf("failed to setup ClickHouse sink: %w", err)
		}

		a.tables = append(a.tables, s)
		a.closers = append(a.closers, closer{name: "ClickHouse sink", close: s.Close})
	}

	if len(a.tables) == 0 {
		a.log.Warn("No table output is enabled, series are only logged")
	}

	return nil
}

// Start opens the engine and starts the servers, scheduler and API
func (a *Service) Start(ctx context.Context) error {
	a.log.Info("Starting gridstat engine...")

	// Start health check server first so liveness is reported during Open
	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	if a.config.MetricsAddr != "" {
		a.metricsServer = observability.StartMetricsServer(a.log, a.config.MetricsAddr)
	}

	if err := a.Open(ctx); err != nil {
		return err
	}

	if a.config.Scheduler.Enabled {
		// avoid handing a typed nil client to the scheduler
		var client redis.UniversalClient
		if a.redisClient != nil {
			client = a.redisClient
		}

		svc, err := scheduler.NewService(a.log, &a.config.Scheduler, a.registry, a.driver, client, a.config.Catalog.Redis.Prefix)
		if err != nil {
			return fmt.Errorf("failed to create scheduler service: %w", err)
		}

		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		a.scheduler = svc
	}

	a.api = api.NewService(&a.config.API, a.registry, a.driver, a.log)
	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API service: %w", err)
	}

	a.ready.Store(true)
	a.log.Info("gridstat engine started successfully")

	return nil
}

// Stop gracefully shuts down the application
func (a *Service) Stop() error {
	a.log.Info("Shutting down engine...")
	a.ready.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopService := func(name string, stopFunc func() error) {
		if stopFunc == nil {
			return
		}
		if err := stopFunc(); err != nil {
			a.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// 1. Stop scheduler first (stop starting new runs)
	if a.scheduler != nil {
		stopService("scheduler service", a.scheduler.Stop)
	}

	// 2. Stop API (no new requested runs)
	if a.api != nil {
		stopService("API service", a.api.Stop)
	}

	// 3. Close sinks (nothing writes to them anymore)
	for _, c := range a.closers {
		stopService(c.name, c.close)
	}

	// 4. Close Redis
	if a.redisClient != nil {
		stopService("Redis client", a.redisClient.Close)
	}

	// Stop HTTP servers
	if a.healthServer != nil {
		stopService("health check server", func() error { return a.healthServer.Shutdown(ctx) })
	}
	if a.pprofServer != nil {
		stopService("pprof server", func() error { return a.pprofServer.Shutdown(ctx) })
	}
	if a.metricsServer != nil {
		stopService("metrics server", func() error { return a.metricsServer.Shutdown(ctx) })
	}

	return nil
}

func (a *Service) startHealthCheck() {
	a.log.WithField("addr", a.config.HealthCheckAddr).Info("Starting health check server")

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           a.healthHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Health check server failed")
		}
	}()
}

func (a *Service) healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !a.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

func (a *Service) startPProf() {
	a.log.WithField("addr", a.config.PProfAddr).Info("Starting pprof server")

	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("Pprof server failed")
		}
	}()
}
