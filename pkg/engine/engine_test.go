package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/internal/testutil"
	"github.com/ethpandaops/gridstat/pkg/catalog"
	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/ethpandaops/gridstat/pkg/sink/geotiff"
	"github.com/ethpandaops/gridstat/pkg/sink/tabular"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "info", cfg.Logging)
		assert.Equal(t, CatalogSynthetic, cfg.Catalog.Type)
		assert.Equal(t, DefaultGrid(), cfg.Catalog.Synthetic.Grid)
		assert.Equal(t, 8, cfg.Worker.Concurrency)
		assert.Equal(t, pipeline.FailFast, cfg.Pipeline.FailurePolicy)
		assert.True(t, cfg.Outputs.CSV)
		assert.Equal(t, "gridstat", cfg.Catalog.Redis.Prefix)
	})

	t.Run("file overrides", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.yaml", `
logging: debug
catalog:
  type: Redis
  redis:
    address: localhost:6379
worker:
  concurrency: 2
pipeline:
  maxPixels: 1000
  failurePolicy: skip
outputs:
  geotiff: false
  sql:
    enabled: true
    dsn: file:out.db
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, CatalogRedis, cfg.Catalog.Type)
		assert.Equal(t, 2, cfg.Worker.Concurrency)
		assert.Equal(t, int64(1000), cfg.Pipeline.MaxPixels)
		assert.Equal(t, pipeline.Skip, cfg.Pipeline.FailurePolicy)
		assert.False(t, cfg.Outputs.GeoTIFF)
		assert.Equal(t, "sqlite", cfg.Outputs.SQL.Driver)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadConfig(writeFile(t, t.TempDir(), "config.yaml", "catalog: ["))
		assert.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "unknown catalog",
			mutate:  func(c *Config) { c.Catalog.Type = "s3" },
			wantErr: ErrInvalidCatalogType,
		},
		{
			name:   "redis without address",
			mutate: func(c *Config) { c.Catalog.Type = CatalogRedis },
		},
		{
			name:    "no output directory",
			mutate:  func(c *Config) { c.Outputs.Directory = "" },
			wantErr: ErrOutputDirectoryRequired,
		},
		{
			name:    "non-positive scale",
			mutate:  func(c *Config) { c.Catalog.Synthetic.Scale = 0 },
			wantErr: ErrInvalidScale,
		},
		{
			name:    "bad failure policy",
			mutate:  func(c *Config) { c.Pipeline.FailurePolicy = "retry" },
			wantErr: pipeline.ErrInvalidFailurePolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSyntheticCatalogCoversRegistry(t *testing.T) {
	registry, err := LoadRegistry("")
	require.NoError(t, err)

	syn, err := SyntheticCatalog(registry, SyntheticConfig{Grid: DefaultGrid(), Scale: 1})
	require.NoError(t, err)

	for _, ds := range registry.List() {
		start, _ := ds.PartitionRange()

		s, err := syn.Fetch(context.Background(), catalog.Query{Dataset: ds.CatalogID(), Start: start, End: start.Add(24 * time.Hour)})
		require.NoError(t, err, ds.ID)

		frames, err := catalog.Collect(context.Background(), s)
		require.NoError(t, err)
		assert.NotEmpty(t, frames, ds.ID)
		assert.Equal(t, ds.BandNames(), frames[0].Bands(), ds.ID)
	}
}

func TestRunOverPreloadedMemoryCatalog(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Catalog.Type = CatalogMemory
	cfg.Catalog.Preload = []string{"chirps"}
	cfg.Outputs.Directory = filepath.Join(dir, "out")
	cfg.Datasets.Path = writeFile(t, dir, "datasets.yaml", `
datasets:
  - id: chirps
    rangeStart: 2000-01-01
    rangeEnd: 2000-01-10
`)

	svc, err := NewService(testutil.Logger(), cfg)
	require.NoError(t, err)

	_, err = svc.Runner()
	require.ErrorIs(t, err, ErrNotOpen)

	ctx := context.Background()
	require.NoError(t, svc.Open(ctx))
	require.NoError(t, svc.Open(ctx), "open is idempotent")

	defer func() { require.NoError(t, svc.Stop()) }()

	mem, ok := svc.Catalog().(*catalog.Memory)
	require.True(t, ok)
	assert.Equal(t, []string{"UCSB-CHG/CHIRPS/DAILY"}, mem.Datasets())

	runner, err := svc.Runner()
	require.NoError(t, err)

	ds, err := svc.Registry().Get("chirps")
	require.NoError(t, err)

	roi := region.FromBound("gheba", orb.Bound{Min: orb.Point{39, 13.2}, Max: orb.Point{40, 14}})

	res, err := runner.Run(ctx, ds, roi)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Series.Len())
	assert.Empty(t, res.Failures)
	assert.Equal(t, "Gheba_CHIRPS_Daily_Precip_2000_2000", res.Table)
	assert.FileExists(t, tabular.New(cfg.Outputs.Directory).Path(res.Table))

	require.NotEmpty(t, res.Exports)
	assert.FileExists(t, geotiff.New(cfg.Outputs.Directory).Path(res.Exports[0].Name))
}

func TestRunOverSeededRedisCatalog(t *testing.T) {
	mr, redisCfg := testutil.NewRedisConfig(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Catalog.Type = CatalogRedis
	cfg.Catalog.Redis = redisCfg
	cfg.Outputs.Directory = t.TempDir()
	cfg.Outputs.GeoTIFF = false

	svc, err := NewService(testutil.Logger(), cfg)
	require.NoError(t, err)

	defer func() { require.NoError(t, svc.Stop()) }()

	ds, err := svc.Registry().Get("terraclimate")
	require.NoError(t, err)

	ds.RangeStart = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	ds.RangeEnd = time.Date(2002, 12, 31, 0, 0, 0, 0, time.UTC)

	src, err := SyntheticCatalog(svc.Registry(), cfg.Catalog.Synthetic)
	require.NoError(t, err)

	dst, ok := svc.Catalog().(catalog.Writer)
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, Seed(ctx, testutil.Logger(), src, dst, []datasets.Config{ds}))
	assert.NotEmpty(t, mr.Keys())

	require.NoError(t, svc.Open(ctx))

	runner, err := svc.Runner()
	require.NoError(t, err)

	roi := region.FromBound("gheba", orb.Bound{Min: orb.Point{39, 13.2}, Max: orb.Point{40, 14}})

	res, err := runner.Run(ctx, ds, roi)
	require.NoError(t, err)

	assert.Equal(t, 24, res.Series.Len())
	assert.Empty(t, res.Failures)
	assert.FileExists(t, tabular.New(cfg.Outputs.Directory).Path(res.Table))
}

func TestPreloadUnknownDataset(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Catalog.Type = CatalogMemory
	cfg.Catalog.Preload = []string{"nope"}
	cfg.Outputs.Directory = t.TempDir()

	svc, err := NewService(testutil.Logger(), cfg)
	require.NoError(t, err)

	assert.Error(t, svc.Open(context.Background()))
}

func TestHealthHandler(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Outputs.Directory = t.TempDir()

	svc, err := NewService(testutil.Logger(), cfg)
	require.NoError(t, err)

	h := svc.healthHandler()

	get := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))

		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/health"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"))

	svc.ready.Store(true)
	assert.Equal(t, http.StatusOK, get("/ready"))
}
