package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const basin = `{"type":"Polygon","coordinates":[[[39,13],[40,13],[40,14],[39,14],[39,13]]]}`

type countingRunner struct {
	calls atomic.Int32
	block chan struct{}
}

func (r *countingRunner) Run(ctx context.Context, cfg datasets.Config, roi *region.Region) (*pipeline.Result, error) {
	r.calls.Add(1)

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &pipeline.Result{RunID: "run", Dataset: cfg.ID, Region: roi.Name()}, nil
}

func regionFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gheba.geojson")
	require.NoError(t, os.WriteFile(path, []byte(basin), 0o600))

	return path
}

func testConfig(jobs ...Job) *Config {
	return &Config{
		Enabled:         true,
		Jobs:            jobs,
		TickInterval:    10 * time.Millisecond,
		RunTimeout:      time.Minute,
		ShutdownTimeout: time.Second,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
	}{
		{name: "disabled ignores jobs", cfg: &Config{Jobs: []Job{{}}}},
		{name: "valid", cfg: testConfig(Job{Dataset: "chirps", Region: "gheba.geojson", Schedule: "@daily"})},
		{name: "missing dataset", cfg: testConfig(Job{Region: "gheba.geojson"}), wantErr: ErrJobDatasetRequired},
		{name: "missing region", cfg: testConfig(Job{Dataset: "chirps"}), wantErr: ErrJobRegionRequired},
		{name: "zero tick", cfg: &Config{Enabled: true}, wantErr: ErrInvalidTickInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Error(t, testConfig(Job{Dataset: "chirps", Region: "r", Schedule: "often"}).Validate())
}

func TestNewServiceResolvesJobs(t *testing.T) {
	registry, err := datasets.NewBuiltinRegistry()
	require.NoError(t, err)

	path := regionFile(t)

	t.Run("unknown dataset", func(t *testing.T) {
		_, err := NewService(quietLogger(), testConfig(Job{Dataset: "gpm", Region: path, Schedule: "@daily"}), registry, &countingRunner{}, nil, "gridstat")
		assert.ErrorIs(t, err, datasets.ErrUnknownDataset)
	})

	t.Run("no schedule anywhere", func(t *testing.T) {
		_, err := NewService(quietLogger(), testConfig(Job{Dataset: "chirps", Region: path}), registry, &countingRunner{}, nil, "gridstat")
		assert.ErrorIs(t, err, failure.ErrConfiguration)
	})

	t.Run("missing region file", func(t *testing.T) {
		_, err := NewService(quietLogger(), testConfig(Job{Dataset: "chirps", Region: "/nonexistent.geojson", Schedule: "@daily"}), registry, &countingRunner{}, nil, "gridstat")
		assert.ErrorIs(t, err, failure.ErrConfiguration)
	})

	t.Run("duplicate job", func(t *testing.T) {
		job := Job{Dataset: "chirps", Region: path, Schedule: "@daily"}
		_, err := NewService(quietLogger(), testConfig(job, job), registry, &countingRunner{}, nil, "gridstat")
		assert.ErrorIs(t, err, failure.ErrConfiguration)
	})

	t.Run("dataset schedule is the default", func(t *testing.T) {
		cfg, err := registry.Get("trmm")
		require.NoError(t, err)

		cfg.Schedule = "0 3 * * *"
		require.NoError(t, registry.Register(cfg))

		jobs, err := resolveJobs([]Job{{Dataset: "trmm", Region: path}}, registry)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "trmm:gheba", jobs[0].ID)
		assert.Equal(t, "0 3 * * *", jobs[0].Schedule)
	})
}

func TestServiceRunsJobsAsLeader(t *testing.T) {
	registry, err := datasets.NewBuiltinRegistry()
	require.NoError(t, err)

	runner := &countingRunner{}

	svc, err := NewService(quietLogger(), testConfig(Job{Dataset: "chirps", Region: regionFile(t), Schedule: "@daily"}), registry, runner, nil, "gridstat")
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// @daily is not due again within the test
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runner.calls.Load())

	require.NoError(t, svc.Stop())
}

func TestServiceSkipsOverlappingRuns(t *testing.T) {
	registry, err := datasets.NewBuiltinRegistry()
	require.NoError(t, err)

	runner := &countingRunner{block: make(chan struct{})}

	jobs, err := resolveJobs([]Job{{Dataset: "chirps", Region: regionFile(t), Schedule: "@daily"}}, registry)
	require.NoError(t, err)

	svc := newService(quietLogger(), testConfig(), runner, NewLocalElector(quietLogger()), newMemoryScheduleTracker(), jobs)

	require.NoError(t, svc.dispatch(jobs[0]))
	assert.ErrorIs(t, svc.dispatch(jobs[0]), ErrJobRunning)

	close(runner.block)

	require.Eventually(t, func() bool { return svc.dispatch(jobs[0]) == nil }, time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop())
}

func TestJobID(t *testing.T) {
	assert.Equal(t, "chirps:gheba", JobID("chirps", "/etc/gridstat/regions/gheba.geojson"))
	assert.Equal(t, "era5:tigray", JobID("era5", "tigray.json"))
}
