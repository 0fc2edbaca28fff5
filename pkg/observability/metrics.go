package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// RunsTotal tracks the total number of pipeline runs
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"dataset", "status"}, // status: success, failed
	)

	// RunDuration measures pipeline run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridstat_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27m
		},
		[]string{"dataset", "status"},
	)

	// WindowsTotal tracks the total number of windows processed
	WindowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_windows_total",
			Help: "Total number of windows processed",
		},
		[]string{"dataset", "status"}, // status: success, empty, failed, skipped
	)

	// WindowDuration measures per-window processing time in seconds
	WindowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridstat_window_duration_seconds",
			Help:    "Per-window processing time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"dataset"},
	)

	// WindowsRunning tracks the number of windows currently being processed
	WindowsRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridstat_windows_running",
			Help: "Number of windows currently being processed",
		},
		[]string{"dataset"},
	)

	// WindowRetries counts window attempts that were retried
	WindowRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_window_retries_total",
			Help: "Total number of retried window attempts",
		},
		[]string{"dataset", "kind"},
	)

	// FramesFetched counts catalog frames consumed
	FramesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_catalog_frames_total",
			Help: "Total number of catalog frames consumed",
		},
		[]string{"dataset", "backend"},
	)

	// ReducedPixels counts samples visited by regional reductions
	ReducedPixels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_reduced_pixels_total",
			Help: "Total number of pixels visited by regional reductions",
		},
		[]string{"dataset"},
	)

	// SinkWrites counts sink writes
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_sink_writes_total",
			Help: "Total number of sink writes",
		},
		[]string{"sink", "status"}, // status: success, error
	)

	// SinkRows counts observation rows written
	SinkRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_sink_rows_total",
			Help: "Total number of observation rows written",
		},
		[]string{"sink"},
	)

	// ClickHouseQueries counts total number of ClickHouse queries executed
	ClickHouseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_clickhouse_queries_total",
			Help: "Total number of ClickHouse queries executed",
		},
		[]string{"query_type", "status"}, // query_type: select, insert, ddl; status: success, error
	)

	// ClickHouseQueryDuration measures ClickHouse query execution time
	ClickHouseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridstat_clickhouse_query_duration_seconds",
			Help:    "ClickHouse query execution time",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"query_type"},
	)

	// ScheduledJobs tracks registered scheduled jobs
	ScheduledJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridstat_scheduled_jobs",
			Help: "Whether a scheduled job is registered (1=registered, 0=removed)",
		},
		[]string{"job", "dataset"},
	)

	// SchedulerLeader is 1 while this instance runs scheduled jobs
	SchedulerLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridstat_scheduler_leader",
			Help: "Whether this instance is the scheduler leader (1=leader)",
		},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridstat_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordRun records the end of a pipeline run
func RecordRun(dataset, status string, duration float64) {
	RunsTotal.WithLabelValues(dataset, status).Inc()
	RunDuration.WithLabelValues(dataset, status).Observe(duration)
}

// RecordWindowStart records the start of a window
func RecordWindowStart(dataset string) {
	WindowsRunning.WithLabelValues(dataset).Inc()
}

// RecordWindowComplete records window completion
func RecordWindowComplete(dataset, status string, duration float64) {
	WindowsRunning.WithLabelValues(dataset).Dec()
	WindowsTotal.WithLabelValues(dataset, status).Inc()
	WindowDuration.WithLabelValues(dataset).Observe(duration)
}

// RecordWindowSkipped records a window left out of its run after failing
func RecordWindowSkipped(dataset string) {
	WindowsTotal.WithLabelValues(dataset, "skipped").Inc()
}

// RecordWindowRetry records a retried window attempt
func RecordWindowRetry(dataset, kind string) {
	WindowRetries.WithLabelValues(dataset, kind).Inc()
}

// RecordFrames records frames read from a catalog backend
func RecordFrames(dataset, backend string, count int) {
	FramesFetched.WithLabelValues(dataset, backend).Add(float64(count))
}

// RecordReducedPixels records samples visited by a reduction
func RecordReducedPixels(dataset string, count int64) {
	ReducedPixels.WithLabelValues(dataset).Add(float64(count))
}

// RecordSinkWrite records a sink write and the rows it carried
func RecordSinkWrite(sink, status string, rows int) {
	SinkWrites.WithLabelValues(sink, status).Inc()

	if rows > 0 {
		SinkRows.WithLabelValues(sink).Add(float64(rows))
	}
}

// RecordClickHouseQuery records ClickHouse query metrics
func RecordClickHouseQuery(queryType, status string, duration float64) {
	ClickHouseQueries.WithLabelValues(queryType, status).Inc()
	ClickHouseQueryDuration.WithLabelValues(queryType).Observe(duration)
}

// RecordScheduledJob records a scheduled job being registered or removed
func RecordScheduledJob(job, dataset string, registered bool) {
	v := 0.0
	if registered {
		v = 1
	}

	ScheduledJobs.WithLabelValues(job, dataset).Set(v)
}

// RecordSchedulerLeader records a leadership change of this instance
func RecordSchedulerLeader(leader bool) {
	if leader {
		SchedulerLeader.Set(1)
		return
	}

	SchedulerLeader.Set(0)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
