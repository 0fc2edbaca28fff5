// Package observability holds the Prometheus metrics of runs, windows,
// catalogs, sinks and the scheduler, and the server exposing them
package observability

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

//nolint:gochecknoglobals // one metrics endpoint per process
var (
	metricsServer *http.Server
	once          sync.Once
)

// StartMetricsServer serves /metrics on addr. The registry is process wide,
// so only the first call starts a server; later calls return nil.
func StartMetricsServer(log logrus.FieldLogger, addr string) *http.Server {
	var started *http.Server

	once.Do(func() {
		sm := http.NewServeMux()
		sm.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))

		metricsServer = &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 15 * time.Second,
			Handler:           sm,
		}
		started = metricsServer

		go func() {
			log.WithField("addr", addr).Info("Starting metrics server")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
				RecordError("metrics", "listen")
			}
		}()
	})

	return started
}
