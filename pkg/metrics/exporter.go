package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/downfa11-org/bookie/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(ChannelFlushes, ChannelFlushedBytes, ChannelForces, ChannelForceLatency, ChannelReadTier, ChannelShortReads)
	prometheus.MustRegister(Relocations, RelocationRecoveries, EntryLogRotations)
}

func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		util.Info("[METRICS] Prometheus exporter listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("[METRICS] Failed to start metrics server: %v", err)
		}
	}()
	return srv
}

// ObserveFlush records one write buffer flush of n bytes.
func ObserveFlush(n int) {
	ChannelFlushes.Inc()
	ChannelFlushedBytes.Add(float64(n))
}

// ObserveForce records one durable sync and its latency.
func ObserveForce(elapsed time.Duration) {
	ChannelForces.Inc()
	ChannelForceLatency.Observe(elapsed.Seconds())
}

func ObserveReadTier(tier string) {
	ChannelReadTier.WithLabelValues(tier).Inc()
}
