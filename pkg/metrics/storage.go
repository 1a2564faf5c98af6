package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	TierWriteBuffer = "write_buffer"
	TierReadBuffer  = "read_buffer"
	TierDisk        = "disk"
)

var (
	ChannelFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookie_channel_flushes_total",
		Help: "Total number of write buffer flushes to the backing file",
	})

	ChannelFlushedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookie_channel_flushed_bytes_total",
		Help: "Total bytes written from write buffers to backing files",
	})

	ChannelForces = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookie_channel_force_writes_total",
		Help: "Total number of durable syncs issued on backing files",
	})

	ChannelForceLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookie_channel_force_latency_seconds",
		Help:    "Histogram of durable sync latency",
		Buckets: prometheus.DefBuckets,
	})

	ChannelReadTier = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookie_channel_read_tier_total",
		Help: "Read copies served per tier (write buffer, read buffer, disk)",
	}, []string{"tier"})

	ChannelShortReads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookie_channel_short_reads_total",
		Help: "Disk reads that returned no bytes where data was expected",
	})

	Relocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookie_index_relocations_total",
		Help: "Index file relocations by result",
	}, []string{"result"})

	RelocationRecoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookie_index_relocation_recoveries_total",
		Help: "Relocation markers reconciled by action (rollback, rollforward, discard)",
	}, []string{"action"})

	EntryLogRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookie_entry_log_rotations_total",
		Help: "Total number of entry log rotations",
	})
)
