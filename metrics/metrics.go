// Package metrics declares the prometheus counters and gauges C7 exposes,
// namespaced chronicle_core exactly as friggdb.go declares its
// metricBlockListPollTotal family, plus the pull-only Status snapshot
// external observers read.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ringWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "ring_writes_total",
		Help:      "Total successful ring buffer writes.",
	})
	ringOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "ring_overflows_total",
		Help:      "Total ring buffer overflow evictions.",
	})
	ringCorruptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "ring_corruptions_total",
		Help:      "Total torn/corrupted ring regions dropped on read.",
	})
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "packer_ticks_total",
		Help:      "Total packer pipeline ticks run.",
	})
	batchesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "packer_batches_written_total",
		Help:      "Total batches successfully written to storage.",
	})
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "events_dropped_total",
		Help:      "Events dropped during validation, labeled by reason.",
	}, []string{"reason"})
	keyRotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "key_rotations_total",
		Help:      "Total encryption key rotations performed.",
	})
	artifactsRetained = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronicle_core",
		Name:      "artifacts_retained",
		Help:      "Number of artifacts currently retained on disk.",
	})
	degradedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronicle_core",
		Name:      "degraded",
		Help:      "1 if the packer is in the Degraded state, 0 otherwise.",
	})
	backupsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "backups_completed_total",
		Help:      "Total artifacts successfully copied to a target medium.",
	})
	backupsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronicle_core",
		Name:      "backups_failed_total",
		Help:      "Total backup copy attempts exhausted their retries.",
	})
	queuedBackupJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronicle_core",
		Name:      "backup_jobs_queued",
		Help:      "Number of auto-backup jobs currently queued or running.",
	})
	ringUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chronicle_core",
		Name:      "ring_utilization",
		Help:      "Fraction of ring capacity currently occupied by unread frames.",
	})
)

// Status is the plain-value snapshot external observers receive from
// Core.Snapshot. It is always a copy, never a pointer into live atomic
// state, per the design notes' "never hand out a pointer into live
// mutable state" rule.
type Status struct {
	RingWrites       uint64
	RingOverflows    uint64
	RingCorruptions  uint64
	Ticks            uint64
	BatchesWritten   uint64
	EventsDropped    map[string]uint64
	KeyRotations     uint64
	ArtifactsRetained int
	Degraded         bool
	LastTickAt       time.Time
	LastError        string
	RingUtilization  float64
	QueuedBackupJobs int
}

// Recorder accumulates counts in-process (so Snapshot has something to
// copy from) while also feeding the promauto series above. Every counter
// and gauge is atomic, safe for concurrent producers and a single packer
// goroutine to update without coordination; the one lock, dropMu, guards
// only the per-reason drop map.
type Recorder struct {
	ringWrites      atomic.Uint64
	ringOverflows   atomic.Uint64
	ringCorruptions atomic.Uint64
	ticks           atomic.Uint64
	batchesWritten  atomic.Uint64
	keyRotations    atomic.Uint64
	degraded        atomic.Bool
	ringUtilBits    atomic.Uint64 // math.Float64bits
	queuedJobs      atomic.Int64

	dropMu sync.Mutex
	drops  map[string]uint64

	lastTick atomic.Int64 // unix nanos
	lastErr  atomic.Value // string
}
