package metrics

import (
	"math"
	"time"
)

// NewRecorder returns a zero-value Recorder ready to use.
func NewRecorder() *Recorder {
	return &Recorder{drops: make(map[string]uint64)}
}

func (r *Recorder) RingWrite() {
	r.ringWrites.Add(1)
	ringWrites.Inc()
}

func (r *Recorder) RingOverflow() {
	r.ringOverflows.Add(1)
	ringOverflows.Inc()
}

func (r *Recorder) RingCorruption() {
	r.ringCorruptions.Add(1)
	ringCorruptions.Inc()
}

// RingOverflowDelta and RingCorruptionDelta fold n new occurrences into
// the totals in one call, used by Core.Enqueue and the packer to mirror
// ring.Stats()'s own monotone counters (which also count overflows
// produced by DropOldest evictions that never surface a Write error)
// without double-counting on every poll.
func (r *Recorder) RingOverflowDelta(n uint64) {
	if n == 0 {
		return
	}
	r.ringOverflows.Add(n)
	ringOverflows.Add(float64(n))
}

func (r *Recorder) RingCorruptionDelta(n uint64) {
	if n == 0 {
		return
	}
	r.ringCorruptions.Add(n)
	ringCorruptions.Add(float64(n))
}

func (r *Recorder) Tick() {
	r.ticks.Add(1)
	r.lastTick.Store(time.Now().UnixNano())
	ticksTotal.Inc()
}

func (r *Recorder) BatchWritten() {
	r.batchesWritten.Add(1)
	batchesWritten.Inc()
}

func (r *Recorder) EventDropped(reason string) {
	r.dropMu.Lock()
	r.drops[reason]++
	r.dropMu.Unlock()
	eventsDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) KeyRotated() {
	r.keyRotations.Add(1)
	keyRotations.Inc()
}

func (r *Recorder) SetArtifactsRetained(n int) {
	artifactsRetained.Set(float64(n))
}

func (r *Recorder) SetDegraded(d bool) {
	r.degraded.Store(d)
	if d {
		degradedGauge.Set(1)
	} else {
		degradedGauge.Set(0)
	}
}

func (r *Recorder) BackupCompleted() { backupsCompleted.Inc() }
func (r *Recorder) BackupFailed()    { backupsFailed.Inc() }

// SetRingUtilization records the ring's latest Stats().Utilization gauge
// value so Snapshot can report it without the caller wiring the ring
// directly into metrics.
func (r *Recorder) SetRingUtilization(u float64) {
	r.ringUtilBits.Store(math.Float64bits(u))
	ringUtilization.Set(u)
}

// SetQueuedBackupJobs records how many auto-backup jobs are currently
// queued or running, read by Snapshot as a gauge (spec.md §4.7).
func (r *Recorder) SetQueuedBackupJobs(n int) {
	r.queuedJobs.Store(int64(n))
	queuedBackupJobs.Set(float64(n))
}

func (r *Recorder) SetLastError(err error) {
	if err == nil {
		r.lastErr.Store("")
		return
	}
	r.lastErr.Store(err.Error())
}

// Snapshot copies every counter into a plain Status value.
func (r *Recorder) Snapshot(artifactsRetainedCount int) Status {
	r.dropMu.Lock()
	drops := make(map[string]uint64, len(r.drops))
	for k, v := range r.drops {
		drops[k] = v
	}
	r.dropMu.Unlock()

	lastErr, _ := r.lastErr.Load().(string)

	return Status{
		RingWrites:        r.ringWrites.Load(),
		RingOverflows:     r.ringOverflows.Load(),
		RingCorruptions:   r.ringCorruptions.Load(),
		Ticks:             r.ticks.Load(),
		BatchesWritten:    r.batchesWritten.Load(),
		EventsDropped:     drops,
		KeyRotations:      r.keyRotations.Load(),
		ArtifactsRetained: artifactsRetainedCount,
		Degraded:          r.degraded.Load(),
		LastTickAt:        time.Unix(0, r.lastTick.Load()),
		LastError:         lastErr,
		RingUtilization:   math.Float64frombits(r.ringUtilBits.Load()),
		QueuedBackupJobs:  int(r.queuedJobs.Load()),
	}
}
