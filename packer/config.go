package packer

import "time"

// Config configures a Packer. Zero values fall back to the documented
// defaults below, matching spec.md §4.5's "default: nightly" / "default
// 30s" wording. The compression level is not set here; storage.Config's
// ZstdLevel defaults to 1.
type Config struct {
	// BatchBytes bounds a single read_batch call against the ring.
	BatchBytes int

	// TickSchedule is a robfig/cron/v3 expression; empty uses
	// DefaultTickSchedule (nightly at 02:00).
	TickSchedule string

	// RetentionEveryNTicks runs storage.Cleanup + key cleanup every N
	// ticks; 0 disables retention (the packer then never runs Cleanup).
	RetentionEveryNTicks int

	// StopDeadline bounds how long Stop waits for the in-flight tick to
	// finish before it is abandoned.
	StopDeadline time.Duration

	// TemporalToleranceNS is passed to integrity.CheckTemporalConsistency.
	TemporalToleranceNS int64

	// ChecksumAlgorithm picks the integrity.Algorithm artifacts are
	// checksummed with.
	ChecksumAlgorithm string
}

const (
	DefaultTickSchedule = "0 2 * * *"
	DefaultStopDeadline = 30 * time.Second
)

func (c Config) withDefaults() Config {
	out := c
	if out.BatchBytes <= 0 {
		out.BatchBytes = 1 << 20
	}
	if out.TickSchedule == "" {
		out.TickSchedule = DefaultTickSchedule
	}
	if out.StopDeadline <= 0 {
		out.StopDeadline = DefaultStopDeadline
	}
	if out.TemporalToleranceNS <= 0 {
		out.TemporalToleranceNS = 50 * 1_000_000
	}
	if out.ChecksumAlgorithm == "" {
		out.ChecksumAlgorithm = "blake3-256"
	}
	return out
}
