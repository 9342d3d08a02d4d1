package integrity

import "github.com/chronicleproject/chronicle-core/event"

// DefaultTolerance absorbs producer reorderings within a batch: 50ms, the
// figure spec.md §4.2 gives as an example.
const DefaultTolerance int64 = 50 * 1_000_000 // nanoseconds

// TemporalResult is the outcome of check_temporal_consistency.
type TemporalResult struct {
	OK               bool
	FirstViolationAt int // index into the batch, -1 if OK
}

// CheckTemporalConsistency enforces that timestamps are non-decreasing
// within a batch modulo toleranceNS. A violation does not drop data; it
// only flags the artifact (temporal_ok=false in the sidecar).
func CheckTemporalConsistency(batch []*event.EventRecord, toleranceNS int64) TemporalResult {
	if toleranceNS <= 0 {
		toleranceNS = DefaultTolerance
	}
	var prev int64
	for i, r := range batch {
		if i > 0 && r.TimestampNS < prev-toleranceNS {
			return TemporalResult{OK: false, FirstViolationAt: i}
		}
		if r.TimestampNS > prev {
			prev = r.TimestampNS
		}
	}
	return TemporalResult{OK: true, FirstViolationAt: -1}
}
