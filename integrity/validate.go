package integrity

import (
	"fmt"

	"github.com/chronicleproject/chronicle-core/event"
	"github.com/chronicleproject/chronicle-core/internal/util"
)

// Reason tags why a single event failed validation. Hard reasons cause the
// event to be dropped and counted; spec.md draws no soft/hard distinction
// for validate_events itself (that lives in check_temporal_consistency).
type Reason string

const (
	ReasonUnknownType  Reason = "unknown_event_type"
	ReasonEmptySession Reason = "empty_session_id"
	ReasonEmptyEventID Reason = "empty_event_id"
	ReasonDataTooLarge Reason = "data_too_large"
)

// EventResult is the per-event outcome of validate_events.
type EventResult struct {
	Record *event.EventRecord
	Valid  bool
	Reason Reason
}

// ValidateEvents enforces required fields, size bounds, and tag
// membership over a batch, returning one result per input record in
// order.
func ValidateEvents(batch []*event.EventRecord) []EventResult {
	out := make([]EventResult, len(batch))
	for i, r := range batch {
		out[i] = validateOne(r)
	}
	return out
}

func validateOne(r *event.EventRecord) EventResult {
	if !r.EventType.Valid() {
		return EventResult{Record: r, Reason: ReasonUnknownType}
	}
	if !util.ValidSessionID(r.SessionID) {
		return EventResult{Record: r, Reason: ReasonEmptySession}
	}
	if !util.ValidEventID(r.EventID) {
		return EventResult{Record: r, Reason: ReasonEmptyEventID}
	}
	if err := util.CheckSize("data", r.Data, util.MaxEventDataBytes); err != nil {
		return EventResult{Record: r, Reason: ReasonDataTooLarge}
	}
	return EventResult{Record: r, Valid: true}
}

// Split partitions validate_events results into the records that passed
// and a count of drops per reason, the shape the packer needs to both
// continue the pipeline and annotate artifact metadata.
func Split(results []EventResult) (valid []*event.EventRecord, dropped map[Reason]int) {
	dropped = make(map[Reason]int)
	for _, res := range results {
		if res.Valid {
			valid = append(valid, res.Record)
			continue
		}
		dropped[res.Reason]++
	}
	return valid, dropped
}

// Error pairs a named integrity error kind from spec.md §7
// (ChecksumMismatch, SchemaMismatch, NoMigrationPath) with its cause. No
// function in this package returns it; Migrate reports a missing path as
// *NoMigrationPath.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("integrity: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }
