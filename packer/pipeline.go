package packer

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log/level"

	"github.com/chronicleproject/chronicle-core/event"
	"github.com/chronicleproject/chronicle-core/integrity"
	"github.com/chronicleproject/chronicle-core/storage"
)

type tickResult struct {
	err   error
	fatal bool
}

// tick runs the nine-step pipeline spec.md §4.5 describes: read_batch,
// parse, validate_events, check_temporal_consistency, serialize (the
// columnar encode lives inside storage.WriteBatch), compress (ditto),
// encrypt (ditto, via the Encryptor passed to WriteBatch), write, update
// counters.
func (p *Packer) tick(ctx context.Context) tickResult {
	before := p.ring.Stats()
	frames, err := p.ring.ReadBatch(p.cfg.BatchBytes)
	after := p.ring.Stats()
	p.rec.RingCorruptionDelta(after.Corruptions - before.Corruptions)
	p.rec.SetRingUtilization(after.Utilization)
	if err != nil {
		return tickResult{err: err}
	}
	if len(frames) == 0 {
		return tickResult{}
	}

	records := make([]*event.EventRecord, 0, len(frames))
	for _, f := range frames {
		r := &event.EventRecord{}
		if err := r.UnmarshalBinary(f); err != nil {
			p.rec.EventDropped("malformed_frame")
			continue
		}
		records = append(records, r)
	}
	if len(records) == 0 {
		return tickResult{}
	}

	results := integrity.ValidateEvents(records)
	valid, dropped := integrity.Split(results)
	for reason, n := range dropped {
		for i := 0; i < n; i++ {
			p.rec.EventDropped(string(reason))
		}
	}
	if len(valid) == 0 {
		return tickResult{}
	}

	temporal := integrity.CheckTemporalConsistency(valid, p.cfg.TemporalToleranceNS)

	var lastErr error
	for sessionID, group := range groupBySession(valid) {
		if err := p.writeGroupWithRetry(ctx, sessionID, group, !temporal.OK); err != nil {
			var fatalErr *storage.FatalError
			if errors.As(err, &fatalErr) {
				return tickResult{err: err, fatal: true}
			}
			level.Warn(p.logger).Log("msg", "dropping batch after retry exhausted", "session", sessionID, "err", err)
			lastErr = err
			continue
		}
		p.rec.BatchWritten()
	}

	if p.enc != nil && p.enc.NeedsRotation() {
		if err := p.enc.Rotate(); err != nil {
			level.Error(p.logger).Log("msg", "key rotation failed", "err", err)
		} else {
			p.rec.KeyRotated()
		}
	}

	return tickResult{err: lastErr}
}

// writeGroupWithRetry implements spec.md §4.5's "re-queued once; if it
// fails twice ... advances past the batch" rule. The bytes are never
// restored to the ring — they were already consumed by ReadBatch.
func (p *Packer) writeGroupWithRetry(ctx context.Context, sessionID string, group []*event.EventRecord, temporalWarning bool) error {
	var enc storage.Encryptor
	if p.enc != nil {
		enc = &encryptorAdapter{svc: p.enc}
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		seq := p.nextSeq(sessionID)
		_, err := p.storage.WriteBatch(group, time.Now(), sessionID, seq, enc, p.checksumAlgorithm(), temporalWarning)
		if err == nil {
			return nil
		}

		var fatalErr *storage.FatalError
		if errors.As(err, &fatalErr) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// groupBySession partitions records into per-session groups, preserving
// within-session enqueue order, matching spec.md §5's ordering guarantee.
func groupBySession(records []*event.EventRecord) map[string][]*event.EventRecord {
	groups := make(map[string][]*event.EventRecord)
	for _, r := range records {
		groups[r.SessionID] = append(groups[r.SessionID], r)
	}
	return groups
}

func (p *Packer) runRetention() {
	result, err := p.storage.Cleanup(time.Now())
	if err != nil {
		level.Error(p.logger).Log("msg", "retention cleanup failed", "err", err)
		return
	}
	if remaining, err := p.storage.List(time.Time{}, time.Now()); err == nil {
		p.rec.SetArtifactsRetained(len(remaining))
	}

	if p.enc == nil {
		return
	}
	for _, key := range p.enc.Keys() {
		if key.ID == p.enc.CurrentKeyID() {
			continue
		}
		if result.SurvivingKeyIDs[key.ID.String()] {
			continue
		}
		if err := p.enc.ForgetKey(key.ID); err != nil {
			level.Warn(p.logger).Log("msg", "failed to forget retired key", "key_id", key.ID, "err", err)
		}
	}
}
