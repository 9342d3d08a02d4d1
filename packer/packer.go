package packer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	cron "github.com/robfig/cron/v3"

	"github.com/chronicleproject/chronicle-core/encryption"
	"github.com/chronicleproject/chronicle-core/event"
	"github.com/chronicleproject/chronicle-core/integrity"
	"github.com/chronicleproject/chronicle-core/metrics"
	"github.com/chronicleproject/chronicle-core/ring"
	"github.com/chronicleproject/chronicle-core/storage"
)

// Storage is the narrow slice of *storage.Manager the pipeline needs;
// accepting the interface rather than the concrete type lets tests drive
// the Degraded transition deterministically instead of forcing a real
// disk-full condition.
type Storage interface {
	WriteBatch(records []*event.EventRecord, when time.Time, sessionID string, seq uint64, enc storage.Encryptor, alg integrity.Algorithm, temporalWarning bool) (*storage.Artifact, error)
	Cleanup(now time.Time) (*storage.CleanupResult, error)
	List(from, to time.Time) ([]string, error)
}

// Packer is the drainer (C5): it owns the state machine, the tick
// scheduler, and the sequential pipeline that turns ring bytes into
// storage artifacts.
type Packer struct {
	cfg Config

	ring    *ring.Ring
	storage Storage
	enc     *encryption.Service // nil disables encryption
	rec     *metrics.Recorder
	logger  log.Logger

	cron      *cron.Cron
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	stateMu sync.Mutex
	state   State

	tickCount atomic.Uint64
	seqMu     sync.Mutex
	seqBySession map[string]uint64

	degradedReason atomic.Value // string
}

// New constructs a Packer. enc may be nil to disable encryption.
func New(cfg Config, r *ring.Ring, sm Storage, enc *encryption.Service, rec *metrics.Recorder, logger log.Logger) *Packer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Packer{
		cfg:          cfg.withDefaults(),
		ring:         r,
		storage:      sm,
		enc:          enc,
		rec:          rec,
		logger:       logger,
		triggerCh:    make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		state:        StateInit,
		seqBySession: make(map[string]uint64),
	}
}

func (p *Packer) setState(to State) error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if !canTransition(p.state, to) {
		return fmt.Errorf("packer: invalid transition %s -> %s", p.state, to)
	}
	p.state = to
	p.rec.SetDegraded(to == StateDegraded)
	return nil
}

// State returns the current lifecycle state.
func (p *Packer) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// Start transitions Init -> Running and launches the cron scheduler plus
// the trigger-consuming goroutine, mirroring New()'s `go
// rw.runBlockListPollLoop()` fire-and-forget launch in friggdb.go.
func (p *Packer) Start(ctx context.Context) error {
	if err := p.setState(StateRunning); err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc(p.cfg.TickSchedule, p.Trigger); err != nil {
		return fmt.Errorf("packer: invalid tick schedule %q: %w", p.cfg.TickSchedule, err)
	}
	c.Start()
	p.cron = c

	go p.run(ctx)
	return nil
}

// Trigger requests an out-of-schedule tick; it is non-blocking and
// coalesces with any already-pending trigger.
func (p *Packer) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

func (p *Packer) run(ctx context.Context) {
	defer close(p.doneCh)
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case <-p.stopCh:
			p.shutdown()
			return
		case <-p.triggerCh:
			p.runTick(ctx)
		}
	}
}

func (p *Packer) runTick(ctx context.Context) {
	if p.State() == StateDegraded {
		return
	}
	if err := p.setState(StateProcessing); err != nil {
		level.Warn(p.logger).Log("msg", "skipping tick, invalid state transition", "err", err)
		return
	}

	tickCtx, cancel := context.WithTimeout(ctx, p.cfg.StopDeadline)
	defer cancel()

	result := p.tick(tickCtx)
	p.rec.Tick()
	p.rec.SetLastError(result.err)

	if result.fatal {
		p.degradedReason.Store(result.err.Error())
		level.Error(p.logger).Log("msg", "packer entering degraded state", "err", result.err)
		_ = p.setState(StateDegraded)
		return
	}

	_ = p.setState(StateRunning)

	n := p.tickCount.Add(1)
	if p.cfg.RetentionEveryNTicks > 0 && n%uint64(p.cfg.RetentionEveryNTicks) == 0 {
		p.runRetention()
	}
}

// Acknowledge clears a Degraded state after an operator has resolved the
// underlying condition (e.g. freed disk space), matching spec.md §4.5's
// "Degraded ... operator ack -> Stopped" edge generalized to allow
// resuming Running instead of only stopping.
func (p *Packer) Acknowledge() error {
	p.stateMu.Lock()
	if p.state != StateDegraded {
		p.stateMu.Unlock()
		return fmt.Errorf("packer: Acknowledge called while not degraded")
	}
	p.state = StateRunning
	p.stateMu.Unlock()
	p.rec.SetDegraded(false)
	return nil
}

// Stop cooperatively signals the run loop to finish the in-flight tick
// and exit, waiting up to cfg.StopDeadline.
func (p *Packer) Stop() {
	p.stateMu.Lock()
	cur := p.state
	p.stateMu.Unlock()
	if cur == StateStopped {
		return
	}
	_ = p.setState(StateStopping)

	close(p.stopCh)
	select {
	case <-p.doneCh:
	case <-time.After(p.cfg.StopDeadline):
	}
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	_ = p.setState(StateStopped)
}

func (p *Packer) shutdown() {
	// no-op hook kept distinct from Stop() so ctx cancellation and an
	// explicit Stop() call share one exit path.
}

func (p *Packer) nextSeq(sessionID string) uint64 {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	p.seqBySession[sessionID]++
	return p.seqBySession[sessionID]
}

func (p *Packer) checksumAlgorithm() integrity.Algorithm {
	return integrity.Algorithm(p.cfg.ChecksumAlgorithm)
}
