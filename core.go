// Package chronicle wires the ring buffer, packer, storage, encryption,
// and auto-backup components into the single Core entrypoint external
// collaborators (collectors, the query front end, the CLI) depend on.
// Construction is explicit: nothing here reaches for global mutable
// state, per spec.md §9's design notes.
package chronicle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"

	"github.com/chronicleproject/chronicle-core/autobackup"
	"github.com/chronicleproject/chronicle-core/encryption"
	"github.com/chronicleproject/chronicle-core/metrics"
	"github.com/chronicleproject/chronicle-core/packer"
	"github.com/chronicleproject/chronicle-core/ring"
	"github.com/chronicleproject/chronicle-core/storage"
)

// Config bundles every component's configuration into the one value
// NewCore needs. Zero-value sub-configs fall back to each component's own
// documented defaults.
type Config struct {
	RingCapacity   int
	OverflowPolicy ring.OverflowPolicy

	Storage storage.Config
	Packer  packer.Config

	// EncryptionEnabled, when true, constructs an encryption.Service
	// backed by Secrets (or an in-memory store if Secrets is nil) and
	// wires it into the packer so every artifact is encrypted at rest.
	EncryptionEnabled bool
	EncryptionService string        // secret-store service name
	EncryptionAccount string        // secret-store account name
	RotationInterval  time.Duration // 0 disables age-based rotation
	RotationMaxUsage  uint64        // 0 disables usage-based rotation
	Secrets           encryption.SecretStore

	AutoBackup autobackup.Config

	Logger log.Logger
}

// Core is the wired-together process: the ring producers enqueue into,
// the packer draining it into storage, and the auto-backup dispatcher
// replicating completed artifacts. Snapshot is the only read-only view
// it exposes of process-wide state.
type Core struct {
	cfg Config

	ring       *ring.Ring
	storage    *storage.Manager
	encryption *encryption.Service // nil when disabled
	packer     *packer.Packer
	backup     *autobackup.Dispatcher
	rec        *metrics.Recorder
	logger     log.Logger
}

// NewCore constructs every component and wires them together. It does
// not start any goroutines; call Start for that.
func NewCore(cfg Config) (*Core, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 8 << 20 // 8 MiB
	}
	r := ring.New(cfg.RingCapacity, cfg.OverflowPolicy)

	sm, err := storage.NewManager(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("chronicle: constructing storage manager: %w", err)
	}

	rec := metrics.NewRecorder()

	var encSvc *encryption.Service
	if cfg.EncryptionEnabled {
		store := cfg.Secrets
		if store == nil {
			store = encryption.NewMemorySecretStore()
		}
		service := cfg.EncryptionService
		if service == "" {
			service = "chronicle-core"
		}
		account := cfg.EncryptionAccount
		if account == "" {
			account = "default"
		}
		encSvc, err = encryption.NewService(store, service, account, cfg.RotationInterval, cfg.RotationMaxUsage)
		if err != nil {
			return nil, fmt.Errorf("chronicle: constructing encryption service: %w", err)
		}
	}

	p := packer.New(cfg.Packer, r, sm, encSvc, rec, logger)

	var backup *autobackup.Dispatcher
	if len(cfg.AutoBackup.Targets) > 0 {
		backup = autobackup.NewDispatcher(cfg.AutoBackup, sm, rec, logger)
	}

	return &Core{
		cfg:        cfg,
		ring:       r,
		storage:    sm,
		encryption: encSvc,
		packer:     p,
		backup:     backup,
		rec:        rec,
		logger:     logger,
	}, nil
}

// Start launches the packer's scheduler and, if configured, the
// auto-backup dispatcher's mount-event loop. Both run as independent
// long-lived goroutines, per spec.md §5.
func (c *Core) Start(ctx context.Context, mountWatcher autobackup.Watcher) error {
	if err := c.packer.Start(ctx); err != nil {
		return err
	}
	if c.backup != nil && mountWatcher != nil {
		go c.backup.Run(ctx, mountWatcher)
	}
	return nil
}

// Stop cooperatively shuts the packer down; the auto-backup dispatcher
// follows ctx cancellation instead, since it has no artifact-in-flight
// state to finalize.
func (c *Core) Stop() {
	c.packer.Stop()
}

// Enqueue is the producer API (spec.md §6): a single length-prefixed
// frame write into the ring. It never blocks except under the ring's
// Block overflow policy, and never calls into storage, encryption, or
// integrity directly — those only run on the drainer.
func (c *Core) Enqueue(eventBytes []byte) error {
	before := c.ring.Stats()
	err := c.ring.Write(eventBytes)
	after := c.ring.Stats()
	c.rec.RingOverflowDelta(after.Overflows - before.Overflows)
	c.rec.SetRingUtilization(after.Utilization)

	if err == nil {
		c.rec.RingWrite()
		return nil
	}

	switch {
	case errors.Is(err, ring.ErrFull):
		return ErrFull
	case errors.Is(err, ring.ErrTooLarge):
		return ErrTooLarge
	default:
		return err
	}
}

// Trigger requests an out-of-schedule packer tick.
func (c *Core) Trigger() { c.packer.Trigger() }

// Acknowledge clears a Degraded packer state after an operator has
// resolved the underlying condition.
func (c *Core) Acknowledge() error { return c.packer.Acknowledge() }

// Snapshot returns a point-in-time copy of process-wide status (spec.md
// §4.7/§6); it never blocks the drainer or producers.
func (c *Core) Snapshot() metrics.Status {
	retained, _ := c.storage.List(time.Time{}, time.Now())
	return c.rec.Snapshot(len(retained))
}
