package autobackup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/chronicleproject/chronicle-core/integrity"
	"github.com/chronicleproject/chronicle-core/metrics"
	"github.com/chronicleproject/chronicle-core/storage"
)

// Target is one configured destination medium: an identifier to match
// mount events against, and whether a successful backup may delete the
// local source.
type Target struct {
	Name                   string
	Identifier             DriveIdentifier
	RemoveLocalAfterBackup bool
}

// Storage is the narrow C4 surface the dispatcher needs: enumerate
// artifacts and read their sidecars. It never writes through this
// interface — the dispatcher is a reader, per spec.md §5.
type Storage interface {
	Root() string
	List(from, to time.Time) ([]string, error)
	GetMetadata(path string) (*storage.Sidecar, error)
}

// Config configures a Dispatcher.
type Config struct {
	Targets       []Target
	RetryAttempts int
	RetryDelay    time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = 3
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 2 * time.Second
	}
	return out
}

// Dispatcher is C6: it matches mount events against configured targets
// and replicates artifacts onto the matching medium. It shares no
// mutable state with the packer except the committed artifact directory
// it reads through Storage, per spec.md §5.
type Dispatcher struct {
	cfg     Config
	storage Storage
	rec     *metrics.Recorder
	logger  log.Logger

	mu      sync.Mutex
	running map[string]bool
	cancels map[string]context.CancelFunc
}

// NewDispatcher constructs a Dispatcher. rec may be nil to disable metrics
// recording (tests).
func NewDispatcher(cfg Config, sm Storage, rec *metrics.Recorder, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Dispatcher{
		cfg:     cfg.withDefaults(),
		storage: sm,
		rec:     rec,
		logger:  logger,
		running: make(map[string]bool),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run consumes w.Events() until ctx is cancelled, dispatching each event
// to OnMountEvent. This is the dispatcher's own long-lived goroutine,
// independent of the packer's, matching spec.md §5's "the drainer and the
// auto-backup dispatcher run on independent tasks".
func (d *Dispatcher) Run(ctx context.Context, w Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-w.Events():
			if !ok {
				return
			}
			d.OnMountEvent(ctx, e)
		}
	}
}

// OnMountEvent implements spec.md §4.6: a matched Mounted event enqueues
// a replication job (at most one per target, running); an Unmounted
// event cancels a pending job for that target without touching work
// already completed; a non-matching event is discarded silently.
func (d *Dispatcher) OnMountEvent(ctx context.Context, e MountEvent) {
	target, ok := matchTarget(d.cfg.Targets, e.DriveIdentifier)
	if !ok {
		return
	}

	if e.Action == Unmounted {
		d.mu.Lock()
		if cancel, ok := d.cancels[target.Name]; ok {
			cancel()
			delete(d.cancels, target.Name)
		}
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	if d.running[target.Name] {
		d.mu.Unlock()
		level.Debug(d.logger).Log("msg", "auto-backup: job already running for target", "target", target.Name)
		return
	}
	d.running[target.Name] = true
	jobCtx, cancel := context.WithCancel(ctx)
	d.cancels[target.Name] = cancel
	d.mu.Unlock()
	d.setQueueGauge()

	go d.runJob(jobCtx, target, e.MountPoint)
}

func matchTarget(targets []Target, id DriveIdentifier) (Target, bool) {
	for _, t := range targets {
		if sameIdentifier(t.Identifier, id) {
			return t, true
		}
	}
	return Target{}, false
}

func (d *Dispatcher) runJob(ctx context.Context, target Target, mountPoint string) {
	defer func() {
		d.mu.Lock()
		delete(d.running, target.Name)
		delete(d.cancels, target.Name)
		d.mu.Unlock()
		d.setQueueGauge()
	}()

	artifacts, err := d.storage.List(time.Time{}, time.Now())
	if err != nil {
		level.Error(d.logger).Log("msg", "auto-backup: listing artifacts failed", "target", target.Name, "err", err)
		return
	}

	for _, path := range artifacts {
		select {
		case <-ctx.Done():
			return
		default:
		}

		destArtifact, err := d.destPath(mountPoint, path)
		if err != nil {
			level.Warn(d.logger).Log("msg", "auto-backup: resolving destination path", "artifact", path, "err", err)
			continue
		}

		if ok, _ := d.verifyDestination(path, destArtifact); ok {
			continue // already present on the target medium with a matching checksum
		}

		if err := d.copyWithRetry(ctx, path, destArtifact); err != nil {
			level.Warn(d.logger).Log("msg", "auto-backup: copy exhausted retries", "target", target.Name, "artifact", path, "err", err)
			if d.rec != nil {
				d.rec.BackupFailed()
			}
			continue
		}

		if d.rec != nil {
			d.rec.BackupCompleted()
		}

		if target.RemoveLocalAfterBackup {
			d.removeLocal(path)
		}
	}
}

func (d *Dispatcher) destPath(mountPoint, artifactPath string) (string, error) {
	rel, err := filepath.Rel(d.storage.Root(), artifactPath)
	if err != nil {
		return "", fmt.Errorf("autobackup: computing relative path for %s: %w", artifactPath, err)
	}
	return filepath.Join(mountPoint, rel), nil
}

func sidecarPathFor(artifactPath string) string {
	return strings.TrimSuffix(artifactPath, ".col") + ".meta.json"
}

// verifyDestination reports whether destArtifact already exists and its
// checksum matches the source's sidecar, per spec.md §8's backup
// property ("destination file's checksum equals source sidecar's
// checksum").
func (d *Dispatcher) verifyDestination(srcArtifact, destArtifact string) (bool, error) {
	sidecar, err := d.storage.GetMetadata(srcArtifact)
	if err != nil {
		return false, err
	}
	destBytes, err := os.ReadFile(destArtifact)
	if err != nil {
		return false, err
	}
	want := integrity.Digest{Algorithm: sidecar.ChecksumAlgo, Sum: sidecar.ChecksumSum}
	return integrity.Verify(want, destBytes)
}

// copyWithRetry copies the artifact and its sidecar to destArtifact,
// retrying up to cfg.RetryAttempts times with cfg.RetryDelay backoff on
// failure, per spec.md §4.6.
func (d *Dispatcher) copyWithRetry(ctx context.Context, srcArtifact, destArtifact string) error {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.RetryDelay):
			}
		}

		if err := d.copyOnce(srcArtifact, destArtifact); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (d *Dispatcher) copyOnce(srcArtifact, destArtifact string) error {
	srcSidecar := sidecarPathFor(srcArtifact)
	destSidecar := sidecarPathFor(destArtifact)

	if err := os.MkdirAll(filepath.Dir(destArtifact), 0o755); err != nil {
		return fmt.Errorf("autobackup: creating destination directory: %w", err)
	}
	if err := copyFile(srcArtifact, destArtifact); err != nil {
		return fmt.Errorf("autobackup: copying artifact: %w", err)
	}
	if err := copyFile(srcSidecar, destSidecar); err != nil {
		return fmt.Errorf("autobackup: copying sidecar: %w", err)
	}

	ok, err := d.verifyDestination(srcArtifact, destArtifact)
	if err != nil {
		return fmt.Errorf("autobackup: verifying destination: %w", err)
	}
	if !ok {
		_ = os.Remove(destArtifact)
		_ = os.Remove(destSidecar)
		return fmt.Errorf("autobackup: destination checksum mismatch for %s", srcArtifact)
	}
	return nil
}

// removeLocal deletes the local artifact and sidecar. Callers must only
// reach this after verifyDestination has confirmed a matching checksum
// on the destination, per spec.md §4.6's invariant.
func (d *Dispatcher) removeLocal(artifactPath string) {
	if err := os.Remove(artifactPath); err != nil && !os.IsNotExist(err) {
		level.Warn(d.logger).Log("msg", "auto-backup: removing local artifact", "artifact", artifactPath, "err", err)
		return
	}
	if err := os.Remove(sidecarPathFor(artifactPath)); err != nil && !os.IsNotExist(err) {
		level.Warn(d.logger).Log("msg", "auto-backup: removing local sidecar", "artifact", artifactPath, "err", err)
	}
}

func (d *Dispatcher) setQueueGauge() {
	if d.rec == nil {
		return
	}
	d.mu.Lock()
	n := len(d.running)
	d.mu.Unlock()
	d.rec.SetQueuedBackupJobs(n)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
