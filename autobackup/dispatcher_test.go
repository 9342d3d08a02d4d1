package autobackup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleproject/chronicle-core/event"
	"github.com/chronicleproject/chronicle-core/integrity"
	"github.com/chronicleproject/chronicle-core/metrics"
	"github.com/chronicleproject/chronicle-core/storage"
)

type fakeWatcher struct {
	ch chan MountEvent
}

func (f *fakeWatcher) Events() <-chan MountEvent { return f.ch }

func sampleRecords(n int, sessionID string) []*event.EventRecord {
	out := make([]*event.EventRecord, n)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixNano()
	for i := 0; i < n; i++ {
		out[i] = &event.EventRecord{
			TimestampNS: base + int64(i)*1_000_000,
			EventType:   event.EventKeystroke,
			SessionID:   sessionID,
			EventID:     "evt-" + string(rune('a'+i)),
			Data:        []byte("payload"),
		}
	}
	return out
}

// TestBackupOnMount implements spec.md §8 scenario 5: every pre-existing
// artifact appears at the destination with a matching checksum, and
// with remove_local_after_backup unset the sources are preserved.
func TestBackupOnMount(t *testing.T) {
	root := t.TempDir()
	sm, err := storage.NewManager(storage.Config{Root: root})
	require.NoError(t, err)

	when := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = sm.WriteBatch(sampleRecords(5, "sess-1"), when, "sess-1", 1, nil, integrity.AlgorithmBlake3, false)
	require.NoError(t, err)
	_, err = sm.WriteBatch(sampleRecords(3, "sess-2"), when, "sess-2", 1, nil, integrity.AlgorithmBlake3, false)
	require.NoError(t, err)

	destMount := t.TempDir()
	rec := metrics.NewRecorder()
	d := NewDispatcher(Config{
		Targets: []Target{{Name: "backup-drive", Identifier: DriveIdentifier{UUID: "U"}}},
	}, sm, rec, nil)

	w := &fakeWatcher{ch: make(chan MountEvent, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, w)

	w.ch <- MountEvent{
		DriveIdentifier: DriveIdentifier{UUID: "U"},
		Action:          Mounted,
		MountPoint:      destMount,
		Timestamp:       time.Now(),
	}

	require.Eventually(t, func() bool {
		paths, _ := sm.List(time.Time{}, time.Now())
		for _, p := range paths {
			rel, _ := filepath.Rel(root, p)
			if _, err := os.Stat(filepath.Join(destMount, rel)); err != nil {
				return false
			}
		}
		return len(paths) == 2
	}, 2*time.Second, 10*time.Millisecond)

	paths, err := sm.List(time.Time{}, time.Now())
	require.NoError(t, err)
	require.Len(t, paths, 2)

	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)

		destArtifact := filepath.Join(destMount, rel)
		srcBytes, err := os.ReadFile(p)
		require.NoError(t, err)
		destBytes, err := os.ReadFile(destArtifact)
		require.NoError(t, err)
		assert.Equal(t, srcBytes, destBytes)

		// Sources are preserved: remove_local_after_backup defaults false.
		assert.FileExists(t, p)
	}
}

func TestOnMountEventDiscardsNonMatchingDrive(t *testing.T) {
	root := t.TempDir()
	sm, err := storage.NewManager(storage.Config{Root: root})
	require.NoError(t, err)

	d := NewDispatcher(Config{
		Targets: []Target{{Name: "backup-drive", Identifier: DriveIdentifier{UUID: "U"}}},
	}, sm, nil, nil)

	d.OnMountEvent(context.Background(), MountEvent{
		DriveIdentifier: DriveIdentifier{UUID: "other"},
		Action:          Mounted,
		MountPoint:      t.TempDir(),
	})

	d.mu.Lock()
	running := len(d.running)
	d.mu.Unlock()
	assert.Equal(t, 0, running, "a non-matching mount must never enqueue a job")
}

func TestUnmountCancelsPendingJob(t *testing.T) {
	root := t.TempDir()
	sm, err := storage.NewManager(storage.Config{Root: root})
	require.NoError(t, err)
	when := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = sm.WriteBatch(sampleRecords(2, "sess-1"), when, "sess-1", 1, nil, integrity.AlgorithmBlake3, false)
	require.NoError(t, err)

	d := NewDispatcher(Config{
		Targets: []Target{{Name: "backup-drive", Identifier: DriveIdentifier{UUID: "U"}}},
	}, sm, metrics.NewRecorder(), nil)

	d.OnMountEvent(context.Background(), MountEvent{
		DriveIdentifier: DriveIdentifier{UUID: "U"},
		Action:          Mounted,
		MountPoint:      t.TempDir(),
	})
	d.OnMountEvent(context.Background(), MountEvent{
		DriveIdentifier: DriveIdentifier{UUID: "U"},
		Action:          Unmounted,
	})

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		_, stillCancelable := d.cancels["backup-drive"]
		return !stillCancelable
	}, time.Second, 5*time.Millisecond)
}

func TestMatchTargetByUUIDOrLabel(t *testing.T) {
	targets := []Target{
		{Name: "by-label", Identifier: DriveIdentifier{VolumeLabel: "BACKUP"}},
		{Name: "by-uuid", Identifier: DriveIdentifier{UUID: "abc-123"}},
	}

	got, ok := matchTarget(targets, DriveIdentifier{UUID: "abc-123"})
	require.True(t, ok)
	assert.Equal(t, "by-uuid", got.Name)

	got, ok = matchTarget(targets, DriveIdentifier{VolumeLabel: "BACKUP"})
	require.True(t, ok)
	assert.Equal(t, "by-label", got.Name)

	_, ok = matchTarget(targets, DriveIdentifier{Serial: "nope"})
	assert.False(t, ok)
}
