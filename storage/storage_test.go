package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleproject/chronicle-core/event"
	"github.com/chronicleproject/chronicle-core/integrity"
)

func sampleRecords(n int, sessionID string) []*event.EventRecord {
	out := make([]*event.EventRecord, n)
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC).UnixNano()
	for i := 0; i < n; i++ {
		out[i] = &event.EventRecord{
			TimestampNS: base + int64(i)*1_000_000,
			EventType:   event.EventKeystroke,
			SessionID:   sessionID,
			EventID:     filepath.Join("evt", string(rune('a'+i%26))),
			Data:        []byte("payload"),
		}
	}
	return out
}

func TestWriteBatchRoundTrip(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(Config{Root: root, RowGroupSize: 4})
	require.NoError(t, err)

	when := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	records := sampleRecords(10, "sess-1")

	artifact, err := m.WriteBatch(records, when, "sess-1", 1, nil, integrity.AlgorithmBlake3, false)
	require.NoError(t, err)
	assert.FileExists(t, artifact.Path)
	assert.FileExists(t, artifact.Path[:len(artifact.Path)-len(".col")]+".meta.json")
	assert.Equal(t, 10, artifact.RecordCount)

	got, err := m.ReadRecords(artifact.Path, nil)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, records[0].SessionID, got[0].SessionID)
	assert.Equal(t, records[3].TimestampNS, got[3].TimestampNS)
}

func TestWriteBatchNoTmpFilesSurviveCleanShutdown(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(Config{Root: root})
	require.NoError(t, err)

	when := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = m.WriteBatch(sampleRecords(3, "sess-2"), when, "sess-2", 1, nil, integrity.AlgorithmBlake3, false)
	require.NoError(t, err)

	var tmpCount int
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && filepath.Ext(path) == ".tmp" {
			tmpCount++
		}
		return nil
	})
	assert.Zero(t, tmpCount)
}

// Scenario 2 from spec.md §8: a crash between the artifact temp fsync
// and its rename must leave no visible .col or .meta.json, and a
// restart's cleanup of stray *.tmp files must be safe since nothing
// references them.
func TestCrashBetweenTempFsyncAndRenameLeavesNoArtifact(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "2026", "03", "01")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	// Simulate the crash point directly: only the .tmp exists on disk.
	tmpPath := filepath.Join(dir, "sess-3_1.col.tmp")
	require.NoError(t, os.WriteFile(tmpPath, []byte("partial"), 0o644))

	m, err := NewManager(Config{Root: root})
	require.NoError(t, err)

	artifacts, err := m.List(time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	// Startup recovery: stray temps are simply removed, never referenced.
	require.NoError(t, os.Remove(tmpPath))
	_, err = os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(err))
}

func TestListSkipsArtifactsWithoutSidecar(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "2026", "04", "01")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sess-4_1.col"), []byte("x"), 0o644))

	m, err := NewManager(Config{Root: root})
	require.NoError(t, err)

	artifacts, err := m.List(time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestCleanupRemovesExpiredArtifacts(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(Config{Root: root, RetentionDays: 1})
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -5)
	recent := time.Now()

	oldArtifact, err := m.WriteBatch(sampleRecords(2, "old"), old, "old", 1, nil, integrity.AlgorithmBlake3, false)
	require.NoError(t, err)
	newArtifact, err := m.WriteBatch(sampleRecords(2, "new"), recent, "new", 1, nil, integrity.AlgorithmBlake3, false)
	require.NoError(t, err)

	result, err := m.Cleanup(time.Now())
	require.NoError(t, err)
	assert.Contains(t, result.RemovedArtifacts, oldArtifact.Path)
	assert.NotContains(t, result.RemovedArtifacts, newArtifact.Path)

	_, err = os.Stat(oldArtifact.Path)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, newArtifact.Path)
}

func TestGetMetadataMissingSidecar(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(Config{Root: root})
	require.NoError(t, err)

	_, err = m.GetMetadata(filepath.Join(root, "nope.col"))
	assert.ErrorIs(t, err, ErrSidecarMissing)
}
