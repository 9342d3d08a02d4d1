package integrity

import (
	"testing"

	"github.com/chronicleproject/chronicle-core/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumVerify(t *testing.T) {
	data := []byte("artifact bytes")
	d, err := Checksum(AlgorithmBlake3, data)
	require.NoError(t, err)

	ok, err := Verify(d, data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(d, []byte("tampered"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecksumSHA256Alternate(t *testing.T) {
	d, err := Checksum(AlgorithmSHA256, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, AlgorithmSHA256, d.Algorithm)
	assert.Len(t, d.Sum, 32)
}

func TestValidateEvents(t *testing.T) {
	batch := []*event.EventRecord{
		{EventType: event.EventKeystroke, SessionID: "s1", EventID: "e1"},
		{EventType: event.EventUnknown, SessionID: "s1", EventID: "e2"},
		{EventType: event.EventKeystroke, SessionID: "", EventID: "e3"},
	}

	results := ValidateEvents(batch)
	require.Len(t, results, 3)
	assert.True(t, results[0].Valid)
	assert.False(t, results[1].Valid)
	assert.Equal(t, ReasonUnknownType, results[1].Reason)
	assert.False(t, results[2].Valid)
	assert.Equal(t, ReasonEmptySession, results[2].Reason)

	valid, dropped := Split(results)
	assert.Len(t, valid, 1)
	assert.Equal(t, 1, dropped[ReasonUnknownType])
	assert.Equal(t, 1, dropped[ReasonEmptySession])
}

func TestCheckTemporalConsistency(t *testing.T) {
	ok := CheckTemporalConsistency([]*event.EventRecord{
		{TimestampNS: 100},
		{TimestampNS: 200},
		{TimestampNS: 199}, // within tolerance
	}, DefaultTolerance)
	assert.True(t, ok.OK)

	violation := CheckTemporalConsistency([]*event.EventRecord{
		{TimestampNS: 1_000_000_000},
		{TimestampNS: 0},
	}, DefaultTolerance)
	assert.False(t, violation.OK)
	assert.Equal(t, 1, violation.FirstViolationAt)
}

func TestSchemaCompatibility(t *testing.T) {
	reader := SchemaVersion{1, 1, 0}
	assert.True(t, IsCompatible(reader, SchemaVersion{1, 0, 0}))
	assert.True(t, IsCompatible(reader, SchemaVersion{1, 1, 0}))
	assert.False(t, IsCompatible(reader, SchemaVersion{1, 2, 0}))
	assert.False(t, IsCompatible(reader, SchemaVersion{2, 0, 0}))
}

// Scenario 4 from spec.md §8: migrate a v1.0.0 batch to v1.1.0.
func TestMigrateAcrossVersions(t *testing.T) {
	reg := NewRegistry()
	batch := []*event.EventRecord{
		{EventType: event.EventKeystroke, SessionID: "s1", EventID: "e1", TimestampNS: 1},
	}

	migrated, err := reg.Migrate(batch, SchemaVersion{1, 0, 0}, SchemaVersion{1, 1, 0})
	require.NoError(t, err)
	require.Len(t, migrated, 1)

	results := ValidateEvents(migrated)
	assert.True(t, results[0].Valid)
}

func TestMigrateNoPath(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Migrate(nil, SchemaVersion{1, 0, 0}, SchemaVersion{9, 9, 9})
	require.Error(t, err)
	var noPath *NoMigrationPath
	assert.ErrorAs(t, err, &noPath)
}
