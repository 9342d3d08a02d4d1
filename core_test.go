package chronicle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicleproject/chronicle-core/event"
	"github.com/chronicleproject/chronicle-core/packer"
	"github.com/chronicleproject/chronicle-core/storage"
)

func sampleEventBytes(t *testing.T, sessionID, eventID string) []byte {
	t.Helper()
	r := &event.EventRecord{
		TimestampNS: time.Now().UnixNano(),
		EventType:   event.EventKeystroke,
		SessionID:   sessionID,
		EventID:     eventID,
		Data:        []byte("x"),
	}
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	return b
}

// TestEnqueueTriggerProducesArtifact drives the full Enqueue -> manual
// Trigger -> on-disk artifact path end to end, the same integration shape
// as spec.md §8's testable properties but exercised through the public
// Core surface rather than the packer package directly.
func TestEnqueueTriggerProducesArtifact(t *testing.T) {
	root := t.TempDir()
	c, err := NewCore(Config{
		RingCapacity: 1 << 20,
		Storage:      storage.Config{Root: root},
		Packer:       packer.Config{TickSchedule: "@every 1h"},
	})
	require.NoError(t, err)

	require.NoError(t, c.Enqueue(sampleEventBytes(t, "sess-core", "evt-1")))
	require.NoError(t, c.Enqueue(sampleEventBytes(t, "sess-core", "evt-2")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx, nil))
	defer c.Stop()

	c.Trigger()

	require.Eventually(t, func() bool {
		return c.Snapshot().BatchesWritten >= 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap.RingWrites)
	assert.GreaterOrEqual(t, snap.ArtifactsRetained, 1)
}

func TestEnqueueTooLarge(t *testing.T) {
	root := t.TempDir()
	c, err := NewCore(Config{
		RingCapacity: 4096,
		Storage:      storage.Config{Root: root},
	})
	require.NoError(t, err)

	err = c.Enqueue(make([]byte, 4096))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestEnqueueFullUnderDropNewest(t *testing.T) {
	root := t.TempDir()
	c, err := NewCore(Config{
		RingCapacity:   256,
		OverflowPolicy: 0, // ring.DropNewest
		Storage:        storage.Config{Root: root},
	})
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < 100; i++ {
		lastErr = c.Enqueue(sampleEventBytes(t, "sess-overflow", "evt"))
	}
	assert.ErrorIs(t, lastErr, ErrFull)
}
