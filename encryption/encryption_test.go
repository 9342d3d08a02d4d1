package encryption

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := NewMemorySecretStore()
	svc, err := NewService(store, "chronicle-test", "default", 0, 0)
	require.NoError(t, err)
	return svc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t)

	plaintext := []byte("a keystroke event payload")
	aad := []byte("session-123")

	artifact, err := svc.Encrypt(plaintext, aad)
	require.NoError(t, err)

	got, err := svc.Decrypt(artifact)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	svc := newTestService(t)

	artifact, err := svc.Encrypt([]byte("payload"), []byte("aad-a"))
	require.NoError(t, err)

	// Tamper: corrupt a byte in the ciphertext region, not the header.
	corrupted := make([]byte, len(artifact))
	copy(corrupted, artifact)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = svc.Decrypt(corrupted)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDecryptUnknownKeyID(t *testing.T) {
	svc := newTestService(t)
	artifact, err := svc.Encrypt([]byte("payload"), nil)
	require.NoError(t, err)

	// A second, independent service has never heard of the first
	// service's key, so it must fail closed with ErrKeyNotFound.
	other := newTestService(t)
	_, err = other.Decrypt(artifact)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMalformedArtifact(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Decrypt([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = svc.Decrypt([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNeedsRotationByUsageCount(t *testing.T) {
	svc, err := NewService(NewMemorySecretStore(), "chronicle-test", "default", 0, 3)
	require.NoError(t, err)

	assert.False(t, svc.NeedsRotation())
	for i := 0; i < 3; i++ {
		_, err := svc.Encrypt([]byte("x"), nil)
		require.NoError(t, err)
	}
	assert.True(t, svc.NeedsRotation())
}

func TestNeedsRotationByAge(t *testing.T) {
	svc, err := NewService(NewMemorySecretStore(), "chronicle-test", "default", time.Nanosecond, 0)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	assert.True(t, svc.NeedsRotation())
}

// Scenario 3 from spec.md §8: encrypt under key 1, rotate, encrypt under
// key 2, and confirm both artifacts remain decryptable after rotation.
func TestKeyRotationContinuity(t *testing.T) {
	svc := newTestService(t)

	firstKeyID := svc.CurrentKeyID()
	artifactOne, err := svc.Encrypt([]byte("before rotation"), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Rotate())
	assert.Equal(t, uint64(1), svc.Rotations())
	assert.NotEqual(t, firstKeyID, svc.CurrentKeyID())

	artifactTwo, err := svc.Encrypt([]byte("after rotation"), nil)
	require.NoError(t, err)

	gotOne, err := svc.Decrypt(artifactOne)
	require.NoError(t, err)
	assert.Equal(t, []byte("before rotation"), gotOne)

	gotTwo, err := svc.Decrypt(artifactTwo)
	require.NoError(t, err)
	assert.Equal(t, []byte("after rotation"), gotTwo)

	assert.Len(t, svc.Keys(), 2)
}

func TestForgetKeyRefusesCurrent(t *testing.T) {
	svc := newTestService(t)
	err := svc.ForgetKey(svc.CurrentKeyID())
	assert.Error(t, err)
}

func TestForgetRetiredKeyBreaksOldArtifacts(t *testing.T) {
	svc := newTestService(t)

	artifact, err := svc.Encrypt([]byte("payload"), nil)
	require.NoError(t, err)
	retiredID := svc.CurrentKeyID()

	require.NoError(t, svc.Rotate())
	require.NoError(t, svc.ForgetKey(retiredID))

	_, err = svc.Decrypt(artifact)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
