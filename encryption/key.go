// Package encryption implements spec.md §4.3: per-file authenticated
// encryption with Argon2-derived 256-bit keys, header framing, and
// rotation. The key table is a read-mostly snapshot, swapped wholesale on
// rotation the same way friggdb's readerWriter swaps its blockLists map
// after each poll, rather than guarded by a per-read mutex.
package encryption

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// KDFParams captures the Argon2id cost parameters used to derive a key,
// stored alongside the key so decryption of older artifacts can still
// reproduce the exact derivation even after defaults change.
type KDFParams struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
	Salt    []byte
}

// Key is one generation of the derived symmetric key plus its metadata.
// The derived bytes live only in memory and are zeroed when the key is
// dropped; the passphrase that produced them is never persisted by this
// package.
type Key struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	KDFParams  KDFParams
	usageCount atomic.Uint64

	secret []byte // 32 bytes, derived, zeroed on Destroy
}

// UsageCount returns how many times this key has been used to encrypt.
func (k *Key) UsageCount() uint64 { return k.usageCount.Load() }

func (k *Key) markUsed() { k.usageCount.Inc() }

// Expired reports whether the key's expires_at has passed.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Destroy zeroes the derived secret in place. It does not remove the key
// from any table; callers must only destroy a key once retention has
// confirmed no surviving artifact references it (spec.md §4.3).
func (k *Key) Destroy() {
	for i := range k.secret {
		k.secret[i] = 0
	}
}
