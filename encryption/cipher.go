package encryption

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Errors matching the encryption error kinds in spec.md §7.
var (
	ErrKeyNotFound          = errors.New("encryption: key_id not found")
	ErrAuthFailed           = errors.New("encryption: authentication failed")
	ErrMalformed            = errors.New("encryption: malformed artifact header")
	ErrKeyDerivationFailed  = errors.New("encryption: key derivation failed")
	ErrSecretStoreUnavailable = errors.New("encryption: secret store unavailable")
)

const (
	headerVersion  = 1
	algorithmName  = "chacha20poly1305"
	defaultArgonT  = 3
	defaultArgonM  = 64 * 1024 // KiB
	defaultArgonP  = 2
)

// header is the JSON structure framed ahead of the ciphertext, exactly as
// laid out in spec.md §4.3.
type header struct {
	Version   int       `json:"version"`
	Algorithm string    `json:"algorithm"`
	KDF       KDFParams `json:"kdf"`
	Salt      []byte    `json:"salt"`
	Nonce     []byte    `json:"nonce"`
	KeyID     uuid.UUID `json:"key_id"`
	AAD       []byte    `json:"aad,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Service is the per-process encryption service: it owns the current key,
// keeps retired keys around for decrypting older artifacts, and knows how
// to derive fresh keys from the passphrase in the secret store.
type Service struct {
	store           SecretStore
	serviceName     string
	account         string
	rotationEvery   time.Duration
	maxUsage        uint64

	table     atomic.Pointer[keyTable]
	rotations atomic.Uint64
}

type keyTable struct {
	current *Key
	byID    map[uuid.UUID]*Key
}

// NewService creates the encryption service and its first key, generating
// a passphrase on first run if the secret store has none yet.
func NewService(store SecretStore, serviceName, account string, rotationEvery time.Duration, maxUsage uint64) (*Service, error) {
	s := &Service{
		store:         store,
		serviceName:   serviceName,
		account:       account,
		rotationEvery: rotationEvery,
		maxUsage:      maxUsage,
	}

	k, err := s.deriveNewKey()
	if err != nil {
		return nil, err
	}
	s.table.Store(&keyTable{current: k, byID: map[uuid.UUID]*Key{k.ID: k}})
	return s, nil
}

func (s *Service) deriveNewKey() (*Key, error) {
	passphrase, err := EnsurePassphrase(s.store, s.serviceName, s.account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}

	params := KDFParams{Time: defaultArgonT, Memory: defaultArgonM, Threads: defaultArgonP, Salt: salt}
	secret := argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, chacha20poly1305.KeySize)

	return &Key{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		KDFParams: params,
		secret:    secret,
	}, nil
}

// CurrentKeyID returns the id of the key new artifacts will be encrypted
// under.
func (s *Service) CurrentKeyID() uuid.UUID {
	return s.table.Load().current.ID
}

// NeedsRotation reports whether the current key's age exceeds the
// rotation interval or its usage count has crossed the configured
// ceiling.
func (s *Service) NeedsRotation() bool {
	cur := s.table.Load().current
	if s.rotationEvery > 0 && time.Since(cur.CreatedAt) > s.rotationEvery {
		return true
	}
	if s.maxUsage > 0 && cur.UsageCount() >= s.maxUsage {
		return true
	}
	return false
}

// Rotate creates a new key, makes it current, and keeps the retired key
// in the table so it can still decrypt older artifacts.
func (s *Service) Rotate() error {
	newKey, err := s.deriveNewKey()
	if err != nil {
		return err
	}

	for {
		old := s.table.Load()
		next := &keyTable{current: newKey, byID: make(map[uuid.UUID]*Key, len(old.byID)+1)}
		for id, k := range old.byID {
			next.byID[id] = k
		}
		next.byID[newKey.ID] = newKey
		if s.table.CompareAndSwap(old, next) {
			s.rotations.Add(1)
			return nil
		}
	}
}

// Rotations returns how many times Rotate has completed.
func (s *Service) Rotations() uint64 { return s.rotations.Load() }

// Keys returns every key currently retained (current plus retired),
// ordered by creation time, for retention coordination with storage.
func (s *Service) Keys() []*Key {
	t := s.table.Load()
	out := make([]*Key, 0, len(t.byID))
	for _, k := range t.byID {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ForgetKey removes a retired key from the table. Callers must only do
// this once the storage retention pass has confirmed no surviving
// artifact references the key; it refuses to drop the current key.
func (s *Service) ForgetKey(id uuid.UUID) error {
	for {
		old := s.table.Load()
		if old.current.ID == id {
			return fmt.Errorf("encryption: refusing to forget current key %s", id)
		}
		if _, ok := old.byID[id]; !ok {
			return nil
		}
		next := &keyTable{current: old.current, byID: make(map[uuid.UUID]*Key, len(old.byID)-1)}
		for kid, k := range old.byID {
			if kid == id {
				k.Destroy()
				continue
			}
			next.byID[kid] = k
		}
		if s.table.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Encrypt encrypts plaintext under the current key, returning the framed
// artifact bytes: [u32 header_len][header JSON][ciphertext].
func (s *Service) Encrypt(plaintext, aad []byte) ([]byte, error) {
	key := s.table.Load().current

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}

	aead, err := chacha20poly1305.New(key.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)
	key.markUsed()

	h := header{
		Version:   headerVersion,
		Algorithm: algorithmName,
		KDF:       key.KDFParams,
		Salt:      key.KDFParams.Salt,
		Nonce:     nonce,
		KeyID:     key.ID,
		AAD:       aad,
		Timestamp: time.Now(),
	}
	hb, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encryption: marshaling header: %w", err)
	}

	out := make([]byte, 4+len(hb)+len(ciphertext))
	binary.LittleEndian.PutUint32(out, uint32(len(hb)))
	copy(out[4:], hb)
	copy(out[4+len(hb):], ciphertext)
	return out, nil
}

// Decrypt parses the header, locates key_id in the key table, and
// verifies the authentication tag.
func (s *Service) Decrypt(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrMalformed
	}
	hlen := binary.LittleEndian.Uint32(data)
	if uint64(hlen)+4 > uint64(len(data)) {
		return nil, ErrMalformed
	}

	var h header
	if err := json.Unmarshal(data[4:4+hlen], &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	key, ok := s.table.Load().byID[h.KeyID]
	if !ok {
		return nil, ErrKeyNotFound
	}

	aead, err := chacha20poly1305.New(key.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}

	ciphertext := data[4+hlen:]
	plaintext, err := aead.Open(nil, h.Nonce, ciphertext, h.AAD)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
