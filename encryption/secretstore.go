package encryption

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

// SecretStore is the OS-backed key-value accessor spec.md §6 names as an
// external collaborator: a passphrase lives here, never on disk as
// plaintext next to an artifact.
type SecretStore interface {
	Get(service, account string) ([]byte, bool, error)
	Put(service, account string, secret []byte) error
}

// MemorySecretStore is an in-process SecretStore for tests and for
// platforms with no OS keychain; it never touches disk.
type MemorySecretStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemorySecretStore returns an empty in-memory store.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{items: make(map[string][]byte)}
}

func (m *MemorySecretStore) Get(service, account string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[service+"/"+account]
	return b, ok, nil
}

func (m *MemorySecretStore) Put(service, account string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[service+"/"+account] = secret
	return nil
}

// KeyringSecretStore backs SecretStore with the OS credential store
// (macOS Keychain, Windows Credential Manager, the Linux Secret Service,
// or an encrypted file fallback) via github.com/99designs/keyring.
type KeyringSecretStore struct {
	ring keyring.Keyring
}

// NewKeyringSecretStore opens the OS secret store under the given
// application name.
func NewKeyringSecretStore(appName string) (*KeyringSecretStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: appName,
	})
	if err != nil {
		return nil, fmt.Errorf("encryption: opening secret store: %w", err)
	}
	return &KeyringSecretStore{ring: ring}, nil
}

func (k *KeyringSecretStore) Get(service, account string) ([]byte, bool, error) {
	item, err := k.ring.Get(itemKey(service, account))
	if err == keyring.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Data, true, nil
}

func (k *KeyringSecretStore) Put(service, account string, secret []byte) error {
	return k.ring.Set(keyring.Item{
		Key:  itemKey(service, account),
		Data: secret,
	})
}

func itemKey(service, account string) string {
	return service + "::" + account
}

// EnsurePassphrase fetches the passphrase for (service, account),
// generating and persisting a fresh random one on first run, matching
// the key lifecycle in spec.md §3 ("generated on first run").
func EnsurePassphrase(store SecretStore, service, account string) ([]byte, error) {
	existing, ok, err := store.Get(service, account)
	if err != nil {
		return nil, fmt.Errorf("encryption: secret store unavailable: %w", err)
	}
	if ok {
		return existing, nil
	}

	passphrase := make([]byte, 32)
	if _, err := rand.Read(passphrase); err != nil {
		return nil, fmt.Errorf("encryption: generating passphrase: %w", err)
	}
	if err := store.Put(service, account, passphrase); err != nil {
		return nil, fmt.Errorf("encryption: persisting passphrase: %w", err)
	}
	return passphrase, nil
}
