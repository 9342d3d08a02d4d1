package packer

import "github.com/chronicleproject/chronicle-core/encryption"

// encryptorAdapter bridges *encryption.Service to storage.Encryptor, whose
// narrow interface asks for the key id as a string rather than a
// uuid.UUID — storage has no reason to import the encryption package's
// uuid dependency just to print an id.
type encryptorAdapter struct {
	svc *encryption.Service
}

func (e *encryptorAdapter) Encrypt(plaintext, aad []byte) ([]byte, error) {
	return e.svc.Encrypt(plaintext, aad)
}

func (e *encryptorAdapter) CurrentKeyIDString() string {
	return e.svc.CurrentKeyID().String()
}
