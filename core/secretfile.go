package core

// secretfile.go encrypts the validator's signer seed at rest, grounded on
// core/security.go's Encrypt/Decrypt (there: XChaCha20-Poly1305 over
// arbitrary payloads; here: narrowed to exactly the signer seed file).

import (
	cryptorand "crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptSecretFile seals plaintext (the signer seed, typically) under key
// using XChaCha20-Poly1305, returning nonce||ciphertext.
func EncryptSecretFile(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("secretfile: new aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := cryptorand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secretfile: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSecretFile reverses EncryptSecretFile.
func DecryptSecretFile(key [32]byte, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("secretfile: new aead: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("secretfile: sealed blob too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("secretfile: decrypt: %w", err)
	}
	return pt, nil
}
