package core_test

import (
	"bytes"
	"testing"

	. "github.com/solacechain/node/core"
)

func TestSecretFileEncryptDecryptRoundTrip(t *testing.T) {
	key := [32]byte{1, 2, 3, 4}
	plaintext := []byte("ed25519 seed bytes go here......")
	sealed, err := EncryptSecretFile(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("sealed blob must not contain the plaintext verbatim")
	}
	got, err := DecryptSecretFile(key, sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected decrypted plaintext to round-trip, got %q", got)
	}
}

func TestSecretFileDecryptRejectsWrongKey(t *testing.T) {
	key := [32]byte{1}
	wrongKey := [32]byte{2}
	sealed, err := EncryptSecretFile(key, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptSecretFile(wrongKey, sealed); err == nil {
		t.Fatalf("expected decryption under the wrong key to fail")
	}
}

func TestSecretFileDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := [32]byte{9}
	sealed, err := EncryptSecretFile(key, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := DecryptSecretFile(key, tampered); err == nil {
		t.Fatalf("expected decryption of tampered ciphertext to fail")
	}
}

func TestSecretFileDecryptRejectsTruncatedBlob(t *testing.T) {
	key := [32]byte{9}
	if _, err := DecryptSecretFile(key, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected decryption of a too-short blob to fail")
	}
}
