package security

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := "api-secret-abc123"

	sealed, err := EncryptString(secret)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if sealed == secret || strings.Contains(sealed, secret) {
		t.Fatal("sealed credential leaks plaintext")
	}

	// A fresh nonce every time means distinct ciphertexts.
	sealed2, err := EncryptString(secret)
	if err != nil {
		t.Fatalf("second encrypt failed: %v", err)
	}
	if sealed == sealed2 {
		t.Fatal("expected distinct ciphertexts for the same plaintext")
	}

	plain, err := DecryptString(sealed)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plain != secret {
		t.Fatalf("round trip mismatch: got %q", plain)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	if _, err := DecryptString("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := DecryptString("QUJD"); err == nil {
		t.Fatal("expected error for truncated input")
	}

	sealed, err := EncryptString("credential")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	tampered := []byte(sealed)
	tampered[len(tampered)-5] ^= 'X'
	if _, err := DecryptString(string(tampered)); err == nil {
		t.Fatal("expected authentication failure for tampered ciphertext")
	}
}
