package crypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	plaintext := []byte("sensitive data")

	encoded, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}

	decrypted, err := Decrypt(encoded, key)
	if err != nil {
		t.Fatalf("decrypt error: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("expected decrypted plaintext to match original, got %s", decrypted)
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(token) == 0 {
		t.Fatal("expected token to be non-empty")
	}
}

func TestDecryptRejectsTamperedPayload(t *testing.T) {
	key := bytes.Repeat([]byte{0x2}, 32)

	encoded, err := Encrypt([]byte("imap-password"), key)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}

	if _, err := Decrypt(encoded, bytes.Repeat([]byte{0x3}, 32)); err == nil {
		t.Fatal("expected decrypt with wrong key to fail")
	}
	if _, err := Decrypt("AAAA", key); err == nil {
		t.Fatal("expected short ciphertext to fail")
	}
}
