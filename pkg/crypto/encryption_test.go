package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey(t), 1)
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}

	plaintext := "P12345678"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(ciphertext, "ENC[v1]:") {
		t.Fatalf("missing version prefix: %s", ciphertext)
	}
	if strings.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != plaintext {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	enc, _ := NewEncryptor(testKey(t), 1)
	a, _ := enc.Encrypt("same input")
	b, _ := enc.Encrypt("same input")
	if a == b {
		t.Fatal("two encryptions of the same input should differ")
	}
}

func TestInvalidKeySize(t *testing.T) {
	if _, err := NewEncryptor([]byte("short"), 1); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, _ := NewEncryptor(testKey(t), 1)
	for _, bad := range []string{"", "plaintext", "ENC[v1]", "ENC[v1]:!!!", "ENC[v1]:" + base64.StdEncoding.EncodeToString([]byte("tiny"))} {
		if _, err := enc.Decrypt(bad); err == nil {
			t.Fatalf("decrypt of %q should fail", bad)
		}
	}

	// Tampered ciphertext fails authentication.
	ct, _ := enc.Encrypt("document")
	tampered := ct[:len(ct)-2] + "AA"
	if _, err := enc.Decrypt(tampered); err == nil {
		t.Fatal("tampered ciphertext should fail")
	}
}

func TestParseVersion(t *testing.T) {
	if v := ParseVersion("ENC[v3]:abc"); v != 3 {
		t.Fatalf("version = %d, want 3", v)
	}
	if v := ParseVersion("not encrypted"); v != 0 {
		t.Fatalf("version = %d, want 0", v)
	}
}

func TestKeyManagerRotation(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	t.Setenv("MASTER_ENCRYPTION_KEY", k1)
	t.Setenv("MASTER_ENCRYPTION_KEY_V2", k2)

	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	if km.CurrentVersion() != 2 {
		t.Fatalf("current version = %d, want 2", km.CurrentVersion())
	}

	// Records written under v1 stay readable.
	v1enc, _ := NewEncryptor(mustDecode(t, k1), 1)
	old, _ := v1enc.Encrypt("legacy document")
	got, err := km.Decrypt(old)
	if err != nil || got != "legacy document" {
		t.Fatalf("decrypt v1 record: %q %v", got, err)
	}

	// Re-encryption moves them to the current version.
	fresh, err := km.ReEncrypt(old)
	if err != nil {
		t.Fatalf("re-encrypt: %v", err)
	}
	if ParseVersion(fresh) != 2 {
		t.Fatalf("re-encrypted version = %d, want 2", ParseVersion(fresh))
	}
}

func TestKeyManagerRequiresPrimaryKey(t *testing.T) {
	t.Setenv("MASTER_ENCRYPTION_KEY", "")
	if _, err := NewKeyManager(); err == nil {
		t.Fatal("missing primary key should fail")
	}
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return b
}
