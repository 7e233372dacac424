package security

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func fakeSigner(err error) Signer {
	return func(data []byte) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(append([]byte("fake-signature:"), data...))
		return sum[:], nil
	}
}

func TestEnsureChallenge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "challenge.bin")

	c1, err := EnsureChallenge(path)
	if err != nil {
		t.Fatalf("EnsureChallenge() error = %v", err)
	}

	c2, err := EnsureChallenge(path)
	if err != nil {
		t.Fatalf("EnsureChallenge() second call error = %v", err)
	}

	if c1 != c2 {
		t.Error("EnsureChallenge() should return the same challenge on repeated calls")
	}
}

func TestEnsureChallenge_RejectsBadLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "challenge.bin")

	if err := os.WriteFile(path, []byte("too-short"), 0600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := EnsureChallenge(path); err == nil {
		t.Error("EnsureChallenge() should reject a file with the wrong length")
	}
}

func TestDeriveWrapKey(t *testing.T) {
	challenge, err := EnsureChallenge(filepath.Join(t.TempDir(), "challenge.bin"))
	if err != nil {
		t.Fatalf("EnsureChallenge() error = %v", err)
	}

	k1, err := DeriveWrapKey(fakeSigner(nil), challenge)
	if err != nil {
		t.Fatalf("DeriveWrapKey() error = %v", err)
	}
	k2, err := DeriveWrapKey(fakeSigner(nil), challenge)
	if err != nil {
		t.Fatalf("DeriveWrapKey() second call error = %v", err)
	}
	if k1 != k2 {
		t.Error("DeriveWrapKey() should be deterministic for the same challenge and signer")
	}
}

func TestDeriveWrapKey_SignerError(t *testing.T) {
	challenge := [ChallengeSize]byte{}
	if _, err := DeriveWrapKey(fakeSigner(bytes.ErrTooLarge), challenge); err == nil {
		t.Error("DeriveWrapKey() should propagate a signer error")
	}
}

func TestEnsureWrappedDBKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbkey.bin")

	var wrapKey [32]byte
	copy(wrapKey[:], []byte("wrap-key-32-bytes-long-padding!!"))

	kdb1, err := EnsureWrappedDBKey(path, wrapKey)
	if err != nil {
		t.Fatalf("EnsureWrappedDBKey() error = %v", err)
	}

	kdb2, err := EnsureWrappedDBKey(path, wrapKey)
	if err != nil {
		t.Fatalf("EnsureWrappedDBKey() second call error = %v", err)
	}

	if kdb1 != kdb2 {
		t.Error("EnsureWrappedDBKey() should return the same K_db across calls")
	}
}

func TestEnsureWrappedDBKey_WrongWrapKeyFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbkey.bin")

	var wrapKey [32]byte
	copy(wrapKey[:], []byte("wrap-key-32-bytes-long-padding!!"))
	if _, err := EnsureWrappedDBKey(path, wrapKey); err != nil {
		t.Fatalf("EnsureWrappedDBKey() error = %v", err)
	}

	var wrongKey [32]byte
	copy(wrongKey[:], []byte("a-completely-different-key-here"))
	if _, err := EnsureWrappedDBKey(path, wrongKey); err == nil {
		t.Error("EnsureWrappedDBKey() should fail to unwrap with the wrong wrap key")
	}
}

func TestEncryptDecryptGCMRoundtrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("test-encryption-key-32-bytes-!!"))

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "simple string", plaintext: []byte("hello world")},
		{name: "json data", plaintext: []byte(`{"name":"alice","ip":"10.0.0.5"}`)},
		{name: "binary data", plaintext: []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}},
		{name: "large data", plaintext: bytes.Repeat([]byte("test"), 1000)},
		{name: "empty", plaintext: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := EncryptGCM(key, tt.plaintext)
			if err != nil {
				t.Fatalf("EncryptGCM() error = %v", err)
			}

			if bytes.Equal(ciphertext, tt.plaintext) {
				t.Error("ciphertext should not equal plaintext")
			}

			decrypted, err := DecryptGCM(key, ciphertext)
			if err != nil {
				t.Fatalf("DecryptGCM() error = %v", err)
			}

			if !bytes.Equal(decrypted, tt.plaintext) && !(len(decrypted) == 0 && len(tt.plaintext) == 0) {
				t.Errorf("decrypted data does not match original.\nGot:  %v\nWant: %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptGCM_ProducesFreshNoncePerCall(t *testing.T) {
	var key [32]byte
	plaintext := []byte("same plaintext every time")

	c1, err := EncryptGCM(key, plaintext)
	if err != nil {
		t.Fatalf("EncryptGCM() error = %v", err)
	}
	c2, err := EncryptGCM(key, plaintext)
	if err != nil {
		t.Fatalf("EncryptGCM() error = %v", err)
	}

	if bytes.Equal(c1, c2) {
		t.Error("EncryptGCM() should not produce identical ciphertexts for repeated calls")
	}
}

func TestDecryptGCM_Errors(t *testing.T) {
	var key [32]byte

	tests := []struct {
		name string
		blob []byte
	}{
		{name: "empty", blob: []byte{}},
		{name: "nil", blob: nil},
		{name: "too short", blob: []byte{0x01, 0x02}},
		{name: "corrupted", blob: bytes.Repeat([]byte("x"), 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptGCM(key, tt.blob); err == nil {
				t.Errorf("DecryptGCM() should fail for %s input", tt.name)
			}
		})
	}
}

func TestDecryptGCM_WrongKeyFails(t *testing.T) {
	var key1, key2 [32]byte
	copy(key1[:], []byte("key-one-32-bytes-long-padding!!!"))
	copy(key2[:], []byte("key-two-32-bytes-long-padding!!!"))

	ciphertext, err := EncryptGCM(key1, []byte("secret data"))
	if err != nil {
		t.Fatalf("EncryptGCM() error = %v", err)
	}

	if _, err := DecryptGCM(key2, ciphertext); err == nil {
		t.Error("DecryptGCM() should fail with the wrong key")
	}
}
