package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChallengeSize is the length in bytes of the per-installation challenge C.
const ChallengeSize = 8

// DBKeySize is the length in bytes of the database encryption key K_db.
const DBKeySize = 32

// Signer produces a deterministic signature over arbitrary bytes using the
// identity's hardware-bound signing key. It is the boundary between this
// package and the credential provider: security never talks to a card
// directly, it only calls back into whatever signing oracle it was given.
type Signer func(data []byte) ([]byte, error)

// EnsureChallenge loads the per-installation challenge C from path, creating
// it with 8 random bytes if it does not yet exist. Its content never changes
// after first creation.
func EnsureChallenge(path string) ([ChallengeSize]byte, error) {
	var c [ChallengeSize]byte

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ChallengeSize {
			return c, fmt.Errorf("security: challenge file %s has invalid length %d", path, len(data))
		}
		copy(c[:], data)
		return c, nil
	}
	if !os.IsNotExist(err) {
		return c, fmt.Errorf("security: failed to read challenge: %w", err)
	}

	if _, err := io.ReadFull(rand.Reader, c[:]); err != nil {
		return c, fmt.Errorf("security: failed to generate challenge: %w", err)
	}
	if err := WriteFileAtomic(path, c[:], 0600); err != nil {
		return c, fmt.Errorf("security: failed to persist challenge: %w", err)
	}
	return c, nil
}

// DeriveWrapKey computes K = SHA-256(sign(C)), the key that wraps K_db.
func DeriveWrapKey(sign Signer, challenge [ChallengeSize]byte) ([32]byte, error) {
	var k [32]byte
	sig, err := sign(challenge[:])
	if err != nil {
		return k, fmt.Errorf("security: failed to sign challenge: %w", err)
	}
	k = sha256.Sum256(sig)
	return k, nil
}

// EnsureWrappedDBKey loads the wrapped database key K_db from path, creating
// a fresh random K_db and wrapping it under wrapKey if the file does not yet
// exist. The wrapped file is rewritten only at first creation.
func EnsureWrappedDBKey(path string, wrapKey [32]byte) ([DBKeySize]byte, error) {
	var kdb [DBKeySize]byte

	data, err := os.ReadFile(path)
	if err == nil {
		plain, err := DecryptGCM(wrapKey, data)
		if err != nil {
			return kdb, fmt.Errorf("security: failed to unwrap K_db: %w", err)
		}
		if len(plain) != DBKeySize {
			return kdb, fmt.Errorf("security: unwrapped K_db has invalid length %d", len(plain))
		}
		copy(kdb[:], plain)
		return kdb, nil
	}
	if !os.IsNotExist(err) {
		return kdb, fmt.Errorf("security: failed to read wrapped K_db: %w", err)
	}

	if _, err := io.ReadFull(rand.Reader, kdb[:]); err != nil {
		return kdb, fmt.Errorf("security: failed to generate K_db: %w", err)
	}
	wrapped, err := EncryptGCM(wrapKey, kdb[:])
	if err != nil {
		return kdb, fmt.Errorf("security: failed to wrap K_db: %w", err)
	}
	if err := WriteFileAtomic(path, wrapped, 0600); err != nil {
		return kdb, fmt.Errorf("security: failed to persist wrapped K_db: %w", err)
	}
	return kdb, nil
}

// EncryptGCM encrypts plaintext under key using AES-256-GCM with a fresh
// random 12-byte nonce and empty associated data. The result is
// nonce || ciphertext.
func EncryptGCM(key [32]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("security: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptGCM reverses EncryptGCM. blob must be nonce || ciphertext.
func DecryptGCM(key [32]byte, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("security: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: failed to create GCM: %w", err)
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// WriteFileAtomic writes data to path by first writing to a temp file in the
// same directory and renaming over the destination, so a crash mid-write
// never leaves a torn file behind. Exported so pkg/store can use the same
// discipline for its own blob rewrites.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
