package identity

import (
	"bytes"
	"errors"
	"testing"
)

func TestLoad(t *testing.T) {
	reader, err := NewSoftwareCardReader("ALICE (AUTENTICACIÓN)", "1234", "1234")
	if err != nil {
		t.Fatalf("NewSoftwareCardReader() error = %v", err)
	}

	id, err := Load(reader)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if id.Nickname() != "ALICE" {
		t.Errorf("Nickname() = %q, want %q", id.Nickname(), "ALICE")
	}
	if len(id.CertificateDER()) == 0 {
		t.Error("CertificateDER() should not be empty")
	}
	if id.SerialNumber() == "" {
		t.Error("SerialNumber() should not be empty")
	}
}

func TestLoad_BadPin(t *testing.T) {
	_, err := NewSoftwareCardReader("BOB", "wrong", "1234")
	if !errors.Is(err, ErrBadPin) {
		t.Errorf("NewSoftwareCardReader() error = %v, want ErrBadPin", err)
	}
}

func TestIdentitySign(t *testing.T) {
	reader, err := NewSoftwareCardReader("BOB", "1234", "1234")
	if err != nil {
		t.Fatalf("NewSoftwareCardReader() error = %v", err)
	}
	id, err := Load(reader)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	data := []byte("challenge-bytes")
	sig1, err := id.Sign(data)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sig2, err := id.Sign(data)
	if err != nil {
		t.Fatalf("Sign() second call error = %v", err)
	}

	if !bytes.Equal(sig1, sig2) {
		t.Error("Sign() must be deterministic for the same input")
	}
}

func TestIdentityExchange(t *testing.T) {
	readerA, err := NewSoftwareCardReader("ALICE", "1234", "1234")
	if err != nil {
		t.Fatalf("NewSoftwareCardReader() error = %v", err)
	}
	readerB, err := NewSoftwareCardReader("BOB", "5678", "5678")
	if err != nil {
		t.Fatalf("NewSoftwareCardReader() error = %v", err)
	}

	idA, err := Load(readerA)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	idB, err := Load(readerB)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	sharedA, err := idA.Exchange(idB.StaticPublicKey())
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	sharedB, err := idB.Exchange(idA.StaticPublicKey())
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if sharedA != sharedB {
		t.Error("X25519 exchange should produce identical shared secrets on both sides")
	}
}

func TestNicknameFromCert(t *testing.T) {
	reader, err := NewSoftwareCardReader("BOB (FIRMA)", "1234", "1234")
	if err != nil {
		t.Fatalf("NewSoftwareCardReader() error = %v", err)
	}
	certDER, err := reader.CertificateDER()
	if err != nil {
		t.Fatalf("CertificateDER() error = %v", err)
	}

	nickname, err := NicknameFromCert(certDER)
	if err != nil {
		t.Fatalf("NicknameFromCert() error = %v", err)
	}
	if nickname != "BOB" {
		t.Errorf("NicknameFromCert() = %q, want %q", nickname, "BOB")
	}
}
