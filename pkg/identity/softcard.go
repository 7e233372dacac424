package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const softCardKeySize = 2048

// softCardValidity is generous on purpose: a software card is a development
// and test stand-in, not a production credential with a renewal story.
const softCardValidity = 10 * 365 * 24 * time.Hour

// SoftwareCardReader simulates a smart card entirely in memory: it generates
// an RSA key pair and a self-signed certificate once, then signs with that
// key on every Sign call. The PIN is checked once, at construction. It
// exists so lanchat can run
// without a physical token during development and in tests.
type SoftwareCardReader struct {
	pin string

	mu      sync.Mutex
	certDER []byte
	key     *rsa.PrivateKey
}

// NewSoftwareCardReader creates a card simulator for the given nickname. It
// returns ErrBadPin unless pin matches wantPin; Sign does not check the PIN
// again.
func NewSoftwareCardReader(nickname, pin, wantPin string) (*SoftwareCardReader, error) {
	if pin != wantPin {
		return nil, ErrBadPin
	}

	key, err := rsa.GenerateKey(rand.Reader, softCardKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoKey, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("identity: failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: nickname},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(softCardValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to create certificate: %w", err)
	}

	return &SoftwareCardReader{pin: wantPin, certDER: certDER, key: key}, nil
}

// CertificateDER implements CardReader.
func (s *SoftwareCardReader) CertificateDER() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.certDER, nil
}

// Sign implements CardReader with deterministic PKCS#1 v1.5 SHA-256, so
// signing the same bytes always yields the same signature; the key-wrap
// derivation depends on that.
func (s *SoftwareCardReader) Sign(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("identity: signing failed: %w", err)
	}
	return sig, nil
}
