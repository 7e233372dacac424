// Package identity owns the hardware-bound credential a node authenticates
// with: a long-lived X.509 certificate and an RSA signing key held by a
// smart card, plus a fresh X25519 key pair generated per process for key
// exchange.
package identity

import (
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/curve25519"

	"github.com/lanchat/lanchat/pkg/log"
)

// Sentinel errors surfaced by Load, mapped in cmd/lanchatd to a
// human-readable message and a process exit, per the persistent
// configuration error kind.
var (
	ErrNoToken = errors.New("identity: no smart card token detected")
	ErrBadPin  = errors.New("identity: PIN rejected by token")
	ErrNoKey   = errors.New("identity: token has no usable private key")
)

// roleSuffix strips the parenthesised role qualifiers Spanish DNIe certs
// carry on the common name, e.g. "ALICE (AUTENTICACIÓN)" -> "ALICE".
var roleSuffix = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// CardReader is the boundary to the hardware token (or a software stand-in
// for development and tests). It never hands back a long-lived session;
// each signing operation is expected to open and close its own.
type CardReader interface {
	// CertificateDER returns the identity's X.509 certificate in DER form.
	CertificateDER() ([]byte, error)
	// Sign produces a deterministic PKCS#1 v1.5 SHA-256 signature over data.
	Sign(data []byte) ([]byte, error)
}

// Identity is a loaded credential: a certificate, a static X25519 key pair
// good for this process's lifetime, and a signing oracle back to the card.
type Identity struct {
	reader  CardReader
	certDER []byte
	cert    *x509.Certificate

	staticPriv [32]byte
	staticPub  [32]byte
}

// Load extracts the certificate from reader and generates a fresh X25519
// static key pair. The PIN itself never reaches Load; it is the
// CardReader implementation's job to have already used it (or to use it
// lazily per Sign call).
func Load(reader CardReader) (*Identity, error) {
	certDER, err := reader.CertificateDER()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoKey, err)
	}

	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("identity: failed to generate static key: %w", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)

	return &Identity{
		reader:     reader,
		certDER:    certDER,
		cert:       cert,
		staticPriv: priv,
		staticPub:  pub,
	}, nil
}

// CertificateDER returns the opaque certificate bytes, handed to a peer
// during handshake.
func (id *Identity) CertificateDER() []byte {
	return id.certDER
}

// StaticPublicKey returns the 32-byte raw X25519 public key for this process.
func (id *Identity) StaticPublicKey() [32]byte {
	return id.staticPub
}

// Exchange performs the X25519 operation against a peer's raw public key.
func (id *Identity) Exchange(peerPub [32]byte) ([32]byte, error) {
	var shared [32]byte
	out, err := curve25519.X25519(id.staticPriv[:], peerPub[:])
	if err != nil {
		return shared, fmt.Errorf("identity: key exchange failed: %w", err)
	}
	copy(shared[:], out)
	return shared, nil
}

// Sign produces a deterministic signature over data using the card's key.
// Its one caller is the store's key-wrap derivation over the installation
// challenge; the handshake does not transmit any signature, so the wire
// protocol never proves possession of the certificate's key (see DESIGN.md).
func (id *Identity) Sign(data []byte) ([]byte, error) {
	return id.reader.Sign(data)
}

// Nickname derives the displayable name from the certificate's common name,
// stripping any trailing parenthesised role suffix.
func (id *Identity) Nickname() string {
	cn := id.cert.Subject.CommonName
	stripped := roleSuffix.ReplaceAllString(cn, "")
	stripped = strings.TrimSpace(stripped)
	if stripped == "" {
		return cn
	}
	return stripped
}

// SerialNumber returns the certificate's integer serial number as a stable
// per-identity identifier, used to derive the store's on-disk paths.
func (id *Identity) SerialNumber() string {
	return id.cert.SerialNumber.String()
}

// NicknameFromCert extracts a peer's display nickname from its DER
// certificate, mirroring Identity.Nickname for peer-side certificates
// received during handshake.
func NicknameFromCert(certDER []byte) (string, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return "", fmt.Errorf("identity: failed to parse peer certificate: %w", err)
	}
	stripped := strings.TrimSpace(roleSuffix.ReplaceAllString(cert.Subject.CommonName, ""))
	if stripped == "" {
		log.Logger.Debug().Msg("identity: peer certificate has empty common name after stripping role suffix")
		return cert.Subject.CommonName, nil
	}
	return stripped, nil
}
