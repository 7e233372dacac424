package security

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// defaultCertDir is where a node caches its own cert and peers' certs below
// the user's home directory.
const defaultCertDir = ".lanchat/certs"

// CertDir returns the directory a node should use to cache certificates,
// creating it if necessary.
func CertDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("security: failed to get home directory: %w", err)
	}
	dir := filepath.Join(homeDir, defaultCertDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("security: failed to create cert directory: %w", err)
	}
	return dir, nil
}

// SaveCertToFile writes a DER-encoded certificate as PEM to path.
func SaveCertToFile(certDER []byte, path string) error {
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := WriteFileAtomic(path, block, 0600); err != nil {
		return fmt.Errorf("security: failed to write certificate: %w", err)
	}
	return nil
}

// LoadCertFromFile reads a PEM certificate from path and returns its DER bytes.
func LoadCertFromFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("security: failed to read certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("security: failed to decode certificate PEM at %s", path)
	}
	return block.Bytes, nil
}

// CertExpiry returns the expiry time of the certificate.
func CertExpiry(cert *x509.Certificate) time.Time {
	if cert == nil {
		return time.Time{}
	}
	return cert.NotAfter
}

// CertTimeRemaining returns the time remaining until certificate expiry.
func CertTimeRemaining(cert *x509.Certificate) time.Duration {
	if cert == nil {
		return 0
	}
	return time.Until(cert.NotAfter)
}

// CertInfo returns human-readable information about a certificate, useful
// for a CLI "whois"-style diagnostic over a contact's stored cert.
func CertInfo(cert *x509.Certificate) map[string]interface{} {
	if cert == nil {
		return map[string]interface{}{"error": "certificate is nil"}
	}
	return map[string]interface{}{
		"subject":       cert.Subject.CommonName,
		"issuer":        cert.Issuer.CommonName,
		"serial_number": cert.SerialNumber.String(),
		"not_before":    cert.NotBefore.Format(time.RFC3339),
		"not_after":     cert.NotAfter.Format(time.RFC3339),
		"key_usage":     describeKeyUsage(cert.KeyUsage),
		"ext_key_usage": describeExtKeyUsage(cert.ExtKeyUsage),
	}
}

// describeKeyUsage converts x509.KeyUsage to human-readable strings.
func describeKeyUsage(usage x509.KeyUsage) []string {
	var usages []string
	if usage&x509.KeyUsageDigitalSignature != 0 {
		usages = append(usages, "DigitalSignature")
	}
	if usage&x509.KeyUsageKeyEncipherment != 0 {
		usages = append(usages, "KeyEncipherment")
	}
	return usages
}

// describeExtKeyUsage converts []x509.ExtKeyUsage to human-readable strings.
func describeExtKeyUsage(usages []x509.ExtKeyUsage) []string {
	var result []string
	for _, usage := range usages {
		if usage == x509.ExtKeyUsageClientAuth {
			result = append(result, "ClientAuth")
		}
	}
	return result
}

// RemoveCerts removes all cached certificates from a directory.
func RemoveCerts(certDir string) error {
	return os.RemoveAll(certDir)
}
