// internal/testutil/certs.go
// Throwaway certificate material for tests

// Package testutil generates throwaway certificate material for tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/youmark/pkcs8"
)

// CA is an in-memory certificate authority
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
	DER  []byte
}

// NewCA creates a self-signed CA valid for one day
func NewCA(t testing.TB, name string) *CA {
	t.Helper()

	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: name, Organization: []string{"mirapipe test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create CA certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA certificate: %v", err)
	}
	return &CA{Cert: cert, Key: key, DER: der}
}

// Pool returns a pool trusting only this CA
func (ca *CA) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	return pool
}

// PEM returns the CA certificate in PEM form
func (ca *CA) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.DER})
}

// WriteCA writes the CA certificate to dir/name and returns the path
func (ca *CA) WriteCA(t testing.TB, dir, name string) string {
	t.Helper()
	return write(t, filepath.Join(dir, name), ca.PEM())
}

// Leaf is an issued certificate with its key
type Leaf struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
	DER  []byte
}

// Issue signs a leaf usable for both server and client authentication.
// hosts that parse as IPs become IP SANs, the rest DNS SANs.
func (ca *CA) Issue(t testing.TB, commonName string, hosts ...string) *Leaf {
	t.Helper()

	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: serial(t),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		t.Fatalf("issue %s: %v", commonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse %s: %v", commonName, err)
	}
	return &Leaf{Cert: cert, Key: key, DER: der}
}

// TLSCertificate returns the leaf as a tls.Certificate
func (l *Leaf) TLSCertificate() tls.Certificate {
	return tls.Certificate{Certificate: [][]byte{l.DER}, PrivateKey: l.Key, Leaf: l.Cert}
}

// BundlePEM returns the certificate followed by its private key. With a
// password the key is an encrypted PKCS#8 block.
func (l *Leaf) BundlePEM(t testing.TB, password string) []byte {
	t.Helper()

	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: l.DER})

	var pw []byte
	if password != "" {
		pw = []byte(password)
	}
	keyDER, err := pkcs8.MarshalPrivateKey(l.Key, pw, nil)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	blockType := "PRIVATE KEY"
	if password != "" {
		blockType = "ENCRYPTED PRIVATE KEY"
	}
	return append(out, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: keyDER})...)
}

// LegacyBundlePEM returns the certificate followed by an EC key encrypted
// with the legacy "Proc-Type: 4,ENCRYPTED" PEM scheme.
func (l *Leaf) LegacyBundlePEM(t testing.TB, password string) []byte {
	t.Helper()

	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: l.DER})
	keyDER, err := x509.MarshalECPrivateKey(l.Key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	//nolint:staticcheck // legacy format is exactly what is under test
	block, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", keyDER, []byte(password), x509.PEMCipherAES256)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	return append(out, pem.EncodeToMemory(block)...)
}

// WriteBundle writes BundlePEM to dir/name and returns the path
func (l *Leaf) WriteBundle(t testing.TB, dir, name, password string) string {
	t.Helper()
	return write(t, filepath.Join(dir, name), l.BundlePEM(t, password))
}

// WriteFile writes data to path and returns it
func WriteFile(t testing.TB, path string, data []byte) string {
	t.Helper()
	return write(t, path, data)
}

func write(t testing.TB, path string, data []byte) string {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func serial(t testing.TB) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	return n
}
