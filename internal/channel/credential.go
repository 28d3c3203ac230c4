// internal/channel/credential.go
// Certificate, key and trust anchor loading for mutual TLS

package channel

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

// Role selects which side of the handshake a tls.Config is built for
type Role uint8

const (
	RoleClient Role = iota + 1
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Credential names the on-disk material for one side of a connection.
// CertificatePath is a PEM bundle holding the certificate chain followed by
// the private key, which may be encrypted with PrivateKeyPassword.
type Credential struct {
	CertificatePath    string
	PrivateKeyPassword string
	TrustAnchorPath    string
}

// LoadCredential builds a TLS configuration for role that presents the
// certificate from cred and trusts only cred.TrustAnchorPath. Both files are
// checked for existence before either is read.
func LoadCredential(cred Credential, role Role) (*tls.Config, error) {
	for _, path := range []string{cred.CertificatePath, cred.TrustAnchorPath} {
		if path == "" {
			return nil, newError(KindCredentialNotFound, "load", path, errors.New("path is empty"))
		}
		if _, err := os.Stat(path); err != nil {
			return nil, newError(KindCredentialNotFound, "load", path, err)
		}
	}

	cert, err := loadBundle(cred.CertificatePath, cred.PrivateKeyPassword)
	if err != nil {
		return nil, newError(KindCredentialInvalid, "load", cred.CertificatePath, err)
	}

	pool, err := loadTrustAnchor(cred.TrustAnchorPath)
	if err != nil {
		return nil, newError(KindCredentialInvalid, "load", cred.TrustAnchorPath, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	switch role {
	case RoleServer:
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		// Every connection is a single exchange; resumption buys nothing.
		cfg.SessionTicketsDisabled = true
	case RoleClient:
		cfg.RootCAs = pool
	default:
		return nil, fmt.Errorf("unknown role %v", role)
	}
	return cfg, nil
}

// loadBundle parses a PEM file containing certificates and exactly one
// private key in any of the formats OpenSSL writes.
func loadBundle(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}

	var (
		certPEM []byte
		keyDER  []byte
	)
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
		case "PRIVATE KEY", "ENCRYPTED PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			if keyDER != nil {
				return tls.Certificate{}, errors.New("bundle holds more than one private key")
			}
			if keyDER, err = decodeKey(block, password); err != nil {
				return tls.Certificate{}, err
			}
		}
	}

	if certPEM == nil {
		return tls.Certificate{}, errors.New("no certificate found")
	}
	if keyDER == nil {
		return tls.Certificate{}, errors.New("no private key found")
	}

	// X509KeyPair verifies that the key matches the leaf certificate.
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, err
	}
	return cert, nil
}

// decodeKey returns the key as unencrypted PKCS#8 DER
func decodeKey(block *pem.Block, password string) ([]byte, error) {
	der := block.Bytes

	//nolint:staticcheck // legacy "Proc-Type: 4,ENCRYPTED" keys are still common
	if x509.IsEncryptedPEMBlock(block) {
		if password == "" {
			return nil, errors.New("private key is encrypted but no password was given")
		}
		var err error
		//nolint:staticcheck
		if der, err = x509.DecryptPEMBlock(block, []byte(password)); err != nil {
			return nil, fmt.Errorf("decrypt private key: %w", err)
		}
	}

	var (
		key interface{}
		err error
	)
	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		if password == "" {
			return nil, errors.New("private key is encrypted but no password was given")
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(der, []byte(password))
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(der)
	default:
		key, err = x509.ParsePKCS8PrivateKey(der)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return x509.MarshalPKCS8PrivateKey(key)
}

func loadTrustAnchor(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("no certificates found in trust anchor")
	}
	return pool, nil
}
