// Package tls builds the serving TLS configuration for the HTTP API, from
// explicit files or a directory with optional self-signed generation.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File names used inside Options.Dir.
const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

// Options select the certificate source. CertFile/KeyFile win over Dir.
type Options struct {
	CertFile     string
	KeyFile      string
	Dir          string
	AutoGenerate bool
	// MinVersion is "1.2" or "1.3" (default).
	MinVersion string
	ValidDays  int
}

// Enabled reports whether any certificate source is configured.
func (o Options) Enabled() bool {
	return (o.CertFile != "" && o.KeyFile != "") || o.Dir != ""
}

func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// safeReadFile reads p only when it lies inside baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// getCertificateFunc reloads the pair on every handshake so renewed files are
// picked up without a restart.
func getCertificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		key, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		pair, err := tls.X509KeyPair(cert, key)
		return &pair, err
	}
}

// Setup returns the server TLS config for o, or nil when o is not enabled.
// With Dir and AutoGenerate a missing pair is generated first.
func Setup(o Options) (*tls.Config, error) {
	if !o.Enabled() {
		return nil, nil
	}
	if o.MinVersion != "" {
		if _, ok := parseTLSVersion(o.MinVersion); !ok {
			return nil, fmt.Errorf("unknown TLS version %q", o.MinVersion)
		}
	}
	minVer, _ := parseTLSVersion(o.MinVersion)

	certPath, keyPath := o.CertFile, o.KeyFile
	if certPath == "" || keyPath == "" {
		certPath = filepath.Join(o.Dir, CertFile)
		keyPath = filepath.Join(o.Dir, KeyFile)
		if !certificatesExist(certPath, keyPath) {
			if !o.AutoGenerate {
				return nil, fmt.Errorf("no certificate in %s (enable auto generation or provide files)", o.Dir)
			}
			if err := generate(o); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	// #nosec G402 -- 1.2 is opt-in
	return &tls.Config{
		GetCertificate: getCertificateFunc(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(o Options) error {
	if err := os.MkdirAll(o.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	days := o.ValidDays
	if days <= 0 {
		days = 365 * 5
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   "localhost",
		Organization: "updatr",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(o.Dir, CertFile),
		KeyPath:      filepath.Join(o.Dir, KeyFile),
		CACertPath:   filepath.Join(o.Dir, CACertFile),
	})
}
