package rabbitmq

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/epalmerini/burrow/internal/config"
	"golang.org/x/crypto/pkcs12"
)

// CertTool converts the PEM file at path into the PEM text of the trusted root.
type CertTool func(ctx context.Context, path string) ([]byte, error)

// OpenSSL runs `openssl x509 -in path -inform pem` and returns its stdout.
func OpenSSL(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "openssl", "x509", "-in", path, "-inform", "pem")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("openssl x509: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// LoadRootCA builds the trusted root pool from a PEM file via the certificate
// tool. Any tool failure is fatal to setup and is not retried.
func LoadRootCA(ctx context.Context, pemPath string, tool CertTool) (*x509.CertPool, error) {
	if _, err := os.Stat(pemPath); err != nil {
		return nil, fmt.Errorf("pem file path does not exist: %s", pemPath)
	}
	out, err := tool(ctx, pemPath)
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", pemPath, err)
	}
	pool, err := parseRoots(out)
	if err != nil {
		return nil, fmt.Errorf("reading certificate from %s: %w", pemPath, err)
	}
	return pool, nil
}

func parseRoots(data []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	found := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		pool.AddCert(cert)
		found++
	}
	if found == 0 {
		return nil, errors.New("no certificate in tool output")
	}
	return pool, nil
}

// LoadIdentity reads a PKCS#12 bundle with an empty passphrase.
func LoadIdentity(pfxPath string) (tls.Certificate, error) {
	data, err := os.ReadFile(pfxPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error opening pfx file: %w", err)
	}

	blocks, err := pkcs12.ToPEM(data, "")
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error getting identity from pfx file: %w", err)
	}

	cert, err := identityFromBlocks(blocks)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error getting identity from pfx file: %w", err)
	}
	return cert, nil
}

// identityFromBlocks pairs the private key with the certificate it belongs
// to. Bundles do not always list the client certificate first, so each one is
// tried as the leaf with the rest kept as the chain.
func identityFromBlocks(blocks []*pem.Block) (tls.Certificate, error) {
	var keyPEM []byte
	var certs []*pem.Block
	for _, b := range blocks {
		if b.Type == "CERTIFICATE" {
			certs = append(certs, b)
		} else if strings.HasSuffix(b.Type, "PRIVATE KEY") {
			keyPEM = append(keyPEM, pem.EncodeToMemory(b)...)
		}
	}
	if len(keyPEM) == 0 {
		return tls.Certificate{}, errors.New("no private key in bundle")
	}
	if len(certs) == 0 {
		return tls.Certificate{}, errors.New("no certificate in bundle")
	}

	var firstErr error
	for i, leaf := range certs {
		chain := pem.EncodeToMemory(leaf)
		for j, c := range certs {
			if j != i {
				chain = append(chain, pem.EncodeToMemory(c)...)
			}
		}
		cert, err := tls.X509KeyPair(chain, keyPEM)
		if err == nil {
			return cert, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return tls.Certificate{}, firstErr
}

// TLSConfig assembles the client TLS settings: client identity, explicit
// trusted root and the configured server name.
func TLSConfig(ctx context.Context, c config.Connection, tool CertTool) (*tls.Config, error) {
	identity, err := LoadIdentity(c.PfxPath)
	if err != nil {
		return nil, err
	}
	roots, err := LoadRootCA(ctx, c.PemFile, tool)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{identity},
		RootCAs:      roots,
		ServerName:   c.Domain,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
