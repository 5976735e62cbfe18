package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// Functions

// baseTLSConfig defines strict defaults shared by
// the server and client side. Good parts of them
// were taken from the excellent post:
// "Achieving a Perfect SSL Labs Score with Go":
// https://blog.bracelab.com/achieving-perfect-ssl-labs-score-with-go
func baseTLSConfig() *tls.Config {

	return &tls.Config{
		MinVersion:       tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{tls.CurveP521, tls.CurveP384, tls.CurveP256},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// NewServerTLSConfig returns the TLS config all
// listeners of a server use, presenting the key
// pair found at the supplied paths.
func NewServerTLSConfig(certPath string, keyPath string) (*tls.Config, error) {

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load TLS cert and key")
	}

	return ServerTLSConfig(cert), nil
}

// ServerTLSConfig returns the server TLS config
// presenting cert.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {

	config := baseTLSConfig()
	config.Certificates = []tls.Certificate{cert}

	return config
}

// NewClientTLSConfig returns a TLS config for clients
// trusting the PEM certificates in rootCertPath. An
// empty path trusts the system cert pool.
func NewClientTLSConfig(rootCertPath string) (*tls.Config, error) {

	if rootCertPath == "" {
		return baseTLSConfig(), nil
	}

	// Read in root certificate in PEM format supplied
	// via path in arguments.
	rootCert, err := os.ReadFile(rootCertPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading root certificate into memory failed")
	}

	return ClientTLSConfig(rootCert)
}

// ClientTLSConfig returns a TLS config for clients
// trusting the supplied PEM certificates.
func ClientTLSConfig(rootCertPEM []byte) (*tls.Config, error) {

	config := baseTLSConfig()
	config.RootCAs = x509.NewCertPool()

	// Append root certificate to root CA pool.
	if ok := config.RootCAs.AppendCertsFromPEM(rootCertPEM); !ok {
		return nil, errors.New("failed to append root certificate to root CA pool")
	}

	return config, nil
}
