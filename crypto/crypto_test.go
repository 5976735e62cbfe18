package crypto_test

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/numbleroot/causaldoc/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestGenerateCert checks that a generated certificate
// serves TLS to clients trusting it.
func TestGenerateCert(t *testing.T) {

	pair, err := crypto.GenerateCert([]string{"127.0.0.1", "localhost"}, time.Hour, 2048)
	require.NoError(t, err)

	// Round trip through files.
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, pair.Write(certPath, keyPath))

	serverConfig, err := crypto.NewServerTLSConfig(certPath, keyPath)
	require.NoError(t, err)

	clientConfig, err := crypto.NewClientTLSConfig(certPath)
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverConfig)
	require.NoError(t, err)
	defer ln.Close()

	go func() {

		for {

			conn, err := ln.Accept()
			if err != nil {
				return
			}

			_, _ = conn.Write([]byte("causal"))
			conn.Close()
		}
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), clientConfig)
	if err != nil {
		t.Fatalf("[crypto.TestGenerateCert] Expected successful handshake but received: %v\n", err)
	}
	defer conn.Close()

	buf := make([]byte, 6)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "causal", string(buf))

	// Clients not trusting the certificate refuse it.
	_, err = tls.Dial("tcp", ln.Addr().String(), &tls.Config{})
	assert.Error(t, err)
}

// TestTLSConfigErrors checks that missing or invalid
// input is reported.
func TestTLSConfigErrors(t *testing.T) {

	_, err := crypto.NewServerTLSConfig("missing-cert.pem", "missing-key.pem")
	assert.Error(t, err)

	_, err = crypto.NewClientTLSConfig("missing-root.pem")
	assert.Error(t, err)

	_, err = crypto.ClientTLSConfig([]byte("no certificate here"))
	assert.Error(t, err)

	config, err := crypto.NewClientTLSConfig("")
	require.NoError(t, err)
	assert.Nil(t, config.RootCAs)

	// Generated names and addresses end up in the certificate.
	pair, err := crypto.GenerateCert([]string{"::1", "replica.example"}, time.Hour, 2048)
	require.NoError(t, err)

	cert, err := pair.Certificate()
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	assert.Equal(t, []string{"replica.example"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.True(t, leaf.IPAddresses[0].Equal(net.ParseIP("::1")))
}
