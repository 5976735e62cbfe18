package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/numbleroot/causaldoc/config"
	"github.com/numbleroot/causaldoc/crypto"
	"github.com/numbleroot/causaldoc/evaluation"
	"github.com/numbleroot/causaldoc/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestLoadConfig checks that the environment file
// overrides the configured addresses.
func TestLoadConfig(t *testing.T) {

	// Registers restoring the previous values.
	t.Setenv("CAUSALDOC_LISTEN_ADDR", "")
	t.Setenv("CAUSALDOC_PROMETHEUS_ADDR", "")
	os.Unsetenv("CAUSALDOC_LISTEN_ADDR")
	os.Unsetenv("CAUSALDOC_PROMETHEUS_ADDR")

	conf, err := loadConfig("", "config/testdata/test.env")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7171", conf.Server.ListenAddr)
	assert.Equal(t, ":9099", conf.Server.PrometheusAddr)
	assert.Equal(t, config.DefaultHTTPAddr, conf.Server.HTTPAddr)

	_, err = loadConfig("config/testdata/broken-config.toml", "")
	assert.Error(t, err)

	_, err = loadConfig("", "does/not/exist.env")
	assert.Error(t, err)
}

// TestGenerateCert checks that generated certificates
// load as server configuration.
func TestGenerateCert(t *testing.T) {

	dir := t.TempDir()

	conf := config.Default()
	conf.Server.CertLoc = filepath.Join(dir, "cert.pem")
	conf.Server.KeyLoc = filepath.Join(dir, "key.pem")

	require.NoError(t, generateCert(conf))

	tlsConfig, err := crypto.NewServerTLSConfig(conf.Server.CertLoc, conf.Server.KeyLoc)
	require.NoError(t, err)
	assert.Len(t, tlsConfig.Certificates, 1)

	conf.Server.ListenAddr = "no port"
	assert.Error(t, generateCert(conf))
}

// TestFetchDocument prints the document of a running
// server over every transport.
func TestFetchDocument(t *testing.T) {

	env, err := utils.CreateTestEnv("", nil)
	if err != nil {
		t.Fatalf("[main.TestFetchDocument] Expected test environment but received: %v\n", err)
	}
	defer env.Close()

	addrs := map[string]string{
		"tcp":  env.FramedAddr,
		"ws":   env.HTTPAddr,
		"grpc": env.GRPCAddr,
	}

	for transport, addr := range addrs {

		conf := config.Default()
		conf.Client.Transport = transport
		conf.Client.Addr = addr

		var out bytes.Buffer

		require.NoError(t, fetchDocument(conf, &out), transport)
		assert.Contains(t, out.String(), "who knows what this is", transport)
	}

	conf := config.Default()
	conf.Client.Transport = "carrier pigeon"
	assert.Error(t, fetchDocument(conf, &bytes.Buffer{}))
}

// TestEvaluate runs a small evaluation against a
// running server.
func TestEvaluate(t *testing.T) {

	env, err := utils.CreateTestEnv("", nil)
	if err != nil {
		t.Fatalf("[main.TestEvaluate] Expected test environment but received: %v\n", err)
	}
	defer env.Close()

	conf := config.Default()
	conf.Client.Addr = env.FramedAddr

	var out bytes.Buffer

	result, err := evaluate(conf, 2, &out)
	require.NoError(t, err)

	assert.True(t, result.Converged)
	assert.Len(t, result.Latencies, 200)
	assert.Contains(t, result.String(), "writes=200")
	// Ten evaluated keys next to the example record.
	assert.Len(t, evaluation.View(env.State.Document()), 11)
}
