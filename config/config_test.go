package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/numbleroot/causaldoc/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestLoadConfig executes a black-box test on the
// implemented functionalities to load a TOML config file.
func TestLoadConfig(t *testing.T) {

	// Try to load a broken config file. This should fail.
	_, err := config.LoadConfig("testdata/broken-config.toml")
	if err == nil {
		t.Fatal("[config.TestLoadConfig] Expected fail while loading broken-config.toml but received 'nil' error.")
	}

	// Unknown transports are refused.
	_, err = config.LoadConfig("testdata/bad-transport.toml")
	if err == nil {
		t.Fatal("[config.TestLoadConfig] Expected fail while loading bad-transport.toml but received 'nil' error.")
	}

	// Now load a valid config.
	conf, err := config.LoadConfig("testdata/config.toml")
	if err != nil {
		t.Fatalf("[config.TestLoadConfig] Expected success while loading config.toml but received: '%s'\n", err.Error())
	}

	// Absolute paths stay, relative ones are
	// resolved against the config directory.
	if conf.Server.KeyLoc != "/very/complicated/test/directory/server-key.pem" {
		t.Fatalf("[config.TestLoadConfig] Expected '%s' but received '%s'\n", "/very/complicated/test/directory/server-key.pem", conf.Server.KeyLoc)
	}

	dir, err := filepath.Abs("testdata")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "private", "server-cert.pem"), conf.Server.CertLoc)
	assert.Equal(t, conf.Server.CertLoc, conf.Client.RootCertLoc)

	assert.Equal(t, "127.0.0.1:17070", conf.Server.ListenAddr)
	assert.Equal(t, config.DefaultGRPCAddr, conf.Server.GRPCAddr)
	assert.Equal(t, 4, conf.Server.SnapshotCache)
	assert.Equal(t, config.DefaultSubscriberBuffer, conf.Server.SubscriberBuffer)
	assert.Equal(t, config.DefaultMaxFrameSize, conf.Server.MaxFrameSize)
	assert.True(t, conf.Server.TLS)
	assert.True(t, conf.Server.StrictContexts)

	// The websocket client defaults to the HTTP listener.
	assert.Equal(t, "ws", conf.Client.Transport)
	assert.Equal(t, "127.0.0.1:18080", conf.Client.Addr)
	assert.Equal(t, 3*time.Second, conf.Client.Timeout)
}

// TestDefault checks the configuration used
// without a config file.
func TestDefault(t *testing.T) {

	conf := config.Default()

	assert.Equal(t, config.DefaultListenAddr, conf.Server.ListenAddr)
	assert.Equal(t, config.DefaultListenAddr, conf.Client.Addr)
	assert.Equal(t, config.DefaultTransport, conf.Client.Transport)
	assert.Equal(t, config.DefaultTimeout, conf.Client.Timeout)
	assert.False(t, conf.Server.TLS)
	assert.NoError(t, conf.Validate())

	conf.Server.TLS = true
	assert.Error(t, conf.Validate())
}
