package config_test

import (
	"os"
	"testing"

	"github.com/numbleroot/causaldoc/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestLoadEnv executes a black-box test on the
// implemented functionalities to load a .env file.
func TestLoadEnv(t *testing.T) {

	// Variables set before loading take precedence.
	t.Setenv("CAUSALDOC_HTTP_ADDR", "0.0.0.0:8181")
	t.Setenv("CAUSALDOC_PROMETHEUS_ADDR", ":9100")

	// Unset the others, restored after the test.
	for _, name := range []string{"CAUSALDOC_LISTEN_ADDR", "CAUSALDOC_GRPC_ADDR"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}

	_, err := config.LoadEnv("testdata/missing.env")
	assert.Error(t, err)

	env, err := config.LoadEnv("testdata/test.env")
	if err != nil {
		t.Fatalf("[config.TestLoadEnv] Expected success while loading test.env but received: '%s'\n", err.Error())
	}

	// Check for test success.
	if env.ListenAddr != "0.0.0.0:7171" {
		t.Fatalf("[config.TestLoadEnv] Expected '%s' but received '%s'\n", "0.0.0.0:7171", env.ListenAddr)
	}

	assert.Equal(t, "0.0.0.0:8181", env.HTTPAddr)
	assert.Equal(t, ":9100", env.PrometheusAddr)
	assert.Equal(t, "", env.GRPCAddr)

	conf := config.Default()
	conf.ApplyEnv(env)

	assert.Equal(t, "0.0.0.0:7171", conf.Server.ListenAddr)
	assert.Equal(t, "0.0.0.0:8181", conf.Server.HTTPAddr)
	assert.Equal(t, config.DefaultGRPCAddr, conf.Server.GRPCAddr)
	assert.Equal(t, ":9100", conf.Server.PrometheusAddr)
}
