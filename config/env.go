package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Structs

// Env holds information specific to the system
// the server is deployed on. This enables host
// adaptions without needing to maintain two
// different config files.
type Env struct {
	ListenAddr     string
	HTTPAddr       string
	GRPCAddr       string
	PrometheusAddr string
}

// Functions

// LoadEnv reads the supplied .env files into the
// process environment, without overriding variables
// already set, and collects the CAUSALDOC_ variables.
// Without arguments ".env" is read.
func LoadEnv(files ...string) (*Env, error) {

	// Load environment files.
	err := godotenv.Load(files...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read in .env file")
	}

	return EnvFromOS(), nil
}

// EnvFromOS collects the CAUSALDOC_ variables from
// the process environment.
func EnvFromOS() *Env {

	return &Env{
		ListenAddr:     os.Getenv("CAUSALDOC_LISTEN_ADDR"),
		HTTPAddr:       os.Getenv("CAUSALDOC_HTTP_ADDR"),
		GRPCAddr:       os.Getenv("CAUSALDOC_GRPC_ADDR"),
		PrometheusAddr: os.Getenv("CAUSALDOC_PROMETHEUS_ADDR"),
	}
}

// ApplyEnv overrides the server addresses of conf
// with every value set in env.
func (conf *Config) ApplyEnv(env *Env) {

	if env.ListenAddr != "" {
		conf.Server.ListenAddr = env.ListenAddr
	}

	if env.HTTPAddr != "" {
		conf.Server.HTTPAddr = env.HTTPAddr
	}

	if env.GRPCAddr != "" {
		conf.Server.GRPCAddr = env.GRPCAddr
	}

	if env.PrometheusAddr != "" {
		conf.Server.PrometheusAddr = env.PrometheusAddr
	}
}
