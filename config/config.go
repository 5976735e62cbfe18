package config

import (
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Constants

// Defaults for values omitted from the config file.
const (
	DefaultListenAddr       = "127.0.0.1:7070"
	DefaultHTTPAddr         = "127.0.0.1:8080"
	DefaultGRPCAddr         = "127.0.0.1:9090"
	DefaultMaxFrameSize     = 16 * 1024 * 1024
	DefaultSnapshotCache    = 16
	DefaultSubscriberBuffer = 256
	DefaultTransport        = "tcp"
	DefaultTimeout          = 5 * time.Second
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Server Server
	Client Client
}

// Server configures the listeners and limits
// of the replica server.
type Server struct {
	ListenAddr       string
	HTTPAddr         string
	GRPCAddr         string
	PrometheusAddr   string
	TLS              bool
	CertLoc          string
	KeyLoc           string
	MaxFrameSize     int
	SnapshotCache    int
	SubscriberBuffer int
	StrictContexts   bool
}

// Client configures how a client reaches the server.
// Transport is one of "tcp", "ws" or "grpc".
type Client struct {
	Transport   string
	Addr        string
	TLS         bool
	RootCertLoc string
	Timeout     time.Duration
}

// Functions

// LoadConfig takes in the path to the config file
// in TOML syntax and places the values from the file
// in the corresponding struct. Relative paths are
// resolved against the directory of the file.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in TOML config file at '%s'", configFile)
	}

	absConfigFile, err := filepath.Abs(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "could not get absolute path of config file")
	}

	conf.applyDefaults()
	conf.resolvePaths(filepath.Dir(absConfigFile))

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// Default returns the configuration used when
// no config file is supplied.
func Default() *Config {

	conf := new(Config)
	conf.applyDefaults()

	return conf
}

func (conf *Config) applyDefaults() {

	if conf.Server.ListenAddr == "" {
		conf.Server.ListenAddr = DefaultListenAddr
	}

	if conf.Server.HTTPAddr == "" {
		conf.Server.HTTPAddr = DefaultHTTPAddr
	}

	if conf.Server.GRPCAddr == "" {
		conf.Server.GRPCAddr = DefaultGRPCAddr
	}

	if conf.Server.MaxFrameSize <= 0 {
		conf.Server.MaxFrameSize = DefaultMaxFrameSize
	}

	if conf.Server.SnapshotCache <= 0 {
		conf.Server.SnapshotCache = DefaultSnapshotCache
	}

	if conf.Server.SubscriberBuffer <= 0 {
		conf.Server.SubscriberBuffer = DefaultSubscriberBuffer
	}

	if conf.Client.Transport == "" {
		conf.Client.Transport = DefaultTransport
	}

	if conf.Client.Addr == "" {

		switch conf.Client.Transport {
		case "ws":
			conf.Client.Addr = conf.Server.HTTPAddr
		case "grpc":
			conf.Client.Addr = conf.Server.GRPCAddr
		default:
			conf.Client.Addr = conf.Server.ListenAddr
		}
	}

	if conf.Client.Timeout <= 0 {
		conf.Client.Timeout = DefaultTimeout
	}
}

// resolvePaths prefixes each relative path in
// the config with dir.
func (conf *Config) resolvePaths(dir string) {

	for _, path := range []*string{
		&conf.Server.CertLoc,
		&conf.Server.KeyLoc,
		&conf.Client.RootCertLoc,
	} {

		if (*path != "") && !filepath.IsAbs(*path) {
			*path = filepath.Join(dir, *path)
		}
	}
}

// Validate reports settings that cannot work together.
func (conf *Config) Validate() error {

	switch conf.Client.Transport {
	case "tcp", "ws", "grpc":
	default:
		return errors.Errorf("unknown client transport '%s'", conf.Client.Transport)
	}

	if conf.Server.TLS && ((conf.Server.CertLoc == "") || (conf.Server.KeyLoc == "")) {
		return errors.New("server TLS requires CertLoc and KeyLoc")
	}

	return nil
}
