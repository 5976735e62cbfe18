package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/causaldoc/client"
	"github.com/numbleroot/causaldoc/config"
	"github.com/numbleroot/causaldoc/crypto"
	"github.com/numbleroot/causaldoc/document"
	"github.com/numbleroot/causaldoc/evaluation"
	"github.com/numbleroot/causaldoc/server"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// loadConfig reads the config file if one was named
// and applies the environment on top.
func loadConfig(configFile string, envFile string) (*config.Config, error) {

	var err error
	conf := config.Default()

	if configFile != "" {

		conf, err = config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
	}

	env := config.EnvFromOS()

	if envFile != "" {

		env, err = config.LoadEnv(envFile)
		if err != nil {
			return nil, err
		}
	}

	conf.ApplyEnv(env)

	return conf, nil
}

// generateCert writes a self-signed certificate for
// the host of the server's listen address to the
// configured locations.
func generateCert(conf *config.Config) error {

	host, _, err := net.SplitHostPort(conf.Server.ListenAddr)
	if err != nil {
		return err
	}

	if host == "" {
		host = "localhost"
	}

	pair, err := crypto.GenerateCert([]string{host}, 365*24*time.Hour, 2048)
	if err != nil {
		return err
	}

	return pair.Write(conf.Server.CertLoc, conf.Server.KeyLoc)
}

// dialClient connects to the server named in the
// client section of conf.
func dialClient(conf *config.Config) (*client.Client, error) {

	var tlsConfig *tls.Config

	if conf.Client.TLS {

		var err error

		tlsConfig, err = crypto.NewClientTLSConfig(conf.Client.RootCertLoc)
		if err != nil {
			return nil, err
		}
	}

	conn, err := client.Dial(conf.Client.Transport, conf.Client.Addr, tlsConfig, conf.Server.MaxFrameSize)
	if err != nil {
		return nil, err
	}

	return client.New(conn), nil
}

// fetchDocument connects as a client and writes the
// server's document as JSON to w.
func fetchDocument(conf *config.Config, w io.Writer) error {

	c, err := dialClient(conf)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), conf.Client.Timeout)
	defer cancel()

	doc, err := c.Document(ctx)
	if err != nil {
		return err
	}

	rendered, err := doc.MarshalJSON()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(rendered))

	return err
}

// evaluate runs an evaluation with the supplied number
// of sessions against the configured server, logging
// every write to w.
func evaluate(conf *config.Config, sessions int, w io.Writer) (*evaluation.Result, error) {

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(sessions)*conf.Client.Timeout)
	defer cancel()

	return evaluation.Run(ctx, func() (*client.Client, error) {
		return dialClient(conf)
	}, evaluation.Options{
		Sessions: sessions,
		Writes:   100,
		FirstKey: 1000,
		Keys:     10,
	}, w)
}

// runServer starts all listeners and blocks until
// a termination signal arrives.
func runServer(logger log.Logger, conf *config.Config) error {

	var err error
	var tlsConfig *tls.Config

	if conf.Server.TLS {

		tlsConfig, err = crypto.NewServerTLSConfig(conf.Server.CertLoc, conf.Server.KeyLoc)
		if err != nil {
			return err
		}
	}

	state, err := server.NewState(document.Example(), conf.Server.SnapshotCache, conf.Server.SubscriberBuffer, conf.Server.StrictContexts)
	if err != nil {
		return err
	}

	reg := prom.NewRegistry()
	m := NewMetrics(conf.Server.PrometheusAddr, reg)

	service := server.NewService(logger, state, m.StaleContexts)
	service = server.NewLoggingService(service, logger)
	service = server.NewMetricsService(service, m)

	srv := server.NewServer(logger, service, state, conf.Server.MaxFrameSize)

	go runPromHTTP(logger, conf.Server.PrometheusAddr, reg)

	// Framed TCP.
	framed, err := server.Listen(conf.Server.ListenAddr, tlsConfig)
	if err != nil {
		return err
	}
	defer framed.Close()

	// HTTP and websocket.
	httpLn, err := server.Listen(conf.Server.HTTPAddr, tlsConfig)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Handler: srv.Router()}
	defer httpServer.Close()

	// gRPC terminates TLS itself.
	grpcLn, err := server.Listen(conf.Server.GRPCAddr, nil)
	if err != nil {
		httpLn.Close()
		return err
	}

	grpcServer := srv.GRPCServer(tlsConfig)
	defer grpcServer.Stop()

	errs := make(chan error, 3)

	go func() { errs <- srv.RunFramed(framed) }()
	go func() { errs <- httpServer.Serve(httpLn) }()
	go func() { errs <- srv.RunGRPC(grpcServer, grpcLn) }()

	level.Info(logger).Log(
		"msg", "causaldoc server running",
		"framed", conf.Server.ListenAddr,
		"http", conf.Server.HTTPAddr,
		"grpc", conf.Server.GRPCAddr,
		"tls", conf.Server.TLS,
	)

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-exit:
		level.Info(logger).Log("msg", "signal caught, shutting down", "signal", sig)
		return nil
	case err := <-errs:
		return err
	}
}

func main() {

	// Set CPUs usable by causaldoc to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command-line flags.
	configFlag := flag.String("config", "", "Provide path to configuration file in TOML syntax. Defaults are used if omitted.")
	envFlag := flag.String("env", "", "Provide path to a .env file overriding the listen addresses.")
	loglevelFlag := flag.String("loglevel", "debug", "This flag sets the default logging level.")
	generateCertFlag := flag.Bool("generate-cert", false, "Append this flag to write a self-signed certificate to the configured locations and exit.")
	fetchFlag := flag.Bool("fetch", false, "Append this flag to print the document of the configured server as JSON and exit.")
	evaluateFlag := flag.Int("evaluate", 0, "If larger than zero, run an evaluation with this many concurrent sessions against the configured server and exit.")
	flag.Parse()

	logger := initLogger(*loglevelFlag)

	// Read configuration from file and environment.
	conf, err := loadConfig(*configFlag, *envFlag)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the config",
			"err", err,
		)
		os.Exit(1)
	}

	if *generateCertFlag {

		if err := generateCert(conf); err != nil {
			level.Error(logger).Log(
				"msg", "failed to generate a certificate",
				"err", err,
			)
			os.Exit(2)
		}

		return
	}

	if *fetchFlag {

		if err := fetchDocument(conf, os.Stdout); err != nil {
			level.Error(logger).Log(
				"msg", "failed to fetch the document",
				"err", err,
			)
			os.Exit(3)
		}

		return
	}

	if *evaluateFlag > 0 {

		result, err := evaluate(conf, *evaluateFlag, os.Stderr)
		if err != nil {
			level.Error(logger).Log(
				"msg", "failed to run the evaluation",
				"err", err,
			)
			os.Exit(4)
		}

		fmt.Println(result)

		return
	}

	if err := runServer(logger, conf); err != nil {
		level.Error(logger).Log(
			"msg", "failed to run the server",
			"err", err,
		)
		os.Exit(5)
	}
}
