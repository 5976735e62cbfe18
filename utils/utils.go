package utils

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/numbleroot/causaldoc/client"
	"github.com/numbleroot/causaldoc/comm"
	"github.com/numbleroot/causaldoc/config"
	"github.com/numbleroot/causaldoc/crypto"
	"github.com/numbleroot/causaldoc/document"
	"github.com/numbleroot/causaldoc/server"
	"google.golang.org/grpc"
)

// Variables

// Transports lists the names Dial accepts.
var Transports = []string{"tcp", "ws", "grpc"}

// Structs

// TestEnv carries everything needed for a full
// grown test of a server reachable over all
// transports on loopback addresses.
type TestEnv struct {
	Config     *config.Config
	State      *server.State
	Server     *server.Server
	TLSConfig  *tls.Config
	FramedAddr string
	HTTPAddr   string
	GRPCAddr   string

	framed     net.Listener
	httpServer *http.Server
	grpcServer *grpc.Server
}

// Functions

// CreateTestEnv starts a server holding the example
// document as configured in the supplied file, or
// with the defaults if the path is empty. Listeners
// bind to free loopback ports. With TLS configured,
// a fresh self-signed certificate is used and
// TLSConfig trusts it.
func CreateTestEnv(configFilePath string, logger log.Logger) (*TestEnv, error) {

	var err error
	conf := config.Default()

	if configFilePath != "" {

		// Read configuration from file.
		conf, err = config.LoadConfig(configFilePath)
		if err != nil {
			return nil, err
		}
	}

	if logger == nil {
		logger = log.NewNopLogger()
	}

	var serverTLS *tls.Config
	var clientTLS *tls.Config

	if conf.Server.TLS {

		pair, err := crypto.GenerateCert([]string{"127.0.0.1"}, time.Hour, 2048)
		if err != nil {
			return nil, err
		}

		cert, err := pair.Certificate()
		if err != nil {
			return nil, err
		}

		serverTLS = crypto.ServerTLSConfig(cert)

		clientTLS, err = crypto.ClientTLSConfig(pair.CertPEM)
		if err != nil {
			return nil, err
		}
	}

	state, err := server.NewState(document.Example(), conf.Server.SnapshotCache, conf.Server.SubscriberBuffer, conf.Server.StrictContexts)
	if err != nil {
		return nil, err
	}

	service := server.NewService(logger, state, discard.NewCounter())
	service = server.NewLoggingService(service, logger)

	srv := server.NewServer(logger, service, state, conf.Server.MaxFrameSize)

	env := &TestEnv{
		Config:    conf,
		State:     state,
		Server:    srv,
		TLSConfig: clientTLS,
	}

	// Framed TCP.
	env.framed, err = server.Listen("127.0.0.1:0", serverTLS)
	if err != nil {
		return nil, err
	}
	env.FramedAddr = env.framed.Addr().String()

	go srv.RunFramed(env.framed)

	// HTTP and websocket.
	httpLn, err := server.Listen("127.0.0.1:0", serverTLS)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.HTTPAddr = httpLn.Addr().String()

	env.httpServer = &http.Server{Handler: srv.Router()}
	go env.httpServer.Serve(httpLn)

	// gRPC terminates TLS itself.
	grpcLn, err := server.Listen("127.0.0.1:0", nil)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.GRPCAddr = grpcLn.Addr().String()

	env.grpcServer = srv.GRPCServer(serverTLS)
	go srv.RunGRPC(env.grpcServer, grpcLn)

	return env, nil
}

// Dial connects to the environment's server over
// transport, one of Transports.
func (env *TestEnv) Dial(transport string) (comm.Conn, error) {

	var addr string

	switch transport {
	case "tcp":
		addr = env.FramedAddr
	case "ws":
		addr = env.HTTPAddr
	case "grpc":
		addr = env.GRPCAddr
	}

	return client.Dial(transport, addr, env.TLSConfig, env.Config.Server.MaxFrameSize)
}

// HTTPURL returns the base URL of the HTTP listener.
func (env *TestEnv) HTTPURL() string {

	if env.TLSConfig != nil {
		return "https://" + env.HTTPAddr
	}

	return "http://" + env.HTTPAddr
}

// Close shuts all listeners down.
func (env *TestEnv) Close() {

	if env.framed != nil {
		env.framed.Close()
	}

	if env.httpServer != nil {
		env.httpServer.Close()
	}

	if env.grpcServer != nil {
		env.grpcServer.Stop()
	}
}
