package comm

import (
	"crypto/tls"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
)

// ServerOptions returns the gRPC server options for the
// replica service. A nil tlsConfig serves plaintext.
func ServerOptions(tlsConfig *tls.Config, maxMsgSize int) []grpc.ServerOption {

	if maxMsgSize <= 0 {
		maxMsgSize = DefaultMaxFrameSize
	}

	enfPolicy := keepalive.EnforcementPolicy{
		// Clients connecting to this server should wait
		// at least 30 seconds before sending a keepalive.
		MinTime: 30 * time.Second,
		// Expect keepalives even when no streams are active.
		PermitWithoutStream: true,
	}

	kaParams := keepalive.ServerParameters{
		// The server will ping the client after
		// 30 seconds of inactivity for keepalive.
		Time: 30 * time.Second,
		// If no response to such keepalive ping is received
		// after 20 seconds, the connection is closed.
		Timeout: 20 * time.Second,
	}

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(RawCodec{}),
		grpc.KeepaliveEnforcementPolicy(enfPolicy),
		grpc.KeepaliveParams(kaParams),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}

	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	return opts
}

// DialOptions defines gRPC options for connections
// of a client to the replica service.
func DialOptions(tlsConfig *tls.Config, maxMsgSize int) []grpc.DialOption {

	if maxMsgSize <= 0 {
		maxMsgSize = DefaultMaxFrameSize
	}

	// These call options will be used for every call
	// via this connection.
	callOpts := []grpc.CallOption{
		grpc.ForceCodec(RawCodec{}),
		// Compress with GZIP, the server decompresses
		// as soon as the gzip package is registered.
		grpc.UseCompressor(gzip.Name),
		// Set maximum receive and send sizes.
		grpc.MaxCallRecvMsgSize(maxMsgSize),
		grpc.MaxCallSendMsgSize(maxMsgSize),
	}

	kaParams := keepalive.ClientParameters{
		// The client will ping the server after
		// 30 seconds of inactivity for keepalive.
		Time: 30 * time.Second,
		// If no response to such keepalive ping is received
		// after 20 seconds, the connection is closed.
		Timeout: 20 * time.Second,
		// Expect keepalives even when no streams are active.
		PermitWithoutStream: true,
	}

	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}

	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithKeepaliveParams(kaParams),
		grpc.WithTransportCredentials(creds),
	}
}
