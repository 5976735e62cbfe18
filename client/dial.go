package client

import (
	"crypto/tls"
	"fmt"

	"github.com/numbleroot/causaldoc/comm"
	"github.com/pkg/errors"
)

// Functions

// Dial connects to a server at addr over transport,
// one of "tcp", "ws" or "grpc". A nil tlsConfig
// connects in plain text.
func Dial(transport string, addr string, tlsConfig *tls.Config, maxFrame int) (comm.Conn, error) {

	var err error
	var conn comm.Conn

	switch transport {

	case "tcp":
		conn, err = comm.DialFramed(addr, tlsConfig, maxFrame)

	case "ws":

		scheme := "ws"
		if tlsConfig != nil {
			scheme = "wss"
		}

		conn, err = comm.DialWS(fmt.Sprintf("%s://%s/service", scheme, addr), tlsConfig, maxFrame)

	case "grpc":
		conn, err = comm.DialGRPC(addr, tlsConfig, maxFrame)

	default:
		return nil, errors.Errorf("unknown transport '%s'", transport)
	}

	// Typed nil pointers must not leak as
	// non-nil interfaces.
	if err != nil {
		return nil, err
	}

	return conn, nil
}
