package server

import (
	"crypto/tls"
	"io"
	"net"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/causaldoc/comm"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// Structs

// Server runs a Service for connections arriving
// over any of the supported transports.
type Server struct {
	logger   log.Logger
	service  Service
	state    *State
	maxFrame int
}

// Functions

// NewServer returns a server dispatching commands to
// service. state backs the HTTP debug endpoints.
// Messages above maxFrame bytes are refused, zero
// selects comm.DefaultMaxFrameSize.
func NewServer(logger log.Logger, service Service, state *State, maxFrame int) *Server {

	if maxFrame <= 0 {
		maxFrame = comm.DefaultMaxFrameSize
	}

	return &Server{
		logger:   logger,
		service:  service,
		state:    state,
		maxFrame: maxFrame,
	}
}

// Listen opens a TCP socket on addr. With a non-nil
// tlsConfig, connections are served via TLS.
func Listen(addr string, tlsConfig *tls.Config) (net.Listener, error) {

	var err error
	var ln net.Listener

	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s failed", addr)
	}

	return ln, nil
}

// Sync serves one client connection until it closes.
// Messages that do not decode are dropped, any other
// command goes to the service. It implements the gRPC
// Sync stream as well.
func (srv *Server) Sync(conn comm.Conn) error {

	c := NewConnection(conn)

	if !srv.service.Connect(c) {
		return nil
	}

	var err error

	for {

		// Receive next incoming client command.
		msg, recvErr := conn.Receive()
		if recvErr != nil {

			// A clean close ends the loop silently.
			if recvErr != io.EOF {
				err = recvErr
			}

			break
		}

		cmd, decodeErr := comm.DecodeCommand(msg)
		if decodeErr != nil {

			if !srv.service.Malformed(c, msg, decodeErr) {
				break
			}

			continue
		}

		if !Dispatch(srv.service, c, cmd) {
			break
		}
	}

	srv.service.Disconnect(c, err)

	return err
}

// RunFramed loops over incoming connections on ln and
// serves each one in its own goroutine, framing
// messages by length. It returns once ln is closed.
func (srv *Server) RunFramed(ln net.Listener) error {

	level.Info(srv.logger).Log(
		"msg", "listening for framed connections",
		"addr", ln.Addr().String(),
	)

	for {

		// Accept request or fail on error.
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accepting incoming connection failed")
		}

		// Dispatch into own goroutine.
		go func() {

			fc := comm.NewFramedConn(conn, srv.maxFrame)
			_ = srv.Sync(fc)
			fc.Close()
		}()
	}
}

// GRPCServer returns a gRPC server offering the
// replica service backed by srv.
func (srv *Server) GRPCServer(tlsConfig *tls.Config) *grpc.Server {

	gs := grpc.NewServer(comm.ServerOptions(tlsConfig, srv.maxFrame)...)
	comm.RegisterSyncServer(gs, srv)

	return gs
}

// RunGRPC serves gRPC clients on ln until it is closed.
func (srv *Server) RunGRPC(gs *grpc.Server, ln net.Listener) error {

	level.Info(srv.logger).Log(
		"msg", "listening for gRPC connections",
		"addr", ln.Addr().String(),
	)

	if err := gs.Serve(ln); err != nil {
		return errors.Wrap(err, "serving gRPC failed")
	}

	return nil
}
