package comm

import (
	"context"
	"crypto/tls"
	"io"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Structs

// SyncServer is implemented by servers that handle
// the bidirectional Sync stream of the replica service.
type SyncServer interface {
	Sync(conn Conn) error
}

// stream is what client and server side gRPC
// streams have in common.
type stream interface {
	Context() context.Context
	SendMsg(m any) error
	RecvMsg(m any) error
}

// GRPCConn transports one message per gRPC stream message.
type GRPCConn struct {
	stream stream
	lock   sync.Mutex
	closed bool
	close  func() error
}

// Variables

// ReplicaServiceDesc describes the replica service
// without generated code: one bidirectional stream
// of raw encoded commands and responses.
var ReplicaServiceDesc = grpc.ServiceDesc{
	ServiceName: "causaldoc.Replica",
	HandlerType: (*SyncServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Sync",
			Handler:       syncHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "causaldoc/replica",
}

// Functions

// syncHandler runs Sync for one stream. The stream ends
// when Sync returns or the connection is closed, whatever
// happens first.
func syncHandler(srv any, s grpc.ServerStream) error {

	closed := make(chan struct{})
	conn := &GRPCConn{stream: s}

	conn.close = func() error {

		conn.lock.Lock()
		defer conn.lock.Unlock()

		if !conn.closed {
			conn.closed = true
			close(closed)
		}

		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.(SyncServer).Sync(conn)
	}()

	select {
	case err := <-done:
		return err
	case <-closed:
		// Sync returns once its pending receive fails.
		return status.Error(codes.Aborted, "connection closed by server")
	}
}

// RegisterSyncServer registers srv for the replica service on s.
func RegisterSyncServer(s *grpc.Server, srv SyncServer) {
	s.RegisterService(&ReplicaServiceDesc, srv)
}

// DialGRPC opens a Sync stream to the replica service
// at addr. The stream lives until Close is called.
func DialGRPC(addr string, tlsConfig *tls.Config, maxMsgSize int) (*GRPCConn, error) {

	cc, err := grpc.NewClient(addr, DialOptions(tlsConfig, maxMsgSize)...)
	if err != nil {
		return nil, errors.Wrapf(err, "creating gRPC client for %s failed", addr)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s, err := cc.NewStream(ctx, &ReplicaServiceDesc.Streams[0], "/causaldoc.Replica/Sync", grpc.WaitForReady(true))
	if err != nil {
		cancel()
		cc.Close()
		return nil, errors.Wrapf(err, "opening Sync stream to %s failed", addr)
	}

	return &GRPCConn{
		stream: s,
		close: func() error {

			_ = s.CloseSend()
			cancel()

			return cc.Close()
		},
	}, nil
}

// Send writes msg as one stream message.
func (c *GRPCConn) Send(msg []byte) error {

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return errors.Wrap(io.ErrClosedPipe, "sending on closed Sync stream failed")
	}

	if err := c.stream.SendMsg(&msg); err != nil {
		return errors.Wrap(err, "sending on Sync stream failed")
	}

	return nil
}

// Receive blocks until the next stream message has
// arrived. The end of the stream yields io.EOF.
func (c *GRPCConn) Receive() ([]byte, error) {

	var msg []byte

	if err := c.stream.RecvMsg(&msg); err != nil {

		if err == io.EOF {
			return nil, io.EOF
		}

		return nil, errors.Wrap(err, "receiving on Sync stream failed")
	}

	return msg, nil
}

// Close ends the stream. On the server side the handler
// returns right away and the peer sees the stream abort.
func (c *GRPCConn) Close() error {
	return c.close()
}

// RemoteAddr returns the address of the peer if known.
func (c *GRPCConn) RemoteAddr() string {

	if p, ok := peer.FromContext(c.stream.Context()); ok && (p.Addr != nil) {
		return p.Addr.String()
	}

	return "unknown"
}
