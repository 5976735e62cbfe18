package comm

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Constants

// DefaultMaxFrameSize bounds a single framed message
// unless configured otherwise.
const DefaultMaxFrameSize = 16 * 1024 * 1024

// Variables

// ErrFrameTooLarge is returned when a peer announces
// a frame longer than the configured maximum.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Structs

// Conn carries whole encoded messages in both directions.
// Send may be called concurrently with Receive, and
// concurrent calls to Send are serialized.
type Conn interface {
	Send(msg []byte) error
	Receive() ([]byte, error)
	Close() error
	RemoteAddr() string
}

// FramedConn transports messages over a byte stream,
// each one prefixed by its uvarint encoded length.
type FramedConn struct {
	conn     net.Conn
	reader   *bufio.Reader
	maxFrame int
	lock     sync.Mutex
}

// Functions

// NewFramedConn wraps c. Frames longer than maxFrame
// bytes are refused, zero selects DefaultMaxFrameSize.
func NewFramedConn(c net.Conn, maxFrame int) *FramedConn {

	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}

	return &FramedConn{
		conn:     c,
		reader:   bufio.NewReader(c),
		maxFrame: maxFrame,
	}
}

// Send writes msg as one frame.
func (c *FramedConn) Send(msg []byte) error {

	if len(msg) > c.maxFrame {
		return errors.Wrapf(ErrFrameTooLarge, "sending %d bytes", len(msg))
	}

	frame := make([]byte, 0, binary.MaxVarintLen64+len(msg))
	frame = binary.AppendUvarint(frame, uint64(len(msg)))
	frame = append(frame, msg...)

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, err := c.conn.Write(frame); err != nil {
		return errors.Wrap(err, "writing frame failed")
	}

	return nil
}

// Receive blocks until the next frame has arrived.
// A clean close by the peer yields io.EOF.
func (c *FramedConn) Receive() ([]byte, error) {

	size, err := binary.ReadUvarint(c.reader)
	if err != nil {

		if err == io.EOF {
			return nil, io.EOF
		}

		return nil, errors.Wrap(err, "reading frame length failed")
	}

	if size > uint64(c.maxFrame) {
		return nil, errors.Wrapf(ErrFrameTooLarge, "peer announced %d bytes", size)
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(c.reader, msg); err != nil {
		return nil, errors.Wrap(err, "reading frame failed")
	}

	return msg, nil
}

// Close closes the underlying connection.
func (c *FramedConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the address of the peer.
func (c *FramedConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReliableConnect dials addr until the remote stops
// refusing connections, waiting retry between attempts.
// Other errors, or more than attempts refusals, are
// returned. A nil tlsConfig dials plain TCP.
func ReliableConnect(addr string, tlsConfig *tls.Config, retry time.Duration, attempts int) (net.Conn, error) {

	var err error
	var conn net.Conn

	for i := 0; i < attempts; i++ {

		if tlsConfig != nil {
			conn, err = tls.Dial("tcp", addr, tlsConfig)
		} else {
			conn, err = net.Dial("tcp", addr)
		}

		if err == nil {
			return conn, nil
		}

		// Only refused connections are worth another try.
		if !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, errors.Wrapf(err, "could not connect to %s", addr)
		}

		time.Sleep(retry)
	}

	return nil, errors.Wrapf(err, "could not connect to %s after %d attempts", addr, attempts)
}

// DialFramed connects to a framed TCP listener.
func DialFramed(addr string, tlsConfig *tls.Config, maxFrame int) (*FramedConn, error) {

	conn, err := ReliableConnect(addr, tlsConfig, 100*time.Millisecond, 20)
	if err != nil {
		return nil, err
	}

	return NewFramedConn(conn, maxFrame), nil
}
