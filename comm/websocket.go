package comm

import (
	"crypto/tls"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Structs

// WSConn transports one message per binary websocket
// message. Text messages are skipped.
type WSConn struct {
	ws   *websocket.Conn
	lock sync.Mutex
}

// Functions

// NewWSConn wraps an established websocket. Messages
// larger than maxMessage bytes close the connection.
func NewWSConn(ws *websocket.Conn, maxMessage int) *WSConn {

	if maxMessage <= 0 {
		maxMessage = DefaultMaxFrameSize
	}

	ws.SetReadLimit(int64(maxMessage))

	return &WSConn{
		ws: ws,
	}
}

// Upgrader returns the websocket upgrader used by the
// server endpoint.
func Upgrader() *websocket.Upgrader {

	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// DialWS connects to the websocket endpoint at url,
// e.g. "ws://localhost:8080/service".
func DialWS(url string, tlsConfig *tls.Config, maxMessage int) (*WSConn, error) {

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  tlsConfig,
	}

	ws, resp, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "websocket handshake with %s failed", url)
	}

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return NewWSConn(ws, maxMessage), nil
}

// Send writes msg as one binary message.
func (c *WSConn) Send(msg []byte) error {

	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return errors.Wrap(err, "writing websocket message failed")
	}

	return nil
}

// Receive blocks until the next binary message has
// arrived. A normal closure by the peer yields io.EOF.
func (c *WSConn) Receive() ([]byte, error) {

	for {

		typ, msg, err := c.ws.ReadMessage()
		if err != nil {

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}

			return nil, errors.Wrap(err, "reading websocket message failed")
		}

		if typ == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

// Close sends a close message and closes the connection.
func (c *WSConn) Close() error {

	c.lock.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.lock.Unlock()

	return c.ws.Close()
}

// RemoteAddr returns the address of the peer.
func (c *WSConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
