package server

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/numbleroot/causaldoc/comm"
	"github.com/numbleroot/causaldoc/crdt"
)

// Constants

// States a client connection moves through. A
// connection starts Open, Subscribe moves it to
// Subscribed, and it ends Closed.
const (
	Open ConnState = iota
	Subscribed
	Closed
)

// Structs

// ConnState is the protocol state of one connection.
type ConnState int

// Connection carries all information specific
// to one client connection to the server.
type Connection struct {
	ID       string
	Conn     comm.Conn
	State    ConnState
	Actor    crdt.Actor
	HasActor bool
	updates  <-chan crdt.ORMapOp
	done     chan struct{}
}

// Functions

// NewConnection wraps conn into a fresh Open connection.
func NewConnection(conn comm.Conn) *Connection {

	return &Connection{
		ID:    uuid.New().String(),
		Conn:  conn,
		State: Open,
		done:  make(chan struct{}),
	}
}

// Respond encodes resp and sends it to the client.
func (c *Connection) Respond(resp comm.DocResponse) error {

	msg, err := comm.EncodeResponse(resp)
	if err != nil {
		return err
	}

	return c.Conn.Send(msg)
}

// ClientAddr returns the remote address of the client.
func (c *Connection) ClientAddr() string {
	return c.Conn.RemoteAddr()
}

func (s ConnState) String() string {

	switch s {
	case Open:
		return "open"
	case Subscribed:
		return "subscribed"
	case Closed:
		return "closed"
	}

	return fmt.Sprintf("state(%d)", int(s))
}
