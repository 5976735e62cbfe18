package client

import (
	"context"
	"io"
	"sync"

	"github.com/numbleroot/causaldoc/comm"
	"github.com/numbleroot/causaldoc/crdt"
	"github.com/numbleroot/causaldoc/document"
	"github.com/pkg/errors"
)

// Constants

// updateBuffer is the number of pushed operations
// held for a subscriber before reading stalls.
const updateBuffer = 1024

// Variables

// ErrClosed is returned by requests on a client whose
// connection ended.
var ErrClosed = errors.New("client connection closed")

// ErrUnexpectedResponse is returned when the server
// answered with a different variant than requested.
var ErrUnexpectedResponse = errors.New("unexpected response")

// Structs

// Client issues commands to a server over one
// connection. The server answers requests in the order
// it received them, so responses are matched to
// requests first in, first out. Pushed operations of
// a subscription are delivered separately.
type Client struct {
	conn comm.Conn

	// sendLock keeps the order of sent requests
	// and of the pending queue in step.
	sendLock sync.Mutex

	lock    sync.Mutex
	pending []chan comm.DocResponse
	err     error

	updates chan crdt.ORMapOp
	done    chan struct{}
}

// Functions

// New returns a client talking over conn and starts
// reading responses from it.
func New(conn comm.Conn) *Client {

	c := &Client{
		conn:    conn,
		updates: make(chan crdt.ORMapOp, updateBuffer),
		done:    make(chan struct{}),
	}

	go c.read()

	return c
}

// read delivers every message from the connection
// until it ends. Messages that do not decode are
// skipped.
func (c *Client) read() {

	var err error

	for {

		msg, recvErr := c.conn.Receive()
		if recvErr != nil {
			err = recvErr
			break
		}

		resp, decodeErr := comm.DecodeResponse(msg)
		if decodeErr != nil {
			continue
		}

		if applied, ok := resp.(comm.AppliedReply); ok {
			c.updates <- applied.Op
			continue
		}

		c.lock.Lock()

		if len(c.pending) == 0 {
			c.lock.Unlock()
			continue
		}

		next := c.pending[0]
		c.pending = c.pending[1:]
		c.lock.Unlock()

		next <- resp
	}

	if err == io.EOF {
		err = ErrClosed
	}

	// Fail everything still waiting.
	c.lock.Lock()

	c.err = err
	for _, p := range c.pending {
		close(p)
	}
	c.pending = nil

	c.lock.Unlock()

	close(c.updates)
	close(c.done)
}

// send encodes and sends cmd. If expectReply is set,
// the returned channel yields the response to it.
func (c *Client) send(cmd comm.Command, expectReply bool) (<-chan comm.DocResponse, error) {

	msg, err := comm.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	var reply chan comm.DocResponse

	if expectReply {

		reply = make(chan comm.DocResponse, 1)

		c.lock.Lock()

		if c.err != nil {
			c.lock.Unlock()
			return nil, c.err
		}

		c.pending = append(c.pending, reply)
		c.lock.Unlock()
	}

	if err := c.conn.Send(msg); err != nil {
		return nil, errors.Wrapf(err, "sending %s failed", comm.CommandName(cmd))
	}

	return reply, nil
}

// request sends cmd and waits for its response.
func (c *Client) request(ctx context.Context, cmd comm.Command) (comm.DocResponse, error) {

	reply, err := c.send(cmd, true)
	if err != nil {
		return nil, err
	}

	select {

	case resp, ok := <-reply:

		if !ok {
			return nil, c.Err()
		}

		return resp, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Document fetches the complete document.
func (c *Client) Document(ctx context.Context) (*document.Document, error) {

	resp, err := c.request(ctx, comm.GetDocument{})
	if err != nil {
		return nil, err
	}

	doc, ok := resp.(comm.DocumentReply)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedResponse, "%s to GetDocument", resp)
	}

	return doc.Doc, nil
}

// Record fetches the record at key with its contexts.
func (c *Client) Record(ctx context.Context, key crdt.RecordKey) (crdt.ReadCtx[*crdt.ORSet], error) {

	resp, err := c.request(ctx, comm.GetRecord{Key: key})
	if err != nil {
		return crdt.ReadCtx[*crdt.ORSet]{}, err
	}

	rec, ok := resp.(comm.RecordReply)
	if !ok {
		return crdt.ReadCtx[*crdt.ORSet]{}, errors.Wrapf(ErrUnexpectedResponse, "%s to GetRecord", resp)
	}

	return rec.ReadCtx, nil
}

// ReadCtx fetches the context for writes to new keys.
func (c *Client) ReadCtx(ctx context.Context) (crdt.ReadCtx[struct{}], error) {

	resp, err := c.request(ctx, comm.GetReadCtx{})
	if err != nil {
		return crdt.ReadCtx[struct{}]{}, err
	}

	read, ok := resp.(comm.ReadCtxReply)
	if !ok {
		return crdt.ReadCtx[struct{}]{}, errors.Wrapf(ErrUnexpectedResponse, "%s to GetReadCtx", resp)
	}

	return read.ReadCtx, nil
}

// RequestActor asks the server for a fresh actor.
func (c *Client) RequestActor(ctx context.Context) (crdt.Actor, error) {

	resp, err := c.request(ctx, comm.RequestActor{})
	if err != nil {
		return 0, err
	}

	actor, ok := resp.(comm.ActorReply)
	if !ok {
		return 0, errors.Wrapf(ErrUnexpectedResponse, "%s to RequestActor", resp)
	}

	return actor.ID, nil
}

// Ops fetches the operations the server logged from
// index from on.
func (c *Client) Ops(ctx context.Context, from uint64) ([]crdt.ORMapOp, error) {

	resp, err := c.request(ctx, comm.GetOps{From: from})
	if err != nil {
		return nil, err
	}

	ops, ok := resp.(comm.OpsReply)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedResponse, "%s to GetOps", resp)
	}

	return ops.Ops, nil
}

// Add has the server add content to the record at key
// under addCtx. Nothing is returned.
func (c *Client) Add(addCtx *crdt.AddCtx, key crdt.RecordKey, content string) error {

	_, err := c.send(comm.Add{AddCtx: addCtx, Key: key, Content: content}, false)

	return err
}

// Apply sends an operation authored locally.
func (c *Client) Apply(op crdt.ORMapOp) error {

	_, err := c.send(comm.Apply{Op: op}, false)

	return err
}

// Remove has the server remove key as far as rmCtx
// observed it.
func (c *Client) Remove(rmCtx crdt.RmCtx, key crdt.RecordKey) error {

	_, err := c.send(comm.Remove{RmCtx: rmCtx, Key: key}, false)

	return err
}

// Subscribe asks the server to push every operation
// other connections cause. They arrive on the returned
// channel, which is closed when the connection ends.
// The channel has to be drained: a full buffer stalls
// the delivery of responses as well.
func (c *Client) Subscribe() (<-chan crdt.ORMapOp, error) {

	if _, err := c.send(comm.Subscribe{}, false); err != nil {
		return nil, err
	}

	return c.updates, nil
}

// Done is closed once the connection ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil while
// it is still up.
func (c *Client) Err() error {

	c.lock.Lock()
	defer c.lock.Unlock()

	return c.err
}

// Close closes the connection and waits until the
// reader stopped.
func (c *Client) Close() error {

	err := c.conn.Close()
	<-c.done

	return err
}
