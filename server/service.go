package server

import (
	"math"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/numbleroot/causaldoc/comm"
	"github.com/pkg/errors"
)

// Structs

type service struct {
	logger log.Logger
	state  *State
	stale  metrics.Counter
}

// Interfaces

// Service defines the handlers a server runs for
// each client connection. Every command handler
// returns whether the connection may continue, which
// is only false when the client cannot be reached.
type Service interface {

	// Connect admits a new connection.
	Connect(c *Connection) bool

	// Disconnect tears down everything a connection
	// set up. err is nil on a clean close.
	Disconnect(c *Connection, err error)

	// Malformed handles a message that did not decode.
	// The message is dropped, the connection kept.
	Malformed(c *Connection, msg []byte, err error) bool

	// GetDocument sends the complete document.
	GetDocument(c *Connection, cmd comm.GetDocument) bool

	// GetRecord sends one record with its contexts.
	GetRecord(c *Connection, cmd comm.GetRecord) bool

	// GetReadCtx sends the context for writes to new keys.
	GetReadCtx(c *Connection, cmd comm.GetReadCtx) bool

	// Add applies content under the supplied add context.
	Add(c *Connection, cmd comm.Add) bool

	// Apply merges an operation the client authored.
	Apply(c *Connection, cmd comm.Apply) bool

	// Remove removes a key as far as the client observed it.
	Remove(c *Connection, cmd comm.Remove) bool

	// RequestActor assigns the client a fresh actor.
	RequestActor(c *Connection, cmd comm.RequestActor) bool

	// GetOps sends the logged operations from an index on.
	GetOps(c *Connection, cmd comm.GetOps) bool

	// Subscribe starts pushing every operation applied
	// on behalf of other connections to this one.
	Subscribe(c *Connection, cmd comm.Subscribe) bool

	// Stats reports the counters of the served state.
	Stats() Stats
}

// Functions

// NewService returns the service operating on state.
// Adds under stale contexts are counted on stale,
// which may be nil.
func NewService(logger log.Logger, state *State, stale metrics.Counter) Service {

	if stale == nil {
		stale = discard.NewCounter()
	}

	return &service{
		logger: logger,
		state:  state,
		stale:  stale,
	}
}

// Dispatch hands cmd to the handler of s responsible
// for its variant.
func Dispatch(s Service, c *Connection, cmd comm.Command) bool {

	switch cmd := cmd.(type) {
	case comm.GetDocument:
		return s.GetDocument(c, cmd)
	case comm.GetRecord:
		return s.GetRecord(c, cmd)
	case comm.GetReadCtx:
		return s.GetReadCtx(c, cmd)
	case comm.Add:
		return s.Add(c, cmd)
	case comm.Apply:
		return s.Apply(c, cmd)
	case comm.Remove:
		return s.Remove(c, cmd)
	case comm.RequestActor:
		return s.RequestActor(c, cmd)
	case comm.GetOps:
		return s.GetOps(c, cmd)
	case comm.Subscribe:
		return s.Subscribe(c, cmd)
	}

	return true
}

// Connect admits every connection.
func (s *service) Connect(c *Connection) bool {

	c.State = Open

	return true
}

// Disconnect stops the subscription of c, if any,
// and releases its actor.
func (s *service) Disconnect(c *Connection, err error) {

	if c.State == Closed {
		return
	}

	c.State = Closed
	close(c.done)

	s.state.Hub().Unsubscribe(c.ID)

	if c.HasActor {
		s.state.ReleaseActor(c.Actor)
	}
}

// Malformed drops msg.
func (s *service) Malformed(c *Connection, msg []byte, err error) bool {
	return true
}

// GetDocument sends the encoded document, served from
// the snapshot cache if nothing changed since the last
// request by any connection.
func (s *service) GetDocument(c *Connection, cmd comm.GetDocument) bool {

	msg, err := s.state.EncodedDocument()
	if err != nil {
		level.Error(s.logger).Log(
			"msg", "failed to encode document",
			"err", err,
		)
		return true
	}

	return c.Conn.Send(msg) == nil
}

// GetRecord sends the record at the requested key.
func (s *service) GetRecord(c *Connection, cmd comm.GetRecord) bool {

	return c.Respond(comm.RecordReply{
		ReadCtx: s.state.Record(cmd.Key),
	}) == nil
}

// GetReadCtx sends the aggregate context of the document.
func (s *service) GetReadCtx(c *Connection, cmd comm.GetReadCtx) bool {

	return c.Respond(comm.ReadCtxReply{
		ReadCtx: s.state.ReadCtx(),
	}) == nil
}

// Add applies the content of cmd. Stale contexts are
// reported but, unless the state is strict, applied
// anyway: the merge absorbs them.
func (s *service) Add(c *Connection, cmd comm.Add) bool {

	_, stale, err := s.state.Add(c.ID, cmd.Key, cmd.AddCtx, []byte(cmd.Content))

	if stale != nil {

		s.stale.Add(1)

		level.Warn(s.logger).Log(
			"msg", "add context could not have been read from this replica",
			"conn", c.ID,
			"key", cmd.Key,
			"err", stale,
		)
	}

	if (err != nil) && (errors.Cause(err) != ErrStaleContext) {
		level.Warn(s.logger).Log(
			"msg", "failed to apply add",
			"conn", c.ID,
			"key", cmd.Key,
			"err", err,
		)
	}

	return true
}

// Apply merges the operation of cmd.
func (s *service) Apply(c *Connection, cmd comm.Apply) bool {

	s.state.Apply(c.ID, cmd.Op)

	return true
}

// Remove removes the key of cmd.
func (s *service) Remove(c *Connection, cmd comm.Remove) bool {

	s.state.Remove(c.ID, cmd.Key, cmd.RmCtx)

	return true
}

// RequestActor allocates a fresh actor for c. An actor
// c held before is released.
func (s *service) RequestActor(c *Connection, cmd comm.RequestActor) bool {

	if c.HasActor {
		s.state.ReleaseActor(c.Actor)
	}

	c.Actor = s.state.AllocateActor()
	c.HasActor = true

	return c.Respond(comm.ActorReply{ID: c.Actor}) == nil
}

// GetOps sends the operation log from cmd.From on.
func (s *service) GetOps(c *Connection, cmd comm.GetOps) bool {

	from := math.MaxInt
	if cmd.From < uint64(math.MaxInt) {
		from = int(cmd.From)
	}

	return c.Respond(comm.OpsReply{
		From: cmd.From,
		Ops:  s.state.Ops(from),
	}) == nil
}

// Subscribe registers c with the hub and forwards
// every published operation to it. Subscribing an
// already subscribed connection changes nothing.
func (s *service) Subscribe(c *Connection, cmd comm.Subscribe) bool {

	if c.State == Subscribed {
		return true
	}

	c.updates = s.state.Hub().Subscribe(c.ID)
	c.State = Subscribed

	go s.forward(c)

	return true
}

// forward sends operations published to c until its
// subscription ends. A subscriber dropped for falling
// behind has missed operations, so its connection is
// closed to make the client resynchronize.
func (s *service) forward(c *Connection) {

	for op := range c.updates {

		if err := c.Respond(comm.AppliedReply{Op: op}); err != nil {
			level.Debug(s.logger).Log(
				"msg", "failed to push operation to subscriber",
				"conn", c.ID,
				"err", err,
			)
			return
		}
	}

	select {
	case <-c.done:
	default:

		level.Warn(s.logger).Log(
			"msg", "subscriber fell behind, closing connection",
			"conn", c.ID,
			"remote", c.ClientAddr(),
		)

		_ = c.Conn.Close()
	}
}

// Stats reports the counters of the served state.
func (s *service) Stats() Stats {
	return s.state.Stats()
}
