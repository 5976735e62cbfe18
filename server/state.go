package server

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/numbleroot/causaldoc/comm"
	"github.com/numbleroot/causaldoc/crdt"
	"github.com/numbleroot/causaldoc/document"
	"github.com/pkg/errors"
)

// Constants

// ServerActor authors the example document a fresh
// server starts with. Clients are assigned actors
// counting up from there.
const ServerActor crdt.Actor = 0

// Variables

// ErrStaleContext is returned when a command carrying a
// stale or forged add context was dropped.
var ErrStaleContext = errors.New("add context rejected")

// Structs

// State is the canonical replica of a server together
// with the bookkeeping shared by all connections. All
// methods are safe for concurrent use. The lock is only
// held for in-memory work, never across network calls.
type State struct {
	lock      sync.Mutex
	replica   *document.Replica
	strict    bool
	latest    crdt.Actor
	clients   map[crdt.Actor]struct{}
	snapshots *lru.ARCCache
	hub       *Hub
}

// Stats is a consistent snapshot of the counters
// worth reporting about a State.
type Stats struct {
	LogLen      int
	Records     int
	Clients     int
	Subscribers int
}

// Functions

// NewState returns the state of a server holding doc.
// The last cacheSize encoded document snapshots are
// kept, a subscriber falls behind after subBuffer
// pending operations. With strict set, adds under
// stale or forged contexts are dropped.
func NewState(doc *document.Document, cacheSize int, subBuffer int, strict bool) (*State, error) {

	if cacheSize <= 0 {
		cacheSize = 1
	}

	snapshots, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating snapshot cache failed")
	}

	return &State{
		replica:   document.NewReplica(ServerActor, doc),
		strict:    strict,
		latest:    ServerActor,
		clients:   make(map[crdt.Actor]struct{}),
		snapshots: snapshots,
		hub:       NewHub(subBuffer),
	}, nil
}

// Hub returns the hub applied operations are published on.
func (s *State) Hub() *Hub {
	return s.hub
}

// EncodedDocument returns the encoded Document response
// for the current state. Encodings are cached by the
// length of the operation log, every change of the
// document extends it.
func (s *State) EncodedDocument() ([]byte, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	version := s.replica.Log().Len()

	if cached, found := s.snapshots.Get(version); found {
		return cached.([]byte), nil
	}

	msg, err := comm.EncodeResponse(comm.DocumentReply{Doc: s.replica.Document()})
	if err != nil {
		return nil, err
	}

	s.snapshots.Add(version, msg)

	return msg, nil
}

// Document returns a copy of the current document.
func (s *State) Document() *document.Document {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.replica.Document().Clone()
}

// Record returns the record at key with its contexts.
func (s *State) Record(key crdt.RecordKey) crdt.ReadCtx[*crdt.ORSet] {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.replica.Document().GetRecord(key)
}

// ReadCtx returns the context for writes to new keys.
func (s *State) ReadCtx() crdt.ReadCtx[struct{}] {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.replica.Document().GetReadCtx()
}

// Add applies the addition of content to the record at
// key under ctx and publishes the resulting operation to
// every subscriber except origin. A context that could
// not have been read from this replica is reported as
// stale. In strict mode nothing is applied then and err
// wraps ErrStaleContext.
func (s *State) Add(origin string, key crdt.RecordKey, ctx *crdt.AddCtx, content []byte) (op crdt.ORMapOp, stale error, err error) {

	s.lock.Lock()

	stale = s.replica.CheckAddCtx(ctx)
	if (stale != nil) && s.strict {
		s.lock.Unlock()
		return crdt.ORMapOp{}, stale, errors.Wrap(ErrStaleContext, stale.Error())
	}

	op, err = s.replica.AddContent(key, ctx, content)
	s.lock.Unlock()

	if err != nil {
		return crdt.ORMapOp{}, stale, err
	}

	s.hub.Publish(origin, op)

	return op, stale, nil
}

// Apply merges an operation authored elsewhere and
// publishes it to every subscriber except origin.
func (s *State) Apply(origin string, op crdt.ORMapOp) {

	s.lock.Lock()
	s.replica.ApplyOp(op)
	s.lock.Unlock()

	s.hub.Publish(origin, op)
}

// Remove applies the removal of key as far as ctx
// observed it and publishes the resulting operation.
func (s *State) Remove(origin string, key crdt.RecordKey, ctx crdt.RmCtx) crdt.ORMapOp {

	s.lock.Lock()
	op := s.replica.RemoveRecord(key, ctx)
	s.lock.Unlock()

	s.hub.Publish(origin, op)

	return op
}

// Ops returns the logged operations from index on.
func (s *State) Ops(from int) []crdt.ORMapOp {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.replica.Log().Since(from)
}

// AllocateActor hands out an actor no other client
// has been assigned during the lifetime of the state.
func (s *State) AllocateActor() crdt.Actor {

	s.lock.Lock()
	defer s.lock.Unlock()

	s.latest++
	s.clients[s.latest] = struct{}{}

	return s.latest
}

// ReleaseActor marks the client of actor as gone.
// Released actors are never handed out again.
func (s *State) ReleaseActor(actor crdt.Actor) {

	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.clients, actor)
}

// Stats returns the current counters of the state.
func (s *State) Stats() Stats {

	s.lock.Lock()

	stats := Stats{
		LogLen:  s.replica.Log().Len(),
		Records: s.replica.Document().Records.Len(),
		Clients: len(s.clients),
	}

	s.lock.Unlock()

	stats.Subscribers = s.hub.Len()

	return stats
}

// JSON renders the current document for humans.
func (s *State) JSON() ([]byte, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.replica.Document().MarshalJSON()
}

// Digest returns the digest of the current document.
func (s *State) Digest() ([32]byte, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.replica.Document().Digest()
}
