package client

import (
	"context"
	"sync"

	"github.com/numbleroot/causaldoc/crdt"
	"github.com/numbleroot/causaldoc/document"
	"github.com/pkg/errors"
)

// Structs

// Session is a client-side replica of the document.
// It authors operations from read contexts fetched
// from the server, applies them locally and sends
// them to the server. Local state catches up with
// the server through Sync or Follow.
type Session struct {
	client  *Client
	lock    sync.Mutex
	replica *document.Replica
	cursor  uint64

	subscribe    sync.Once
	subscribeErr error
	pumped       chan struct{}

	// handlerLock is held while fn of a Follow runs.
	handlerLock sync.Mutex
	handler     func(op crdt.ORMapOp)
}

// Functions

// NewSession requests a fresh actor for the session
// and fetches the current document and log.
func NewSession(ctx context.Context, c *Client) (*Session, error) {

	actor, err := c.RequestActor(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "requesting actor failed")
	}

	doc, err := c.Document(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching document failed")
	}

	s := &Session{
		client:  c,
		replica: document.NewReplica(actor, doc),
	}

	// The document may already contain parts of the
	// log. Applying those again changes nothing.
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Actor returns the actor the session authors as.
func (s *Session) Actor() crdt.Actor {
	return s.replica.Actor()
}

// Document returns a copy of the local document.
func (s *Session) Document() *document.Document {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.replica.Document().Clone()
}

// Record returns the record at key as seen locally.
func (s *Session) Record(key crdt.RecordKey) crdt.ReadCtx[*crdt.ORSet] {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.replica.Document().GetRecord(key)
}

// Sync applies every operation the server logged
// since the last sync.
func (s *Session) Sync(ctx context.Context) error {

	s.lock.Lock()
	from := s.cursor
	s.lock.Unlock()

	ops, err := s.client.Ops(ctx, from)
	if err != nil {
		return errors.Wrap(err, "fetching operations failed")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	// A concurrent sync may have moved on already.
	if s.cursor != from {
		return nil
	}

	for _, op := range ops {
		s.replica.Document().Apply(op)
	}
	s.cursor = from + uint64(len(ops))

	return nil
}

// Add reads the record at key from the server, adds
// content under a context derived from that read and
// sends the operation. It returns the operation.
func (s *Session) Add(ctx context.Context, key crdt.RecordKey, content []byte) (crdt.ORMapOp, error) {

	read, err := s.client.Record(ctx, key)
	if err != nil {
		return crdt.ORMapOp{}, errors.Wrapf(err, "reading record %d failed", key)
	}

	s.lock.Lock()
	op, err := s.replica.AddContent(key, read.DeriveAddCtx(s.replica.Actor()), content)
	s.lock.Unlock()

	if err != nil {
		return crdt.ORMapOp{}, err
	}

	return op, s.client.Apply(op)
}

// AddViaServer reads the aggregate context from the
// server and has the server add content to the record
// at key under a context derived from it.
func (s *Session) AddViaServer(ctx context.Context, key crdt.RecordKey, content string) error {

	read, err := s.client.ReadCtx(ctx)
	if err != nil {
		return errors.Wrap(err, "reading context failed")
	}

	return s.client.Add(read.DeriveAddCtx(s.replica.Actor()), key, content)
}

// RemoveContent removes content from the record at
// key as far as the server observed it.
func (s *Session) RemoveContent(ctx context.Context, key crdt.RecordKey, content []byte) (crdt.ORMapOp, error) {

	// Catch up so the local record names every dot
	// of content the server knows about.
	if err := s.Sync(ctx); err != nil {
		return crdt.ORMapOp{}, err
	}

	read, err := s.client.Record(ctx, key)
	if err != nil {
		return crdt.ORMapOp{}, errors.Wrapf(err, "reading record %d failed", key)
	}

	s.lock.Lock()
	op, err := s.replica.RemoveContent(key, read.DeriveAddCtx(s.replica.Actor()), content)
	s.lock.Unlock()

	if err != nil {
		return crdt.ORMapOp{}, err
	}

	return op, s.client.Apply(op)
}

// RemoveRecord removes key as far as the server
// observed it.
func (s *Session) RemoveRecord(ctx context.Context, key crdt.RecordKey) (crdt.ORMapOp, error) {

	read, err := s.client.Record(ctx, key)
	if err != nil {
		return crdt.ORMapOp{}, errors.Wrapf(err, "reading record %d failed", key)
	}

	s.lock.Lock()
	op := s.replica.RemoveRecord(key, read.DeriveRmCtx())
	s.lock.Unlock()

	return op, s.client.Apply(op)
}

// Follow subscribes to the server and hands every
// pushed operation to fn, if it is not nil, until ctx
// is done or the connection ends. Pushed operations
// are applied to the local document from the first
// Follow on, also while no Follow is running. Only
// one Follow may run at a time.
func (s *Session) Follow(ctx context.Context, fn func(op crdt.ORMapOp)) error {

	s.subscribe.Do(func() {

		updates, err := s.client.Subscribe()
		if err != nil {
			s.subscribeErr = err
			return
		}

		s.pumped = make(chan struct{})
		go s.pump(updates)
	})

	if s.subscribeErr != nil {
		return s.subscribeErr
	}

	s.handlerLock.Lock()
	s.handler = fn
	s.handlerLock.Unlock()

	defer func() {
		s.handlerLock.Lock()
		s.handler = nil
		s.handlerLock.Unlock()
	}()

	select {
	case <-s.pumped:
		return s.client.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump applies pushed operations until the connection
// ends. Draining updates keeps responses flowing.
func (s *Session) pump(updates <-chan crdt.ORMapOp) {

	defer close(s.pumped)

	for op := range updates {

		s.lock.Lock()
		s.replica.Document().Apply(op)
		s.lock.Unlock()

		s.handlerLock.Lock()
		if s.handler != nil {
			s.handler(op)
		}
		s.handlerLock.Unlock()
	}
}
