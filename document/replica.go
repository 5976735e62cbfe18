package document

import (
	"github.com/numbleroot/causaldoc/crdt"
	"github.com/pkg/errors"
)

// Variables

// ErrDotSeen marks an add context whose dot has
// already been applied by the replica.
var ErrDotSeen = errors.New("add context dot already applied")

// ErrClockAhead marks an add context claiming
// knowledge of events the replica never applied.
var ErrClockAhead = errors.New("add context clock ahead of replica")

// Structs

// Replica is one copy of a document together with
// the actor it authors operations as and the log
// of everything it applied.
type Replica struct {
	actor crdt.Actor
	doc   *Document
	log   *OpLog
}

// Functions

// NewReplica returns a replica of a copy of doc.
func NewReplica(actor crdt.Actor, doc *Document) *Replica {

	return &Replica{
		actor: actor,
		doc:   doc.Clone(),
		log:   NewOpLog(),
	}
}

// Actor returns the actor of the replica.
func (r *Replica) Actor() crdt.Actor {
	return r.actor
}

// Document returns the document held by the replica.
// Callers must synchronize access to it.
func (r *Replica) Document() *Document {
	return r.doc
}

// Log returns the operation log of the replica.
func (r *Replica) Log() *OpLog {
	return r.log
}

// ApplyOp logs op and merges it into the document.
// Duplicates are logged as well.
func (r *Replica) ApplyOp(op crdt.ORMapOp) {

	r.log.Append(op)
	r.doc.Apply(op)
}

// AddContent builds the operation adding content to
// the record at key under ctx and applies it.
func (r *Replica) AddContent(key crdt.RecordKey, ctx *crdt.AddCtx, content []byte) (crdt.ORMapOp, error) {

	op, err := r.doc.UpdateRecord(key, ctx, func(set *crdt.ORSet, ctx *crdt.AddCtx) (*crdt.ORSetOp, error) {
		return set.Add(content, ctx)
	})
	if err != nil {
		return crdt.ORMapOp{}, err
	}

	r.ApplyOp(op)

	return op, nil
}

// RemoveContent builds the operation removing content
// from the record at key as far as it is currently
// observed, authorized by ctx, and applies it.
func (r *Replica) RemoveContent(key crdt.RecordKey, ctx *crdt.AddCtx, content []byte) (crdt.ORMapOp, error) {

	op, err := r.doc.UpdateRecord(key, ctx, func(set *crdt.ORSet, ctx *crdt.AddCtx) (*crdt.ORSetOp, error) {
		return set.Remove(content, set.Contains(content).DeriveRmCtx()), nil
	})
	if err != nil {
		return crdt.ORMapOp{}, err
	}

	r.ApplyOp(op)

	return op, nil
}

// RemoveRecord builds the operation removing key as
// far as ctx observed it and applies it.
func (r *Replica) RemoveRecord(key crdt.RecordKey, ctx crdt.RmCtx) crdt.ORMapOp {

	op := r.doc.RemoveRecord(key, ctx)
	r.ApplyOp(op)

	return op
}

// CheckAddCtx reports whether ctx could have been
// derived from a read of this replica: its dot must
// be new and its clock, apart from that dot, must
// not name events the replica has not applied.
func (r *Replica) CheckAddCtx(ctx *crdt.AddCtx) error {

	// Counters start at one, zero precedes every event.
	if (ctx.Dot.Counter == 0) || r.doc.Records.Seen(ctx.Dot) {
		return errors.Wrapf(ErrDotSeen, "dot %s", ctx.Dot)
	}

	claimed := ctx.Clock.Clone()
	delete(claimed, ctx.Dot.Actor)
	claimed.Apply(crdt.Dot{Actor: ctx.Dot.Actor, Counter: ctx.Dot.Counter - 1})

	if !r.doc.Records.Clock().Dominates(claimed) {
		return errors.Wrapf(ErrClockAhead, "clock %s", ctx.Clock)
	}

	return nil
}
