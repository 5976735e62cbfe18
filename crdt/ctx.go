package crdt

import (
	"github.com/pkg/errors"
)

// Variables

// ErrAddCtxSpent is returned when an add context that
// already authorized one operation is used again.
var ErrAddCtxSpent = errors.New("add context already spent")

// Structs

// ReadCtx wraps a value read from a CRDT together
// with the causal state it was observed under.
// AddClock is the clock a subsequent write has to
// build on, RmClock names the dots a subsequent
// remove of the value may drop.
type ReadCtx[V any] struct {
	AddClock VClock
	RmClock  VClock
	Val      V
}

// AddCtx authorizes exactly one causal event of
// one actor. Clock already contains Dot.
type AddCtx struct {
	Clock VClock
	Dot   Dot
	spent bool
}

// RmCtx carries the dots a remove operation drops.
type RmCtx struct {
	Clock VClock
}

// Functions

// DeriveAddCtx advances the read clock by one event of
// actor and returns the context authorizing that event.
func (r ReadCtx[V]) DeriveAddCtx(actor Actor) *AddCtx {

	clock := r.AddClock.Clone()
	dot := clock.Inc(actor)
	clock.Apply(dot)

	return &AddCtx{
		Clock: clock,
		Dot:   dot,
	}
}

// DeriveRmCtx returns the context to remove exactly
// what was observed by this read.
func (r ReadCtx[V]) DeriveRmCtx() RmCtx {
	return RmCtx{Clock: r.RmClock.Clone()}
}

// Spent reports whether the context was consumed.
func (c *AddCtx) Spent() bool {
	return c.spent
}

// consume marks the context as used by one
// operation. Every later call fails.
func (c *AddCtx) consume() error {

	if c.spent {
		return ErrAddCtxSpent
	}

	c.spent = true

	return nil
}
