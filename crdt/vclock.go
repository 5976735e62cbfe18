package crdt

import (
	"fmt"
	"sort"
	"strings"
)

// Constants

// Possible outcomes of comparing two vector clocks.
const (
	Before Causality = iota + 1
	Concurrent
	After
	Equal
)

// Structs

// Actor names a replica that originates causal events.
// Two live writers must never share an actor.
type Actor uint32

// Causality describes the partial order between two clocks.
type Causality int

// Dot identifies exactly one causal event: the
// counter-th event originated by actor.
type Dot struct {
	Actor   Actor
	Counter uint64
}

// VClock maps each actor to the highest counter
// observed from it. Actors with counter zero are
// never stored, a missing actor means zero.
type VClock map[Actor]uint64

// Functions

// NewVClock returns an empty vector clock.
func NewVClock() VClock {
	return make(VClock)
}

// String renders a dot as "actor.counter".
func (d Dot) String() string {
	return fmt.Sprintf("%d.%d", d.Actor, d.Counter)
}

// Less orders dots by actor first, counter second.
func (d Dot) Less(o Dot) bool {

	if d.Actor != o.Actor {
		return d.Actor < o.Actor
	}

	return d.Counter < o.Counter
}

// Get returns the counter of actor a.
func (v VClock) Get(a Actor) uint64 {
	return v[a]
}

// Inc returns the dot that the next event of actor
// a would carry. The clock itself is not modified.
func (v VClock) Inc(a Actor) Dot {
	return Dot{Actor: a, Counter: v[a] + 1}
}

// Apply raises the entry of the dot's actor to the
// dot's counter if it is not already at least that high.
func (v VClock) Apply(d Dot) {

	if d.Counter == 0 {
		return
	}

	if v[d.Actor] < d.Counter {
		v[d.Actor] = d.Counter
	}
}

// Contains reports whether the clock includes dot d.
func (v VClock) Contains(d Dot) bool {
	return v[d.Actor] >= d.Counter
}

// Merge folds other into v by taking the point-wise maximum.
func (v VClock) Merge(other VClock) {

	for actor, counter := range other {
		v.Apply(Dot{Actor: actor, Counter: counter})
	}
}

// Forget removes every actor from v whose counter
// is dominated by the corresponding one in other.
func (v VClock) Forget(other VClock) {

	for actor, counter := range v {

		if other[actor] >= counter {
			delete(v, actor)
		}
	}
}

// Dominates reports whether every entry of other
// is less than or equal to the one in v.
func (v VClock) Dominates(other VClock) bool {

	for actor, counter := range other {

		if v[actor] < counter {
			return false
		}
	}

	return true
}

// Clone returns a deep copy of v. Cloning a nil
// clock yields an empty, usable clock.
func (v VClock) Clone() VClock {

	c := make(VClock, len(v))
	for actor, counter := range v {
		c[actor] = counter
	}

	return c
}

// Equal reports whether both clocks hold the same entries.
func (v VClock) Equal(other VClock) bool {
	return (len(v) == len(other)) && v.Dominates(other)
}

// IsEmpty reports whether no actor has been observed.
func (v VClock) IsEmpty() bool {
	return len(v) == 0
}

// Actors returns all actors present in v in ascending order.
func (v VClock) Actors() []Actor {

	actors := make([]Actor, 0, len(v))
	for actor := range v {
		actors = append(actors, actor)
	}

	sort.Slice(actors, func(i, j int) bool {
		return actors[i] < actors[j]
	})

	return actors
}

// Dots returns the highest dot of every actor in v.
func (v VClock) Dots() []Dot {

	actors := v.Actors()

	dots := make([]Dot, len(actors))
	for i, actor := range actors {
		dots[i] = Dot{Actor: actor, Counter: v[actor]}
	}

	return dots
}

// String renders the clock deterministically, e.g. "{1:3, 7:1}".
func (v VClock) String() string {

	parts := make([]string, 0, len(v))
	for _, d := range v.Dots() {
		parts = append(parts, fmt.Sprintf("%d:%d", d.Actor, d.Counter))
	}

	return "{" + strings.Join(parts, ", ") + "}"
}

// Merge returns the point-wise maximum of a and b
// without modifying either of them.
func Merge(a VClock, b VClock) VClock {

	c := a.Clone()
	c.Merge(b)

	return c
}

// Increment returns a copy of v in which the
// counter of actor a is raised by one.
func Increment(v VClock, a Actor) VClock {

	c := v.Clone()
	c.Apply(c.Inc(a))

	return c
}

// Compare determines how a relates to b in the
// partial order of vector clocks.
func Compare(a VClock, b VClock) Causality {

	greater := !b.Dominates(a)
	less := !a.Dominates(b)

	switch {
	case greater && !less:
		return After
	case less && !greater:
		return Before
	case !less && !greater:
		return Equal
	default:
		return Concurrent
	}
}

// String names the causality outcome.
func (c Causality) String() string {

	switch c {
	case Before:
		return "before"
	case After:
		return "after"
	case Equal:
		return "equal"
	case Concurrent:
		return "concurrent"
	}

	return "unknown"
}
