package crdt

import (
	"bytes"
	"sort"
)

// Structs

// ORSet is an observed-removed set without tombstones.
// Every element maps to the vector clock of the dots
// that added it and were not removed since. An element
// is present as long as at least one such dot survives.
//
// An ORSet either stands alone or is nested inside an
// ORMap. Nested sets keep neither an own clock nor an
// own dot context: the enclosing map supplies its
// context on every call.
type ORSet struct {
	clock    VClock
	ctx      *DotContext
	entries  map[string]VClock
	deferred map[string]*deferredRm
}

// deferredRm is a remove whose clock names dots
// this replica has not seen yet.
type deferredRm struct {
	clock   VClock
	members map[string]struct{}
}

// Functions

// NewORSet returns an empty initialized new
// observed-removed set.
func NewORSet() *ORSet {

	return &ORSet{
		clock:    NewVClock(),
		ctx:      NewDotContext(),
		entries:  make(map[string]VClock),
		deferred: make(map[string]*deferredRm),
	}
}

// newNestedORSet returns an empty set whose causal
// bookkeeping is owned by an enclosing map.
func newNestedORSet() *ORSet {

	return &ORSet{
		entries:  make(map[string]VClock),
		deferred: make(map[string]*deferredRm),
	}
}

// Add prepares the operation adding member under
// the single event authorized by ctx.
func (s *ORSet) Add(member []byte, ctx *AddCtx) (*ORSetOp, error) {
	return s.AddAll([][]byte{member}, ctx)
}

// AddAll prepares one operation adding all members
// atomically. They share the one dot of ctx.
func (s *ORSet) AddAll(members [][]byte, ctx *AddCtx) (*ORSetOp, error) {

	if err := ctx.consume(); err != nil {
		return nil, err
	}

	return &ORSetOp{
		Operation: OpAdd,
		Dot:       ctx.Dot,
		Clock:     ctx.Clock.Clone(),
		Members:   copyMembers(members),
	}, nil
}

// Remove prepares the operation dropping all dots
// of member named by ctx.
func (s *ORSet) Remove(member []byte, ctx RmCtx) *ORSetOp {
	return s.RemoveAll([][]byte{member}, ctx)
}

// RemoveAll prepares one operation removing members.
func (s *ORSet) RemoveAll(members [][]byte, ctx RmCtx) *ORSetOp {

	return &ORSetOp{
		Operation: OpRm,
		Clock:     ctx.Clock.Clone(),
		Members:   copyMembers(members),
	}
}

// Apply is the effect part of an update operation.
// It is executed by all replicas of the set including
// the source one. Applying an operation a second time,
// or in a different order relative to others, leaves
// the set unchanged.
func (s *ORSet) Apply(op *ORSetOp) {
	s.apply(op, s.ctx)
}

// apply executes op against the dot context ctx.
func (s *ORSet) apply(op *ORSetOp, ctx *DotContext) {

	switch op.Operation {

	case OpAdd:

		// Each dot takes effect only once.
		if ctx.Contains(op.Dot) {
			return
		}

		for _, m := range op.Members {

			e, found := s.entries[string(m)]
			if !found {
				e = NewVClock()
				s.entries[string(m)] = e
			}

			e.Apply(op.Dot)
		}

		ctx.Insert(op.Dot)

		if s.clock != nil {
			s.clock.Merge(op.Clock)
			s.clock.Apply(op.Dot)
		}

	case OpRm:

		if s.clock != nil {
			s.clock.Merge(op.Clock)
		}

		members := make([]string, len(op.Members))
		for i, m := range op.Members {
			members[i] = string(m)
		}

		s.removeOrDefer(op.Clock, members, ctx)

	default:
		return
	}

	s.applyDeferred(ctx)
}

// removeOrDefer forgets all dots up to clock from
// members. If dots below clock are still missing,
// the remove is kept to be retried once they arrive.
func (s *ORSet) removeOrDefer(clock VClock, members []string, ctx *DotContext) {

	for _, m := range members {

		e, found := s.entries[m]
		if !found {
			continue
		}

		e.Forget(clock)
		if e.IsEmpty() {
			delete(s.entries, m)
		}
	}

	if ctx.Covers(clock) {
		return
	}

	key := clock.String()

	d, found := s.deferred[key]
	if !found {
		d = &deferredRm{
			clock:   clock.Clone(),
			members: make(map[string]struct{}),
		}
		s.deferred[key] = d
	}

	for _, m := range members {
		d.members[m] = struct{}{}
	}
}

// applyDeferred retries every waiting remove.
func (s *ORSet) applyDeferred(ctx *DotContext) {

	if len(s.deferred) == 0 {
		return
	}

	pending := s.deferred
	s.deferred = make(map[string]*deferredRm)

	for _, d := range pending {
		s.removeOrDefer(d.clock, d.memberList(), ctx)
	}
}

// resetRemove drops every element dot dominated by clock.
func (s *ORSet) resetRemove(clock VClock) {

	for m, e := range s.entries {

		e.Forget(clock)
		if e.IsEmpty() {
			delete(s.entries, m)
		}
	}
}

// Read returns all present elements in ascending
// byte order together with the set's clock.
func (s *ORSet) Read() ReadCtx[[][]byte] {

	return ReadCtx[[][]byte]{
		AddClock: s.clock.Clone(),
		RmClock:  s.clock.Clone(),
		Val:      s.Members(),
	}
}

// Contains looks up member and returns the clock
// needed to remove exactly its observed dots.
func (s *ORSet) Contains(member []byte) ReadCtx[bool] {

	e, found := s.entries[string(member)]

	return ReadCtx[bool]{
		AddClock: s.clock.Clone(),
		RmClock:  e.Clone(),
		Val:      found,
	}
}

// Members returns all present elements in ascending byte order.
func (s *ORSet) Members() [][]byte {

	members := make([][]byte, 0, len(s.entries))
	for m := range s.entries {
		members = append(members, []byte(m))
	}

	sort.Slice(members, func(i, j int) bool {
		return bytes.Compare(members[i], members[j]) < 0
	})

	return members
}

// Len returns the number of present elements.
func (s *ORSet) Len() int {
	return len(s.entries)
}

// IsEmpty reports whether no element is present.
func (s *ORSet) IsEmpty() bool {
	return len(s.entries) == 0
}

// Clock returns a copy of the set's aggregate clock.
func (s *ORSet) Clock() VClock {
	return s.clock.Clone()
}

// Merge joins the full state of other into s. Both
// sets must stand alone. The result does not depend
// on which of the two sets is merged into the other.
func (s *ORSet) Merge(other *ORSet) {

	s.merge(other, s.ctx, other.ctx)

	s.clock.Merge(other.clock)
	s.ctx.Merge(other.ctx)

	s.applyDeferred(s.ctx)
}

// merge joins the elements and waiting removes of
// other into s. ownCtx and otherCtx are the contexts
// the two sides were built against.
func (s *ORSet) merge(other *ORSet, ownCtx *DotContext, otherCtx *DotContext) {

	s.entries = mergeEntries(s.entries, other.entries, ownCtx, otherCtx)
	s.mergeDeferred(other)
}

// mergeDeferred adds the waiting removes of other to s.
func (s *ORSet) mergeDeferred(other *ORSet) {

	for key, od := range other.deferred {

		d, found := s.deferred[key]
		if !found {
			d = &deferredRm{
				clock:   od.clock.Clone(),
				members: make(map[string]struct{}),
			}
			s.deferred[key] = d
		}

		for m := range od.members {
			d.members[m] = struct{}{}
		}
	}
}

// Clone returns a deep copy of s.
func (s *ORSet) Clone() *ORSet {

	clone := &ORSet{
		entries:  make(map[string]VClock, len(s.entries)),
		deferred: make(map[string]*deferredRm, len(s.deferred)),
	}

	if s.clock != nil {
		clone.clock = s.clock.Clone()
	}

	if s.ctx != nil {
		clone.ctx = s.ctx.Clone()
	}

	for m, e := range s.entries {
		clone.entries[m] = e.Clone()
	}

	for key, d := range s.deferred {
		clone.deferred[key] = d.clone()
	}

	return clone
}

// detach turns a nested set into a stand-alone copy
// carrying the supplied clock and context.
func (s *ORSet) detach(clock VClock, ctx *DotContext) *ORSet {

	clone := s.Clone()
	clone.clock = clock.Clone()
	clone.ctx = ctx.Clone()

	return clone
}

// memberList returns the members of a waiting remove in ascending order.
func (d *deferredRm) memberList() []string {

	members := make([]string, 0, len(d.members))
	for m := range d.members {
		members = append(members, m)
	}

	sort.Strings(members)

	return members
}

func (d *deferredRm) clone() *deferredRm {

	c := &deferredRm{
		clock:   d.clock.Clone(),
		members: make(map[string]struct{}, len(d.members)),
	}

	for m := range d.members {
		c.members[m] = struct{}{}
	}

	return c
}

// mergeEntries joins two element tables. A dot present
// on one side only survives if the other side has not
// seen it, otherwise the other side removed it.
func mergeEntries[K comparable](own map[K]VClock, other map[K]VClock, ownCtx *DotContext, otherCtx *DotContext) map[K]VClock {

	merged := make(map[K]VClock, len(own))

	for key, e := range own {

		if m := mergeEntry(e, other[key], ownCtx, otherCtx); !m.IsEmpty() {
			merged[key] = m
		}
	}

	for key, e := range other {

		if _, found := own[key]; found {
			continue
		}

		if m := mergeEntry(nil, e, ownCtx, otherCtx); !m.IsEmpty() {
			merged[key] = m
		}
	}

	return merged
}

// mergeEntry joins the dots of one element. For every
// actor the highest surviving counter is kept.
func mergeEntry(own VClock, other VClock, ownCtx *DotContext, otherCtx *DotContext) VClock {

	merged := NewVClock()

	survives := func(a Actor, c uint64, peer uint64, peerCtx *DotContext) bool {
		return (c > 0) && ((c == peer) || !peerCtx.Contains(Dot{Actor: a, Counter: c}))
	}

	for _, a := range Merge(own, other).Actors() {

		oc, tc := own[a], other[a]

		if survives(a, oc, tc, otherCtx) {
			merged.Apply(Dot{Actor: a, Counter: oc})
		}

		if survives(a, tc, oc, ownCtx) {
			merged.Apply(Dot{Actor: a, Counter: tc})
		}
	}

	return merged
}

func copyMembers(members [][]byte) [][]byte {

	c := make([][]byte, len(members))
	for i, m := range members {
		c[i] = append(make([]byte, 0, len(m)), m...)
	}

	return c
}
