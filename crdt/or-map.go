package crdt

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Structs

// RecordKey addresses one record of an ORMap.
type RecordKey uint32

// ORMap associates record keys with nested observed-
// removed sets. Every key carries the clock of the
// dots that wrote to it. A key is dropped once a
// remove forgets all of them, a write concurrent to
// the remove keeps it alive.
type ORMap struct {
	clock    VClock
	ctx      *DotContext
	entries  map[RecordKey]*mapEntry
	deferred map[string]*deferredKeyRm

	// Record removes waiting for dots of keys
	// that are currently absent.
	pending map[RecordKey]*ORSet
}

type mapEntry struct {
	clock VClock
	val   *ORSet
}

type deferredKeyRm struct {
	clock VClock
	keys  map[RecordKey]struct{}
}

// ORMapOp is the op-based update message of an ORMap.
// An update (OpUp) introduces Dot at Key and carries the
// nested Record operation, a remove (OpRm) forgets all
// dots up to Clock from every key in Keys.
type ORMapOp struct {
	Operation OpKind
	Dot       Dot
	Key       RecordKey
	Clock     VClock
	Keys      []RecordKey
	Record    *ORSetOp
}

// UpdateFunc builds the Record operation of an update
// from the current Record at the key and the context
// authorizing it.
type UpdateFunc func(set *ORSet, ctx *AddCtx) (*ORSetOp, error)

// Functions

// NewORMap returns an empty initialized map.
func NewORMap() *ORMap {

	return &ORMap{
		clock:    NewVClock(),
		ctx:      NewDotContext(),
		entries:  make(map[RecordKey]*mapEntry),
		deferred: make(map[string]*deferredKeyRm),
		pending:  make(map[RecordKey]*ORSet),
	}
}

// Update prepares the operation that changes the Record
// at key as computed by fn. A missing Record is treated
// as empty, keys need no prior creation. The returned
// operation still has to be applied, on this replica too.
func (m *ORMap) Update(key RecordKey, ctx *AddCtx, fn UpdateFunc) (ORMapOp, error) {

	if ctx.Spent() {
		return ORMapOp{}, ErrAddCtxSpent
	}

	set := newNestedORSet()
	if e, found := m.entries[key]; found {
		set = e.val
	}

	rec, err := fn(set.detach(m.clock, m.ctx), ctx)
	if err != nil {
		return ORMapOp{}, errors.Wrapf(err, "update of record %d failed", key)
	}

	// The map-level dot is the one of ctx, no
	// matter whether fn consumed ctx itself.
	ctx.spent = true

	return ORMapOp{
		Operation: OpUp,
		Dot:       ctx.Dot,
		Key:       key,
		Clock:     ctx.Clock.Clone(),
		Record:    rec,
	}, nil
}

// Rm prepares the operation removing key. Only the
// dots named by ctx are forgotten.
func (m *ORMap) Rm(key RecordKey, ctx RmCtx) ORMapOp {

	return ORMapOp{
		Operation: OpRm,
		Clock:     ctx.Clock.Clone(),
		Keys:      []RecordKey{key},
	}
}

// Get returns a detached copy of the Record at key.
// Val is nil if the key was never written, has been
// removed, or holds no element.
func (m *ORMap) Get(key RecordKey) ReadCtx[*ORSet] {

	r := ReadCtx[*ORSet]{
		AddClock: m.clock.Clone(),
		RmClock:  NewVClock(),
	}

	e, found := m.entries[key]
	if !found {
		return r
	}

	r.RmClock = e.clock.Clone()

	if !e.val.IsEmpty() {
		r.Val = e.val.detach(m.clock, m.ctx)
	}

	return r
}

// ReadCtx returns a context carrying only the aggregate
// clock. It suffices to author a write on a new key.
func (m *ORMap) ReadCtx() ReadCtx[struct{}] {

	return ReadCtx[struct{}]{
		AddClock: m.clock.Clone(),
		RmClock:  m.clock.Clone(),
	}
}

// Apply merges op into the map. Operations may arrive
// in any order and any number of times.
func (m *ORMap) Apply(op ORMapOp) {

	switch op.Operation {

	case OpUp:

		if m.ctx.Contains(op.Dot) {
			return
		}

		// A nested add has to introduce the map-level dot.
		if (op.Record != nil) && (op.Record.Operation == OpAdd) && (op.Record.Dot != op.Dot) {
			return
		}

		e := m.entry(op.Key)
		e.clock.Apply(op.Dot)

		if op.Record != nil {
			e.val.apply(op.Record, m.ctx)
		}

		m.ctx.Insert(op.Dot)

		m.clock.Merge(op.Clock)
		m.clock.Apply(op.Dot)

	case OpRm:

		m.clock.Merge(op.Clock)
		m.removeOrDefer(op.Clock, op.Keys)

	default:
		return
	}

	m.applyDeferred()
}

// removeOrDefer forgets all dots up to clock from keys
// and their Records. Removes naming unseen dots wait
// until those dots have been applied.
func (m *ORMap) removeOrDefer(clock VClock, keys []RecordKey) {

	for _, key := range keys {

		e, found := m.entries[key]
		if !found {
			continue
		}

		e.clock.Forget(clock)
		e.val.resetRemove(clock)

		if e.clock.IsEmpty() {
			m.drop(key)
		}
	}

	if m.ctx.Covers(clock) {
		return
	}

	id := clock.String()

	d, found := m.deferred[id]
	if !found {
		d = &deferredKeyRm{
			clock: clock.Clone(),
			keys:  make(map[RecordKey]struct{}),
		}
		m.deferred[id] = d
	}

	for _, key := range keys {
		d.keys[key] = struct{}{}
	}
}

// applyDeferred retries the waiting removes of the
// map and of every nested Record.
func (m *ORMap) applyDeferred() {

	if len(m.deferred) > 0 {

		pending := m.deferred
		m.deferred = make(map[string]*deferredKeyRm)

		for _, d := range pending {
			m.removeOrDefer(d.clock, d.keyList())
		}
	}

	for _, e := range m.entries {
		e.val.applyDeferred(m.ctx)
	}

	// Once all dots a parked remove names are known,
	// none of them can bring the key back.
	for key, p := range m.pending {

		p.applyDeferred(m.ctx)
		if len(p.deferred) == 0 {
			delete(m.pending, key)
		}
	}
}

// entry returns the entry at key. An absent key is
// created carrying its parked Record removes.
func (m *ORMap) entry(key RecordKey) *mapEntry {

	e, found := m.entries[key]
	if found {
		return e
	}

	val, found := m.pending[key]
	if found {
		delete(m.pending, key)
	} else {
		val = newNestedORSet()
	}

	e = &mapEntry{
		clock: NewVClock(),
		val:   val,
	}
	m.entries[key] = e

	return e
}

// drop deletes the entry at key. The waiting removes
// of its Record outlive it.
func (m *ORMap) drop(key RecordKey) {

	e, found := m.entries[key]
	if !found {
		return
	}

	delete(m.entries, key)
	m.park(key, e.val)
}

// park keeps the waiting removes of val for key.
func (m *ORMap) park(key RecordKey, val *ORSet) {

	if len(val.deferred) == 0 {
		return
	}

	p, found := m.pending[key]
	if !found {
		p = newNestedORSet()
		m.pending[key] = p
	}

	p.mergeDeferred(val)
}

// Keys returns a point-in-time snapshot of all keys in
// ascending order. Each key comes with the clock of
// the dots that wrote it. The sequence can be ranged
// over any number of times.
func (m *ORMap) Keys() iter.Seq[ReadCtx[RecordKey]] {

	keys := m.sortedKeys()

	snapshot := make([]ReadCtx[RecordKey], len(keys))
	for i, key := range keys {
		snapshot[i] = ReadCtx[RecordKey]{
			AddClock: m.clock.Clone(),
			RmClock:  m.entries[key].clock.Clone(),
			Val:      key,
		}
	}

	return func(yield func(ReadCtx[RecordKey]) bool) {

		for _, r := range snapshot {

			if !yield(r) {
				return
			}
		}
	}
}

// Seen reports whether the map has applied the event d.
func (m *ORMap) Seen(d Dot) bool {
	return m.ctx.Contains(d)
}

// Len returns the number of keys present.
func (m *ORMap) Len() int {
	return len(m.entries)
}

// Clock returns a copy of the aggregate clock.
func (m *ORMap) Clock() VClock {
	return m.clock.Clone()
}

// Merge joins the full state of other into m.
func (m *ORMap) Merge(other *ORMap) {

	keys := make(map[RecordKey]struct{}, len(m.entries)+len(other.entries))
	for key := range m.entries {
		keys[key] = struct{}{}
	}
	for key := range other.entries {
		keys[key] = struct{}{}
	}
	for key := range m.pending {
		keys[key] = struct{}{}
	}
	for key := range other.pending {
		keys[key] = struct{}{}
	}

	merged := make(map[RecordKey]*mapEntry, len(keys))

	parked := m.pending
	m.pending = make(map[RecordKey]*ORSet)

	for key := range keys {

		var ownClock, otherClock VClock
		ownVal, otherVal := newNestedORSet(), newNestedORSet()

		if e, found := m.entries[key]; found {
			ownClock, ownVal = e.clock, e.val
		}

		if e, found := other.entries[key]; found {
			otherClock, otherVal = e.clock, e.val
		}

		ownVal.merge(otherVal, m.ctx, other.ctx)

		if p, found := parked[key]; found {
			ownVal.mergeDeferred(p)
		}

		if p, found := other.pending[key]; found {
			ownVal.mergeDeferred(p)
		}

		clock := mergeEntry(ownClock, otherClock, m.ctx, other.ctx)
		if clock.IsEmpty() {
			m.park(key, ownVal)
			continue
		}

		merged[key] = &mapEntry{
			clock: clock,
			val:   ownVal,
		}
	}

	m.entries = merged

	m.clock.Merge(other.clock)
	m.ctx.Merge(other.ctx)

	for id, od := range other.deferred {

		d, found := m.deferred[id]
		if !found {
			d = &deferredKeyRm{
				clock: od.clock.Clone(),
				keys:  make(map[RecordKey]struct{}),
			}
			m.deferred[id] = d
		}

		for key := range od.keys {
			d.keys[key] = struct{}{}
		}
	}

	m.applyDeferred()
}

// Clone returns a deep copy of m.
func (m *ORMap) Clone() *ORMap {

	clone := &ORMap{
		clock:    m.clock.Clone(),
		ctx:      m.ctx.Clone(),
		entries:  make(map[RecordKey]*mapEntry, len(m.entries)),
		deferred: make(map[string]*deferredKeyRm, len(m.deferred)),
		pending:  make(map[RecordKey]*ORSet, len(m.pending)),
	}

	for key, e := range m.entries {
		clone.entries[key] = &mapEntry{
			clock: e.clock.Clone(),
			val:   e.val.Clone(),
		}
	}

	for id, d := range m.deferred {

		c := &deferredKeyRm{
			clock: d.clock.Clone(),
			keys:  make(map[RecordKey]struct{}, len(d.keys)),
		}

		for key := range d.keys {
			c.keys[key] = struct{}{}
		}

		clone.deferred[id] = c
	}

	for key, p := range m.pending {
		clone.pending[key] = p.Clone()
	}

	return clone
}

func (m *ORMap) sortedKeys() []RecordKey {

	keys := make([]RecordKey, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})

	return keys
}

func (d *deferredKeyRm) keyList() []RecordKey {

	keys := make([]RecordKey, 0, len(d.keys))
	for key := range d.keys {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})

	return keys
}

// String renders the operation for log output.
func (op ORMapOp) String() string {

	if op.Operation == OpUp {

		rec := "-"
		if op.Record != nil {
			rec = op.Record.String()
		}

		return fmt.Sprintf("up|%s|%d|%s|%s", op.Dot, op.Key, op.Clock, rec)
	}

	keys := make([]string, len(op.Keys))
	for i, key := range op.Keys {
		keys[i] = fmt.Sprintf("%d", key)
	}

	return fmt.Sprintf("%s|%s|%s", op.Operation, op.Clock, strings.Join(keys, ","))
}

// Clone returns a deep copy of op.
func (op ORMapOp) Clone() ORMapOp {

	c := ORMapOp{
		Operation: op.Operation,
		Dot:       op.Dot,
		Key:       op.Key,
		Clock:     op.Clock.Clone(),
	}

	if op.Keys != nil {
		c.Keys = append(make([]RecordKey, 0, len(op.Keys)), op.Keys...)
	}

	if op.Record != nil {
		c.Record = op.Record.Clone()
	}

	return c
}
