package crdt

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Variables

// ErrMalformed is returned for input that is valid
// protobuf wire format but violates the message layout.
var ErrMalformed = errors.New("malformed encoding")

// Structs

// Field is one top-level field of a protobuf wire
// message. Bytes aliases the decoded buffer.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// Functions

// AppendVarintField appends field num holding v.
func AppendVarintField(b []byte, num protowire.Number, v uint64) []byte {

	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendBytesField appends field num holding v. Nested
// messages are appended as their encoded bytes.
func AppendBytesField(b []byte, num protowire.Number, v []byte) []byte {

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// ConsumeFields walks all fields of message b in order
// and hands varint and length-delimited ones to fn.
// Fields of other wire types are skipped.
func ConsumeFields(b []byte, fn func(f Field) error) error {

	for len(b) > 0 {

		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "consuming tag failed")
		}
		b = b[n:]

		f := Field{
			Num:  num,
			Type: typ,
		}

		switch typ {

		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(b)

		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)

		default:

			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "skipping field %d failed", num)
			}

			b = b[n:]
			continue
		}

		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "consuming field %d failed", num)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}

	return nil
}

// AsVarint returns the value of a varint field.
func (f Field) AsVarint() (uint64, error) {

	if f.Type != protowire.VarintType {
		return 0, errors.Wrapf(ErrMalformed, "field %d is not a varint", f.Num)
	}

	return f.Varint, nil
}

// AsBytes returns the value of a length-delimited field.
func (f Field) AsBytes() ([]byte, error) {

	if f.Type != protowire.BytesType {
		return nil, errors.Wrapf(ErrMalformed, "field %d is not length-delimited", f.Num)
	}

	return f.Bytes, nil
}

// AsUint32 returns the value of a varint field that
// has to fit into 32 bits.
func (f Field) AsUint32() (uint32, error) {

	v, err := f.AsVarint()
	if err != nil {
		return 0, err
	}

	if v > math.MaxUint32 {
		return 0, errors.Wrapf(ErrMalformed, "field %d overflows uint32", f.Num)
	}

	return uint32(v), nil
}

// Dot.

func appendDot(b []byte, d Dot) []byte {

	b = AppendVarintField(b, 1, uint64(d.Actor))
	return AppendVarintField(b, 2, d.Counter)
}

func decodeDot(b []byte) (Dot, error) {

	var d Dot

	err := ConsumeFields(b, func(f Field) error {

		switch f.Num {

		case 1:
			actor, err := f.AsUint32()
			if err != nil {
				return err
			}
			d.Actor = Actor(actor)

		case 2:
			counter, err := f.AsVarint()
			if err != nil {
				return err
			}
			d.Counter = counter
		}

		return nil
	})

	return d, err
}

func decodeDotField(f Field) (Dot, error) {

	b, err := f.AsBytes()
	if err != nil {
		return Dot{}, err
	}

	return decodeDot(b)
}

// MarshalBinary encodes d.
func (d Dot) MarshalBinary() ([]byte, error) {
	return appendDot(nil, d), nil
}

// UnmarshalBinary decodes b into d.
func (d *Dot) UnmarshalBinary(b []byte) error {

	dot, err := decodeDot(b)
	if err != nil {
		return errors.Wrap(err, "decoding dot failed")
	}

	*d = dot

	return nil
}

// VClock.

func (v VClock) appendTo(b []byte) []byte {

	for _, d := range v.Dots() {
		b = AppendBytesField(b, 1, appendDot(nil, d))
	}

	return b
}

func decodeVClock(b []byte) (VClock, error) {

	v := NewVClock()

	err := ConsumeFields(b, func(f Field) error {

		if f.Num != 1 {
			return nil
		}

		d, err := decodeDotField(f)
		if err != nil {
			return err
		}

		v.Apply(d)

		return nil
	})

	return v, err
}

func decodeVClockField(f Field) (VClock, error) {

	b, err := f.AsBytes()
	if err != nil {
		return nil, err
	}

	return decodeVClock(b)
}

// MarshalBinary encodes v with its actors in ascending order.
func (v VClock) MarshalBinary() ([]byte, error) {
	return v.appendTo(nil), nil
}

// UnmarshalBinary decodes b into v.
func (v *VClock) UnmarshalBinary(b []byte) error {

	clock, err := decodeVClock(b)
	if err != nil {
		return errors.Wrap(err, "decoding vector clock failed")
	}

	*v = clock

	return nil
}

// DotContext.

func (c *DotContext) appendTo(b []byte) []byte {

	b = AppendBytesField(b, 1, c.compact.appendTo(nil))
	for _, d := range c.Cloud() {
		b = AppendBytesField(b, 2, appendDot(nil, d))
	}

	return b
}

func decodeDotContext(b []byte) (*DotContext, error) {

	c := NewDotContext()

	err := ConsumeFields(b, func(f Field) error {

		switch f.Num {

		case 1:
			compact, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			c.compact = compact

		case 2:
			d, err := decodeDotField(f)
			if err != nil {
				return err
			}
			if d.Counter > 0 {
				c.cloud[d] = struct{}{}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.compactCloud()

	return c, nil
}

// MarshalBinary encodes c.
func (c *DotContext) MarshalBinary() ([]byte, error) {
	return c.appendTo(nil), nil
}

// UnmarshalBinary decodes b into c.
func (c *DotContext) UnmarshalBinary(b []byte) error {

	ctx, err := decodeDotContext(b)
	if err != nil {
		return errors.Wrap(err, "decoding dot context failed")
	}

	*c = *ctx

	return nil
}

// ORSetOp.

func (op *ORSetOp) appendTo(b []byte) []byte {

	b = AppendVarintField(b, 1, uint64(op.Operation))
	b = AppendBytesField(b, 2, appendDot(nil, op.Dot))
	b = AppendBytesField(b, 3, op.Clock.appendTo(nil))
	for _, m := range op.Members {
		b = AppendBytesField(b, 4, m)
	}

	return b
}

func decodeORSetOp(b []byte) (*ORSetOp, error) {

	op := &ORSetOp{
		Clock:   NewVClock(),
		Members: [][]byte{},
	}

	err := ConsumeFields(b, func(f Field) error {

		switch f.Num {

		case 1:
			kind, err := f.AsVarint()
			if err != nil {
				return err
			}

			if kind > math.MaxUint8 {
				return errors.Wrapf(ErrMalformed, "operation kind %d out of range", kind)
			}
			op.Operation = OpKind(kind)

		case 2:
			d, err := decodeDotField(f)
			if err != nil {
				return err
			}
			op.Dot = d

		case 3:
			clock, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			op.Clock = clock

		case 4:
			m, err := f.AsBytes()
			if err != nil {
				return err
			}
			op.Members = append(op.Members, append(make([]byte, 0, len(m)), m...))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if (op.Operation != OpAdd) && (op.Operation != OpRm) {
		return nil, errors.Wrapf(ErrMalformed, "unknown set operation %s", op.Operation)
	}

	return op, nil
}

// MarshalBinary encodes op.
func (op *ORSetOp) MarshalBinary() ([]byte, error) {
	return op.appendTo(nil), nil
}

// UnmarshalBinary decodes b into op.
func (op *ORSetOp) UnmarshalBinary(b []byte) error {

	decoded, err := decodeORSetOp(b)
	if err != nil {
		return errors.Wrap(err, "decoding set operation failed")
	}

	*op = *decoded

	return nil
}

// ORSet.

func (s *ORSet) appendTo(b []byte) []byte {

	if s.clock != nil {
		b = AppendBytesField(b, 1, s.clock.appendTo(nil))
	}

	for _, m := range s.Members() {

		var entry []byte
		entry = AppendBytesField(entry, 1, m)
		entry = AppendBytesField(entry, 2, s.entries[string(m)].appendTo(nil))

		b = AppendBytesField(b, 2, entry)
	}

	ids := make([]string, 0, len(s.deferred))
	for id := range s.deferred {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {

		d := s.deferred[id]

		var rm []byte
		rm = AppendBytesField(rm, 1, d.clock.appendTo(nil))
		for _, m := range d.memberList() {
			rm = AppendBytesField(rm, 2, []byte(m))
		}

		b = AppendBytesField(b, 3, rm)
	}

	if s.ctx != nil {
		b = AppendBytesField(b, 4, s.ctx.appendTo(nil))
	}

	return b
}

func decodeORSet(b []byte) (*ORSet, error) {

	s := newNestedORSet()

	err := ConsumeFields(b, func(f Field) error {

		switch f.Num {

		case 1:
			clock, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			s.clock = clock

		case 2:
			return s.decodeEntry(f)

		case 3:
			return s.decodeDeferred(f)

		case 4:
			v, err := f.AsBytes()
			if err != nil {
				return err
			}

			ctx, err := decodeDotContext(v)
			if err != nil {
				return err
			}
			s.ctx = ctx
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *ORSet) decodeEntry(f Field) error {

	v, err := f.AsBytes()
	if err != nil {
		return err
	}

	var member []byte
	clock := NewVClock()

	err = ConsumeFields(v, func(f Field) error {

		switch f.Num {

		case 1:
			m, err := f.AsBytes()
			if err != nil {
				return err
			}
			member = m

		case 2:
			c, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			clock = c
		}

		return nil
	})
	if err != nil {
		return err
	}

	if !clock.IsEmpty() {
		s.entries[string(member)] = clock
	}

	return nil
}

func (s *ORSet) decodeDeferred(f Field) error {

	v, err := f.AsBytes()
	if err != nil {
		return err
	}

	d := &deferredRm{
		clock:   NewVClock(),
		members: make(map[string]struct{}),
	}

	err = ConsumeFields(v, func(f Field) error {

		switch f.Num {

		case 1:
			c, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			d.clock = c

		case 2:
			m, err := f.AsBytes()
			if err != nil {
				return err
			}
			d.members[string(m)] = struct{}{}
		}

		return nil
	})
	if err != nil {
		return err
	}

	id := d.clock.String()
	if existing, found := s.deferred[id]; found {

		for m := range d.members {
			existing.members[m] = struct{}{}
		}

		return nil
	}

	s.deferred[id] = d

	return nil
}

// MarshalBinary encodes s deterministically: equal
// sets always produce identical bytes.
func (s *ORSet) MarshalBinary() ([]byte, error) {
	return s.appendTo(nil), nil
}

// UnmarshalBinary decodes b into s.
func (s *ORSet) UnmarshalBinary(b []byte) error {

	decoded, err := decodeORSet(b)
	if err != nil {
		return errors.Wrap(err, "decoding set failed")
	}

	*s = *decoded

	return nil
}

// ORMapOp.

func (op ORMapOp) appendTo(b []byte) []byte {

	b = AppendVarintField(b, 1, uint64(op.Operation))
	b = AppendBytesField(b, 2, appendDot(nil, op.Dot))
	b = AppendVarintField(b, 3, uint64(op.Key))
	b = AppendBytesField(b, 4, op.Clock.appendTo(nil))

	for _, key := range op.Keys {
		b = AppendVarintField(b, 5, uint64(key))
	}

	if op.Record != nil {
		b = AppendBytesField(b, 6, op.Record.appendTo(nil))
	}

	return b
}

func decodeORMapOp(b []byte) (ORMapOp, error) {

	op := ORMapOp{
		Clock: NewVClock(),
	}

	err := ConsumeFields(b, func(f Field) error {

		switch f.Num {

		case 1:
			kind, err := f.AsVarint()
			if err != nil {
				return err
			}

			if kind > math.MaxUint8 {
				return errors.Wrapf(ErrMalformed, "operation kind %d out of range", kind)
			}
			op.Operation = OpKind(kind)

		case 2:
			d, err := decodeDotField(f)
			if err != nil {
				return err
			}
			op.Dot = d

		case 3:
			key, err := f.AsUint32()
			if err != nil {
				return err
			}
			op.Key = RecordKey(key)

		case 4:
			clock, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			op.Clock = clock

		case 5:
			key, err := f.AsUint32()
			if err != nil {
				return err
			}
			op.Keys = append(op.Keys, RecordKey(key))

		case 6:
			v, err := f.AsBytes()
			if err != nil {
				return err
			}

			rec, err := decodeORSetOp(v)
			if err != nil {
				return err
			}
			op.Record = rec
		}

		return nil
	})
	if err != nil {
		return ORMapOp{}, err
	}

	if (op.Operation != OpUp) && (op.Operation != OpRm) {
		return ORMapOp{}, errors.Wrapf(ErrMalformed, "unknown map operation %s", op.Operation)
	}

	return op, nil
}

// MarshalBinary encodes op.
func (op ORMapOp) MarshalBinary() ([]byte, error) {
	return op.appendTo(nil), nil
}

// UnmarshalBinary decodes b into op.
func (op *ORMapOp) UnmarshalBinary(b []byte) error {

	decoded, err := decodeORMapOp(b)
	if err != nil {
		return errors.Wrap(err, "decoding map operation failed")
	}

	*op = decoded

	return nil
}

// ORMap.

func (m *ORMap) appendTo(b []byte) []byte {

	b = AppendBytesField(b, 1, m.clock.appendTo(nil))
	b = AppendBytesField(b, 2, m.ctx.appendTo(nil))

	for _, key := range m.sortedKeys() {

		e := m.entries[key]

		var entry []byte
		entry = AppendVarintField(entry, 1, uint64(key))
		entry = AppendBytesField(entry, 2, e.clock.appendTo(nil))
		entry = AppendBytesField(entry, 3, e.val.appendTo(nil))

		b = AppendBytesField(b, 3, entry)
	}

	ids := make([]string, 0, len(m.deferred))
	for id := range m.deferred {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {

		d := m.deferred[id]

		var rm []byte
		rm = AppendBytesField(rm, 1, d.clock.appendTo(nil))
		for _, key := range d.keyList() {
			rm = AppendVarintField(rm, 2, uint64(key))
		}

		b = AppendBytesField(b, 4, rm)
	}

	parked := make([]RecordKey, 0, len(m.pending))
	for key := range m.pending {
		parked = append(parked, key)
	}
	sort.Slice(parked, func(i, j int) bool {
		return parked[i] < parked[j]
	})

	for _, key := range parked {

		var p []byte
		p = AppendVarintField(p, 1, uint64(key))
		p = AppendBytesField(p, 2, m.pending[key].appendTo(nil))

		b = AppendBytesField(b, 5, p)
	}

	return b
}

func decodeORMap(b []byte) (*ORMap, error) {

	m := NewORMap()

	err := ConsumeFields(b, func(f Field) error {

		switch f.Num {

		case 1:
			clock, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			m.clock = clock

		case 2:
			v, err := f.AsBytes()
			if err != nil {
				return err
			}

			ctx, err := decodeDotContext(v)
			if err != nil {
				return err
			}
			m.ctx = ctx

		case 3:
			return m.decodeEntry(f)

		case 4:
			return m.decodeDeferred(f)

		case 5:
			return m.decodePending(f)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ORMap) decodeEntry(f Field) error {

	v, err := f.AsBytes()
	if err != nil {
		return err
	}

	var key RecordKey
	e := &mapEntry{
		clock: NewVClock(),
		val:   newNestedORSet(),
	}

	err = ConsumeFields(v, func(f Field) error {

		switch f.Num {

		case 1:
			k, err := f.AsUint32()
			if err != nil {
				return err
			}
			key = RecordKey(k)

		case 2:
			c, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			e.clock = c

		case 3:
			sv, err := f.AsBytes()
			if err != nil {
				return err
			}

			set, err := decodeORSet(sv)
			if err != nil {
				return err
			}

			// Records inside a map never own clock or context.
			set.clock, set.ctx = nil, nil
			e.val = set
		}

		return nil
	})
	if err != nil {
		return err
	}

	if e.clock.IsEmpty() {
		m.park(key, e.val)
		return nil
	}

	m.entries[key] = e

	return nil
}

func (m *ORMap) decodePending(f Field) error {

	v, err := f.AsBytes()
	if err != nil {
		return err
	}

	var key RecordKey
	val := newNestedORSet()

	err = ConsumeFields(v, func(f Field) error {

		switch f.Num {

		case 1:
			k, err := f.AsUint32()
			if err != nil {
				return err
			}
			key = RecordKey(k)

		case 2:
			sv, err := f.AsBytes()
			if err != nil {
				return err
			}

			set, err := decodeORSet(sv)
			if err != nil {
				return err
			}
			val = set
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.park(key, val)

	return nil
}

func (m *ORMap) decodeDeferred(f Field) error {

	v, err := f.AsBytes()
	if err != nil {
		return err
	}

	d := &deferredKeyRm{
		clock: NewVClock(),
		keys:  make(map[RecordKey]struct{}),
	}

	err = ConsumeFields(v, func(f Field) error {

		switch f.Num {

		case 1:
			c, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			d.clock = c

		case 2:
			k, err := f.AsUint32()
			if err != nil {
				return err
			}
			d.keys[RecordKey(k)] = struct{}{}
		}

		return nil
	})
	if err != nil {
		return err
	}

	id := d.clock.String()
	if existing, found := m.deferred[id]; found {

		for key := range d.keys {
			existing.keys[key] = struct{}{}
		}

		return nil
	}

	m.deferred[id] = d

	return nil
}

// MarshalBinary encodes m deterministically: equal
// maps always produce identical bytes.
func (m *ORMap) MarshalBinary() ([]byte, error) {
	return m.appendTo(nil), nil
}

// UnmarshalBinary decodes b into m.
func (m *ORMap) UnmarshalBinary(b []byte) error {

	decoded, err := decodeORMap(b)
	if err != nil {
		return errors.Wrap(err, "decoding map failed")
	}

	*m = *decoded

	return nil
}

// AddCtx and RmCtx.

// MarshalBinary encodes clock and dot of c.
func (c *AddCtx) MarshalBinary() ([]byte, error) {

	b := AppendBytesField(nil, 1, c.Clock.appendTo(nil))
	return AppendBytesField(b, 2, appendDot(nil, c.Dot)), nil
}

// UnmarshalBinary decodes b into c. The decoded
// context has not authorized anything yet.
func (c *AddCtx) UnmarshalBinary(b []byte) error {

	ctx := AddCtx{
		Clock: NewVClock(),
	}

	err := ConsumeFields(b, func(f Field) error {

		switch f.Num {

		case 1:
			clock, err := decodeVClockField(f)
			if err != nil {
				return err
			}
			ctx.Clock = clock

		case 2:
			d, err := decodeDotField(f)
			if err != nil {
				return err
			}
			ctx.Dot = d
		}

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "decoding add context failed")
	}

	*c = ctx

	return nil
}

// MarshalBinary encodes the clock of c.
func (c RmCtx) MarshalBinary() ([]byte, error) {
	return AppendBytesField(nil, 1, c.Clock.appendTo(nil)), nil
}

// UnmarshalBinary decodes b into c.
func (c *RmCtx) UnmarshalBinary(b []byte) error {

	ctx := RmCtx{
		Clock: NewVClock(),
	}

	err := ConsumeFields(b, func(f Field) error {

		if f.Num != 1 {
			return nil
		}

		clock, err := decodeVClockField(f)
		if err != nil {
			return err
		}
		ctx.Clock = clock

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "decoding remove context failed")
	}

	*c = ctx

	return nil
}
