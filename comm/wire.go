package comm

import (
	"github.com/numbleroot/causaldoc/crdt"
	"github.com/numbleroot/causaldoc/document"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Constants

// Field numbers of the command variants.
const (
	fieldGetDocument protowire.Number = iota + 1
	fieldGetRecord
	fieldGetReadCtx
	fieldAdd
	fieldApply
	fieldRemove
	fieldRequestActor
	fieldGetOps
	fieldSubscribe
)

// Field numbers of the response variants.
const (
	fieldDocument protowire.Number = iota + 1
	fieldRecord
	fieldReadCtx
	fieldActor
	fieldOps
	fieldApplied
)

// Variables

// ErrUnknownVariant is returned for messages that do
// not carry exactly one known variant.
var ErrUnknownVariant = errors.New("unknown message variant")

// Functions

// EncodeCommand returns the wire form of c: one
// message with exactly one variant field set.
func EncodeCommand(c Command) ([]byte, error) {

	var num protowire.Number
	var body []byte

	switch c := c.(type) {

	case GetDocument:
		num = fieldGetDocument

	case GetRecord:
		num = fieldGetRecord
		body = crdt.AppendVarintField(body, 1, uint64(c.Key))

	case GetReadCtx:
		num = fieldGetReadCtx

	case Add:

		if c.AddCtx == nil {
			return nil, errors.New("add command without add context")
		}

		ctx, err := c.AddCtx.MarshalBinary()
		if err != nil {
			return nil, err
		}

		num = fieldAdd
		body = crdt.AppendBytesField(body, 1, ctx)
		body = crdt.AppendVarintField(body, 2, uint64(c.Key))
		body = crdt.AppendBytesField(body, 3, []byte(c.Content))

	case Apply:

		op, err := c.Op.MarshalBinary()
		if err != nil {
			return nil, err
		}

		num = fieldApply
		body = crdt.AppendBytesField(body, 1, op)

	case Remove:

		ctx, err := c.RmCtx.MarshalBinary()
		if err != nil {
			return nil, err
		}

		num = fieldRemove
		body = crdt.AppendBytesField(body, 1, ctx)
		body = crdt.AppendVarintField(body, 2, uint64(c.Key))

	case RequestActor:
		num = fieldRequestActor

	case GetOps:
		num = fieldGetOps
		body = crdt.AppendVarintField(body, 1, c.From)

	case Subscribe:
		num = fieldSubscribe

	default:
		return nil, errors.Wrapf(ErrUnknownVariant, "command %T", c)
	}

	return crdt.AppendBytesField(nil, num, body), nil
}

// DecodeCommand parses the wire form of a command.
func DecodeCommand(b []byte) (Command, error) {

	num, body, err := variant(b)
	if err != nil {
		return nil, err
	}

	switch num {

	case fieldGetDocument:
		return GetDocument{}, nil

	case fieldGetRecord:

		c := GetRecord{}
		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			if f.Num == 1 {
				key, err := f.AsUint32()
				c.Key = crdt.RecordKey(key)
				return err
			}

			return nil
		})

		return c, errors.Wrap(err, "decoding GetRecord failed")

	case fieldGetReadCtx:
		return GetReadCtx{}, nil

	case fieldAdd:

		c := Add{
			AddCtx: &crdt.AddCtx{Clock: crdt.NewVClock()},
		}

		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			switch f.Num {

			case 1:
				v, err := f.AsBytes()
				if err != nil {
					return err
				}
				return c.AddCtx.UnmarshalBinary(v)

			case 2:
				key, err := f.AsUint32()
				c.Key = crdt.RecordKey(key)
				return err

			case 3:
				v, err := f.AsBytes()
				c.Content = string(v)
				return err
			}

			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "decoding Add failed")
		}

		return c, nil

	case fieldApply:

		c := Apply{
			Op: crdt.ORMapOp{Operation: crdt.OpUp, Clock: crdt.NewVClock()},
		}
		found := false

		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			if f.Num != 1 {
				return nil
			}

			v, err := f.AsBytes()
			if err != nil {
				return err
			}

			found = true

			return c.Op.UnmarshalBinary(v)
		})
		if err != nil {
			return nil, errors.Wrap(err, "decoding Apply failed")
		}

		if !found {
			return nil, errors.Wrap(crdt.ErrMalformed, "decoding Apply failed: operation missing")
		}

		return c, nil

	case fieldRemove:

		c := Remove{
			RmCtx: crdt.RmCtx{Clock: crdt.NewVClock()},
		}

		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			switch f.Num {

			case 1:
				v, err := f.AsBytes()
				if err != nil {
					return err
				}
				return c.RmCtx.UnmarshalBinary(v)

			case 2:
				key, err := f.AsUint32()
				c.Key = crdt.RecordKey(key)
				return err
			}

			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "decoding Remove failed")
		}

		return c, nil

	case fieldRequestActor:
		return RequestActor{}, nil

	case fieldGetOps:

		c := GetOps{}
		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			if f.Num == 1 {
				from, err := f.AsVarint()
				c.From = from
				return err
			}

			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "decoding GetOps failed")
		}

		return c, nil

	case fieldSubscribe:
		return Subscribe{}, nil
	}

	return nil, errors.Wrapf(ErrUnknownVariant, "command field %d", num)
}

// EncodeResponse returns the wire form of r.
func EncodeResponse(r DocResponse) ([]byte, error) {

	var num protowire.Number
	var body []byte

	switch r := r.(type) {

	case DocumentReply:

		if r.Doc == nil {
			return nil, errors.New("document reply without document")
		}

		doc, err := r.Doc.MarshalBinary()
		if err != nil {
			return nil, err
		}

		num = fieldDocument
		body = crdt.AppendBytesField(body, 1, doc)

	case RecordReply:

		var val []byte
		if r.ReadCtx.Val != nil {

			v, err := r.ReadCtx.Val.MarshalBinary()
			if err != nil {
				return nil, err
			}
			val = v
		}

		num = fieldRecord
		body = crdt.AppendBytesField(body, 1, appendReadCtx(nil, r.ReadCtx.AddClock, r.ReadCtx.RmClock, val, r.ReadCtx.Val != nil))

	case ReadCtxReply:
		num = fieldReadCtx
		body = crdt.AppendBytesField(body, 1, appendReadCtx(nil, r.ReadCtx.AddClock, r.ReadCtx.RmClock, nil, false))

	case ActorReply:
		num = fieldActor
		body = crdt.AppendVarintField(body, 1, uint64(r.ID))

	case OpsReply:

		num = fieldOps
		body = crdt.AppendVarintField(body, 1, r.From)

		for _, op := range r.Ops {

			v, err := op.MarshalBinary()
			if err != nil {
				return nil, err
			}

			body = crdt.AppendBytesField(body, 2, v)
		}

	case AppliedReply:

		v, err := r.Op.MarshalBinary()
		if err != nil {
			return nil, err
		}

		num = fieldApplied
		body = crdt.AppendBytesField(body, 1, v)

	default:
		return nil, errors.Wrapf(ErrUnknownVariant, "response %T", r)
	}

	return crdt.AppendBytesField(nil, num, body), nil
}

// DecodeResponse parses the wire form of a response.
func DecodeResponse(b []byte) (DocResponse, error) {

	num, body, err := variant(b)
	if err != nil {
		return nil, err
	}

	switch num {

	case fieldDocument:

		doc := document.New()
		found := false

		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			if f.Num != 1 {
				return nil
			}

			v, err := f.AsBytes()
			if err != nil {
				return err
			}

			found = true

			return doc.UnmarshalBinary(v)
		})
		if err != nil {
			return nil, errors.Wrap(err, "decoding Document failed")
		}

		if !found {
			return nil, errors.Wrap(crdt.ErrMalformed, "decoding Document failed: document missing")
		}

		return DocumentReply{Doc: doc}, nil

	case fieldRecord:

		add, rm, val, err := decodeReadCtxField(body)
		if err != nil {
			return nil, errors.Wrap(err, "decoding Record failed")
		}

		r := RecordReply{
			ReadCtx: crdt.ReadCtx[*crdt.ORSet]{AddClock: add, RmClock: rm},
		}

		if val != nil {

			set := crdt.NewORSet()
			if err := set.UnmarshalBinary(val); err != nil {
				return nil, errors.Wrap(err, "decoding Record failed")
			}

			r.ReadCtx.Val = set
		}

		return r, nil

	case fieldReadCtx:

		add, rm, _, err := decodeReadCtxField(body)
		if err != nil {
			return nil, errors.Wrap(err, "decoding ReadCtx failed")
		}

		return ReadCtxReply{
			ReadCtx: crdt.ReadCtx[struct{}]{AddClock: add, RmClock: rm},
		}, nil

	case fieldActor:

		r := ActorReply{}
		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			if f.Num == 1 {
				id, err := f.AsUint32()
				r.ID = crdt.Actor(id)
				return err
			}

			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "decoding Actor failed")
		}

		return r, nil

	case fieldOps:

		r := OpsReply{
			Ops: []crdt.ORMapOp{},
		}

		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			switch f.Num {

			case 1:
				from, err := f.AsVarint()
				r.From = from
				return err

			case 2:
				v, err := f.AsBytes()
				if err != nil {
					return err
				}

				var op crdt.ORMapOp
				if err := op.UnmarshalBinary(v); err != nil {
					return err
				}

				r.Ops = append(r.Ops, op)
			}

			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "decoding Ops failed")
		}

		return r, nil

	case fieldApplied:

		r := AppliedReply{}
		found := false

		err := crdt.ConsumeFields(body, func(f crdt.Field) error {

			if f.Num != 1 {
				return nil
			}

			v, err := f.AsBytes()
			if err != nil {
				return err
			}

			found = true

			return r.Op.UnmarshalBinary(v)
		})
		if err != nil {
			return nil, errors.Wrap(err, "decoding Applied failed")
		}

		if !found {
			return nil, errors.Wrap(crdt.ErrMalformed, "decoding Applied failed: operation missing")
		}

		return r, nil
	}

	return nil, errors.Wrapf(ErrUnknownVariant, "response field %d", num)
}

// variant extracts the single variant field of a
// command or response message.
func variant(b []byte) (protowire.Number, []byte, error) {

	var num protowire.Number
	var body []byte
	count := 0

	err := crdt.ConsumeFields(b, func(f crdt.Field) error {

		v, err := f.AsBytes()
		if err != nil {
			return err
		}

		num, body = f.Num, v
		count++

		return nil
	})
	if err != nil {
		return 0, nil, errors.Wrap(err, "decoding message failed")
	}

	if count != 1 {
		return 0, nil, errors.Wrapf(ErrUnknownVariant, "message carries %d variants", count)
	}

	return num, body, nil
}

// appendReadCtx appends the clocks of a read context
// and, if present, the encoded value.
func appendReadCtx(b []byte, add crdt.VClock, rm crdt.VClock, val []byte, hasVal bool) []byte {

	addBytes, _ := add.MarshalBinary()
	rmBytes, _ := rm.MarshalBinary()

	b = crdt.AppendBytesField(b, 1, addBytes)
	b = crdt.AppendBytesField(b, 2, rmBytes)

	if hasVal {
		b = crdt.AppendBytesField(b, 3, val)
	}

	return b
}

// decodeReadCtxField decodes the read context held in
// field 1 of body. val is nil if no value was sent.
func decodeReadCtxField(body []byte) (crdt.VClock, crdt.VClock, []byte, error) {

	add, rm := crdt.NewVClock(), crdt.NewVClock()
	var val []byte

	err := crdt.ConsumeFields(body, func(f crdt.Field) error {

		if f.Num != 1 {
			return nil
		}

		ctx, err := f.AsBytes()
		if err != nil {
			return err
		}

		return crdt.ConsumeFields(ctx, func(f crdt.Field) error {

			switch f.Num {

			case 1:
				v, err := f.AsBytes()
				if err != nil {
					return err
				}
				return add.UnmarshalBinary(v)

			case 2:
				v, err := f.AsBytes()
				if err != nil {
					return err
				}
				return rm.UnmarshalBinary(v)

			case 3:
				v, err := f.AsBytes()
				if err != nil {
					return err
				}
				val = append([]byte{}, v...)
			}

			return nil
		})
	})

	return add, rm, val, err
}
