package comm

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/numbleroot/causaldoc/crdt"
	"github.com/numbleroot/causaldoc/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

func exampleOps(t *testing.T) (*document.Document, crdt.ORMapOp, crdt.ORMapOp) {

	doc := document.Example()

	up, err := doc.UpdateRecord(3, doc.GetReadCtx().DeriveAddCtx(2), func(set *crdt.ORSet, ctx *crdt.AddCtx) (*crdt.ORSetOp, error) {
		return set.AddAll([][]byte{[]byte("∰☕✔😉"), {}}, ctx)
	})
	require.NoError(t, err)
	doc.Apply(up)

	rm := doc.RemoveRecord(1, doc.GetRecord(1).DeriveRmCtx())

	return doc, up, rm
}

// TestCommandRoundTrip checks that every command
// variant decodes into a value equal to the original.
func TestCommandRoundTrip(t *testing.T) {

	doc, up, rm := exampleOps(t)

	commands := []Command{
		GetDocument{},
		GetRecord{Key: 0},
		GetRecord{Key: 4294967295},
		GetReadCtx{},
		Add{AddCtx: doc.GetReadCtx().DeriveAddCtx(9), Key: 1, Content: "thing 3"},
		Add{AddCtx: &crdt.AddCtx{Clock: crdt.NewVClock()}, Key: 0, Content: ""},
		Apply{Op: up},
		Apply{Op: rm},
		Remove{RmCtx: doc.GetRecord(3).DeriveRmCtx(), Key: 3},
		Remove{RmCtx: crdt.RmCtx{Clock: crdt.NewVClock()}},
		RequestActor{},
		GetOps{From: 0},
		GetOps{From: 17},
		Subscribe{},
	}

	for _, c := range commands {

		b, err := EncodeCommand(c)
		require.NoError(t, err, c.String())

		decoded, err := DecodeCommand(b)
		require.NoError(t, err, c.String())

		assert.Equal(t, c, decoded, c.String())
	}
}

// TestResponseRoundTrip checks that every response
// variant decodes into a value equal to the original.
func TestResponseRoundTrip(t *testing.T) {

	doc, up, rm := exampleOps(t)

	responses := []DocResponse{
		DocumentReply{Doc: doc},
		DocumentReply{Doc: document.New()},
		RecordReply{ReadCtx: doc.GetRecord(1)},
		RecordReply{ReadCtx: doc.GetRecord(3)},
		RecordReply{ReadCtx: doc.GetRecord(99)},
		ReadCtxReply{ReadCtx: doc.GetReadCtx()},
		ReadCtxReply{ReadCtx: document.New().GetReadCtx()},
		ActorReply{ID: 0},
		ActorReply{ID: 12},
		OpsReply{From: 0, Ops: []crdt.ORMapOp{}},
		OpsReply{From: 3, Ops: []crdt.ORMapOp{up, rm}},
		AppliedReply{Op: up},
	}

	for _, r := range responses {

		b, err := EncodeResponse(r)
		require.NoError(t, err, r.String())

		decoded, err := DecodeResponse(b)
		require.NoError(t, err, r.String())

		assert.Equal(t, r, decoded, r.String())
	}

	// The decoded record is a usable set.
	b, err := EncodeResponse(RecordReply{ReadCtx: doc.GetRecord(1)})
	require.NoError(t, err)

	decoded, err := DecodeResponse(b)
	require.NoError(t, err)

	set := decoded.(RecordReply).ReadCtx.Val
	require.NotNil(t, set)
	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Contains([]byte("thing 1")).Val)
}

// TestDecodeErrors checks that malformed payloads are
// rejected instead of yielding half-decoded values.
func TestDecodeErrors(t *testing.T) {

	_, err := DecodeCommand(nil)
	assert.ErrorIs(t, err, ErrUnknownVariant, "empty message")

	_, err = DecodeCommand(crdt.AppendBytesField(nil, 42, nil))
	assert.ErrorIs(t, err, ErrUnknownVariant, "unknown variant")

	two := crdt.AppendBytesField(nil, fieldGetDocument, nil)
	two = crdt.AppendBytesField(two, fieldSubscribe, nil)
	_, err = DecodeCommand(two)
	assert.ErrorIs(t, err, ErrUnknownVariant, "two variants")

	_, err = DecodeCommand([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err, "garbage")

	_, err = DecodeCommand(crdt.AppendBytesField(nil, fieldApply, nil))
	assert.ErrorIs(t, err, crdt.ErrMalformed, "apply without operation")

	b, err := EncodeCommand(GetRecord{Key: 5})
	require.NoError(t, err)
	_, err = DecodeCommand(b[:len(b)-1])
	assert.Error(t, err, "truncated")

	_, err = DecodeResponse(crdt.AppendBytesField(nil, fieldDocument, nil))
	assert.ErrorIs(t, err, crdt.ErrMalformed, "document reply without document")

	_, err = EncodeCommand(Add{Key: 1, Content: "x"})
	assert.Error(t, err, "add without context")

	_, err = EncodeResponse(DocumentReply{})
	assert.Error(t, err, "document reply without document")
}

// TestAddRoundTripProperty round-trips Add commands
// with arbitrary keys, contents and contexts.
func TestAddRoundTripProperty(t *testing.T) {

	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("add commands survive encoding", prop.ForAll(
		func(key uint32, content string, actor uint32, clock map[uint32]uint64) bool {

			read := crdt.ReadCtx[struct{}]{AddClock: crdt.NewVClock()}
			for a, c := range clock {
				read.AddClock.Apply(crdt.Dot{Actor: crdt.Actor(a), Counter: c})
			}

			c := Add{
				AddCtx:  read.DeriveAddCtx(crdt.Actor(actor)),
				Key:     crdt.RecordKey(key),
				Content: content,
			}

			b, err := EncodeCommand(c)
			if err != nil {
				return false
			}

			decoded, err := DecodeCommand(b)
			if err != nil {
				return false
			}

			return assert.ObjectsAreEqual(c, decoded)
		},
		gen.UInt32(), gen.AnyString(), gen.UInt32Range(0, 8),
		gen.MapOf(gen.UInt32Range(0, 8), gen.UInt64Range(1, 1000)),
	))

	properties.TestingRun(t)
}
