package document

import (
	"testing"

	"github.com/numbleroot/causaldoc/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestReplicaAddContent replays the scenario of two
// actors writing into key 1 from the same empty read.
func TestReplicaAddContent(t *testing.T) {

	r1 := NewReplica(1, New())
	r2 := NewReplica(2, New())

	op1, err := r1.AddContent(1, r1.Document().GetReadCtx().DeriveAddCtx(1), []byte("thing 1"))
	require.NoError(t, err)

	op2, err := r2.AddContent(1, r2.Document().GetReadCtx().DeriveAddCtx(2), []byte("thing 2"))
	require.NoError(t, err)

	server := NewReplica(0, New())
	server.ApplyOp(op2)
	server.ApplyOp(op1)

	other := NewReplica(0, New())
	other.ApplyOp(op1)
	other.ApplyOp(op2)
	other.ApplyOp(op1)

	assert.Equal(t, []string{"thing 1", "thing 2"}, contents(t, server.Document(), 1))

	a, err := server.Document().Digest()
	require.NoError(t, err)

	b, err := other.Document().Digest()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 2, server.Log().Len())
	assert.Equal(t, 3, other.Log().Len(), "duplicates are logged too")
}

// TestReplicaRemove checks element and record removal.
func TestReplicaRemove(t *testing.T) {

	r := NewReplica(4, Example())

	_, err := r.RemoveContent(1, r.Document().GetRecord(1).DeriveAddCtx(4), []byte("thing 1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"another thing", "who knows what this is"}, contents(t, r.Document(), 1))

	r.RemoveRecord(1, r.Document().GetRecord(1).DeriveRmCtx())
	assert.Nil(t, contents(t, r.Document(), 1))
	assert.Equal(t, 0, r.Document().Records.Len())
	assert.Equal(t, 2, r.Log().Len())
}

// TestOpLog checks Since() and Replay().
func TestOpLog(t *testing.T) {

	r := NewReplica(1, New())

	for i := 0; i < 4; i++ {
		_, err := r.AddContent(crdt.RecordKey(i), r.Document().GetReadCtx().DeriveAddCtx(1), []byte("x"))
		require.NoError(t, err)
	}

	assert.Len(t, r.Log().Since(0), 4)
	assert.Len(t, r.Log().Since(3), 1)
	assert.Empty(t, r.Log().Since(4))
	assert.Empty(t, r.Log().Since(-1))

	// Returned operations are copies.
	ops := r.Log().Since(0)
	ops[0].Clock[9] = 9
	assert.Equal(t, uint64(0), r.Log().Since(0)[0].Clock.Get(9))

	replayed := New()
	r.Log().Replay(replayed)

	a, err := replayed.Digest()
	require.NoError(t, err)

	b, err := r.Document().Digest()
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

// TestCheckAddCtx checks detection of reused and
// forged add contexts.
func TestCheckAddCtx(t *testing.T) {

	r := NewReplica(0, Example())

	fresh := r.Document().GetReadCtx().DeriveAddCtx(7)
	assert.NoError(t, r.CheckAddCtx(fresh))

	reused := r.Document().GetReadCtx().DeriveAddCtx(7)
	_, err := r.AddContent(2, reused, []byte("x"))
	require.NoError(t, err)

	assert.ErrorIs(t, r.CheckAddCtx(&crdt.AddCtx{Clock: reused.Clock, Dot: reused.Dot}), ErrDotSeen)

	forged := &crdt.AddCtx{
		Clock: crdt.VClock{0: 1, 7: 1, 9: 4},
		Dot:   crdt.Dot{Actor: 7, Counter: 2},
	}
	assert.ErrorIs(t, r.CheckAddCtx(forged), ErrClockAhead)

	// Own counters beyond what the replica applied count as ahead, too.
	ahead := &crdt.AddCtx{
		Clock: crdt.VClock{0: 1, 7: 5},
		Dot:   crdt.Dot{Actor: 7, Counter: 5},
	}
	assert.ErrorIs(t, r.CheckAddCtx(ahead), ErrClockAhead)
	// A zero counter never names a new event.
	zero := &crdt.AddCtx{
		Clock: crdt.VClock{0: 1},
		Dot:   crdt.Dot{Actor: 7, Counter: 0},
	}
	assert.ErrorIs(t, r.CheckAddCtx(zero), ErrDotSeen)
}
