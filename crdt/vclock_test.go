package crdt

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

// Variables

var defaultGopterParameters = gopter.DefaultTestParameters()

// Functions

func toVClock(m map[uint32]uint64) VClock {

	v := NewVClock()
	for actor, counter := range m {
		v.Apply(Dot{Actor: Actor(actor), Counter: counter})
	}

	return v
}

func genVClock() gopter.Gen {
	return gen.MapOf(gen.UInt32Range(0, 5), gen.UInt64Range(1, 10))
}

// TestVClockIncApply executes a white-box unit
// test on the dot handling functions of VClock.
func TestVClockIncApply(t *testing.T) {

	v := NewVClock()

	d := v.Inc(7)
	if (d.Actor != 7) || (d.Counter != 1) {
		t.Fatalf("[crdt.TestVClockIncApply] Expected first dot of actor 7 to be 7.1 but got %s\n", d)
	}

	if !v.IsEmpty() {
		t.Fatalf("[crdt.TestVClockIncApply] Expected Inc() not to modify the clock but got %s\n", v)
	}

	v.Apply(d)
	v.Apply(Dot{Actor: 3, Counter: 4})
	v.Apply(Dot{Actor: 3, Counter: 2})
	v.Apply(Dot{Actor: 9, Counter: 0})

	assert.Equal(t, "{3:4, 7:1}", v.String(), "lower counters and zero dots must not change the clock")
	assert.Equal(t, []Actor{3, 7}, v.Actors())
	assert.True(t, v.Contains(Dot{Actor: 3, Counter: 3}))
	assert.False(t, v.Contains(Dot{Actor: 7, Counter: 2}))
	assert.Equal(t, uint64(0), v.Get(9))

	inc := Increment(v, 7)
	assert.Equal(t, uint64(2), inc.Get(7))
	assert.Equal(t, uint64(1), v.Get(7), "Increment() must leave its input untouched")
}

// TestVClockCompare executes a white-box unit
// test on Compare() and Dominates().
func TestVClockCompare(t *testing.T) {

	a := VClock{1: 2, 2: 1}
	b := VClock{1: 2, 2: 3}
	c := VClock{1: 3}

	assert.Equal(t, Before, Compare(a, b))
	assert.Equal(t, After, Compare(b, a))
	assert.Equal(t, Concurrent, Compare(b, c))
	assert.Equal(t, Equal, Compare(a, a.Clone()))
	assert.Equal(t, Equal, Compare(NewVClock(), nil))

	assert.True(t, b.Dominates(a))
	assert.False(t, a.Dominates(b))
	assert.True(t, a.Dominates(NewVClock()))

	assert.Equal(t, "concurrent", Concurrent.String())
}

// TestVClockForget checks that only dominated
// actors are dropped from a clock.
func TestVClockForget(t *testing.T) {

	v := VClock{1: 3, 2: 5, 3: 1}
	v.Forget(VClock{1: 3, 2: 4, 4: 9})

	assert.Equal(t, VClock{2: 5, 3: 1}, v)
}

// TestVClockMergeLaws checks that merging clocks
// is commutative, associative and idempotent and
// that a merge dominates both of its inputs.
func TestVClockMergeLaws(t *testing.T) {

	properties := gopter.NewProperties(defaultGopterParameters)

	properties.Property("merge is commutative", prop.ForAll(
		func(a, b map[uint32]uint64) bool {
			return Merge(toVClock(a), toVClock(b)).Equal(Merge(toVClock(b), toVClock(a)))
		},
		genVClock(), genVClock(),
	))

	properties.Property("merge is associative", prop.ForAll(
		func(a, b, c map[uint32]uint64) bool {

			left := Merge(Merge(toVClock(a), toVClock(b)), toVClock(c))
			right := Merge(toVClock(a), Merge(toVClock(b), toVClock(c)))

			return left.Equal(right)
		},
		genVClock(), genVClock(), genVClock(),
	))

	properties.Property("merge is idempotent", prop.ForAll(
		func(a map[uint32]uint64) bool {
			return Merge(toVClock(a), toVClock(a)).Equal(toVClock(a))
		},
		genVClock(),
	))

	properties.Property("merge dominates both inputs", prop.ForAll(
		func(a, b map[uint32]uint64) bool {

			m := Merge(toVClock(a), toVClock(b))

			return m.Dominates(toVClock(a)) && m.Dominates(toVClock(b))
		},
		genVClock(), genVClock(),
	))

	properties.TestingRun(t)
}

// TestDotContext executes a white-box unit test
// on out-of-order insertion into a DotContext.
func TestDotContext(t *testing.T) {

	c := NewDotContext()

	c.Insert(Dot{Actor: 1, Counter: 3})
	c.Insert(Dot{Actor: 1, Counter: 2})

	assert.True(t, c.Contains(Dot{Actor: 1, Counter: 3}))
	assert.False(t, c.Contains(Dot{Actor: 1, Counter: 1}))
	assert.False(t, c.Covers(VClock{1: 2}), "a gap at 1.1 must prevent coverage")
	assert.Equal(t, VClock{1: 3}, c.Max())
	assert.Equal(t, []Dot{{Actor: 1, Counter: 2}, {Actor: 1, Counter: 3}}, c.Cloud())

	c.Insert(Dot{Actor: 1, Counter: 1})

	assert.True(t, c.Covers(VClock{1: 3}))
	assert.Empty(t, c.Cloud(), "closing the gap must compact the cloud")
	assert.Equal(t, VClock{1: 3}, c.Compact())

	other := NewDotContext()
	other.Insert(Dot{Actor: 2, Counter: 2})
	other.Insert(Dot{Actor: 1, Counter: 4})

	c.Merge(other)

	assert.Equal(t, VClock{1: 4}, c.Compact())
	assert.Equal(t, []Dot{{Actor: 2, Counter: 2}}, c.Cloud())

	clone := c.Clone()
	clone.Insert(Dot{Actor: 2, Counter: 1})

	assert.Equal(t, VClock{1: 4, 2: 2}, clone.Compact())
	assert.Equal(t, VClock{1: 4}, c.Compact(), "clones must not share state")
}

// TestDeriveCtx checks derivation and single use
// of causal contexts.
func TestDeriveCtx(t *testing.T) {

	read := ReadCtx[struct{}]{
		AddClock: VClock{1: 2, 2: 5},
		RmClock:  VClock{2: 5},
	}

	add := read.DeriveAddCtx(1)
	assert.Equal(t, Dot{Actor: 1, Counter: 3}, add.Dot)
	assert.Equal(t, VClock{1: 3, 2: 5}, add.Clock)
	assert.Equal(t, VClock{1: 2, 2: 5}, read.AddClock, "deriving must not touch the read clock")
	assert.False(t, add.Spent())

	s := NewORSet()

	_, err := s.Add([]byte("a"), add)
	assert.NoError(t, err)
	assert.True(t, add.Spent())

	_, err = s.Add([]byte("b"), add)
	assert.ErrorIs(t, err, ErrAddCtxSpent)

	rm := read.DeriveRmCtx()
	rm.Clock[7] = 1
	assert.Equal(t, VClock{2: 5}, read.RmClock, "remove contexts must not alias the read clock")
}
