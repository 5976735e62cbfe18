package server

import (
	"testing"

	"github.com/numbleroot/causaldoc/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

func testOp(counter uint64) crdt.ORMapOp {

	return crdt.ORMapOp{
		Operation: crdt.OpRm,
		Clock:     crdt.VClock{1: counter},
		Keys:      []crdt.RecordKey{1},
	}
}

// TestHubPublish checks that operations reach every
// subscriber except their origin.
func TestHubPublish(t *testing.T) {

	hub := NewHub(4)

	a := hub.Subscribe("a")
	b := hub.Subscribe("b")
	assert.Equal(t, 2, hub.Len())

	// Subscribing again changes nothing.
	assert.Equal(t, a, hub.Subscribe("a"))
	assert.Equal(t, 2, hub.Len())

	dropped := hub.Publish("a", testOp(1))
	assert.Empty(t, dropped)

	select {
	case op := <-b:
		assert.Equal(t, testOp(1), op)
	default:
		t.Fatalf("[server.TestHubPublish] Expected operation at subscriber b but received none\n")
	}

	select {
	case op := <-a:
		t.Fatalf("[server.TestHubPublish] Expected no operation at origin a but received %s\n", op)
	default:
	}

	// Unpublished origins reach everyone.
	hub.Publish("", testOp(2))
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

// TestHubDropsSlowSubscribers checks that a full
// subscriber is dropped instead of blocking.
func TestHubDropsSlowSubscribers(t *testing.T) {

	hub := NewHub(2)

	slow := hub.Subscribe("slow")
	fast := hub.Subscribe("fast")

	for i := uint64(1); i <= 2; i++ {
		require.Empty(t, hub.Publish("", testOp(i)))
		<-fast
	}

	dropped := hub.Publish("", testOp(3))
	assert.Equal(t, []string{"slow"}, dropped)
	assert.Equal(t, 1, hub.Len())

	// The buffered operations drain, then the channel ends.
	assert.Equal(t, testOp(1), <-slow)
	assert.Equal(t, testOp(2), <-slow)

	_, open := <-slow
	assert.False(t, open)

	assert.Equal(t, testOp(3), <-fast)
}

// TestHubUnsubscribe checks that unsubscribing closes
// the channel exactly once.
func TestHubUnsubscribe(t *testing.T) {

	hub := NewHub(0)

	ch := hub.Subscribe("gone")
	hub.Unsubscribe("gone")
	hub.Unsubscribe("gone")
	hub.Unsubscribe("never")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Len())

	assert.Empty(t, hub.Publish("", testOp(1)))
}
