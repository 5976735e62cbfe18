package server

import (
	"sync"

	"github.com/numbleroot/causaldoc/crdt"
)

// Constants

// DefaultSubscriberBuffer is the number of operations
// a subscriber may lag behind before it is dropped.
const DefaultSubscriberBuffer = 256

// Structs

// Hub fans applied operations out to subscribed
// connections. Publishing never blocks: a subscriber
// whose buffer is full is dropped and its channel closed.
type Hub struct {
	lock   sync.Mutex
	buffer int
	subs   map[string]chan crdt.ORMapOp
}

// Functions

// NewHub returns a hub buffering up to buffer
// operations per subscriber.
func NewHub(buffer int) *Hub {

	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	return &Hub{
		buffer: buffer,
		subs:   make(map[string]chan crdt.ORMapOp),
	}
}

// Subscribe registers id and returns the channel its
// operations arrive on. Subscribing twice returns the
// existing channel.
func (h *Hub) Subscribe(id string) <-chan crdt.ORMapOp {

	h.lock.Lock()
	defer h.lock.Unlock()

	if ch, found := h.subs[id]; found {
		return ch
	}

	ch := make(chan crdt.ORMapOp, h.buffer)
	h.subs[id] = ch

	return ch
}

// Unsubscribe removes id and closes its channel.
func (h *Hub) Unsubscribe(id string) {

	h.lock.Lock()
	defer h.lock.Unlock()

	if ch, found := h.subs[id]; found {
		close(ch)
		delete(h.subs, id)
	}
}

// Publish hands op to every subscriber but origin.
// It returns the ids of subscribers dropped because
// they fell behind.
func (h *Hub) Publish(origin string, op crdt.ORMapOp) []string {

	h.lock.Lock()
	defer h.lock.Unlock()

	var dropped []string

	for id, ch := range h.subs {

		if id == origin {
			continue
		}

		select {
		case ch <- op.Clone():
		default:
			close(ch)
			delete(h.subs, id)
			dropped = append(dropped, id)
		}
	}

	return dropped
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {

	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.subs)
}
