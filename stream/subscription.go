package stream

import (
	"sync"

	"github.com/superchain/gateway/wire"
)

// A Subscription is a handle to one logical event stream. Events arrive
// on the Events channel in cursor order; when the channel closes, Err
// reports why (nil for a clean end of stream or a caller-initiated
// Close).
type Subscription struct {
	id      uint8
	client  *Client
	request wire.Request

	events    chan wire.Event
	done      chan struct{}
	closeOnce sync.Once

	// The fields below are guarded by client.mu. The subscription starts
	// without a cursor; the cursor tracks the last event handed to the
	// delivery buffer and drives resumption after a reconnect. tombstone
	// marks a locally closed subscription whose slot stays reserved until
	// the server confirms; sentGen is the session generation the
	// subscribe request was last sent in.
	cursor     wire.Cursor
	hasCursor  bool
	acked      bool
	sentGen    uint64
	tombstone  bool
	unsubSent  bool
	terminated bool
	err        error
}

// Events returns the delivery channel. It is closed when the stream ends,
// the subscription fails, or Close has been processed.
func (s *Subscription) Events() <-chan wire.Event {
	return s.events
}

// Err reports why the Events channel closed. It must only be called after
// Events is closed; a nil result means the stream ended cleanly.
func (s *Subscription) Err() error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.err
}

// Request returns the request this subscription was created with, with
// the filter in canonical form.
func (s *Subscription) Request() wire.Request {
	return s.request
}

// Close unsubscribes. Events already in the delivery buffer are
// discarded; the server may still emit a few frames for this subscription
// until the unsubscribe request is processed, and those are dropped
// silently. Close never blocks and is safe to call multiple times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		c := s.client
		c.mu.Lock()
		if !s.terminated {
			s.tombstone = true
			s.unsubSent = false
		}
		c.mu.Unlock()
		close(s.done)
		c.wake()
	})
}

// terminate closes the delivery channel with the given verdict. It must
// be called with client.mu held, and only from the goroutine that owns
// dispatch (the session loop or Run), never concurrently with a delivery.
func (s *Subscription) terminate(err error) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.err = err
	close(s.events)
}
