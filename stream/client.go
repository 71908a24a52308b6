package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/superchain/gateway/retry"
	"github.com/superchain/gateway/tlog"
	"github.com/superchain/gateway/tws"
	"github.com/superchain/gateway/wire"
)

// State of the transport session
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Client multiplexes up to 256 concurrent subscriptions over one gateway
// WebSocket connection and transparently resumes them after transport
// failures. Create it with New, start Run in a goroutine, then Subscribe.
type Client struct {
	config Config

	mu      sync.Mutex
	state   State
	handles map[uint8]*Subscription
	nextID  uint8
	gen     uint64 // session generation, bumped on every (re)connect
	healthy bool   // current session has received at least one frame

	kick      chan struct{} // wakes the session to flush pending requests
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a streaming client. Zero config fields other than URL take
// their DefaultConfig values.
func New(config Config) *Client {
	return &Client{
		config:  config.withDefaults(),
		handles: map[uint8]*Subscription{},
		kick:    make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
}

// Run connects to the gateway and services subscriptions until the
// context is canceled, Close is called, or an unrecoverable error occurs.
// Transport failures are retried with exponential backoff and all live
// subscriptions are resumed past their last delivered event; protocol
// violations (malformed or out-of-order frames) and backoff exhaustion
// are terminal. Every open subscription observes the verdict through its
// Err method.
func (c *Client) Run(ctx context.Context) error {
	logger := tlog.Get(ctx).Named("stream").With(zap.String("url", c.config.URL))
	ctx = tlog.WithLogger(ctx, logger)

	backoff := retry.NewExpBackoff(c.config.Backoff)
	attempts := 0
	for {
		if c.isClosing() {
			return c.shutdown(ErrClosed, nil)
		}
		c.setState(Connecting)
		err := tws.Dial(ctx, c.config.URL, c.config.Header, c.wsConfig(), c.session)
		switch {
		case ctx.Err() != nil:
			return c.shutdown(ctx.Err(), ctx.Err())
		case c.isClosing():
			return c.shutdown(ErrClosed, nil)
		case isFatal(err):
			logger.Error("Protocol failure, shutting down.", zap.Error(err))
			return c.shutdown(err, err)
		}

		if c.resetHealthy() {
			backoff.Reset()
			attempts = 0
		}
		attempts++
		if max := c.config.Backoff.MaxAttempts; max != 0 && attempts > max {
			err = fmt.Errorf("reconnection attempts exhausted: %w", err)
			logger.Error("Giving up.", zap.Error(err))
			return c.shutdown(err, err)
		}

		c.setState(Disconnected)
		delay := backoff.Backoff()
		logger.Info("Connection lost, reconnecting.",
			zap.Error(err), zap.Duration("delay", delay), zap.Int("attempt", attempts))
		if !c.sleep(ctx, delay) {
			continue // woken early by ctx or Close, loop re-checks both
		}
	}
}

// Subscribe registers a new event stream. The request is validated and a
// slot allocated synchronously; the subscribe request itself is sent in
// the background and events start flowing once the gateway acknowledges
// it. The returned subscription is live across reconnects until it fails,
// its to-block is reached, or it is closed.
func (c *Client) Subscribe(req wire.Request) (*Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Filter = req.Filter.Canonical()

	c.mu.Lock()
	if c.state == Closed || c.isClosing() {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	id, ok := c.allocateID()
	if !ok {
		c.mu.Unlock()
		return nil, ErrTooManySubscriptions
	}
	s := &Subscription{
		id:      id,
		client:  c,
		request: req,
		events:  make(chan wire.Event, c.config.BufferCapacity),
		done:    make(chan struct{}),
	}
	c.handles[id] = s
	c.mu.Unlock()

	c.wake()
	return s, nil
}

// PairsCreated subscribes to pair creation events for the given factory
// addresses, or all factories if the filter is empty.
func (c *Client) PairsCreated(filter wire.Filter, from, to *uint64) (*Subscription, error) {
	return c.Subscribe(wire.Request{Kind: wire.KindPairCreated, Filter: filter, FromBlock: from, ToBlock: to})
}

// Prices subscribes to trade price events for the given pair addresses,
// or all pairs if the filter is empty.
func (c *Client) Prices(filter wire.Filter, from, to *uint64) (*Subscription, error) {
	return c.Subscribe(wire.Request{Kind: wire.KindPrice, Filter: filter, FromBlock: from, ToBlock: to})
}

// Reserves subscribes to liquidity reserve events for the given pair
// addresses, or all pairs if the filter is empty.
func (c *Client) Reserves(filter wire.Filter, from, to *uint64) (*Subscription, error) {
	return c.Subscribe(wire.Request{Kind: wire.KindReserves, Filter: filter, FromBlock: from, ToBlock: to})
}

// Close initiates a graceful shutdown: requests already handed to the
// transport are flushed, the connection is closed and Run returns nil.
// All open subscriptions report ErrClosed. Close never blocks and is safe
// to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state != Closed {
			c.state = Draining
		}
		c.mu.Unlock()
		close(c.closing)
	})
}

// State returns the current transport state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) wsConfig() tws.Config {
	config := tws.DefaultConfig
	config.HandshakeTimeout = c.config.HandshakeTimeout
	config.PingInterval = c.config.PingInterval
	config.RequirePong = true
	config.TLSClientConfig = c.config.TLSClientConfig
	return config
}

// session services one established connection. It runs as the single
// dispatching goroutine: all channel deliveries and handle terminations
// happen here or, between sessions, in Run.
func (c *Client) session(ctx context.Context, incoming <-chan tws.Message, outgoing chan<- tws.Message) error {
	logger := tlog.Get(ctx)
	gen := c.beginSession()
	logger.Info("Connected.", zap.Uint64("session", gen))

	if err := c.flushRequests(ctx, gen, outgoing); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closing:
			return nil
		case <-c.kick:
			if err := c.flushRequests(ctx, gen, outgoing); err != nil {
				return err
			}
		case msg, ok := <-incoming:
			if !ok {
				return errors.New("connection closed by gateway")
			}
			if !msg.Binary {
				return ProtocolError("unexpected text message")
			}
			frame, err := wire.DecodeFrame(msg.Data)
			if err != nil {
				return err
			}
			c.markHealthy()
			if err := c.dispatch(ctx, logger, frame); err != nil {
				return err
			}
		}
	}
}

// beginSession bumps the session generation and reaps tombstones: the
// gateway forgot us along with the old connection, so locally closed
// subscriptions need no unsubscribe anymore and their slots free up.
func (c *Client) beginSession() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Draining {
		c.state = Connected
	}
	c.gen++
	for id, s := range c.handles {
		if s.tombstone {
			s.terminate(nil)
			delete(c.handles, id)
		}
	}
	return c.gen
}

// flushRequests sends every request the current session has not seen yet:
// subscribes (adjusted to resume past the last delivered cursor) for live
// handles and unsubscribes for tombstones.
func (c *Client) flushRequests(ctx context.Context, gen uint64, outgoing chan<- tws.Message) error {
	c.mu.Lock()
	var pending [][]byte
	for id, s := range c.handles {
		switch {
		case s.tombstone && !s.unsubSent:
			s.unsubSent = true
			pending = append(pending, wire.EncodeUnsubscribe(id))
		case !s.tombstone && s.sentGen != gen:
			s.sentGen = gen
			req, live := resumed(s)
			if !live {
				// the range was fully delivered before the reconnect
				s.terminate(nil)
				delete(c.handles, id)
				continue
			}
			pending = append(pending, wire.EncodeSubscribe(id, req))
		}
	}
	c.mu.Unlock()

	for _, data := range pending {
		select {
		case outgoing <- tws.Message{Binary: true, Data: data}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// resumed returns the request to (re)send for s, moving the from-block
// past the last delivered event. The second result is false when the
// requested range is already exhausted. Called with client.mu held.
func resumed(s *Subscription) (wire.Request, bool) {
	req := s.request
	if s.hasCursor {
		from := s.cursor.Block + 1
		if req.ToBlock != nil && from > *req.ToBlock {
			return req, false
		}
		req.FromBlock = &from
	}
	return req, true
}

func (c *Client) dispatch(ctx context.Context, logger *zap.Logger, frame wire.Frame) error {
	c.mu.Lock()
	s, ok := c.handles[frame.ID]
	if !ok {
		c.mu.Unlock()
		logger.Debug("Dropping frame for unknown subscription.", zap.Uint8("id", frame.ID))
		return nil
	}

	switch {
	case frame.Ack:
		s.acked = true
		c.mu.Unlock()
		logger.Debug("Subscription acknowledged.", zap.Uint8("id", frame.ID))
		return nil

	case frame.End:
		// also confirms an unsubscribe, releasing the tombstoned slot
		s.terminate(nil)
		delete(c.handles, frame.ID)
		c.mu.Unlock()
		logger.Debug("Subscription ended.", zap.Uint8("id", frame.ID))
		return nil

	case frame.Err != nil:
		s.terminate(frame.Err)
		delete(c.handles, frame.ID)
		c.mu.Unlock()
		logger.Warn("Subscription failed.", zap.Uint8("id", frame.ID), zap.Error(frame.Err))
		return nil
	}

	event := frame.Event
	if s.tombstone {
		c.mu.Unlock()
		return nil // closed locally, drop until the gateway catches up
	}
	cursor := event.Cursor()
	if s.hasCursor && cursor.Less(s.cursor) {
		c.mu.Unlock()
		return ProtocolError(fmt.Sprintf("event at %v after %v on subscription %d", cursor, s.cursor, frame.ID))
	}
	c.mu.Unlock()

	if !c.deliver(ctx, s, event) {
		return ctx.Err()
	}
	return nil
}

// deliver hands an event to the subscription's buffer and advances its
// cursor. A full buffer suspends dispatch for at most SuspendTimeout;
// sibling subscriptions share this stall, so overrunning it terminates
// the slow subscription instead of blocking them indefinitely.
func (c *Client) deliver(ctx context.Context, s *Subscription, event wire.Event) bool {
	select {
	case s.events <- event:
		c.advanceCursor(s, event)
		return true
	case <-s.done:
		return true
	default:
	}

	timer := time.NewTimer(c.config.SuspendTimeout)
	defer timer.Stop()
	select {
	case s.events <- event:
		c.advanceCursor(s, event)
		return true
	case <-s.done:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		c.mu.Lock()
		s.terminate(ErrSlowConsumer)
		delete(c.handles, s.id)
		c.mu.Unlock()
		tlog.Get(ctx).Warn("Dropping slow subscription.", zap.Uint8("id", s.id))
		return true
	}
}

func (c *Client) advanceCursor(s *Subscription, event wire.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.cursor = event.Cursor()
	s.hasCursor = true
}

// shutdown moves the client to its terminal state, reporting verdict on
// every remaining subscription, and returns result for Run.
func (c *Client) shutdown(verdict, result error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Closed
	for id, s := range c.handles {
		if s.tombstone {
			s.terminate(nil)
		} else {
			s.terminate(verdict)
		}
		delete(c.handles, id)
	}
	return result
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed && c.state != Draining {
		c.state = state
	}
}

func (c *Client) markHealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = true
}

func (c *Client) resetHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	healthy := c.healthy
	c.healthy = false
	return healthy
}

func (c *Client) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Client) allocateID() (uint8, bool) {
	for i := 0; i < 256; i++ {
		id := c.nextID
		c.nextID++
		if _, taken := c.handles[id]; !taken {
			return id, true
		}
	}
	return 0, false
}

func (c *Client) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// sleep waits out a backoff delay. It returns false when interrupted by
// context cancellation or Close.
func (c *Client) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.closing:
		return false
	}
}

// isFatal reports whether a session error must not trigger a reconnect
func isFatal(err error) bool {
	var decodeErr wire.DecodeError
	var protoErr ProtocolError
	return errors.As(err, &decodeErr) || errors.As(err, &protoErr)
}
