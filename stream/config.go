package stream

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/superchain/gateway/retry"
)

// Config is the streaming client configuration. The zero value of every
// field falls back to the corresponding DefaultConfig value, except URL
// which is mandatory.
type Config struct {
	// URL of the gateway WebSocket endpoint (ws:// or wss://)
	URL string

	// Header is sent with the WebSocket handshake. Use it to pass an
	// Authorization header.
	Header http.Header

	// HandshakeTimeout bounds the WebSocket protocol upgrade
	HandshakeTimeout time.Duration

	// PingInterval is how often transport liveness is probed. A missing
	// pong within one interval disconnects the session and triggers
	// recovery.
	PingInterval time.Duration

	// Backoff configures the delays between reconnection attempts.
	// Backoff.MaxAttempts bounds consecutive failed attempts; 0 means
	// reconnect forever. The attempt counter resets every time a
	// connection delivers a frame.
	Backoff retry.ExpConfig

	// BufferCapacity is the per-subscription delivery buffer, in events
	BufferCapacity int

	// SuspendTimeout bounds how long dispatch may remain suspended on one
	// subscription with a full delivery buffer. While suspended, reading
	// from the transport pauses; when the timeout expires the slow
	// subscription is terminated with ErrSlowConsumer so that its
	// siblings are never stalled for longer than this bound.
	SuspendTimeout time.Duration

	// TLSClientConfig is passed to the connection for wss endpoints
	TLSClientConfig *tls.Config
}

// DefaultConfig is the recommended configuration
var DefaultConfig = Config{
	HandshakeTimeout: 5 * time.Second,
	PingInterval:     30 * time.Second,
	Backoff: retry.ExpConfig{
		Min:    250 * time.Millisecond,
		Max:    30 * time.Second,
		Scale:  2.0,
		Jitter: true,
	},
	BufferCapacity: 256,
	SuspendTimeout: 3 * time.Second,
}

func (c Config) withDefaults() Config {
	def := DefaultConfig
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.Backoff.Min == 0 {
		c.Backoff.Min = def.Backoff.Min
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = def.Backoff.Max
	}
	if c.Backoff.Scale == 0 {
		c.Backoff.Scale = def.Backoff.Scale
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = def.BufferCapacity
	}
	if c.SuspendTimeout == 0 {
		c.SuspendTimeout = def.SuspendTimeout
	}
	return c
}
