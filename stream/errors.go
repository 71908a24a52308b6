package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Subscribe after the client has shut down,
	// and reported on every subscription that was still open at that
	// point.
	ErrClosed = errors.New("client closed")

	// ErrSlowConsumer terminates a subscription whose delivery buffer
	// stayed full for longer than Config.SuspendTimeout.
	ErrSlowConsumer = errors.New("delivery buffer full for too long")

	// ErrTooManySubscriptions is returned by Subscribe when all
	// subscription slots are taken, including slots held by closed
	// subscriptions the server has not confirmed yet.
	ErrTooManySubscriptions = errors.New("no free subscription slots")
)

// A ProtocolError reports gateway behavior that violates the protocol,
// such as events arriving out of order within one subscription. It is not
// recoverable: the client shuts down and Run returns it.
type ProtocolError string

func (e ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %s", string(e))
}
