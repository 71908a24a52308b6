// Package stream implements the live subscription client for the
// gateway: a multiplexer of up to 256 concurrent event streams over one
// WebSocket connection, with transparent resumption after transport
// failures.
//
// Delivery is per subscription, in cursor order, through a buffered
// channel. A consumer that stops draining its channel suspends dispatch
// for everyone for a bounded time only; past that bound the slow
// subscription is dropped with ErrSlowConsumer and its siblings continue
// unharmed.
package stream
