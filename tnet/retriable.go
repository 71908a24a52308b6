package tnet

import (
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/superchain/gateway/retry"
)

// MaybeRetriableError converts given network error into retry.ErrRetriable
// if the network operation is retriable
func MaybeRetriableError(err error) error {
	if err == nil {
		return nil
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && errors.Is(urlErr, io.EOF) {
		return retry.Retriable(err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.Temporary() {
		return retry.Retriable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Retriable(err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return retry.Retriable(err)
	}
	// This is unexported error coming from DNS code
	if strings.Contains(err.Error(), "server misbehaving") {
		return retry.Retriable(err)
	}
	return err
}
