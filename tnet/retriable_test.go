package tnet

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/superchain/gateway/retry"
)

func TestMaybeRetriableError(t *testing.T) {
	assert.NoError(t, MaybeRetriableError(nil))

	var retriable retry.ErrRetriable
	assert.True(t, errors.As(MaybeRetriableError(syscall.ECONNREFUSED), &retriable))
	assert.True(t, errors.As(MaybeRetriableError(fmt.Errorf("write: %w", syscall.EPIPE)), &retriable))
	assert.True(t, errors.As(MaybeRetriableError(io.ErrUnexpectedEOF), &retriable))
	assert.True(t, errors.As(MaybeRetriableError(&net.DNSError{IsTemporary: true}), &retriable))

	plain := errors.New("not a network problem")
	assert.Equal(t, plain, MaybeRetriableError(plain))
}
