package thttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/superchain/gateway/tlog"
	"go.uber.org/zap"
)

// LoggingTransport is HTTP transport with logging
type LoggingTransport struct {
	Transport http.RoundTripper
}

// WithRequestsLogging returns an http client with logging
func WithRequestsLogging(client *http.Client) *http.Client {
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Transport:     &LoggingTransport{Transport: transport},
		CheckRedirect: checkRedirect,
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > 10 {
		return errors.New("request was terminated after 10 redirects")
	}
	// Go's http client removes Authorization from the following request
	// https://github.com/golang/go/issues/35104
	for k, v := range via[0].Header {
		if _, exists := req.Header[k]; !exists {
			req.Header[k] = v
		}
	}
	return nil
}

// RoundTrip implements http.RoundTripper
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	logger := tlog.Get(req.Context())
	if !logger.Core().Enabled(zap.DebugLevel) {
		return t.Transport.RoundTrip(req)
	}

	logger = logger.With(zap.String("method", req.Method), zap.Stringer("url", req.URL))
	logger.Debug("HTTP request started")
	started := time.Now()
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		logger.Debug("HTTP request failed", zap.Error(err))
		return resp, err
	}
	logger.Debug("HTTP response received", zap.String("status", resp.Status), zap.Duration("elapsed", time.Since(started)))
	return resp, err
}

// Test processes an http.Request (usually obtained from httptest.NewRequest)
// with the given handler as if it was received on the network. Only useful
// in tests.
func Test(handler http.Handler, r *http.Request) *http.Response {
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w.Result()
}

// TestCtx is similar to Test, except that the given context is injected
// into the request
func TestCtx(ctx context.Context, handler http.Handler, r *http.Request) *http.Response {
	return Test(handler, r.WithContext(ctx))
}
