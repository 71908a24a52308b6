// Package history fetches historical uniswap v2 data over the gateway's
// bulk HTTP API. Responses are CSV; rows are decoded incrementally so
// arbitrarily long block ranges can be consumed in bounded memory.
package history

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/superchain/gateway/retry"
	"github.com/superchain/gateway/thttp"
	"github.com/superchain/gateway/tnet"
	"github.com/superchain/gateway/wire"
)

// A Range bounds a block interval, inclusive on both ends. A nil From
// starts at genesis; a nil To follows the chain head.
type Range struct {
	From *uint64
	To   *uint64
}

func (r Range) segments() ([]string, error) {
	if r.From != nil && r.To != nil && *r.From > *r.To {
		return nil, wire.ValidationError(fmt.Sprintf("block range inverted: from %d, to %d", *r.From, *r.To))
	}
	if r.From == nil && r.To == nil {
		return nil, nil
	}
	var from uint64
	if r.From != nil {
		from = *r.From
	}
	segments := []string{strconv.FormatUint(from, 10)}
	if r.To != nil {
		segments = append(segments, strconv.FormatUint(*r.To, 10))
	}
	return segments, nil
}

// Client is the bulk history API client
type Client struct {
	base   *url.URL
	header http.Header
	http   *http.Client
}

// New creates a history client for the gateway at baseURL, such as
// https://gateway.example.com. The header, if not nil, is attached to
// every request; use it to pass an Authorization header. httpClient may
// be nil, in which case a default client with request logging is used.
func New(baseURL string, header http.Header, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = thttp.WithRequestsLogging(&http.Client{})
	}
	return &Client{base: base, header: header, http: httpClient}, nil
}

// PairCreated returns the creation event of the given pair, or nil if the
// pair was not created within the range.
func (c *Client) PairCreated(ctx context.Context, pair wire.Address, r Range) (*wire.PairCreated, error) {
	rows, err := fetch(ctx, c, "pair", pair, r, decodePairCreated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	record, err := rows.Next()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return record, err
}

// Prices returns an iterator over the pair's price history within the
// range. The caller must Close the iterator.
func (c *Client) Prices(ctx context.Context, pair wire.Address, r Range) (*Rows[*wire.Price], error) {
	return fetch(ctx, c, "prices", pair, r, decodePrice)
}

// Reserves returns an iterator over the pair's reserve history within the
// range. The caller must Close the iterator.
func (c *Client) Reserves(ctx context.Context, pair wire.Address, r Range) (*Rows[*wire.Reserves], error) {
	return fetch(ctx, c, "reserves", pair, r, decodeReserves)
}

// Height returns the latest block the gateway has indexed. Transient
// transport errors are retried.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	return retry.Do1(ctx, retry.FixedConfig{RetryAfter: time.Second, MaxAttempts: 5}, func() (uint64, error) {
		resp, err := c.get(ctx, []string{"api", "eth", "height"})
		if err != nil {
			return 0, tnet.MaybeRetriableError(err)
		}
		defer resp.Body.Close()

		var height uint64
		if err := json.NewDecoder(resp.Body).Decode(&height); err != nil {
			return 0, fmt.Errorf("malformed height response: %w", err)
		}
		return height, nil
	})
}

func (c *Client) get(ctx context.Context, segments []string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath(segments...).String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("history request failed: %s: %s", resp.Status, body)
	}
	return resp, nil
}

func fetch[T any](ctx context.Context, c *Client, endpoint string, pair wire.Address, r Range, decode func(*row) (T, error)) (*Rows[T], error) {
	blocks, err := r.segments()
	if err != nil {
		return nil, err
	}
	segments := append([]string{"api", "eth", endpoint, hex.EncodeToString(pair[:])}, blocks...)
	resp, err := c.get(ctx, segments)
	if err != nil {
		return nil, err
	}
	return newRows(resp.Body, decode)
}
