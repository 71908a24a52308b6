package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/superchain/gateway/wire"
)

// Rows iterates over a streamed CSV response. Rows are decoded one at a
// time; the underlying connection stays open until the iterator is
// exhausted or closed.
type Rows[T any] struct {
	body   io.ReadCloser
	csv    *csv.Reader
	cols   map[string]int
	decode func(*row) (T, error)
}

func newRows[T any](body io.ReadCloser, decode func(*row) (T, error)) (*Rows[T], error) {
	reader := csv.NewReader(body)
	reader.ReuseRecord = true

	header, err := reader.Read()
	switch {
	case err == io.EOF: // empty response, no header
		header = nil
	case err != nil:
		body.Close()
		return nil, fmt.Errorf("malformed CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	return &Rows[T]{body: body, csv: reader, cols: cols, decode: decode}, nil
}

// Next returns the next record, or io.EOF after the last one
func (rows *Rows[T]) Next() (T, error) {
	var zero T
	if len(rows.cols) == 0 {
		return zero, io.EOF
	}
	record, err := rows.csv.Read()
	if err != nil {
		return zero, err
	}
	return rows.decode(&row{cols: rows.cols, record: record})
}

// Close releases the underlying connection. It is safe to call before the
// iterator is exhausted.
func (rows *Rows[T]) Close() error {
	return rows.body.Close()
}

// row decodes typed fields by column name, accumulating the first error
type row struct {
	cols   map[string]int
	record []string
	err    error
}

func (r *row) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *row) has(name string) bool {
	_, ok := r.cols[name]
	return ok
}

func (r *row) field(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.record) {
		r.fail(fmt.Errorf("missing column %s", name))
		return ""
	}
	return r.record[i]
}

func (r *row) uint64(name string) uint64 {
	v, err := strconv.ParseUint(r.field(name), 10, 64)
	if err != nil {
		r.fail(fmt.Errorf("column %s: %w", name, err))
	}
	return v
}

func (r *row) uint32(name string) uint32 {
	v, err := strconv.ParseUint(r.field(name), 10, 32)
	if err != nil {
		r.fail(fmt.Errorf("column %s: %w", name, err))
	}
	return uint32(v)
}

func (r *row) uint8(name string) uint8 {
	v, err := strconv.ParseUint(r.field(name), 10, 8)
	if err != nil {
		r.fail(fmt.Errorf("column %s: %w", name, err))
	}
	return uint8(v)
}

func (r *row) int64(name string) int64 {
	v, err := strconv.ParseInt(r.field(name), 10, 64)
	if err != nil {
		r.fail(fmt.Errorf("column %s: %w", name, err))
	}
	return v
}

func (r *row) float64(name string) float64 {
	v, err := strconv.ParseFloat(r.field(name), 64)
	if err != nil {
		r.fail(fmt.Errorf("column %s: %w", name, err))
	}
	return v
}

func (r *row) address(name string) wire.Address {
	v, err := wire.ParseAddress(r.field(name))
	if err != nil {
		r.fail(fmt.Errorf("column %s: %w", name, err))
	}
	return v
}

func (r *row) hash(name string) wire.Hash {
	v, err := wire.ParseHash(r.field(name))
	if err != nil {
		r.fail(fmt.Errorf("column %s: %w", name, err))
	}
	return v
}

func (r *row) u128(name string) wire.U128 {
	var v wire.U128
	if err := v.UnmarshalText([]byte(r.field(name))); err != nil {
		r.fail(fmt.Errorf("column %s: %w", name, err))
	}
	return v
}

// side is encoded as "true" for buy and "false" for sell
func (r *row) side(name string) wire.Side {
	switch v := r.field(name); v {
	case "true":
		return wire.Buy
	case "false":
		return wire.Sell
	default:
		r.fail(fmt.Errorf("column %s: invalid side %q", name, v))
		return wire.Sell
	}
}

func (r *row) reserveKind(name string) wire.ReserveKind {
	switch v := r.field(name); v {
	case "Mint":
		return wire.Mint
	case "Burn":
		return wire.Burn
	case "Swap":
		return wire.Swap
	case "Sync":
		return wire.Sync
	default:
		r.fail(fmt.Errorf("column %s: invalid reserve event %q", name, v))
		return wire.Mint
	}
}

// logIndex is absent from older gateway responses
func (r *row) logIndex() uint32 {
	if !r.has("log_index") {
		return 0
	}
	return r.uint32("log_index")
}

func decodePairCreated(r *row) (*wire.PairCreated, error) {
	e := &wire.PairCreated{
		BlockNumber: r.uint64("block_number"),
		TxIndex:     uint32(r.int64("transaction_index")),
		LogIndex:    r.logIndex(),
		Factory:     r.address("factory"),
		Pair:        r.address("pair"),
		Token0:      r.address("token0"),
		Token1:      r.address("token1"),
		PairIndex:   r.uint64("pair_index"),
		Timestamp:   r.int64("timestamp"),
		TxHash:      r.hash("transaction_hash"),
	}
	return e, r.err
}

func decodePrice(r *row) (*wire.Price, error) {
	e := &wire.Price{
		BlockNumber: r.uint64("block_number"),
		TxIndex:     uint32(r.int64("transaction_index")),
		LogIndex:    r.logIndex(),
		Pair:        r.address("pair"),
		Sender:      r.address("sender"),
		Receiver:    r.address("receiver"),
		Price:       r.float64("price"),
		Volume0:     r.float64("volume0"),
		Volume1:     r.float64("volume1"),
		Decimals0:   r.uint8("decimals0"),
		Decimals1:   r.uint8("decimals1"),
		Side:        r.side("side"),
		Timestamp:   r.int64("timestamp"),
		TxHash:      r.hash("transaction_hash"),
	}
	return e, r.err
}

func decodeReserves(r *row) (*wire.Reserves, error) {
	e := &wire.Reserves{
		BlockNumber: r.uint64("block_number"),
		TxIndex:     uint32(r.int64("transaction_index")),
		LogIndex:    r.logIndex(),
		Pair:        r.address("pair"),
		Event:       r.reserveKind("event"),
		Reserve0:    r.u128("reserve0"),
		Reserve1:    r.u128("reserve1"),
		Timestamp:   r.int64("timestamp"),
		TxHash:      r.hash("transaction_hash"),
	}
	return e, r.err
}
