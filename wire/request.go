package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/slices"
)

// Request tags (client to server)
const (
	tagSubscribe   = 0x01
	tagUnsubscribe = 0x02
)

// A Filter restricts a subscription to a set of pair addresses.
//
// An empty (or nil) filter means all pairs, not no pairs. There is no way to
// request an empty result set, and no reason to want one.
type Filter []Address

// Canonical returns a sorted copy of the filter with duplicates removed.
// Requests are canonicalized before encoding so that identical filters
// produce identical bytes.
func (f Filter) Canonical() Filter {
	if len(f) == 0 {
		return nil
	}
	c := slices.Clone(f)
	slices.SortFunc(c, func(a, b Address) bool {
		return bytes.Compare(a[:], b[:]) < 0
	})
	return slices.Compact(c)
}

// A Request describes one subscription: which entity kind to deliver, for
// which pairs, over which block range. It is immutable once sent.
type Request struct {
	// Kind selects the entity kind to deliver
	Kind EntityKind

	// Filter restricts delivery to the given pairs; empty means all pairs
	Filter Filter

	// FromBlock is the first block to deliver, inclusive; nil means
	// genesis
	FromBlock *uint64

	// ToBlock is the last block to deliver, inclusive; nil means follow
	// the chain head indefinitely
	ToBlock *uint64
}

// Validate checks the request without performing any I/O
func (req Request) Validate() error {
	if !req.Kind.valid() {
		return ValidationError(fmt.Sprintf("unknown entity kind %d", uint8(req.Kind)))
	}
	if len(req.Filter) > maxFilterSize {
		return ValidationError(fmt.Sprintf("filter of %d addresses exceeds limit %d", len(req.Filter), maxFilterSize))
	}
	if req.FromBlock != nil && req.ToBlock != nil && *req.FromBlock > *req.ToBlock {
		return ValidationError(fmt.Sprintf("from-block %d is beyond to-block %d", *req.FromBlock, *req.ToBlock))
	}
	return nil
}

// maxFilterSize is dictated by the u16 address count on the wire
const maxFilterSize = 1<<16 - 1

// EncodeSubscribe encodes a subscribe request for the given subscription
// id. The request must have been validated; an invalid request panics.
func EncodeSubscribe(id uint8, req Request) []byte {
	if err := req.Validate(); err != nil {
		panic(err)
	}
	filter := req.Filter.Canonical()

	buf := []byte{0, 0, 0, 0, tagSubscribe, id, byte(req.Kind)}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(filter)))
	for _, pair := range filter {
		buf = append(buf, pair[:]...)
	}
	buf = appendOptionalBlock(buf, req.FromBlock)
	buf = appendOptionalBlock(buf, req.ToBlock)
	return finishFrame(buf)
}

// EncodeUnsubscribe encodes a best-effort request to stop delivery for the
// given subscription id
func EncodeUnsubscribe(id uint8) []byte {
	return finishFrame([]byte{0, 0, 0, 0, tagUnsubscribe, id})
}

func appendOptionalBlock(buf []byte, block *uint64) []byte {
	if block == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return binary.LittleEndian.AppendUint64(buf, *block)
}

// A ClientMessage is a decoded client request: either a subscribe carrying
// a Request, or an unsubscribe. The client never decodes its own requests;
// DecodeClientMessage implements the server side of the protocol for tests
// and protocol tooling.
type ClientMessage struct {
	ID        uint8
	Subscribe *Request // nil for unsubscribe
}

// DecodeClientMessage decodes a length-prefixed client request
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	if len(data) < 4 {
		return ClientMessage{}, errTruncated(len(data))
	}
	declared := binary.LittleEndian.Uint32(data)
	if declared > MaxFrameSize {
		return ClientMessage{}, DecodeError{Reason: fmt.Sprintf("declared length %d exceeds limit %d", declared, MaxFrameSize), Offset: 0}
	}
	if int(declared) != len(data)-4 {
		return ClientMessage{}, DecodeError{Reason: fmt.Sprintf("declared length %d, actual %d", declared, len(data)-4), Offset: 0}
	}

	r := reader{data: data, off: 4}
	tag, err := r.u8()
	if err != nil {
		return ClientMessage{}, err
	}
	id, err := r.u8()
	if err != nil {
		return ClientMessage{}, err
	}

	msg := ClientMessage{ID: id}
	switch tag {
	case tagSubscribe:
		req, err := decodeRequest(&r)
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Subscribe = req
	case tagUnsubscribe:
	default:
		return ClientMessage{}, DecodeError{Reason: fmt.Sprintf("unknown request tag 0x%02x", tag), Offset: 4}
	}

	if r.off != len(r.data) {
		return ClientMessage{}, DecodeError{Reason: fmt.Sprintf("%d trailing bytes", len(r.data)-r.off), Offset: r.off}
	}
	return msg, nil
}

func decodeRequest(r *reader) (*Request, error) {
	kindByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	kind := EntityKind(kindByte)
	if !kind.valid() {
		return nil, DecodeError{Reason: fmt.Sprintf("unknown entity kind %d", kindByte), Offset: r.off - 1}
	}

	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	var filter Filter
	for i := 0; i < int(count); i++ {
		var pair Address
		if err := decodeField(r, &pair); err != nil {
			return nil, err
		}
		filter = append(filter, pair)
	}

	fromBlock, err := decodeOptionalBlock(r)
	if err != nil {
		return nil, err
	}
	toBlock, err := decodeOptionalBlock(r)
	if err != nil {
		return nil, err
	}

	return &Request{Kind: kind, Filter: filter, FromBlock: fromBlock, ToBlock: toBlock}, nil
}

func decodeOptionalBlock(r *reader) (*uint64, error) {
	flag, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch flag {
	case 0:
		return nil, nil
	case 1:
		block, err := r.u64()
		if err != nil {
			return nil, err
		}
		return &block, nil
	default:
		return nil, DecodeError{Reason: fmt.Sprintf("invalid presence flag %d", flag), Offset: r.off - 1}
	}
}
