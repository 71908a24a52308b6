package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxFrameSize is the largest frame, in bytes, that either side of the
// protocol is allowed to produce, excluding the 4-byte length prefix. It is
// a compatibility constant: both the client and the server reject frames
// declaring a bigger length without reading them.
const MaxFrameSize = 1 << 20

// Frame tags (server to client)
const (
	tagAck   = 0x10
	tagEvent = 0x11
	tagError = 0x12
	tagEnd   = 0x13
)

// A RemoteError is an error reported by the server for one subscription. It
// terminates that subscription only.
type RemoteError struct {
	Code    uint16
	Message string
}

func (err *RemoteError) Error() string {
	return fmt.Sprintf("server error %d: %s", err.Code, err.Message)
}

// A Frame is the smallest decodable unit received from the transport.
//
// Exactly one of Ack, Event, Err and End is set. Frames for different
// subscriptions interleave arbitrarily; within one subscription id the
// transport delivery order is the logical event order.
type Frame struct {
	// ID is the subscription the frame belongs to
	ID uint8

	// Ack confirms that the subscription has been accepted
	Ack bool

	// Event is a decoded record, if the frame carries one
	Event Event

	// Err is a subscription-fatal error reported by the server
	Err *RemoteError

	// End reports that the subscription is exhausted: its to-block bound
	// has been delivered in full, or an unsubscribe request has been
	// honored
	End bool
}

// DecodeFrame decodes a single length-prefixed frame received from the
// server. Decoding is stateless; memory use is bounded by the declared
// frame length, which is itself capped by MaxFrameSize.
//
// Any structural problem is reported as a DecodeError.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < 4 {
		return Frame{}, errTruncated(len(data))
	}
	declared := binary.LittleEndian.Uint32(data)
	if declared > MaxFrameSize {
		return Frame{}, DecodeError{Reason: fmt.Sprintf("declared length %d exceeds limit %d", declared, MaxFrameSize), Offset: 0}
	}
	if int(declared) != len(data)-4 {
		return Frame{}, DecodeError{Reason: fmt.Sprintf("declared length %d, actual %d", declared, len(data)-4), Offset: 0}
	}

	r := reader{data: data, off: 4}
	tag, err := r.u8()
	if err != nil {
		return Frame{}, err
	}
	id, err := r.u8()
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{ID: id}
	switch tag {
	case tagAck:
		frame.Ack = true
	case tagEvent:
		event, err := decodeEvent(&r)
		if err != nil {
			return Frame{}, err
		}
		frame.Event = event
	case tagError:
		remoteErr, err := decodeRemoteError(&r)
		if err != nil {
			return Frame{}, err
		}
		frame.Err = remoteErr
	case tagEnd:
		frame.End = true
	default:
		return Frame{}, DecodeError{Reason: fmt.Sprintf("unknown frame tag 0x%02x", tag), Offset: 4}
	}

	if r.off != len(r.data) {
		return Frame{}, DecodeError{Reason: fmt.Sprintf("%d trailing bytes", len(r.data)-r.off), Offset: r.off}
	}
	return frame, nil
}

func decodeEvent(r *reader) (Event, error) {
	kindByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	kind := EntityKind(kindByte)
	if !kind.valid() {
		return nil, DecodeError{Reason: fmt.Sprintf("unknown entity kind %d", kindByte), Offset: r.off - 1}
	}

	block, err := r.u64()
	if err != nil {
		return nil, err
	}
	txIndex, err := r.u32()
	if err != nil {
		return nil, err
	}
	logIndex, err := r.u32()
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindPairCreated:
		e := &PairCreated{BlockNumber: block, TxIndex: txIndex, LogIndex: logIndex}
		err = decodeFields(r, &e.Factory, &e.Pair, &e.Token0, &e.Token1,
			&e.PairIndex, &e.Timestamp, &e.TxHash)
		return e, err
	case KindPrice:
		e := &Price{BlockNumber: block, TxIndex: txIndex, LogIndex: logIndex}
		err = decodeFields(r, &e.Pair, &e.Sender, &e.Receiver,
			&e.Price, &e.Volume0, &e.Volume1,
			&e.Decimals0, &e.Decimals1, &e.Side,
			&e.Timestamp, &e.TxHash)
		return e, err
	default: // KindReserves
		e := &Reserves{BlockNumber: block, TxIndex: txIndex, LogIndex: logIndex}
		err = decodeFields(r, &e.Pair, &e.Event,
			&e.Reserve0, &e.Reserve1,
			&e.Timestamp, &e.TxHash)
		return e, err
	}
}

func decodeRemoteError(r *reader) (*RemoteError, error) {
	code, err := r.u16()
	if err != nil {
		return nil, err
	}
	length, err := r.u16()
	if err != nil {
		return nil, err
	}
	message, err := r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	return &RemoteError{Code: code, Message: string(message)}, nil
}

// EncodeAck encodes a subscription-ack frame. The client only decodes
// frames; the encoders mirror the server side of the protocol and exist for
// tests and protocol tooling.
func EncodeAck(id uint8) []byte {
	return finishFrame([]byte{0, 0, 0, 0, tagAck, id})
}

// EncodeEnd encodes an end-of-stream frame
func EncodeEnd(id uint8) []byte {
	return finishFrame([]byte{0, 0, 0, 0, tagEnd, id})
}

// EncodeError encodes an error-notice frame
func EncodeError(id uint8, code uint16, message string) []byte {
	buf := []byte{0, 0, 0, 0, tagError, id}
	buf = binary.LittleEndian.AppendUint16(buf, code)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(message)))
	buf = append(buf, message...)
	return finishFrame(buf)
}

// EncodeEvent encodes an event-payload frame
func EncodeEvent(id uint8, event Event) []byte {
	cursor := event.Cursor()
	buf := []byte{0, 0, 0, 0, tagEvent, id, byte(event.Kind())}
	buf = binary.LittleEndian.AppendUint64(buf, cursor.Block)
	buf = binary.LittleEndian.AppendUint32(buf, cursor.TxIndex)
	buf = binary.LittleEndian.AppendUint32(buf, cursor.LogIndex)

	switch e := event.(type) {
	case *PairCreated:
		buf = append(buf, e.Factory[:]...)
		buf = append(buf, e.Pair[:]...)
		buf = append(buf, e.Token0[:]...)
		buf = append(buf, e.Token1[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, e.PairIndex)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))
		buf = append(buf, e.TxHash[:]...)
	case *Price:
		buf = append(buf, e.Pair[:]...)
		buf = append(buf, e.Sender[:]...)
		buf = append(buf, e.Receiver[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Price))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Volume0))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Volume1))
		buf = append(buf, e.Decimals0, e.Decimals1, byte(e.Side))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))
		buf = append(buf, e.TxHash[:]...)
	case *Reserves:
		buf = append(buf, e.Pair[:]...)
		buf = append(buf, byte(e.Event))
		buf = binary.LittleEndian.AppendUint64(buf, e.Reserve0.Lo)
		buf = binary.LittleEndian.AppendUint64(buf, e.Reserve0.Hi)
		buf = binary.LittleEndian.AppendUint64(buf, e.Reserve1.Lo)
		buf = binary.LittleEndian.AppendUint64(buf, e.Reserve1.Hi)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))
		buf = append(buf, e.TxHash[:]...)
	default:
		panic(fmt.Sprintf("unknown event type %T", event))
	}
	return finishFrame(buf)
}

// finishFrame fills in the length prefix reserved at the start of buf
func finishFrame(buf []byte) []byte {
	binary.LittleEndian.PutUint32(buf, uint32(len(buf)-4))
	return buf
}

// reader consumes a frame left to right, reporting the offset of the first
// byte it could not read
type reader struct {
	data []byte
	off  int
}

func (r *reader) bytes(n int) ([]byte, error) {
	if len(r.data)-r.off < n {
		return nil, errTruncated(r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func decodeFields(r *reader, dsts ...any) error {
	for _, dst := range dsts {
		if err := decodeField(r, dst); err != nil {
			return err
		}
	}
	return nil
}

func decodeField(r *reader, dst any) error {
	switch dst := dst.(type) {
	case *Address:
		b, err := r.bytes(len(dst))
		if err != nil {
			return err
		}
		copy(dst[:], b)
	case *Hash:
		b, err := r.bytes(len(dst))
		if err != nil {
			return err
		}
		copy(dst[:], b)
	case *U128:
		lo, err := r.u64()
		if err != nil {
			return err
		}
		hi, err := r.u64()
		if err != nil {
			return err
		}
		dst.Lo, dst.Hi = lo, hi
	case *uint8:
		v, err := r.u8()
		if err != nil {
			return err
		}
		*dst = v
	case *uint64:
		v, err := r.u64()
		if err != nil {
			return err
		}
		*dst = v
	case *int64:
		v, err := r.u64()
		if err != nil {
			return err
		}
		*dst = int64(v)
	case *float64:
		v, err := r.u64()
		if err != nil {
			return err
		}
		*dst = math.Float64frombits(v)
	case *Side:
		v, err := r.u8()
		if err != nil {
			return err
		}
		if v > 1 {
			return DecodeError{Reason: fmt.Sprintf("invalid side %d", v), Offset: r.off - 1}
		}
		*dst = Side(v)
	case *ReserveKind:
		v, err := r.u8()
		if err != nil {
			return err
		}
		if v > uint8(Sync) {
			return DecodeError{Reason: fmt.Sprintf("invalid reserve event %d", v), Offset: r.off - 1}
		}
		*dst = ReserveKind(v)
	default:
		panic(fmt.Sprintf("unknown field type %T", dst))
	}
	return nil
}
