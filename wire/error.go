package wire

import "fmt"

// A ValidationError reports a malformed subscription request. It is detected
// locally, before anything is sent to the server.
type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

// A DecodeError reports a malformed inbound frame: an unknown tag, a
// truncated payload, or a declared length that disagrees with the actual
// data. A DecodeError is fatal to the transport session because the stream
// framing may be desynchronized.
type DecodeError struct {
	Reason string
	Offset int
}

func (err DecodeError) Error() string {
	return fmt.Sprintf("malformed frame at offset %d: %s", err.Offset, err.Reason)
}

func errTruncated(offset int) error {
	return DecodeError{Reason: "truncated frame", Offset: offset}
}
