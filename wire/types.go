package wire

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// An Address is a 20-byte EVM account or contract address.
type Address [20]byte

// ParseAddress parses a hex address with or without the 0x prefix
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) != 2*len(a) {
		return a, fmt.Errorf("invalid address %q: expected %d hex digits", s, 2*len(a))
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// A Hash is a 32-byte transaction or block hash.
type Hash [32]byte

// ParseHash parses a hex hash with or without the 0x prefix
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) != 2*len(h) {
		return h, fmt.Errorf("invalid hash %q: expected %d hex digits", s, 2*len(h))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// A U128 is an unsigned 128-bit integer, used for pool reserves which can
// overflow uint64.
type U128 struct {
	Lo uint64
	Hi uint64
}

// Big returns the value as a big.Int
func (u U128) Big() *big.Int {
	v := new(big.Int).SetUint64(u.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(u.Lo))
}

func (u U128) String() string {
	return u.Big().String()
}

// MarshalText implements encoding.TextMarshaler
func (u U128) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (u *U128) UnmarshalText(text []byte) error {
	v, ok := new(big.Int).SetString(string(text), 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 128 {
		return fmt.Errorf("invalid 128-bit integer %q", text)
	}
	u.Lo = v.Uint64()
	u.Hi = new(big.Int).Rsh(v, 64).Uint64()
	return nil
}

// EntityKind is the category of on-chain events a subscription delivers
type EntityKind uint8

// EntityKind values
const (
	KindPairCreated EntityKind = 1
	KindPrice       EntityKind = 2
	KindReserves    EntityKind = 3
)

func (k EntityKind) String() string {
	switch k {
	case KindPairCreated:
		return "pairCreated"
	case KindPrice:
		return "price"
	case KindReserves:
		return "reserves"
	default:
		return fmt.Sprintf("EntityKind(%d)", uint8(k))
	}
}

func (k EntityKind) valid() bool {
	switch k {
	case KindPairCreated, KindPrice, KindReserves:
		return true
	default:
		return false
	}
}

// Side is the direction of a trade
type Side uint8

// Side values
const (
	Sell Side = 0
	Buy  Side = 1
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// ReserveKind is the type of pool event that changed the reserves
type ReserveKind uint8

// ReserveKind values
const (
	Mint ReserveKind = 0
	Burn ReserveKind = 1
	Swap ReserveKind = 2
	Sync ReserveKind = 3
)

func (k ReserveKind) String() string {
	switch k {
	case Mint:
		return "mint"
	case Burn:
		return "burn"
	case Swap:
		return "swap"
	case Sync:
		return "sync"
	default:
		return fmt.Sprintf("ReserveKind(%d)", uint8(k))
	}
}

// A Cursor is the position of an event in chain history. Within one
// subscription the server delivers events in non-decreasing cursor order;
// the client resumes interrupted subscriptions from the block following the
// last delivered cursor.
type Cursor struct {
	Block    uint64
	TxIndex  uint32
	LogIndex uint32
}

// Less returns whether c is strictly before other in chain order
func (c Cursor) Less(other Cursor) bool {
	if c.Block != other.Block {
		return c.Block < other.Block
	}
	if c.TxIndex != other.TxIndex {
		return c.TxIndex < other.TxIndex
	}
	return c.LogIndex < other.LogIndex
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Block, c.TxIndex, c.LogIndex)
}
