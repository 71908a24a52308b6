package wire

// An Event is a decoded on-chain record delivered on a subscription.
//
// The concrete types are *PairCreated, *Price and *Reserves.
type Event interface {
	// Kind reports which entity kind the event belongs to
	Kind() EntityKind
	// Cursor reports the position of the event in chain history
	Cursor() Cursor
}

// A PairCreated is a uniswap v2 PairCreated event
type PairCreated struct {
	BlockNumber uint64  `json:"blockNumber"`
	TxIndex     uint32  `json:"txIndex"`
	LogIndex    uint32  `json:"logIndex"`
	Factory     Address `json:"factory"`
	Pair        Address `json:"pair"`
	Token0      Address `json:"token0"`
	Token1      Address `json:"token1"`
	PairIndex   uint64  `json:"pairIndex"`
	Timestamp   int64   `json:"timestamp"`
	TxHash      Hash    `json:"txHash"`
}

// Kind implements Event
func (*PairCreated) Kind() EntityKind { return KindPairCreated }

// Cursor implements Event
func (e *PairCreated) Cursor() Cursor {
	return Cursor{Block: e.BlockNumber, TxIndex: e.TxIndex, LogIndex: e.LogIndex}
}

// A Price is a uniswap v2 price quote derived from a swap
type Price struct {
	BlockNumber uint64  `json:"blockNumber"`
	TxIndex     uint32  `json:"txIndex"`
	LogIndex    uint32  `json:"logIndex"`
	Pair        Address `json:"pair"`
	Sender      Address `json:"sender"`
	Receiver    Address `json:"receiver"`
	Price       float64 `json:"price"`
	Volume0     float64 `json:"volume0"`
	Volume1     float64 `json:"volume1"`
	Decimals0   uint8   `json:"decimals0"`
	Decimals1   uint8   `json:"decimals1"`
	Side        Side    `json:"side"`
	Timestamp   int64   `json:"timestamp"`
	TxHash      Hash    `json:"txHash"`
}

// Kind implements Event
func (*Price) Kind() EntityKind { return KindPrice }

// Cursor implements Event
func (e *Price) Cursor() Cursor {
	return Cursor{Block: e.BlockNumber, TxIndex: e.TxIndex, LogIndex: e.LogIndex}
}

// A Reserves is a change of a pool's reserves caused by a mint, burn, swap
// or sync event
type Reserves struct {
	BlockNumber uint64      `json:"blockNumber"`
	TxIndex     uint32      `json:"txIndex"`
	LogIndex    uint32      `json:"logIndex"`
	Pair        Address     `json:"pair"`
	Event       ReserveKind `json:"event"`
	Reserve0    U128        `json:"reserve0"`
	Reserve1    U128        `json:"reserve1"`
	Timestamp   int64       `json:"timestamp"`
	TxHash      Hash        `json:"txHash"`
}

// Kind implements Event
func (*Reserves) Kind() EntityKind { return KindReserves }

// Cursor implements Event
func (e *Reserves) Cursor() Cursor {
	return Cursor{Block: e.BlockNumber, TxIndex: e.TxIndex, LogIndex: e.LogIndex}
}
