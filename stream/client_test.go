package stream

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"github.com/stretchr/testify/require"

	"github.com/superchain/gateway/retry"
	"github.com/superchain/gateway/test"
	"github.com/superchain/gateway/thttp"
	"github.com/superchain/gateway/tnet"
	"github.com/superchain/gateway/tws"
	"github.com/superchain/gateway/wire"
)

type streamTestEnv struct {
	group  *parallel.Group
	client *Client

	requests <-chan wire.ClientMessage
	send     chan<- []byte
	drop     chan<- struct{}
	refuse   *atomic.Bool
	res      <-chan error
}

func streamTestSetup(t *testing.T, config Config) *streamTestEnv {
	var env streamTestEnv

	env.group = test.Group(t)

	requests := make(chan wire.ClientMessage, 16)
	send := make(chan []byte)
	drop := make(chan struct{}, 1)
	var refuse atomic.Bool

	router := mux.NewRouter()
	router.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		tws.Serve(w, r, tws.DefaultConfig, func(ctx context.Context, incoming <-chan tws.Message, outgoing chan<- tws.Message) error {
			if refuse.Load() {
				return errors.New("gateway gone")
			}
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case msg, ok := <-incoming:
					if !ok {
						return nil
					}
					requests <- must.OK1(wire.DecodeClientMessage(msg.Data))
				case data := <-send:
					select {
					case outgoing <- tws.Message{Binary: true, Data: data}:
					case <-ctx.Done():
						return ctx.Err()
					}
				case <-drop:
					return nil
				}
			}
		})
	})

	server := thttp.NewServer(tnet.ListenOnRandomPort(), thttp.StandardMiddleware(router))
	env.group.Spawn("http", parallel.Fail, server.Run)

	config.URL = tws.WithWSScheme("http://"+server.ListenAddr().String()) + "/stream"
	if config.Backoff.Min == 0 {
		config.Backoff = retry.ExpConfig{Min: time.Millisecond, Max: 10 * time.Millisecond, Scale: 2.0}
	}
	env.client = New(config)

	res := make(chan error, 1)
	env.group.Spawn("client", parallel.Continue, func(ctx context.Context) error {
		res <- env.client.Run(ctx)
		return nil
	})

	env.requests = requests
	env.send = send
	env.drop = drop
	env.refuse = &refuse
	env.res = res

	return &env
}

// expectRequests collects n client messages keyed by subscription id;
// requests for distinct subscriptions may arrive in any order
func (env *streamTestEnv) expectRequests(n int) map[uint8]wire.ClientMessage {
	out := map[uint8]wire.ClientMessage{}
	for i := 0; i < n; i++ {
		m := <-env.requests
		out[m.ID] = m
	}
	return out
}

func testAddr(b byte) (a wire.Address) {
	for i := range a {
		a[i] = b
	}
	return a
}

func testHash(b byte) (h wire.Hash) {
	for i := range h {
		h[i] = b
	}
	return h
}

func priceAt(block uint64, logIndex uint32) *wire.Price {
	return &wire.Price{
		BlockNumber: block,
		TxIndex:     1,
		LogIndex:    logIndex,
		Pair:        testAddr(0xb4),
		Sender:      testAddr(0x01),
		Receiver:    testAddr(0x02),
		Price:       1824.53,
		Volume0:     2.25,
		Volume1:     4105.19,
		Decimals0:   18,
		Decimals1:   6,
		Side:        wire.Buy,
		Timestamp:   1664809355,
		TxHash:      testHash(0xee),
	}
}

func reservesAt(block uint64) *wire.Reserves {
	return &wire.Reserves{
		BlockNumber: block,
		TxIndex:     3,
		LogIndex:    0,
		Pair:        testAddr(0xb4),
		Event:       wire.Sync,
		Reserve0:    wire.U128{Lo: 1000},
		Reserve1:    wire.U128{Lo: 2000},
		Timestamp:   1664809355,
		TxHash:      testHash(0xee),
	}
}

func block(n uint64) *uint64 {
	return &n
}

func TestStreamDeliver(t *testing.T) {
	env := streamTestSetup(t, Config{})

	sub, err := env.client.Prices(wire.Filter{testAddr(0xb4)}, block(100), nil)
	require.NoError(t, err)

	m := <-env.requests
	require.NotNil(t, m.Subscribe)
	require.Equal(t, sub.id, m.ID)
	require.Equal(t, wire.KindPrice, m.Subscribe.Kind)
	require.Equal(t, wire.Filter{testAddr(0xb4)}, m.Subscribe.Filter)
	require.Equal(t, uint64(100), *m.Subscribe.FromBlock)
	require.Nil(t, m.Subscribe.ToBlock)

	env.send <- wire.EncodeAck(sub.id)
	env.send <- wire.EncodeEvent(sub.id, priceAt(100, 0))
	env.send <- wire.EncodeEvent(sub.id, priceAt(100, 7))

	require.Equal(t, priceAt(100, 0), <-sub.Events())
	require.Equal(t, priceAt(100, 7), <-sub.Events())

	env.send <- wire.EncodeEnd(sub.id)
	_, open := <-sub.Events()
	require.False(t, open)
	require.NoError(t, sub.Err())
}

func TestStreamResumeAfterDrop(t *testing.T) {
	env := streamTestSetup(t, Config{})

	subA, err := env.client.Prices(nil, block(100), nil)
	require.NoError(t, err)
	subB, err := env.client.Reserves(nil, block(200), nil)
	require.NoError(t, err)

	initial := env.expectRequests(2)
	require.Equal(t, uint64(100), *initial[subA.id].Subscribe.FromBlock)
	require.Equal(t, uint64(200), *initial[subB.id].Subscribe.FromBlock)

	env.send <- wire.EncodeEvent(subA.id, priceAt(150, 0))
	env.send <- wire.EncodeEvent(subB.id, reservesAt(250))
	require.Equal(t, priceAt(150, 0), <-subA.Events())
	require.Equal(t, reservesAt(250), <-subB.Events())

	env.drop <- struct{}{}

	resumed := env.expectRequests(2)
	require.Equal(t, wire.KindPrice, resumed[subA.id].Subscribe.Kind)
	require.Equal(t, uint64(151), *resumed[subA.id].Subscribe.FromBlock)
	require.Equal(t, wire.KindReserves, resumed[subB.id].Subscribe.Kind)
	require.Equal(t, uint64(251), *resumed[subB.id].Subscribe.FromBlock)

	env.send <- wire.EncodeEvent(subA.id, priceAt(151, 0))
	require.Equal(t, priceAt(151, 0), <-subA.Events())
}

func TestStreamResumeSkipsExhausted(t *testing.T) {
	env := streamTestSetup(t, Config{})

	subA, err := env.client.Prices(nil, block(100), block(150))
	require.NoError(t, err)
	subB, err := env.client.Prices(nil, block(100), nil)
	require.NoError(t, err)
	env.expectRequests(2)

	env.send <- wire.EncodeEvent(subA.id, priceAt(150, 0))
	require.Equal(t, priceAt(150, 0), <-subA.Events())

	env.drop <- struct{}{}

	// the bounded range was fully delivered, so only the open-ended
	// subscription comes back
	resumed := env.expectRequests(1)
	require.Contains(t, resumed, subB.id)

	_, open := <-subA.Events()
	require.False(t, open)
	require.NoError(t, subA.Err())
}

func TestStreamUnsubscribe(t *testing.T) {
	env := streamTestSetup(t, Config{})

	subA, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	subB, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	env.expectRequests(2)

	subA.Close()
	m := <-env.requests
	require.Equal(t, subA.id, m.ID)
	require.Nil(t, m.Subscribe)

	// frames racing with the unsubscribe are dropped without disturbing
	// the sibling
	env.send <- wire.EncodeEvent(subA.id, priceAt(10, 0))
	env.send <- wire.EncodeEvent(subB.id, priceAt(20, 0))
	require.Equal(t, priceAt(20, 0), <-subB.Events())

	env.send <- wire.EncodeEnd(subA.id)
	_, open := <-subA.Events()
	require.False(t, open)
	require.NoError(t, subA.Err())
}

func TestStreamServerError(t *testing.T) {
	env := streamTestSetup(t, Config{})

	subA, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	subB, err := env.client.Reserves(nil, nil, nil)
	require.NoError(t, err)
	env.expectRequests(2)

	env.send <- wire.EncodeError(subA.id, 404, "no such pair")

	_, open := <-subA.Events()
	require.False(t, open)
	require.Equal(t, &wire.RemoteError{Code: 404, Message: "no such pair"}, subA.Err())

	// the failure is scoped to one subscription
	env.send <- wire.EncodeEvent(subB.id, reservesAt(5))
	require.Equal(t, reservesAt(5), <-subB.Events())
}

func TestStreamSlowConsumer(t *testing.T) {
	env := streamTestSetup(t, Config{
		BufferCapacity: 1,
		SuspendTimeout: 50 * time.Millisecond,
	})

	subA, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	subB, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	env.expectRequests(2)

	// nobody drains subA: the first event fills its buffer, the second
	// suspends dispatch until the suspension bound expires
	env.send <- wire.EncodeEvent(subA.id, priceAt(1, 0))
	env.send <- wire.EncodeEvent(subA.id, priceAt(2, 0))
	env.send <- wire.EncodeEvent(subB.id, priceAt(3, 0))

	require.Equal(t, priceAt(3, 0), <-subB.Events())

	require.Equal(t, priceAt(1, 0), <-subA.Events())
	_, open := <-subA.Events()
	require.False(t, open)
	require.Equal(t, ErrSlowConsumer, subA.Err())
}

func TestStreamMalformedFrameFatal(t *testing.T) {
	env := streamTestSetup(t, Config{})

	sub, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	<-env.requests

	env.send <- []byte{0x03, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff}

	runErr := <-env.res
	var decodeErr wire.DecodeError
	require.ErrorAs(t, runErr, &decodeErr)

	_, open := <-sub.Events()
	require.False(t, open)
	require.ErrorAs(t, sub.Err(), &decodeErr)
	require.Equal(t, Closed, env.client.State())
}

func TestStreamOutOfOrderFatal(t *testing.T) {
	env := streamTestSetup(t, Config{})

	sub, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	<-env.requests

	env.send <- wire.EncodeEvent(sub.id, priceAt(100, 5))
	env.send <- wire.EncodeEvent(sub.id, priceAt(100, 4))

	runErr := <-env.res
	var protoErr ProtocolError
	require.ErrorAs(t, runErr, &protoErr)

	require.Equal(t, priceAt(100, 5), <-sub.Events())
	_, open := <-sub.Events()
	require.False(t, open)
	require.ErrorAs(t, sub.Err(), &protoErr)
}

func TestStreamRetryExhaustion(t *testing.T) {
	env := streamTestSetup(t, Config{
		Backoff: retry.ExpConfig{
			Min:         time.Millisecond,
			Max:         5 * time.Millisecond,
			Scale:       2.0,
			MaxAttempts: 2,
		},
	})

	sub, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	<-env.requests

	env.refuse.Store(true)
	env.drop <- struct{}{}

	runErr := <-env.res
	require.ErrorContains(t, runErr, "reconnection attempts exhausted")

	_, open := <-sub.Events()
	require.False(t, open)
	require.ErrorContains(t, sub.Err(), "reconnection attempts exhausted")
}

func TestStreamClose(t *testing.T) {
	env := streamTestSetup(t, Config{})

	sub, err := env.client.Prices(nil, nil, nil)
	require.NoError(t, err)
	<-env.requests

	env.client.Close()
	require.NoError(t, <-env.res)

	_, open := <-sub.Events()
	require.False(t, open)
	require.Equal(t, ErrClosed, sub.Err())
	require.Equal(t, Closed, env.client.State())

	_, err = env.client.Prices(nil, nil, nil)
	require.Equal(t, ErrClosed, err)
}

func TestStreamSubscribeValidation(t *testing.T) {
	env := streamTestSetup(t, Config{})

	_, err := env.client.Prices(nil, block(10), block(5))
	var validationErr wire.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
