package history

import (
	"io"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/ridge/parallel"
	"github.com/stretchr/testify/require"

	"github.com/superchain/gateway/test"
	"github.com/superchain/gateway/thttp"
	"github.com/superchain/gateway/tnet"
	"github.com/superchain/gateway/wire"
)

const (
	pairHex   = "b4e16d0168e52d35cacd2c6185b44281ec28c9dc"
	tokenHex  = "a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	token2Hex = "c02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	hashHex   = "0x88b35e7a3f2b2d9a0d1b8e49c2b2097a53e053f8b8a5b314b0e57a9417650a50"
)

var testPair = mustAddr(pairHex)

func mustAddr(s string) wire.Address {
	a, err := wire.ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

type historyTestEnv struct {
	client *Client
	paths  <-chan string
}

// historyTestSetup serves canned responses per endpoint and records the
// request paths
func historyTestSetup(t *testing.T, responses map[string]string) *historyTestEnv {
	group := test.Group(t)

	paths := make(chan string, 16)
	router := mux.NewRouter()
	router.PathPrefix("/api/eth/{endpoint}/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		body, ok := responses[mux.Vars(r)["endpoint"]]
		if !ok {
			http.Error(w, "no such endpoint", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	router.HandleFunc("/api/eth/height", func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		_, _ = io.WriteString(w, responses["height"])
	})

	server := thttp.NewServer(tnet.ListenOnRandomPort(), thttp.StandardMiddleware(router))
	group.Spawn("http", parallel.Fail, server.Run)

	client, err := New("http://"+server.ListenAddr().String(), nil, nil)
	require.NoError(t, err)

	return &historyTestEnv{client: client, paths: paths}
}

func TestHistoryPrices(t *testing.T) {
	env := historyTestSetup(t, map[string]string{
		"prices": "block_number,transaction_index,log_index,pair,sender,receiver,price,volume0,volume1,decimals0,decimals1,side,timestamp,transaction_hash\n" +
			"100,1,2," + pairHex + "," + tokenHex + "," + token2Hex + ",1824.53,2.25,4105.19,18,6,true,1664809355," + hashHex + "\n" +
			"101,3,0," + pairHex + "," + tokenHex + "," + token2Hex + ",1825.01,1.5,2737.5,18,6,false,1664809367," + hashHex + "\n",
	})

	rows, err := env.client.Prices(test.Context(t), testPair, Range{From: block(100), To: block(200)})
	require.NoError(t, err)
	defer rows.Close()

	first, err := rows.Next()
	require.NoError(t, err)
	require.Equal(t, &wire.Price{
		BlockNumber: 100,
		TxIndex:     1,
		LogIndex:    2,
		Pair:        testPair,
		Sender:      mustAddr(tokenHex),
		Receiver:    mustAddr(token2Hex),
		Price:       1824.53,
		Volume0:     2.25,
		Volume1:     4105.19,
		Decimals0:   18,
		Decimals1:   6,
		Side:        wire.Buy,
		Timestamp:   1664809355,
		TxHash:      mustHash(hashHex),
	}, first)

	second, err := rows.Next()
	require.NoError(t, err)
	require.Equal(t, wire.Sell, second.Side)
	require.Equal(t, uint64(101), second.BlockNumber)

	_, err = rows.Next()
	require.ErrorIs(t, err, io.EOF)

	require.Equal(t, "/api/eth/prices/"+pairHex+"/100/200", <-env.paths)
}

func TestHistoryPairCreated(t *testing.T) {
	env := historyTestSetup(t, map[string]string{
		"pair": "block_number,transaction_index,factory,pair,token0,token1,pair_index,timestamp,transaction_hash\n" +
			"10000835,5," + token2Hex + "," + pairHex + "," + tokenHex + "," + token2Hex + ",42,1590000000," + hashHex + "\n",
	})

	record, err := env.client.PairCreated(test.Context(t), testPair, Range{})
	require.NoError(t, err)
	require.Equal(t, &wire.PairCreated{
		BlockNumber: 10000835,
		TxIndex:     5,
		Factory:     mustAddr(token2Hex),
		Pair:        testPair,
		Token0:      mustAddr(tokenHex),
		Token1:      mustAddr(token2Hex),
		PairIndex:   42,
		Timestamp:   1590000000,
		TxHash:      mustHash(hashHex),
	}, record)

	require.Equal(t, "/api/eth/pair/"+pairHex, <-env.paths)
}

func TestHistoryPairCreatedAbsent(t *testing.T) {
	env := historyTestSetup(t, map[string]string{"pair": ""})

	record, err := env.client.PairCreated(test.Context(t), testPair, Range{})
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestHistoryReserves(t *testing.T) {
	env := historyTestSetup(t, map[string]string{
		"reserves": "block_number,transaction_index,pair,event,reserve0,reserve1,timestamp,transaction_hash\n" +
			"200,7," + pairHex + ",Sync,36893488147419103232,2000,1664809355," + hashHex + "\n",
	})

	rows, err := env.client.Reserves(test.Context(t), testPair, Range{From: block(200)})
	require.NoError(t, err)
	defer rows.Close()

	record, err := rows.Next()
	require.NoError(t, err)
	require.Equal(t, wire.Sync, record.Event)
	// 2^65 needs the high word
	require.Equal(t, wire.U128{Lo: 0, Hi: 2}, record.Reserve0)
	require.Equal(t, wire.U128{Lo: 2000}, record.Reserve1)
	// log_index column is absent from this response shape
	require.Equal(t, uint32(0), record.LogIndex)

	require.Equal(t, "/api/eth/reserves/"+pairHex+"/200", <-env.paths)
}

func TestHistoryMalformedRow(t *testing.T) {
	env := historyTestSetup(t, map[string]string{
		"prices": "block_number,transaction_index,pair,sender,receiver,price,volume0,volume1,decimals0,decimals1,side,timestamp,transaction_hash\n" +
			"100,1,nonsense," + tokenHex + "," + token2Hex + ",1,1,1,18,6,true,1664809355," + hashHex + "\n",
	})

	rows, err := env.client.Prices(test.Context(t), testPair, Range{})
	require.NoError(t, err)
	defer rows.Close()

	_, err = rows.Next()
	require.ErrorContains(t, err, "column pair")
}

func TestHistoryHeight(t *testing.T) {
	env := historyTestSetup(t, map[string]string{"height": "15678901"})

	height, err := env.client.Height(test.Context(t))
	require.NoError(t, err)
	require.Equal(t, uint64(15678901), height)
}

func TestHistoryBadStatus(t *testing.T) {
	env := historyTestSetup(t, map[string]string{})

	_, err := env.client.Prices(test.Context(t), testPair, Range{})
	require.ErrorContains(t, err, "history request failed")
}

func TestHistoryRangeInverted(t *testing.T) {
	env := historyTestSetup(t, map[string]string{})

	_, err := env.client.Prices(test.Context(t), testPair, Range{From: block(10), To: block(5)})
	var validationErr wire.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func block(n uint64) *uint64 {
	return &n
}

func mustHash(s string) wire.Hash {
	h, err := wire.ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}
