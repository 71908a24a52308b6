// Command gateway-tail subscribes to one gateway event stream and prints
// every event to stdout as a JSON line. It exits 0 when the stream ends
// cleanly (the requested block range was fully delivered).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"github.com/spf13/pflag"

	"github.com/superchain/gateway/run"
	"github.com/superchain/gateway/stream"
	"github.com/superchain/gateway/wire"
)

// settings mirrors the YAML config file; command-line flags override it
type settings struct {
	URL       string   `yaml:"url"`
	Auth      string   `yaml:"auth"`
	Kind      string   `yaml:"kind"`
	Pairs     []string `yaml:"pairs"`
	FromBlock *uint64  `yaml:"from_block"`
	ToBlock   *uint64  `yaml:"to_block"`
	Buffer    int      `yaml:"buffer"`
}

func main() {
	configPath := pflag.String("config", "", "Path to YAML config file")
	url := pflag.String("url", "", "Gateway WebSocket URL")
	auth := pflag.String("auth", "", "Authorization header value")
	kind := pflag.String("kind", "", "Entity kind to tail (pair|price|reserves)")
	pairs := pflag.StringArray("pair", nil, "Pair (or factory) address to filter by (can be repeated). Default: all")
	fromBlock := pflag.Uint64("from-block", 0, "First block of the range. Default: genesis")
	toBlock := pflag.Uint64("to-block", 0, "Last block of the range. Default: follow the chain head")
	buffer := pflag.Int("buffer", 0, "Delivery buffer capacity, in events")
	pflag.Parse()

	var s settings
	if *configPath != "" {
		must.OK(yamlLoad(*configPath, &s))
	}
	if pflag.CommandLine.Changed("url") {
		s.URL = *url
	}
	if pflag.CommandLine.Changed("auth") {
		s.Auth = *auth
	}
	if pflag.CommandLine.Changed("kind") {
		s.Kind = *kind
	}
	if pflag.CommandLine.Changed("pair") {
		s.Pairs = *pairs
	}
	if pflag.CommandLine.Changed("from-block") {
		s.FromBlock = fromBlock
	}
	if pflag.CommandLine.Changed("to-block") {
		s.ToBlock = toBlock
	}
	if pflag.CommandLine.Changed("buffer") {
		s.Buffer = *buffer
	}

	run.Tool(func(ctx context.Context) error {
		return tail(ctx, s)
	})
}

func tail(ctx context.Context, s settings) error {
	if s.URL == "" {
		return fmt.Errorf("gateway URL is required (--url or config file)")
	}
	kind, err := parseKind(s.Kind)
	if err != nil {
		return err
	}
	filter := make(wire.Filter, 0, len(s.Pairs))
	for _, p := range s.Pairs {
		address, err := wire.ParseAddress(p)
		if err != nil {
			return err
		}
		filter = append(filter, address)
	}
	var header http.Header
	if s.Auth != "" {
		header = http.Header{"Authorization": []string{s.Auth}}
	}

	client := stream.New(stream.Config{
		URL:            s.URL,
		Header:         header,
		BufferCapacity: s.Buffer,
	})
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("client", parallel.Continue, client.Run)
		spawn("print", parallel.Exit, func(ctx context.Context) error {
			defer client.Close()
			sub, err := client.Subscribe(wire.Request{
				Kind:      kind,
				Filter:    filter,
				FromBlock: s.FromBlock,
				ToBlock:   s.ToBlock,
			})
			if err != nil {
				return err
			}
			out := json.NewEncoder(os.Stdout)
			for event := range sub.Events() {
				if err := out.Encode(event); err != nil {
					return err
				}
			}
			return sub.Err()
		})
		return nil
	})
}

func parseKind(s string) (wire.EntityKind, error) {
	switch s {
	case "pair", "pairs", "pairCreated":
		return wire.KindPairCreated, nil
	case "price", "prices":
		return wire.KindPrice, nil
	case "reserves":
		return wire.KindReserves, nil
	default:
		return 0, fmt.Errorf("unknown entity kind %q (expected pair, price or reserves)", s)
	}
}
