// Package relay copies decoded gateway events into Kafka for durable
// fan-out. Each entity kind goes to its own topic; messages are keyed by
// pair address so per-pair ordering survives partitioning.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ridge/must/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/superchain/gateway/retry"
	"github.com/superchain/gateway/tlog"
	"github.com/superchain/gateway/wire"
)

// maxBatch bounds how many buffered events are flushed in one write
const maxBatch = 256

var writeRetry = retry.FixedConfig{RetryAfter: time.Second, MaxAttempts: 10}

// Writer is the producer side of Kafka, satisfied by kafka.Writer
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Source is the subscription side of the relay, satisfied by
// stream.Subscription
type Source interface {
	Events() <-chan wire.Event
	Err() error
}

// Config describes one relay run
type Config struct {
	Writer Writer
	// TopicPrefix is prepended to the entity kind to form the topic name,
	// e.g. "md." produces md.price
	TopicPrefix string
}

// NewWriter creates a Kafka writer suitable for Config.Writer. Hash
// balancing keeps all messages of one pair in one partition.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
	}
}

// Run copies events from the source into Kafka until the source ends or
// the context closes. It returns nil on a clean end of stream and the
// source's verdict otherwise.
func Run(ctx context.Context, config Config, source Source) error {
	logger := tlog.Get(ctx).Named("relay")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-source.Events():
			if !ok {
				if err := source.Err(); err != nil {
					return fmt.Errorf("subscription failed: %w", err)
				}
				logger.Info("Subscription ended, relay finished.")
				return nil
			}
			batch := []kafka.Message{message(config.TopicPrefix, event)}
		drain: // flush whatever is already buffered in one write
			for len(batch) < maxBatch {
				select {
				case event, ok := <-source.Events():
					if !ok {
						break drain
					}
					batch = append(batch, message(config.TopicPrefix, event))
				default:
					break drain
				}
			}
			if err := write(ctx, config.Writer, batch); err != nil {
				return err
			}
			logger.Debug("Relayed events.", zap.Int("count", len(batch)))
		}
	}
}

func write(ctx context.Context, w Writer, batch []kafka.Message) error {
	return retry.Do(ctx, writeRetry, func() error {
		if err := w.WriteMessages(ctx, batch...); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.Retriable(fmt.Errorf("failed to write Kafka messages: %w", err))
		}
		return nil
	})
}

func message(prefix string, event wire.Event) kafka.Message {
	var pair wire.Address
	switch e := event.(type) {
	case *wire.PairCreated:
		pair = e.Pair
	case *wire.Price:
		pair = e.Pair
	case *wire.Reserves:
		pair = e.Pair
	}
	return kafka.Message{
		Topic: prefix + event.Kind().String(),
		Key:   []byte(pair.String()),
		Value: must.OK1(json.Marshal(event)),
	}
}
