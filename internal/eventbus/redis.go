package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// maxStreamLen caps each stream so an idle consumer cannot grow it forever.
const maxStreamLen = 10000

// Dial connects to Redis and checks the connection.
func Dial(host string, port int) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Connected to Redis")
	return client, nil
}

// RedisEventBus writes engine events to Redis streams.
type RedisEventBus struct {
	client *redis.Client
}

func NewRedisEventBus(client *redis.Client) *RedisEventBus {
	return &RedisEventBus{client: client}
}

func (b *RedisEventBus) Publish(ctx context.Context, stream string, event types.Event) error {
	values, err := encodeEvent(event)
	if err != nil {
		return err
	}

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("stream", stream).
		Str("type", event.Type).
		Msg("Published event")

	return nil
}

// Recent returns up to n of the newest events on stream, newest first.
func (b *RedisEventBus) Recent(ctx context.Context, stream string, n int64) ([]types.Event, error) {
	msgs, err := b.client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]types.Event, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, decodeEvent(msg.Values))
	}
	return events, nil
}

func (b *RedisEventBus) Close() error {
	return b.client.Close()
}

func encodeEvent(event types.Event) (map[string]interface{}, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return map[string]interface{}{
		"id":        event.ID,
		"type":      event.Type,
		"source":    event.Source,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      string(data),
	}, nil
}

func decodeEvent(values map[string]interface{}) types.Event {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}

	event := types.Event{
		ID:     str("id"),
		Type:   str("type"),
		Source: str("source"),
	}
	if t, err := time.Parse(time.RFC3339Nano, str("timestamp")); err == nil {
		event.Timestamp = t
	}
	if raw := str("data"); raw != "" {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			event.Data = data
		}
	}
	return event
}
