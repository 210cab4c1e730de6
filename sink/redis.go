package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"pgoutput-consumer/pgoutput"
	"pgoutput-consumer/repl"
)

// RedisSink appends envelopes to a Redis list so downstream consumers can
// replay the change feed in stream order.
type RedisSink struct {
	client  *redis.Client
	key     string
	encoder Encoder
}

// NewRedisSink creates a RedisSink pushing msgpack envelopes to key. The
// caller owns the client lifecycle.
func NewRedisSink(client *redis.Client, key string) *RedisSink {
	return &RedisSink{
		client:  client,
		key:     key,
		encoder: MsgpackEncoder(),
	}
}

// Handle implements repl.Handler.
func (s *RedisSink) Handle(ctx context.Context, raw repl.RawMessage, msg pgoutput.Message) error {
	data, err := s.encoder(NewEnvelope(raw, msg))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", s.key, err)
	}
	return nil
}
