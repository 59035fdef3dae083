package notification

import (
	"context"

	"ubipay/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// RedisStreamNotifier appends events to a Redis stream.
type RedisStreamNotifier struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamNotifier(client redis.Cmdable, stream string) *RedisStreamNotifier {
	return &RedisStreamNotifier{client: client, stream: stream, maxLen: 100000}
}

func (n *RedisStreamNotifier) Notify(ctx context.Context, event string, payload map[string]interface{}) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":  event,
			"event": data,
		},
	}
	if err := n.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Wrap(err, "failed to publish event")
	}
	return nil
}
