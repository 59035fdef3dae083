package notification

import (
	"fmt"

	"ubipay/pkg/config"
	"ubipay/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// New builds the sink selected by cfg.Sink. redisClient is required for the
// redis sink only.
func New(cfg config.NotificationConfig, redisClient redis.Cmdable, log logger.Logger) (Notifier, error) {
	switch cfg.Sink {
	case "", "log":
		return NewLogNotifier(log), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis notification sink requires a redis client")
		}
		return NewRedisStreamNotifier(redisClient, cfg.RedisStream), nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka notification sink requires KAFKA_BROKERS")
		}
		return NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, log), nil
	default:
		return nil, fmt.Errorf("unknown notification sink %q", cfg.Sink)
	}
}
