package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/soltixdb/distro/internal/config"
)

// Supported publisher types
const (
	TypeNone   = "none"
	TypeMemory = "memory"
	TypeNATS   = "nats"
	TypeRedis  = "redis"
	TypeKafka  = "kafka"
)

// NewPublisher creates a Publisher based on configuration. An empty type
// means none.
func NewPublisher(cfg config.NotifyConfig) (Publisher, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return NopPublisher{}, nil

	case TypeMemory:
		return newMemoryPublisher(), nil

	case TypeNATS:
		return newNATSPublisher(NATSConfig{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
		})

	case TypeRedis:
		return newRedisPublisher(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
		})

	case TypeKafka:
		brokers := cfg.KafkaBrokers
		if len(brokers) == 0 && cfg.URL != "" {
			brokers = strings.Split(cfg.URL, ",")
		}
		return newKafkaPublisher(KafkaConfig{Brokers: brokers})

	default:
		return nil, fmt.Errorf("unsupported notify type: %s (supported: none, memory, nats, redis, kafka)", cfg.Type)
	}
}

// NopPublisher discards everything
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }
func (NopPublisher) Close() error                                  { return nil }
