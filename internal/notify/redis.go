package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisStream = "distro"
	defaultRedisMaxLen = 100000
	redisDialTimeout   = 5 * time.Second
)

// RedisConfig configures the Redis Streams publisher.
// URL accepts either redis://host:port/db or a bare host:port.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	Stream   string // stream prefix
	MaxLen   int64  // approximate per-stream cap
}

// RedisPublisher appends change events to one Redis stream per subject
type RedisPublisher struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// redisOptions falls back to treating URL as an address when it does not parse.
// Password and DB only override the URL when set.
func redisOptions(cfg RedisConfig) *redis.Options {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	return opts
}

func newRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(redisOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.URL, err)
	}

	p := &RedisPublisher{client: client, prefix: cfg.Stream, maxLen: cfg.MaxLen}
	if p.prefix == "" {
		p.prefix = defaultRedisStream
	}
	if p.maxLen <= 0 {
		p.maxLen = defaultRedisMaxLen
	}
	return p, nil
}

func (p *RedisPublisher) streamName(subject string) string {
	return p.prefix + ":" + subject
}

// Publish appends data under the "data" field of the subject's stream
func (p *RedisPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	stream := p.streamName(subject)
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
