package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Config configures the Redis-backed coordination store client.
// Field shape and defaults mirror the pool/timeout knobs used to wire
// Redis in the pack's distributed-inference manager.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisClient implements Client over a pooled go-redis connection.
type RedisClient struct {
	rdb    *redis.Client
	logger *log.Logger
}

// NewRedisClient dials Redis and verifies connectivity with a ping.
// A failed ping is a fatal KindStoreUnavailable condition at
// initialization time.
func NewRedisClient(cfg Config, logger *log.Logger) (*RedisClient, error) {
	if logger == nil {
		logger = log.New()
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = 5
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("coordination store unreachable at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.WithFields(log.Fields{
		"host": cfg.Host,
		"port": cfg.Port,
		"db":   cfg.DB,
	}).Info("Coordination store connected")

	return &RedisClient{rdb: rdb, logger: logger}, nil
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store get %q: %w", key, err)
	}
	return v, true, nil
}

func (c *RedisClient) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store set %q: %w", key, err)
	}
	return nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store delete %q: %w", key, err)
	}
	return nil
}

func (c *RedisClient) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := c.rdb.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("store hset %q: %w", key, err)
	}
	return nil
}

func (c *RedisClient) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store hgetall %q: %w", key, err)
	}
	return m, nil
}

func (c *RedisClient) HashDelete(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

func (c *RedisClient) SetAdd(ctx context.Context, key, member string) error {
	if err := c.rdb.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("store sadd %q: %w", key, err)
	}
	return nil
}

func (c *RedisClient) SetRemove(ctx context.Context, key, member string) error {
	if err := c.rdb.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("store srem %q: %w", key, err)
	}
	return nil
}

func (c *RedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store smembers %q: %w", key, err)
	}
	return members, nil
}

func (c *RedisClient) ListPush(ctx context.Context, key, value string) error {
	if err := c.rdb.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("store rpush %q: %w", key, err)
	}
	return nil
}

func (c *RedisClient) ListPop(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store lpop %q: %w", key, err)
	}
	return v, true, nil
}

func (c *RedisClient) ListLength(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store llen %q: %w", key, err)
	}
	return n, nil
}

func (c *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store incr %q: %w", key, err)
	}
	return n, nil
}

func (c *RedisClient) Decr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store decr %q: %w", key, err)
	}
	return n, nil
}

// Publish broadcasts on channel. Failures are logged and swallowed,
// never propagated — a dropped coordination event is never worth
// failing the caller's own operation over.
func (c *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.WithError(err).WithField("channel", channel).Warn("Publish failed, dropping message")
	}
	return nil
}

func (c *RedisClient) Subscribe(ctx context.Context, channelOrPattern string, pattern bool) (Subscription, error) {
	var ps *redis.PubSub
	if pattern {
		ps = c.rdb.PSubscribe(ctx, channelOrPattern)
	} else {
		ps = c.rdb.Subscribe(ctx, channelOrPattern)
	}

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("store subscribe %q: %w", channelOrPattern, err)
	}

	sub := &redisSubscription{ps: ps, out: make(chan Message, 64)}
	go sub.pump()
	return sub, nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Message
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	ch := s.ps.Channel()
	for msg := range ch {
		s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Channel() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
