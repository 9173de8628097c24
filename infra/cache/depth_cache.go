// Package cache keeps the latest depth of every book in redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"shardmatch/report"
)

const DefaultTTL = time.Hour

var ErrMiss = errors.New("depth not cached")

type Config struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

func (c Config) Enabled() bool { return c.Addr != "" }

// client is the subset of redis commands the cache uses.
type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type DepthCache struct {
	client client
	ttl    time.Duration
	prefix string
}

func New(cfg Config) *DepthCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newDepthCache(rdb, cfg)
}

func newDepthCache(c client, cfg Config) *DepthCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "depth:"
	}
	return &DepthCache{client: c, ttl: cfg.TTL, prefix: cfg.KeyPrefix}
}

func (c *DepthCache) key(instrument string) string { return c.prefix + instrument }

func (c *DepthCache) Ping(ctx context.Context) error {
	return errors.Wrap(c.client.Ping(ctx).Err(), "redis ping")
}

func (c *DepthCache) Store(ctx context.Context, d report.Depth) error {
	b, err := json.Marshal(d)
	if err != nil {
		return errors.Wrapf(err, "encode depth %s", d.Instrument)
	}
	return errors.Wrapf(c.client.Set(ctx, c.key(d.Instrument), b, c.ttl).Err(), "store depth %s", d.Instrument)
}

// StoreAll stores every depth and reports the first failure.
func (c *DepthCache) StoreAll(ctx context.Context, depths []report.Depth) error {
	for _, d := range depths {
		if err := c.Store(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (c *DepthCache) Load(ctx context.Context, instrument string) (report.Depth, error) {
	var d report.Depth
	b, err := c.client.Get(ctx, c.key(instrument)).Bytes()
	if errors.Is(err, redis.Nil) {
		return d, errors.Wrapf(ErrMiss, "%s", instrument)
	}
	if err != nil {
		return d, errors.Wrapf(err, "load depth %s", instrument)
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, errors.Wrapf(err, "decode depth %s", instrument)
	}
	return d, nil
}

func (c *DepthCache) Invalidate(ctx context.Context, instrument string) error {
	return errors.Wrapf(c.client.Del(ctx, c.key(instrument)).Err(), "invalidate %s", instrument)
}

func (c *DepthCache) Close() error {
	return c.client.Close()
}
