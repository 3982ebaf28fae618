// Package cache abstracts the key/value, set and pub/sub operations that
// sessions and realtime notifications need, over Redis or an in-process
// implementation.
package cache

import (
	"context"
	"time"

	"github.com/kasuganosora/moviemaster/cache/local"
	cacheredis "github.com/kasuganosora/moviemaster/cache/redis"
	"github.com/kasuganosora/moviemaster/clock"
)

// Cache defines the KV and Set operations used for sessions.
type Cache interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Set
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations. The returned cancel
// closes the message channel.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KeyPrefix       string
	LocalGCInterval time.Duration
	LocalPubSubBuf  int
	// LocalClock drives LocalCache expiry; nil uses the wall clock.
	LocalClock clock.Clock
}

func (cfg CacheConfig) redis() cacheredis.Config {
	return cacheredis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.KeyPrefix,
	}
}

// NewCache returns a Cache backed by Redis if RedisAddr is set,
// otherwise an in-process LocalCache.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.Open(cfg.redis())
	}
	return local.NewCache(local.Config{
		GCInterval: cfg.LocalGCInterval,
		Clock:      cfg.LocalClock,
	})
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise an in-process LocalPubSub.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	if cfg.RedisAddr != "" {
		rc, err := cacheredis.Open(cfg.redis())
		if err != nil {
			return nil, err
		}
		return redisPubSub{rc}, nil
	}
	return localPubSub{local.NewPubSub(cfg.LocalPubSubBuf)}, nil
}

type localPubSub struct{ ps *local.LocalPubSub }

func (a localPubSub) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a localPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	return bridge(in, func(m *local.Message) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	}), cancel, nil
}

type redisPubSub struct{ c *cacheredis.Client }

func (a redisPubSub) Publish(ctx context.Context, channel, message string) error {
	return a.c.Publish(ctx, channel, message)
}

func (a redisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := a.c.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	return bridge(in, func(m *cacheredis.Message) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	}), cancel, nil
}

// bridge converts a backend message stream into cache.Message. The output
// closes when in closes.
func bridge[T any](in <-chan T, conv func(T) *Message) <-chan *Message {
	out := make(chan *Message, cap(in))
	go func() {
		defer close(out)
		for m := range in {
			out <- conv(m)
		}
	}()
	return out
}
