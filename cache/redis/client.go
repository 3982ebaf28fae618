package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds Redis connection settings. Prefix namespaces every key and
// channel so several deployments can share one Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Client serves both the Cache and the PubSub interfaces over one
// connection pool.
type Client struct {
	rdb    *goredis.Client
	prefix string
}

// Open connects and pings Redis.
func Open(cfg Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Client{rdb: rdb, prefix: cfg.Prefix}, nil
}

// Close releases the connection pool.
func (r *Client) Close() error { return r.rdb.Close() }

func (r *Client) key(k string) string { return r.prefix + k }

func (r *Client) keys(ks []string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = r.prefix + k
	}
	return out
}

// ---- KV ----

func (r *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, r.keys(keys)...).Err()
}

func (r *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(key)).Result()
	return n > 0, err
}

func (r *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, r.key(key), value, ttl).Result()
}

// Expire sets the time to live of key. A missing key is not an error.
func (r *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, r.key(key), ttl).Err()
}

// ---- Set ----

func members(ms []string) []interface{} {
	args := make([]interface{}, len(ms))
	for i, m := range ms {
		args[i] = m
	}
	return args
}

func (r *Client) SAdd(ctx context.Context, key string, ms ...string) error {
	return r.rdb.SAdd(ctx, r.key(key), members(ms)...).Err()
}

func (r *Client) SRem(ctx context.Context, key string, ms ...string) error {
	if len(ms) == 0 {
		return nil
	}
	return r.rdb.SRem(ctx, r.key(key), members(ms)...).Err()
}

func (r *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.rdb.SMembers(ctx, r.key(key)).Result()
}

// ---- PubSub ----

// Message is a pub/sub message with the prefix stripped from Channel.
type Message struct {
	Channel string
	Payload string
}

func (r *Client) Publish(ctx context.Context, channel, message string) error {
	return r.rdb.Publish(ctx, r.key(channel), message).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so a message
// published after Subscribe returns is delivered.
func (r *Client) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	ps := r.rdb.Subscribe(ctx, r.keys(channels)...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	ch := make(chan *Message, 256)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			m := &Message{Channel: strings.TrimPrefix(msg.Channel, r.prefix), Payload: msg.Payload}
			select {
			case ch <- m:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return ch, cancel, nil
}
