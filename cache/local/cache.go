package local

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kasuganosora/moviemaster/clock"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds LocalCache settings. A nil Clock uses the wall clock.
type Config struct {
	GCInterval time.Duration
	Clock      clock.Clock
}

// expiry is a deadline; the zero value never expires.
type expiry time.Time

func (e expiry) passed(now time.Time) bool {
	t := time.Time(e)
	return !t.IsZero() && !now.Before(t)
}

func deadline(now time.Time, ttl time.Duration) expiry {
	if ttl <= 0 {
		return expiry{}
	}
	return expiry(now.Add(ttl))
}

type entry struct {
	data     string
	expireAt expiry
}

type set struct {
	members  map[string]struct{}
	expireAt expiry
}

// LocalCache is an in-process Cache used when no Redis address is
// configured and in tests. One mutex guards everything; session traffic is
// small enough that contention does not matter.
type LocalCache struct {
	mu    sync.Mutex
	kv    map[string]*entry
	sets  map[string]*set
	clock clock.Clock

	gcInterval time.Duration
	stopGC     chan struct{}
	stopOnce   sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	c := &LocalCache{
		kv:         make(map[string]*entry),
		sets:       make(map[string]*set),
		clock:      clk,
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() {
	c.stopOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopGC:
			return
		}
	}
}

func (c *LocalCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for k, e := range c.kv {
		if e.expireAt.passed(now) {
			delete(c.kv, k)
		}
	}
	for k, s := range c.sets {
		if s.expireAt.passed(now) || len(s.members) == 0 {
			delete(c.sets, k)
		}
	}
}

// live returns the entry for key, dropping it if expired. Caller holds mu.
func (c *LocalCache) live(key string) *entry {
	e, ok := c.kv[key]
	if !ok {
		return nil
	}
	if e.expireAt.passed(c.clock.Now()) {
		delete(c.kv, key)
		return nil
	}
	return e
}

// liveSet is live for sets. Caller holds mu.
func (c *LocalCache) liveSet(key string) *set {
	s, ok := c.sets[key]
	if !ok {
		return nil
	}
	if s.expireAt.passed(c.clock.Now()) {
		delete(c.sets, key)
		return nil
	}
	return s
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		return "", ErrNotFound
	}
	return e.data, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = &entry{data: value, expireAt: deadline(c.clock.Now(), ttl)}
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.kv, k)
		delete(c.sets, k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live(key) != nil || c.liveSet(key) != nil, nil
}

func (c *LocalCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live(key) != nil {
		return false, nil
	}
	c.kv[key] = &entry{data: value, expireAt: deadline(c.clock.Now(), ttl)}
	return true, nil
}

// Expire sets the time to live of a key or set. A missing key is ignored.
func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := deadline(c.clock.Now(), ttl)
	if e := c.live(key); e != nil {
		e.expireAt = d
	}
	if s := c.liveSet(key); s != nil {
		s.expireAt = d
	}
	return nil
}

// ---- Set ----

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.liveSet(key)
	if s == nil {
		s = &set{members: make(map[string]struct{}, len(members))}
		c.sets[key] = s
	}
	for _, m := range members {
		s.members[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.liveSet(key)
	if s == nil {
		return nil
	}
	for _, m := range members {
		delete(s.members, m)
	}
	if len(s.members) == 0 {
		delete(c.sets, key)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.liveSet(key)
	if s == nil {
		return []string{}, nil
	}
	result := make([]string, 0, len(s.members))
	for m := range s.members {
		result = append(result, m)
	}
	return result, nil
}
