package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/moviemaster/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_LocalWhenNoRedis(t *testing.T) {
	c, err := NewCache(CacheConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestNewPubSub_LocalAdapter(t *testing.T) {
	ps, err := NewPubSub(CacheConfig{LocalPubSubBuf: 4})
	require.NoError(t, err)

	ctx := context.Background()
	ch, cancel, err := ps.Subscribe(ctx, "social:1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "social:1", `{"type":"friend_request"}`))
	select {
	case msg := <-ch:
		assert.Equal(t, "social:1", msg.Channel)
		assert.JSONEq(t, `{"type":"friend_request"}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNewCache_LocalClock(t *testing.T) {
	clk := clock.Fake(time.Now())
	c, err := NewCache(CacheConfig{LocalClock: clk})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "session:t", "1", time.Minute))
	clk.Advance(time.Minute)
	ok, err := c.Exists(ctx, "session:t")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewPubSub_CancelClosesBridge(t *testing.T) {
	ps, err := NewPubSub(CacheConfig{})
	require.NoError(t, err)

	ch, cancel, err := ps.Subscribe(context.Background(), "social:1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("bridge channel not closed")
	}
}
