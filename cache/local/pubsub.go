package local

import (
	"context"
	"sync"
)

// Message is an in-process pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// subscription is one Subscribe call. A single buffered channel fans in
// every channel it listens on.
type subscription struct {
	ch   chan *Message
	stop chan struct{}
	once sync.Once
}

// LocalPubSub is an in-process fan-out pub/sub. Publish never blocks: a
// subscriber whose buffer is full misses the message.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	bufSize int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string]map[*subscription]struct{}),
		bufSize: bufSize,
	}
}

// Publish delivers message to every current subscriber of channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &Message{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for s := range ps.subs[channel] {
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe listens on channels until the returned cancel is called or ctx
// is done. cancel closes the message channel and may be called repeatedly.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	s := &subscription{ch: make(chan *Message, ps.bufSize), stop: make(chan struct{})}

	ps.mu.Lock()
	for _, c := range channels {
		if ps.subs[c] == nil {
			ps.subs[c] = make(map[*subscription]struct{})
		}
		ps.subs[c][s] = struct{}{}
	}
	ps.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			ps.mu.Lock()
			for _, c := range channels {
				delete(ps.subs[c], s)
				if len(ps.subs[c]) == 0 {
					delete(ps.subs, c)
				}
			}
			// Publish sends under the read lock, so close under the write lock.
			close(s.ch)
			ps.mu.Unlock()
			close(s.stop)
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-s.stop:
			}
		}()
	}
	return s.ch, cancel, nil
}
