package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInterrupt signals that a handler vetoes the action being hooked.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn handles one event. It may replace data for the handlers after it.
// Returning ErrInterrupt (or an error wrapping it) stops the chain.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	seq      int
	name     string
	fn       HookFn
}

// HookCenter dispatches events to registered handlers. Safe for concurrent use.
type HookCenter struct {
	mu    sync.RWMutex
	seq   int
	hooks map[string][]*hookEntry
}

// NewHookCenter creates an empty HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds fn for event. Lower priority runs first; equal priorities
// run in registration order. name identifies the handler for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.seq++
	entries := append(hc.hooks[event], &hookEntry{priority: priority, seq: hc.seq, name: name, fn: fn})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	hc.hooks[event] = entries
}

// Unregister removes the handlers named name from event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes the handlers named name from every event.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

func without(entries []*hookEntry, name string) []*hookEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	return kept
}

// Trigger runs the handlers for event in order, threading data through
// them. Errors other than ErrInterrupt are ignored so an observer cannot
// break the action it observes.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	for _, e := range entries {
		out, err := e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err == nil {
			data = out
		}
	}
	return data, nil
}

// Relationship events. Before* hooks may veto by returning ErrInterrupt;
// On* hooks observe a change that already happened.
const (
	BeforeFriendRequest = "before_friend_request"
	OnFriendRequest     = "on_friend_request"
	OnFriendRespond     = "on_friend_respond"
	OnFriendRemove      = "on_friend_remove"
	OnFriendExpire      = "on_friend_expire"
)
