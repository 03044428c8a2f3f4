package store

import (
	"context"
	"path/filepath"
	"sync"
	"time"
)

// MemoryClient is an in-memory Client implementation used by tests and
// by components exercising the coordination-store contract without a
// live Redis instance. Structure is guarded maps with per-entry
// expiry.
type MemoryClient struct {
	mu      sync.Mutex
	strings map[string]memEntry
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	counts  map[string]int64

	subsMu sync.Mutex
	subs   []*memSubscription
}

type memEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewMemoryClient constructs an empty in-memory store.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		strings: make(map[string]memEntry),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][]string),
		counts:  make(map[string]int64),
	}
}

func (c *MemoryClient) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.strings[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(c.strings, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryClient) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.strings[key] = memEntry{value: value, expires: exp}
	return nil
}

func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.strings, key)
	delete(c.hashes, key)
	delete(c.sets, key)
	delete(c.lists, key)
	delete(c.counts, key)
	return nil
}

func (c *MemoryClient) HashSet(ctx context.Context, key string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string]string)
		c.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (c *MemoryClient) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	cp := make(map[string]string, len(h))
	for k, v := range h {
		cp[k] = v
	}
	return cp, nil
}

func (c *MemoryClient) HashDelete(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

func (c *MemoryClient) SetAdd(ctx context.Context, key, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sets[key]
	if !ok {
		s = make(map[string]struct{})
		c.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (c *MemoryClient) SetRemove(ctx context.Context, key, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sets[key]; ok {
		delete(s, member)
	}
	return nil
}

func (c *MemoryClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	return out, nil
}

func (c *MemoryClient) ListPush(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[key] = append(c.lists[key], value)
	return nil
}

func (c *MemoryClient) ListPop(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	v := l[0]
	c.lists[key] = l[1:]
	return v, true, nil
}

func (c *MemoryClient) ListLength(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.lists[key])), nil
}

func (c *MemoryClient) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *MemoryClient) Decr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]--
	return c.counts[key], nil
}

func (c *MemoryClient) Publish(ctx context.Context, channel string, payload []byte) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, s := range c.subs {
		match := channel == s.target
		if s.isPattern {
			match, _ = filepath.Match(s.target, channel)
		}
		if match {
			select {
			case s.out <- Message{Channel: channel, Payload: payload}:
			default:
			}
		}
	}
	return nil
}

func (c *MemoryClient) Subscribe(ctx context.Context, channelOrPattern string, pattern bool) (Subscription, error) {
	sub := &memSubscription{
		target:    channelOrPattern,
		isPattern: pattern,
		out:       make(chan Message, 64),
		client:    c,
	}
	c.subsMu.Lock()
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()
	return sub, nil
}

func (c *MemoryClient) Close() error { return nil }

type memSubscription struct {
	target    string
	isPattern bool
	out       chan Message
	client    *MemoryClient
	closeOnce sync.Once
}

func (s *memSubscription) Channel() <-chan Message { return s.out }

func (s *memSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.client.subsMu.Lock()
		defer s.client.subsMu.Unlock()
		for i, other := range s.client.subs {
			if other == s {
				s.client.subs = append(s.client.subs[:i], s.client.subs[i+1:]...)
				break
			}
		}
		close(s.out)
	})
	return nil
}
