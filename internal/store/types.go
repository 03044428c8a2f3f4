// Package store provides the coordination store client: a thin
// wrapper over an external key-value + pub/sub store used for both
// cross-process messaging and durable state snapshots. Every other
// subsystem depends on this contract (spec component A).
package store

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTTL is applied to ephemeral state (agents, allocations,
// health snapshots) when callers don't specify one.
const DefaultTTL = time.Hour

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live pub/sub subscription. Callers range over
// Channel() until Close() is called or the context passed to
// Subscribe is cancelled.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Client is the coordination store contract every other component
// depends on. Implementations: Redis-backed (production) and an
// in-memory fake (tests).
type Client interface {
	// Get returns the raw string value and whether the key existed.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetWithTTL stores value under key with the given TTL. ttl<=0
	// means no expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	HashSet(ctx context.Context, key string, fields map[string]string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashDelete(ctx context.Context, key string) error

	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ListPush/ListPop/ListLength are FIFO list primitives. The Fleet
	// Coordinator keeps its task queue in memory and does not use them;
	// it writes only the queue's length to fleet:tasks:queue as a plain
	// value.
	ListPush(ctx context.Context, key, value string) error
	ListPop(ctx context.Context, key string) (string, bool, error)
	ListLength(ctx context.Context, key string) (int64, error)

	// Incr/Decr back simple counters (fleet:tasks:active).
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)

	// Publish broadcasts payload on channel. Connection failures are
	// logged and swallowed by the implementation, never returned as a
	// fatal error to the caller.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe opens a subscription to an exact channel name or, if
	// pattern is true, a glob pattern (as accepted by the backend).
	Subscribe(ctx context.Context, channelOrPattern string, pattern bool) (Subscription, error)

	Close() error
}

// Encode JSON-encodes v. All values the store holds are JSON-encoded;
// nested structures round-trip through this helper everywhere.
func Encode(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode JSON-decodes data into v.
func Decode(data string, v interface{}) error {
	return json.Unmarshal([]byte(data), v)
}
