package bus

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aosanya/fleetctl/internal/store"
)

// Handler processes one decoded Envelope delivered on a subscription.
type Handler func(Envelope)

// Bus is the pub/sub coordination bus every subsystem shares. It is a
// thin typed layer over the coordination store client's
// publish/subscribe primitive, scoped to one swarm.
type Bus struct {
	swarmID  string
	senderID string
	client   store.Client
	logger   *log.Logger

	mu   sync.Mutex
	subs []store.Subscription
	wg   sync.WaitGroup
}

// New builds a Bus bound to swarmID, publishing with senderID as the
// envelope's SenderID.
func New(client store.Client, swarmID, senderID string, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New()
	}
	return &Bus{swarmID: swarmID, senderID: senderID, client: client, logger: logger}
}

// SenderID returns the identity this Bus stamps on outgoing envelopes.
func (b *Bus) SenderID() string {
	return b.senderID
}

// Publish encodes and publishes an event on the given channel (e.g.
// bus.ChannelFleet), scoped to this Bus's swarm.
func (b *Bus) Publish(ctx context.Context, channel string, eventType EventType, data map[string]interface{}) error {
	env := NewEnvelope(eventType, b.swarmID, b.senderID, data)
	payload, err := store.Encode(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, Name(b.swarmID, channel), []byte(payload))
}

// Subscribe opens a subscription on channel and dispatches every
// decoded Envelope to handler on its own goroutine until ctx is
// cancelled or Close is called. Decode failures are logged and
// skipped, matching the store's log-and-swallow policy for transport
// issues.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	sub, err := b.client.Subscribe(ctx, Name(b.swarmID, channel), false)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var env Envelope
				if err := store.Decode(string(msg.Payload), &env); err != nil {
					b.logger.WithError(err).Warn("Dropping undecodable bus message")
					continue
				}
				handler(env)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// SubscribePattern is like Subscribe but channel is a glob pattern
// (e.g. "*" to observe every channel for this swarm).
func (b *Bus) SubscribePattern(ctx context.Context, pattern string, handler Handler) error {
	sub, err := b.client.Subscribe(ctx, Name(b.swarmID, pattern), true)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var env Envelope
				if err := store.Decode(string(msg.Payload), &env); err != nil {
					b.logger.WithError(err).Warn("Dropping undecodable bus message")
					continue
				}
				handler(env)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Request performs a correlated request/response exchange over the
// given channel.
func (b *Bus) Request(ctx context.Context, channel string, data map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	return store.Request(ctx, b.client, Name(b.swarmID, channel), data, timeout)
}

// Close tears down every subscription opened through this Bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	b.wg.Wait()
	return nil
}
