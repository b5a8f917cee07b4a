package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/common"
	"github.com/ternarybob/memoro/internal/interfaces"
)

// subscription pairs a handler with a delivery mutex. The mutex serializes
// invocations per (topic, subscriber).
type subscription struct {
	id      string
	handler interfaces.MessageHandler
	mu      sync.Mutex
}

// Bus implements MessageBus with an in-process subscriber table
type Bus struct {
	subscribers map[interfaces.MessageType][]*subscription
	mu          sync.RWMutex
	logger      arbor.ILogger
	closed      bool
}

// NewBus creates a new message bus
func NewBus(logger arbor.ILogger) *Bus {
	return &Bus{
		subscribers: make(map[interfaces.MessageType][]*subscription),
		logger:      logger,
	}
}

// Subscribe registers a handler for a topic and returns an idempotent
// unsubscribe function
func (b *Bus) Subscribe(topic interfaces.MessageType, handler interfaces.MessageHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	sub := &subscription{
		id:      common.NewMessageID(),
		handler: handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	b.subscribers[topic] = append(b.subscribers[topic], sub)

	b.logger.Debug().
		Str("topic", string(topic)).
		Int("subscriber_count", len(b.subscribers[topic])).
		Msg("Message handler subscribed")

	return func() { b.removeSubscription(topic, sub.id) }, nil
}

func (b *Bus) removeSubscription(topic interfaces.MessageType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			b.logger.Debug().
				Str("topic", string(topic)).
				Msg("Message handler unsubscribed")
			return
		}
	}
}

// Send dispatches a message. Non-broadcast sends deliver to the first
// subscriber in subscription order; broadcast sends deliver to all
// subscribers concurrently and return once every handler has resolved.
func (b *Bus) Send(ctx context.Context, msg interfaces.Message) *interfaces.Response {
	if msg.ID == "" {
		msg.ID = common.NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*subscription, len(b.subscribers[msg.Type]))
	copy(subs, b.subscribers[msg.Type])
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug().
			Str("topic", string(msg.Type)).
			Msg("No subscribers for message")
		return &interfaces.Response{Success: true, Noop: true}
	}

	if msg.Broadcast {
		return b.broadcast(ctx, msg, subs)
	}

	resp, err := b.deliver(ctx, subs[0], msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("topic", string(msg.Type)).
			Str("message_id", msg.ID).
			Msg("Message handler failed")
		return &interfaces.Response{Success: false, Error: err.Error()}
	}
	if resp == nil {
		return &interfaces.Response{Success: true}
	}
	return resp
}

// broadcast fans out to all subscribers and waits for every handler to
// resolve. Startup ordering relies on the await-all semantics.
func (b *Bus) broadcast(ctx context.Context, msg interfaces.Message, subs []*subscription) *interfaces.Response {
	b.logger.Debug().
		Str("topic", string(msg.Type)).
		Int("subscriber_count", len(subs)).
		Msg("Broadcasting message")

	var wg sync.WaitGroup
	errChan := make(chan error, len(subs))

	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			if _, err := b.deliver(ctx, s, msg); err != nil {
				b.logger.Error().
					Err(err).
					Str("topic", string(msg.Type)).
					Str("message_id", msg.ID).
					Msg("Broadcast handler failed")
				errChan <- err
			}
		}(sub)
	}

	wg.Wait()
	close(errChan)

	var errs []string
	for err := range errChan {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return &interfaces.Response{
			Success: false,
			Error:   fmt.Sprintf("%d of %d handlers failed: %s", len(errs), len(subs), strings.Join(errs, "; ")),
		}
	}

	return &interfaces.Response{Success: true}
}

// deliver invokes one handler under its delivery mutex, converting panics to
// errors so a misbehaving subscriber cannot crash the bus
func (b *Bus) deliver(ctx context.Context, sub *subscription, msg interfaces.Message) (resp *interfaces.Response, err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return sub.handler(ctx, msg)
}

// Close drops all subscriptions
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = make(map[interfaces.MessageType][]*subscription)
	b.closed = true
	b.logger.Info().Msg("Message bus closed")

	return nil
}
