// Package queue is the delivery channel: an append-only, at-least-once
// message transport between producers and consumers. Redelivery is signalled
// by a handler returning an error, so handlers must tolerate seeing the same
// message more than once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned when publishing to or subscribing on a closed channel.
var ErrClosed = errors.New("queue: channel closed")

// Message is one delivery of a published body.
type Message struct {
	Topic       string
	Key         string
	Body        []byte
	Attempt     int
	PublishedAt time.Time
}

// Handler processes a message. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Publisher is the producer side of a Channel.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
}

// Channel is an at-least-once transport. Messages that share a key are
// delivered in publish order to a single subscriber unless the subscription
// runs handlers concurrently.
type Channel interface {
	Publisher
	// Subscribe starts consuming topic in the background until ctx ends or
	// the channel is closed.
	Subscribe(ctx context.Context, topic string, h Handler, opts ...SubscribeOption) error
	Close() error
}

type subscribeConfig struct {
	concurrency int
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeConfig)

// WithConcurrency lets up to n handlers run at once on each partition of a
// subscription. With n above 1, messages that share a key may be handled
// out of order.
func WithConcurrency(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func newSubscribeConfig(opts []SubscribeOption) subscribeConfig {
	cfg := subscribeConfig{concurrency: 1}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// PublishJSON encodes v and publishes it.
func PublishJSON(ctx context.Context, p Publisher, topic, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, body)
}

// DecodeJSON decodes a message body into v.
func DecodeJSON(msg Message, v any) error {
	if err := json.Unmarshal(msg.Body, v); err != nil {
		return fmt.Errorf("decode %s message: %w", msg.Topic, err)
	}
	return nil
}
