package queue

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// MemoryOptions tunes a MemoryChannel.
type MemoryOptions struct {
	// Partitions per topic. Keys are hashed onto partitions.
	Partitions int
	// Buffer is the capacity of each partition; Publish blocks when full.
	Buffer int
	// MaxAttempts bounds deliveries of one message before it is dropped.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between redeliveries.
	RetryBackoff time.Duration
}

func (o MemoryOptions) withDefaults() MemoryOptions {
	if o.Partitions <= 0 {
		o.Partitions = 8
	}
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	return o
}

// MemoryChannel is an in-process Channel. Each topic has a fixed set of FIFO
// partitions; by default every subscriber runs one consumer per partition and
// retries a failing message in place, so order per key is kept.
type MemoryChannel struct {
	opts MemoryOptions

	mu     sync.Mutex
	topics map[string][]chan Message

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	published   atomic.Int64
	delivered   atomic.Int64
	redelivered atomic.Int64
	dropped     atomic.Int64
}

// NewMemoryChannel creates a MemoryChannel.
func NewMemoryChannel(opts MemoryOptions) *MemoryChannel {
	return &MemoryChannel{
		opts:   opts.withDefaults(),
		topics: make(map[string][]chan Message),
		done:   make(chan struct{}),
	}
}

func (c *MemoryChannel) partitions(topic string) []chan Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts, ok := c.topics[topic]
	if !ok {
		parts = make([]chan Message, c.opts.Partitions)
		for i := range parts {
			parts[i] = make(chan Message, c.opts.Buffer)
		}
		c.topics[topic] = parts
	}
	return parts
}

func partitionFor(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Publish appends body to the partition of key.
func (c *MemoryChannel) Publish(ctx context.Context, topic, key string, body []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	parts := c.partitions(topic)
	msg := Message{
		Topic:       topic,
		Key:         key,
		Body:        append([]byte(nil), body...),
		PublishedAt: time.Now(),
	}
	select {
	case parts[partitionFor(key, len(parts))] <- msg:
		c.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Subscribe starts consumer goroutines on every partition of topic, one per
// partition unless WithConcurrency asks for more. Several subscribers on one
// topic compete for messages.
func (c *MemoryChannel) Subscribe(ctx context.Context, topic string, h Handler, opts ...SubscribeOption) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	cfg := newSubscribeConfig(opts)
	for _, part := range c.partitions(topic) {
		for i := 0; i < cfg.concurrency; i++ {
			c.wg.Add(1)
			go c.consume(ctx, part, h)
		}
	}
	return nil
}

func (c *MemoryChannel) consume(ctx context.Context, part <-chan Message, h Handler) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-part:
			c.deliver(ctx, msg, h)
		}
	}
}

func (c *MemoryChannel) deliver(ctx context.Context, msg Message, h Handler) {
	for attempt := 1; ; attempt++ {
		msg.Attempt = attempt
		err := h(ctx, msg)
		if err == nil {
			c.delivered.Add(1)
			return
		}
		if attempt >= c.opts.MaxAttempts {
			c.dropped.Add(1)
			logger.Error("message dropped after retries", "topic", msg.Topic, "key", msg.Key,
				"attempts", attempt, "error", err)
			return
		}
		c.redelivered.Add(1)

		t := time.NewTimer(c.opts.RetryBackoff * time.Duration(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		case <-c.done:
			t.Stop()
			return
		}
	}
}

// Close stops all consumers and waits for in-flight handlers to return.
// Undelivered messages are discarded.
func (c *MemoryChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}

// MemoryStats reports channel throughput.
type MemoryStats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Redelivered int64 `json:"redelivered"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns counters since creation.
func (c *MemoryChannel) Stats() MemoryStats {
	return MemoryStats{
		Published:   c.published.Load(),
		Delivered:   c.delivered.Load(),
		Redelivered: c.redelivered.Load(),
		Dropped:     c.dropped.Load(),
	}
}
