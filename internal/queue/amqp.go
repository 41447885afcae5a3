package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

const partitionKeyHeader = "x-partition-key"

// AMQPChannel is a Channel on a RabbitMQ broker. Each topic is a durable
// queue on the default exchange; deliveries are acknowledged manually and a
// handler error requeues the message.
type AMQPChannel struct {
	conn     *amqp.Connection
	prefetch int

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// DialAMQP connects to url. prefetch bounds unacknowledged deliveries per
// subscriber.
func DialAMQP(url string, prefetch int) (*AMQPChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 32
	}
	return &AMQPChannel{
		conn:     conn,
		prefetch: prefetch,
		pub:      pub,
		declared: make(map[string]bool),
	}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return nil
}

// Publish sends a persistent message to the topic queue.
func (c *AMQPChannel) Publish(ctx context.Context, topic, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.declared[topic] {
		if err := declare(c.pub, topic); err != nil {
			return err
		}
		c.declared[topic] = true
	}
	err := c.pub.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{partitionKeyHeader: key},
		Body:         body,
	})
	if err == amqp.ErrClosed {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a dedicated broker channel and consumes topic on it. With
// WithConcurrency, up to that many deliveries are handled at once, capped at
// the prefetch count; each is acked or requeued when its handler returns.
func (c *AMQPChannel) Subscribe(ctx context.Context, topic string, h Handler, opts ...SubscribeOption) error {
	workers := min(newSubscribeConfig(opts).concurrency, c.prefetch)

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		ch.Close()
		return err
	}
	deliveries, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", topic, err)
	}

	var running sync.WaitGroup
	for i := 0; i < workers; i++ {
		running.Add(1)
		go func() {
			defer running.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.handle(ctx, topic, d, h)
				}
			}
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		running.Wait()
		ch.Close()
	}()
	return nil
}

func (c *AMQPChannel) handle(ctx context.Context, topic string, d amqp.Delivery, h Handler) {
	key, _ := d.Headers[partitionKeyHeader].(string)
	attempt := 1
	if d.Redelivered {
		attempt = 2
	}
	msg := Message{Topic: topic, Key: key, Body: d.Body, Attempt: attempt, PublishedAt: d.Timestamp}

	if err := h(ctx, msg); err != nil {
		log.Printf("[AMQPChannel] %s handler failed, requeueing: %v", topic, err)
		if nerr := d.Nack(false, true); nerr != nil {
			log.Printf("[AMQPChannel] nack failed: %v", nerr)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Printf("[AMQPChannel] ack failed: %v", err)
	}
}

// Close closes the connection, which ends every consumer, and waits for
// in-flight handlers.
func (c *AMQPChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}
