package delivery

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/queue"
)

// ConsumerOptions tunes receipt batching.
type ConsumerOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Consumer reads receipts from the delivery channel and reconciles them in
// batches. Up to BatchSize handlers wait on the channel at once, so a batch
// can fill before its flush; a message is only acknowledged once its batch
// has been applied.
type Consumer struct {
	reconciler *Reconciler
	channel    queue.Channel
	opts       ConsumerOptions

	in chan pendingReceipt

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	batches  atomic.Int64
	received atomic.Int64
	rejected atomic.Int64
	pending  atomic.Int64
}

type pendingReceipt struct {
	receipt domain.Receipt
	done    chan error
}

// NewConsumer creates a receipt consumer.
func NewConsumer(r *Reconciler, ch queue.Channel, opts ConsumerOptions) *Consumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 250 * time.Millisecond
	}
	return &Consumer{
		reconciler: r,
		channel:    ch,
		opts:       opts,
		in:         make(chan pendingReceipt, opts.BatchSize),
	}
}

// Start subscribes to the receipts topic.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("receipt consumer already running")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.batchLoop()

	if err := c.channel.Subscribe(c.ctx, domain.TopicReceipts, c.handle, queue.WithConcurrency(c.opts.BatchSize)); err != nil {
		c.cancel()
		c.wg.Wait()
		return fmt.Errorf("subscribe receipts: %w", err)
	}
	c.running = true
	log.Printf("[ReceiptConsumer] Started (batch size %d, flush every %v)", c.opts.BatchSize, c.opts.FlushInterval)
	return nil
}

// Stop ends consumption, applies the receipts already handed to the batch
// loop and waits for it to exit.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	log.Printf("[ReceiptConsumer] Stopped. Receipts: %d, batches: %d", c.received.Load(), c.batches.Load())
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) error {
	var rc domain.Receipt
	if err := queue.DecodeJSON(msg, &rc); err != nil {
		c.rejected.Add(1)
		logger.Warn("undecodable receipt dropped", "error", err)
		return nil
	}
	if err := ValidateReceipt(rc); err != nil {
		c.rejected.Add(1)
		logger.Warn("invalid receipt dropped", "message_id", rc.MessageID, "error", err)
		return nil
	}

	p := pendingReceipt{receipt: rc, done: make(chan error, 1)}
	select {
	case c.in <- p:
		c.pending.Add(1)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) batchLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]pendingReceipt, 0, c.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		receipts := make([]domain.Receipt, len(batch))
		for i, p := range batch {
			receipts[i] = p.receipt
		}
		_, err := c.reconciler.ApplyBatch(c.ctx, receipts)
		if err != nil {
			logger.Error("apply receipt batch failed", "size", len(batch), "error", err)
		}
		for _, p := range batch {
			p.done <- err
		}
		c.batches.Add(1)
		c.received.Add(int64(len(batch)))
		c.pending.Add(-int64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case <-c.ctx.Done():
		drain:
			for {
				select {
				case p := <-c.in:
					batch = append(batch, p)
				default:
					break drain
				}
			}
			flush()
			return
		case p := <-c.in:
			batch = append(batch, p)
			if len(batch) >= c.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ConsumerStats reports consumer throughput.
type ConsumerStats struct {
	Received int64 `json:"received"`
	Batches  int64 `json:"batches"`
	Rejected int64 `json:"rejected"`
	// Pending receipts are queued for the next batch.
	Pending int64 `json:"pending"`
}

// Stats returns counters since creation.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received: c.received.Load(),
		Batches:  c.batches.Load(),
		Rejected: c.rejected.Load(),
		Pending:  c.pending.Load(),
	}
}
