package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/queue"
	"github.com/ignite/audience-engine/internal/service/delivery"
)

// SimulatedFailureReason is recorded on logs the vendor decided to fail.
const SimulatedFailureReason = "Simulated failure"

// ReceiptMode selects how the simulated vendor reports back.
type ReceiptMode string

const (
	// ReceiptsViaChannel publishes receipts on the receipts topic.
	ReceiptsViaChannel ReceiptMode = "receipts"
	// ReceiptsDirect hands receipts to the reconciler in process.
	ReceiptsDirect ReceiptMode = "direct"
)

// DeliveryOptions tunes the simulated vendor. Rates are probabilities in
// [0,1].
type DeliveryOptions struct {
	SuccessRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Mode        ReceiptMode

	// Follow-up receipts after a successful send. Each link of the chain
	// sent, delivered, opened, clicked only happens if the previous did.
	DeliveredRate float64
	OpenRate      float64
	ClickRate     float64
}

// DefaultDeliveryOptions matches the baseline vendor: 90% success and a
// receipt 100ms to 2s after the send.
func DefaultDeliveryOptions() DeliveryOptions {
	return DeliveryOptions{
		SuccessRate: 0.9,
		MinDelay:    100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Mode:        ReceiptsViaChannel,
	}
}

// LogStore is what the worker needs from the communication log store.
type LogStore interface {
	Create(ctx context.Context, l *domain.CommunicationLog) error
	GetByMessageID(ctx context.Context, messageID string) (*domain.CommunicationLog, error)
}

// ReceiptSink takes receipts in direct mode. *delivery.Reconciler satisfies
// it.
type ReceiptSink interface {
	Apply(ctx context.Context, rc domain.Receipt) (*delivery.BatchResult, error)
}

var sendValidator = newSendValidator()

func newSendValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		return name
	})
	return v
}

// DeliveryWorker consumes send-requests, records a communication log per
// request and reports the simulated outcome as receipts after a delay.
type DeliveryWorker struct {
	channel queue.Channel
	logs    LogStore
	sink    ReceiptSink
	opts    DeliveryOptions

	// Injectable for deterministic tests.
	Rand  func() float64
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	received        atomic.Int64
	rejected        atomic.Int64
	sent            atomic.Int64
	failed          atomic.Int64
	receiptsEmitted atomic.Int64
	receiptErrors   atomic.Int64
}

// NewDeliveryWorker creates a worker. sink is only used in direct mode and
// may be nil otherwise.
func NewDeliveryWorker(ch queue.Channel, logs LogStore, sink ReceiptSink, opts DeliveryOptions) *DeliveryWorker {
	if opts.Mode == "" {
		opts.Mode = ReceiptsViaChannel
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	return &DeliveryWorker{
		channel: ch,
		logs:    logs,
		sink:    sink,
		opts:    opts,
		Rand:    rand.Float64,
		Now:     time.Now,
		Sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Start subscribes to the delivery topic.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("delivery worker already running")
	}
	if w.opts.Mode == ReceiptsDirect && w.sink == nil {
		return fmt.Errorf("delivery worker: direct receipt mode needs a receipt sink")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	if err := w.channel.Subscribe(w.ctx, domain.TopicDelivery, w.handle); err != nil {
		w.cancel()
		return fmt.Errorf("subscribe delivery: %w", err)
	}
	w.running = true
	log.Printf("[DeliveryWorker] Started (success rate %.2f, receipt delay %v-%v, mode %s)",
		w.opts.SuccessRate, w.opts.MinDelay, w.opts.MaxDelay, w.opts.Mode)
	return nil
}

// Stop cancels pending receipts and waits for their goroutines.
func (w *DeliveryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	log.Printf("[DeliveryWorker] Stopped. Sent: %d, failed: %d, receipts: %d",
		w.sent.Load(), w.failed.Load(), w.receiptsEmitted.Load())
}

func (w *DeliveryWorker) handle(ctx context.Context, msg queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.received.Add(1)

	var req domain.SendRequest
	if err := queue.DecodeJSON(msg, &req); err != nil {
		w.rejected.Add(1)
		logger.Warn("undecodable send-request dropped", "error", err)
		return nil
	}
	if err := sendValidator.Struct(req); err != nil {
		w.rejected.Add(1)
		logger.Warn("invalid send-request dropped", "campaign_id", req.CampaignID, "type", req.Type, "error", err)
		return nil
	}

	_, err := w.process(ctx, req)
	return err
}

// process simulates the vendor for one request: it stores the log and
// schedules the receipts. A log store error is returned so the request is
// redelivered.
func (w *DeliveryWorker) process(ctx context.Context, req domain.SendRequest) (*domain.CommunicationLog, error) {
	ok := w.Rand() < w.opts.SuccessRate
	entry := &domain.CommunicationLog{
		ID:         uuid.NewString(),
		CampaignID: req.CampaignID,
		CustomerID: req.CustomerID,
		Message:    req.Message,
		MessageID:  "msg_" + uuid.NewString(),
		Status:     domain.LogSent,
		CreatedAt:  w.Now().UTC(),
	}
	if !ok {
		entry.Status = domain.LogFailed
		entry.FailureReason = SimulatedFailureReason
	}
	if err := w.logs.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create communication log: %w", err)
	}
	if ok {
		w.sent.Add(1)
	} else {
		w.failed.Add(1)
	}

	// Stop may be waiting already; no new receipts once it has begun.
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		logger.Warn("worker stopping, receipt not scheduled", "message_id", entry.MessageID)
		return entry, nil
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go w.report(entry.MessageID, req, ok)
	return entry, nil
}

// report emits the first receipt after a delay, then the optional
// follow-ups of a successful send.
func (w *DeliveryWorker) report(messageID string, req domain.SendRequest, ok bool) {
	defer w.wg.Done()

	first := domain.LogSent
	reason := ""
	if !ok {
		first = domain.LogFailed
		reason = SimulatedFailureReason
	}
	if !w.emitAfterDelay(messageID, req, first, reason) || !ok {
		return
	}

	for _, link := range []struct {
		status domain.LogStatus
		rate   float64
	}{
		{domain.LogDelivered, w.opts.DeliveredRate},
		{domain.LogOpened, w.opts.OpenRate},
		{domain.LogClicked, w.opts.ClickRate},
	} {
		if link.rate <= 0 || w.Rand() >= link.rate {
			return
		}
		if !w.emitAfterDelay(messageID, req, link.status, "") {
			return
		}
	}
}

func (w *DeliveryWorker) emitAfterDelay(messageID string, req domain.SendRequest, status domain.LogStatus, reason string) bool {
	if !w.Sleep(w.ctx, w.delay()) {
		return false
	}
	now := w.Now().UTC()
	rc := domain.Receipt{
		MessageID:  messageID,
		Status:     status,
		Timestamp:  &now,
		CampaignID: req.CampaignID,
		CustomerID: req.CustomerID,
		Reason:     reason,
	}
	if err := w.emit(w.ctx, rc); err != nil {
		w.receiptErrors.Add(1)
		if !errors.Is(err, context.Canceled) {
			logger.Error("emit receipt failed", "message_id", messageID, "status", string(status), "error", err)
		}
		return false
	}
	return true
}

func (w *DeliveryWorker) delay() time.Duration {
	span := w.opts.MaxDelay - w.opts.MinDelay
	if span <= 0 {
		return w.opts.MinDelay
	}
	return w.opts.MinDelay + time.Duration(w.Rand()*float64(span))
}

func (w *DeliveryWorker) emit(ctx context.Context, rc domain.Receipt) error {
	var err error
	if w.opts.Mode == ReceiptsDirect {
		_, err = w.sink.Apply(ctx, rc)
	} else {
		err = queue.PublishJSON(ctx, w.channel, domain.TopicReceipts, rc.MessageID, rc)
	}
	if err == nil {
		w.receiptsEmitted.Add(1)
	}
	return err
}

// SimulateVendor makes the vendor report on an existing message right away:
// delivered with probability SuccessRate, failed otherwise.
func (w *DeliveryWorker) SimulateVendor(ctx context.Context, messageID string) (*domain.Receipt, error) {
	entry, err := w.logs.GetByMessageID(ctx, messageID)
	if errors.Is(err, delivery.ErrLogNotFound) {
		return nil, &domain.NotFoundError{Resource: "communication log", ID: messageID}
	}
	if err != nil {
		return nil, fmt.Errorf("get communication log: %w", err)
	}

	now := w.Now().UTC()
	rc := domain.Receipt{
		MessageID:  messageID,
		Status:     domain.LogDelivered,
		Timestamp:  &now,
		CampaignID: entry.CampaignID,
		CustomerID: entry.CustomerID,
	}
	if w.Rand() >= w.opts.SuccessRate {
		rc.Status = domain.LogFailed
		rc.Reason = SimulatedFailureReason
	}
	if err := w.emit(ctx, rc); err != nil {
		w.receiptErrors.Add(1)
		return nil, fmt.Errorf("emit receipt: %w", err)
	}
	return &rc, nil
}

// DeliveryStats reports worker throughput.
type DeliveryStats struct {
	Received        int64 `json:"received"`
	Rejected        int64 `json:"rejected"`
	Sent            int64 `json:"sent"`
	Failed          int64 `json:"failed"`
	ReceiptsEmitted int64 `json:"receiptsEmitted"`
	ReceiptErrors   int64 `json:"receiptErrors"`
}

// Stats returns counters since creation.
func (w *DeliveryWorker) Stats() DeliveryStats {
	return DeliveryStats{
		Received:        w.received.Load(),
		Rejected:        w.rejected.Load(),
		Sent:            w.sent.Load(),
		Failed:          w.failed.Load(),
		ReceiptsEmitted: w.receiptsEmitted.Load(),
		ReceiptErrors:   w.receiptErrors.Load(),
	}
}
