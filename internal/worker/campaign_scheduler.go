package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/audience-engine/internal/pkg/distlock"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

const (
	// DefaultSchedulerPollInterval is how often due campaigns are swept.
	DefaultSchedulerPollInterval = 30 * time.Second
	// DefaultSchedulerBatch bounds the campaigns started per sweep.
	DefaultSchedulerBatch = 50

	schedulerLockKey = "campaign-scheduler"
)

// DueInitiator starts scheduled campaigns whose time has come.
// *campaign.Service satisfies it.
type DueInitiator interface {
	InitiateDue(ctx context.Context, limit int) (int, error)
}

// LockFactory returns a fresh lock for one sweep.
type LockFactory func(key string) distlock.Locker

// CampaignScheduler periodically initiates due campaigns. Each sweep runs
// under a distributed lock so only one replica sweeps at a time.
type CampaignScheduler struct {
	initiator    DueInitiator
	newLock      LockFactory
	pollInterval time.Duration
	batch        int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex

	sweeps  atomic.Int64
	skipped atomic.Int64
	started atomic.Int64
	errors  atomic.Int64
}

// NewCampaignScheduler creates a scheduler. A nil newLock uses process-local
// locks.
func NewCampaignScheduler(initiator DueInitiator, newLock LockFactory, pollInterval time.Duration, batch int) *CampaignScheduler {
	if newLock == nil {
		newLock = func(key string) distlock.Locker { return distlock.NewLocalLock(key) }
	}
	if pollInterval <= 0 {
		pollInterval = DefaultSchedulerPollInterval
	}
	if batch <= 0 {
		batch = DefaultSchedulerBatch
	}
	return &CampaignScheduler{
		initiator:    initiator,
		newLock:      newLock,
		pollInterval: pollInterval,
		batch:        batch,
	}
}

// Start begins the polling loop.
func (cs *CampaignScheduler) Start(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(ctx)

	log.Printf("[CampaignScheduler] Starting with poll interval: %v", cs.pollInterval)
	cs.wg.Add(1)
	go cs.loop()
	return nil
}

// Stop ends the loop and waits for an in-flight sweep.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	cs.cancel()
	cs.wg.Wait()
	log.Printf("[CampaignScheduler] Stopped. Sweeps: %d, campaigns started: %d", cs.sweeps.Load(), cs.started.Load())
}

func (cs *CampaignScheduler) loop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			if _, err := cs.Sweep(cs.ctx); err != nil && cs.ctx.Err() == nil {
				logger.Error("campaign sweep failed", "error", err)
			}
		}
	}
}

// Sweep initiates due campaigns once. It returns how many were started; a
// sweep skipped because another holder has the lock starts none.
func (cs *CampaignScheduler) Sweep(ctx context.Context) (int, error) {
	var n int
	ran, err := distlock.WithLock(ctx, cs.newLock(schedulerLockKey), func(ctx context.Context) error {
		var err error
		n, err = cs.initiator.InitiateDue(ctx, cs.batch)
		return err
	})
	if err != nil {
		cs.errors.Add(1)
		return n, err
	}
	if !ran {
		cs.skipped.Add(1)
		return 0, nil
	}
	cs.sweeps.Add(1)
	cs.started.Add(int64(n))
	if n > 0 {
		log.Printf("[CampaignScheduler] Initiated %d scheduled campaigns", n)
	}
	return n, nil
}

// SchedulerStats reports scheduler activity.
type SchedulerStats struct {
	Sweeps  int64 `json:"sweeps"`
	Skipped int64 `json:"skipped"`
	Started int64 `json:"started"`
	Errors  int64 `json:"errors"`
}

// Stats returns counters since creation.
func (cs *CampaignScheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Sweeps:  cs.sweeps.Load(),
		Skipped: cs.skipped.Load(),
		Started: cs.started.Load(),
		Errors:  cs.errors.Load(),
	}
}
