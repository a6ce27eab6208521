package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"pactbot/internal/logger"
	"pactbot/internal/storage"
)

// SettlementWorker activates started challenges and settles ended ones
// once the proof grace period and the settle delay have passed
type SettlementWorker struct {
	clock       clockwork.Clock
	interval    time.Duration
	grace       time.Duration
	delay       time.Duration
	challenges  *ChallengeService
	settlements *SettlementService

	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewSettlementWorker creates a worker that runs every interval
func NewSettlementWorker(clock clockwork.Clock, interval, grace, delay time.Duration, challenges *ChallengeService, settlements *SettlementService) *SettlementWorker {
	return &SettlementWorker{
		clock:       clock,
		interval:    interval,
		grace:       grace,
		delay:       delay,
		challenges:  challenges,
		settlements: settlements,
	}
}

// Start schedules the worker. The first run happens immediately.
func (w *SettlementWorker) Start() error {
	s, err := gocron.NewScheduler(gocron.WithClock(w.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	_, err = s.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			if _, err := w.RunOnce(w.ctx); err != nil {
				logger.Error(0, "settlement_worker_run_failed", err, "")
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		w.cancel()
		return fmt.Errorf("failed to schedule settlement job: %w", err)
	}

	w.scheduler = s
	s.Start()
	logger.Info(0, "settlement_worker_started", fmt.Sprintf("interval=%v grace=%v delay=%v", w.interval, w.grace, w.delay))
	return nil
}

// Stop cancels a running pass and waits for the scheduler to shut down
func (w *SettlementWorker) Stop() error {
	if w.scheduler == nil {
		return nil
	}
	w.cancel()
	err := w.scheduler.Shutdown()
	logger.Info(0, "settlement_worker_stopped", "")
	return err
}

// RunOnce performs a single pass and returns how many challenges it settled.
// A failure on one challenge is logged and does not stop the others.
func (w *SettlementWorker) RunOnce(ctx context.Context) (int, error) {
	if _, err := w.challenges.ActivateStarted(ctx); err != nil {
		return 0, fmt.Errorf("failed to activate challenges: %w", err)
	}

	cutoff := w.clock.Now().Add(-w.grace - w.delay)
	ids, err := storage.ListChallengeIDsToSettle(ctx, storage.DB(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list challenges to settle: %w", err)
	}

	settled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		receipt, err := w.settlements.Distribute(ctx, id)
		if errors.Is(err, ErrAlreadyDistributed) {
			continue
		}
		if err != nil {
			logger.Error(0, "settlement_worker_distribute_failed", err, fmt.Sprintf("challenge_id=%d", id))
			continue
		}
		settled++
		logger.Debug(0, "settlement_worker_settled", fmt.Sprintf("challenge_id=%d receipt_id=%s", id, receipt.ID))
	}
	return settled, nil
}
