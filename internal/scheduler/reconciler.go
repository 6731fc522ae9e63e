// internal/scheduler/reconciler.go
package scheduler

import (
	"context"
	"fmt"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler is the subset of StatusPoller the reconciler needs.
type Scheduler interface {
	Schedule(depositID string, notifyPending bool)
	Pending(depositID string) bool
}

// Reconciler periodically re-schedules checks for deposits stuck under review,
// e.g. after a restart dropped their in-memory tasks.
type Reconciler struct {
	store     repository.Store
	scheduler Scheduler
	schedule  string
	cron      *cron.Cron
	logger    *zap.Logger
}

func NewReconciler(store repository.Store, scheduler Scheduler, schedule string, logger *zap.Logger) *Reconciler {
	c := cron.New(cron.WithChain(cron.Recover(zapCronLogger{logger.Sugar()})))
	return &Reconciler{
		store:     store,
		scheduler: scheduler,
		schedule:  schedule,
		cron:      c,
		logger:    logger,
	}
}

// Start runs one sweep immediately and then on the configured schedule.
func (r *Reconciler) Start(ctx context.Context) error {
	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Error("initial reconciliation sweep failed", zap.Error(err))
	}

	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reconciliation sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", r.schedule, err)
	}
	r.logger.Info("scheduled reconciliation job", zap.String("schedule", r.schedule))

	r.cron.Start()
	return nil
}

// Stop stops the cron scheduler; the returned context is done when running jobs finish.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

// Sweep schedules a silent check for every under_review deposit that has none pending.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	deps, err := r.store.ListDeposits(ctx, repository.DepositFilter{Status: domain.DepositStatusUnderReview})
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, d := range deps {
		if r.scheduler.Pending(d.ID) {
			continue
		}
		r.scheduler.Schedule(d.ID, false)
		scheduled++
	}

	if scheduled > 0 {
		r.logger.Info("reconciliation scheduled status checks",
			zap.Int("under_review", len(deps)),
			zap.Int("scheduled", scheduled))
	}
	return scheduled, nil
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	s *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
