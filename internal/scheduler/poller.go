// internal/scheduler/poller.go
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var errStillPending = errors.New("deposit still under review")

// StatusChecker is implemented by usecase.StatusUsecase.
type StatusChecker interface {
	CheckDeposit(ctx context.Context, depositID string) (*domain.StatusCheck, error)
	NotifyResult(ctx context.Context, check *domain.StatusCheck)
}

type PollerConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	Attempts     uint
}

type task struct {
	cancel context.CancelFunc
}

// StatusPoller runs one delayed, cancellable status check per deposit. With more than
// one attempt it keeps polling at Interval until the deposit settles. Confirmed and
// failed results are always reported to the owner; pending and unknown results only
// after the last attempt and only when the task was scheduled with notifyPending.
type StatusPoller struct {
	checker StatusChecker
	cfg     PollerConfig
	logger  *zap.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup

	root   context.Context
	cancel context.CancelFunc
}

func NewStatusPoller(checker StatusChecker, cfg PollerConfig, logger *zap.Logger) *StatusPoller {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	root, cancel := context.WithCancel(context.Background())
	return &StatusPoller{
		checker: checker,
		cfg:     cfg,
		logger:  logger,
		tasks:   make(map[string]*task),
		root:    root,
		cancel:  cancel,
	}
}

// Schedule starts a check for depositID unless one is already pending.
func (p *StatusPoller) Schedule(depositID string, notifyPending bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, ok := p.tasks[depositID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(p.root)
	t := &task{cancel: cancel}
	p.tasks[depositID] = t

	p.wg.Add(1)
	go p.run(ctx, t, depositID, notifyPending)

	p.logger.Debug("status check scheduled",
		zap.String("deposit_id", depositID),
		zap.Duration("delay", p.cfg.InitialDelay),
		zap.Uint("attempts", p.cfg.Attempts))
}

// Cancel stops the pending check for depositID, if any.
func (p *StatusPoller) Cancel(depositID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tasks[depositID]; ok {
		t.cancel()
		delete(p.tasks, depositID)
		p.logger.Debug("status check cancelled", zap.String("deposit_id", depositID))
	}
}

func (p *StatusPoller) Pending(depositID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[depositID]
	return ok
}

func (p *StatusPoller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Shutdown cancels every pending check and waits for running ones to return.
func (p *StatusPoller) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *StatusPoller) run(ctx context.Context, t *task, depositID string, notifyPending bool) {
	defer p.wg.Done()
	defer p.finish(depositID, t)

	timer := time.NewTimer(p.cfg.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	var last *domain.StatusCheck
	attempts := 0
	_, err := backoff.Retry(ctx, func() (*domain.StatusCheck, error) {
		attempts++
		check, err := p.checker.CheckDeposit(ctx, depositID)
		if err != nil {
			if errors.Is(err, domain.ErrDepositNotFound) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		last = check
		if check.Final() {
			return check, nil
		}
		return check, errStillPending
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.cfg.Interval)),
		backoff.WithMaxTries(p.cfg.Attempts),
		backoff.WithMaxElapsedTime(time.Duration(p.cfg.Attempts+1)*p.cfg.Interval+time.Minute),
	)

	if last == nil {
		if ctx.Err() == nil {
			p.logger.Error("status check could not run",
				zap.String("deposit_id", depositID),
				zap.Int("attempts", attempts),
				zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil && !last.Final() {
		// cancelled mid-poll; whoever cancelled owns the notification
		return
	}

	p.logger.Info("status check finished",
		zap.String("deposit_id", depositID),
		zap.String("outcome", string(last.Outcome)),
		zap.Int("attempts", attempts))

	switch last.Outcome {
	case domain.OutcomeConfirmed, domain.OutcomeFailed:
		p.checker.NotifyResult(context.WithoutCancel(ctx), last)
	case domain.OutcomePending, domain.OutcomeUnknown:
		if notifyPending {
			p.checker.NotifyResult(context.WithoutCancel(ctx), last)
		}
	}
}

func (p *StatusPoller) finish(depositID string, t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.tasks[depositID]; ok && cur == t {
		delete(p.tasks, depositID)
	}
	t.cancel()
}
