// internal/usecase/deposit_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/events"
	"github.com/SHANKHAN254/fys-investment-bot/internal/messaging"
	"github.com/SHANKHAN254/fys-investment-bot/internal/provider"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/id"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxIDAttempts = 3

type DepositConfig struct {
	PhonePattern     *regexp.Regexp
	AlertRecipient   string
	StatusCheckDelay time.Duration
	Location         *time.Location

	// CallbackURL is the base callback endpoint; each deposit gets its own
	// token appended, derived from CallbackSecret.
	CallbackURL    string
	CallbackSecret string
}

type DepositUsecase struct {
	store      repository.Store
	aggregator provider.PaymentAggregator
	sender     messaging.Sender
	publisher  events.Publisher
	scheduler  StatusScheduler
	cfg        DepositConfig
	logger     *zap.Logger

	newID func() (string, error)
	now   func() time.Time
}

func NewDepositUsecase(
	store repository.Store,
	aggregator provider.PaymentAggregator,
	sender messaging.Sender,
	publisher events.Publisher,
	scheduler StatusScheduler,
	cfg DepositConfig,
	logger *zap.Logger,
) *DepositUsecase {
	return &DepositUsecase{
		store:      store,
		aggregator: aggregator,
		sender:     sender,
		publisher:  publisher,
		scheduler:  scheduler,
		cfg:        cfg,
		logger:     logger,
		newID:      id.GenerateDepositID,
		now:        time.Now,
	}
}

// Rules returns the current deposit constraints; bounds come from the persisted settings.
func (uc *DepositUsecase) Rules(ctx context.Context) (domain.DepositRules, error) {
	settings, err := uc.store.GetSettings(ctx)
	if err != nil {
		return domain.DepositRules{}, fmt.Errorf("load settings: %w", err)
	}
	return domain.DepositRules{
		Min:          settings.MinDeposit,
		Max:          settings.MaxDeposit,
		PhonePattern: uc.cfg.PhonePattern,
	}, nil
}

// Submit creates a deposit, requests the STK push and schedules the delayed status check.
// An aggregator rejection or transport failure marks the deposit failed and is not returned
// as an error; callers inspect the returned status.
func (uc *DepositUsecase) Submit(ctx context.Context, ownerID string, amount decimal.Decimal, phone string) (*domain.DepositRequest, error) {
	rules, err := uc.Rules(ctx)
	if err != nil {
		return nil, err
	}

	dep, err := uc.create(ctx, ownerID, amount, phone, rules)
	if err != nil {
		return nil, err
	}

	uc.logger.Info("initiating deposit",
		zap.String("deposit_id", dep.ID),
		zap.String("owner_id", ownerID),
		zap.String("amount", amount.String()),
		zap.String("provider", uc.aggregator.GetName()))

	t := domain.Transition{DepositID: dep.ID, From: domain.DepositStatusInitiating}
	timer := prometheus.NewTimer(aggregatorDuration.WithLabelValues("collection"))
	resp, err := uc.aggregator.RequestCollection(ctx, provider.CollectionRequest{
		Amount:      dep.Amount,
		MSISDN:      dep.MSISDN,
		Reference:   dep.ID,
		CallbackURL: uc.callbackURL(dep.ID),
	})
	timer.ObserveDuration()
	switch {
	case err != nil:
		var rejected *domain.AggregatorRejectedError
		if errors.As(err, &rejected) {
			uc.logger.Warn("stk push rejected",
				zap.String("deposit_id", dep.ID),
				zap.Int("status_code", rejected.StatusCode))
		} else {
			uc.logger.Error("stk push transport failure",
				zap.String("deposit_id", dep.ID),
				zap.Error(err))
		}
		t.To = domain.DepositStatusFailed
		t.FailureReason = err.Error()
	case resp == nil || !resp.Accepted:
		t.To = domain.DepositStatusFailed
		t.FailureReason = "collection not accepted"
	default:
		t.To = domain.DepositStatusUnderReview
		t.ProviderReference = resp.Reference
	}

	updated, err := uc.store.ApplyTransition(ctx, t)
	if err != nil {
		uc.logger.Error("failed to record stk push outcome",
			zap.String("deposit_id", dep.ID),
			zap.String("to", string(t.To)),
			zap.Error(err))
		return nil, err
	}
	depositsSubmitted.WithLabelValues(string(updated.Status)).Inc()

	uc.alertAdmin(ctx, updated)

	if err := uc.publisher.PublishDepositEvent(ctx, updated); err != nil {
		uc.logger.Warn("failed to publish deposit event", zap.String("deposit_id", updated.ID), zap.Error(err))
	}

	if updated.Status == domain.DepositStatusUnderReview {
		uc.scheduler.Schedule(updated.ID, true)
	}
	return updated, nil
}

func (uc *DepositUsecase) callbackURL(depositID string) string {
	if uc.cfg.CallbackURL == "" {
		return ""
	}
	return strings.TrimRight(uc.cfg.CallbackURL, "/") + "/" + CallbackToken(uc.cfg.CallbackSecret, depositID)
}

// StatusCheckDelay is how long after submission the first status check runs.
func (uc *DepositUsecase) StatusCheckDelay() time.Duration {
	return uc.cfg.StatusCheckDelay
}

func (uc *DepositUsecase) create(ctx context.Context, ownerID string, amount decimal.Decimal, phone string, rules domain.DepositRules) (*domain.DepositRequest, error) {
	for attempt := 1; ; attempt++ {
		depositID, err := uc.newID()
		if err != nil {
			return nil, fmt.Errorf("generate deposit id: %w", err)
		}

		dep, err := domain.NewDepositRequest(depositID, ownerID, amount, phone, rules, uc.now())
		if err != nil {
			return nil, err
		}

		err = uc.store.CreateDeposit(ctx, dep)
		if err == nil {
			return dep, nil
		}
		if !errors.Is(err, domain.ErrDuplicateDeposit) || attempt >= maxIDAttempts {
			return nil, err
		}
	}
}

// alertAdmin is best effort: a failed alert never fails the deposit.
func (uc *DepositUsecase) alertAdmin(ctx context.Context, dep *domain.DepositRequest) {
	if uc.cfg.AlertRecipient == "" {
		return
	}
	if err := uc.sender.Send(ctx, uc.cfg.AlertRecipient, msgAdminAlert(dep, uc.cfg.Location)); err != nil {
		uc.logger.Warn("failed to alert admin",
			zap.String("deposit_id", dep.ID),
			zap.String("recipient", uc.cfg.AlertRecipient),
			zap.Error(err))
	}
}
