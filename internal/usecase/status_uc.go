// internal/usecase/status_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/events"
	"github.com/SHANKHAN254/fys-investment-bot/internal/messaging"
	"github.com/SHANKHAN254/fys-investment-bot/internal/provider"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusScheduler runs delayed status checks keyed by deposit id.
type StatusScheduler interface {
	// Schedule is a no-op when a check for depositID is already pending.
	Schedule(depositID string, notifyPending bool)
	Cancel(depositID string)
}

// StatusUsecase reconciles under_review deposits with the aggregator.
type StatusUsecase struct {
	store      repository.Store
	aggregator provider.PaymentAggregator
	sender     messaging.Sender
	publisher  events.Publisher
	logger     *zap.Logger
}

func NewStatusUsecase(
	store repository.Store,
	aggregator provider.PaymentAggregator,
	sender messaging.Sender,
	publisher events.Publisher,
	logger *zap.Logger,
) *StatusUsecase {
	return &StatusUsecase{
		store:      store,
		aggregator: aggregator,
		sender:     sender,
		publisher:  publisher,
		logger:     logger,
	}
}

// CheckDeposit queries the aggregator for an under_review deposit and applies the result.
// Aggregator failures are reported as OutcomeUnknown with a nil error and leave the deposit untouched.
func (uc *StatusUsecase) CheckDeposit(ctx context.Context, depositID string) (*domain.StatusCheck, error) {
	return uc.checkDeposit(ctx, depositID, "poll")
}

func (uc *StatusUsecase) checkDeposit(ctx context.Context, depositID, source string) (*domain.StatusCheck, error) {
	dep, err := uc.store.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if dep.Status != domain.DepositStatusUnderReview {
		return &domain.StatusCheck{Deposit: dep, Outcome: domain.OutcomeAlreadyFinal}, nil
	}

	// PayHero looks transactions up by the external_reference we sent, which is the deposit id.
	timer := prometheus.NewTimer(aggregatorDuration.WithLabelValues("status"))
	status, err := uc.aggregator.GetCollectionStatus(ctx, dep.ID)
	timer.ObserveDuration()
	if err != nil {
		statusChecks.WithLabelValues(source, string(domain.OutcomeUnknown)).Inc()
		uc.logger.Warn("status check failed, deposit stays under review",
			zap.String("deposit_id", dep.ID),
			zap.String("source", source),
			zap.Error(err))
		return &domain.StatusCheck{Deposit: dep, Outcome: domain.OutcomeUnknown}, nil
	}

	uc.logger.Info("status check result",
		zap.String("deposit_id", dep.ID),
		zap.String("source", source),
		zap.String("provider_status", status.Status))

	check, err := uc.ApplyProviderStatus(ctx, dep, status)
	if err == nil {
		statusChecks.WithLabelValues(source, string(check.Outcome)).Inc()
	}
	return check, err
}

// ApplyProviderStatus maps an aggregator status onto the deposit. SUCCESS and FAILED
// are terminal; any other value leaves the deposit under review. A SUCCESS for a
// different amount than requested fails the deposit instead of crediting it. Losing
// the compare-and-set to another path yields OutcomeAlreadyFinal.
func (uc *StatusUsecase) ApplyProviderStatus(ctx context.Context, dep *domain.DepositRequest, status *provider.CollectionStatus) (*domain.StatusCheck, error) {
	t := domain.Transition{
		DepositID:    dep.ID,
		From:         domain.DepositStatusUnderReview,
		ProviderCode: status.ProviderCode,
	}
	var outcome domain.StatusOutcome

	switch status.Status {
	case domain.ProviderStatusSuccess:
		if !status.Amount.IsZero() && !status.Amount.Equal(dep.Amount) {
			uc.logger.Warn("provider amount differs from requested amount, not crediting",
				zap.String("deposit_id", dep.ID),
				zap.String("requested", dep.Amount.String()),
				zap.String("paid", status.Amount.String()))
			t.To = domain.DepositStatusFailed
			t.FailureReason = fmt.Sprintf("amount mismatch: paid %s, requested %s", status.Amount, dep.Amount)
			outcome = domain.OutcomeFailed
			break
		}
		t.To = domain.DepositStatusConfirmed
		outcome = domain.OutcomeConfirmed
	case domain.ProviderStatusFailed:
		t.To = domain.DepositStatusFailed
		t.FailureReason = "provider reported FAILED"
		outcome = domain.OutcomeFailed
	default:
		return &domain.StatusCheck{
			Deposit:        dep,
			Outcome:        domain.OutcomePending,
			ProviderStatus: status.Status,
			ProviderCode:   status.ProviderCode,
		}, nil
	}

	updated, err := uc.store.ApplyTransition(ctx, t)
	if errors.Is(err, domain.ErrStaleTransition) || errors.Is(err, domain.ErrIllegalTransition) {
		current, gerr := uc.store.GetDeposit(ctx, dep.ID)
		if gerr != nil {
			current = dep
		}
		uc.logger.Info("deposit already settled by another path",
			zap.String("deposit_id", dep.ID),
			zap.String("status", string(current.Status)))
		return &domain.StatusCheck{Deposit: current, Outcome: domain.OutcomeAlreadyFinal, ProviderStatus: status.Status}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s to %s: %w", t.To, dep.ID, err)
	}

	uc.logger.Info("deposit settled",
		zap.String("deposit_id", updated.ID),
		zap.String("owner_id", updated.OwnerID),
		zap.String("status", string(updated.Status)),
		zap.String("amount", updated.Amount.String()))

	if err := uc.publisher.PublishDepositEvent(ctx, updated); err != nil {
		uc.logger.Warn("failed to publish deposit event", zap.String("deposit_id", updated.ID), zap.Error(err))
	}

	return &domain.StatusCheck{
		Deposit:        updated,
		Outcome:        outcome,
		ProviderStatus: status.Status,
		ProviderCode:   status.ProviderCode,
	}, nil
}

// NotifyResult tells the deposit owner about a status check. Nothing is sent for OutcomeAlreadyFinal.
func (uc *StatusUsecase) NotifyResult(ctx context.Context, check *domain.StatusCheck) {
	if check == nil || check.Deposit == nil {
		return
	}
	dep := check.Deposit

	var text string
	switch check.Outcome {
	case domain.OutcomeConfirmed:
		var balance *decimal.Decimal
		if u, err := uc.store.GetUser(ctx, dep.OwnerID); err == nil {
			balance = &u.Balance
		}
		text = msgConfirmed(dep, balance)
	case domain.OutcomeFailed:
		text = msgFailed(dep)
	case domain.OutcomePending:
		status := check.ProviderStatus
		if status == "" {
			status = "pending"
		}
		text = msgStillPending(dep, status)
	case domain.OutcomeUnknown:
		text = msgCheckFailed
	default:
		return
	}

	if err := uc.sender.Send(ctx, dep.OwnerID, text); err != nil {
		uc.logger.Warn("failed to notify deposit owner",
			zap.String("deposit_id", dep.ID),
			zap.String("owner_id", dep.OwnerID),
			zap.Error(err))
	}
}
