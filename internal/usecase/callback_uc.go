// internal/usecase/callback_uc.go
package usecase

import (
	"context"
	"fmt"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/provider"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/signature"

	"go.uber.org/zap"
)

// CallbackToken is the per-deposit path segment appended to the aggregator callback URL.
func CallbackToken(secret, depositID string) string {
	return signature.Token(secret, "payhero-callback:"+depositID)
}

// CallbackUsecase handles the asynchronous notice the aggregator posts back.
// The notice only triggers a status check: the aggregator's status API decides
// the transition, never the callback body.
type CallbackUsecase struct {
	store      repository.Store
	aggregator provider.PaymentAggregator
	status     *StatusUsecase
	scheduler  StatusScheduler
	secret     string
	logger     *zap.Logger
}

func NewCallbackUsecase(
	store repository.Store,
	aggregator provider.PaymentAggregator,
	status *StatusUsecase,
	scheduler StatusScheduler,
	secret string,
	logger *zap.Logger,
) *CallbackUsecase {
	return &CallbackUsecase{
		store:      store,
		aggregator: aggregator,
		status:     status,
		scheduler:  scheduler,
		secret:     secret,
		logger:     logger,
	}
}

// ProcessCallback verifies the URL token against the referenced deposit and
// re-checks the deposit with the aggregator. Callbacks for deposits that are
// already terminal are acknowledged without side effects.
func (uc *CallbackUsecase) ProcessCallback(ctx context.Context, token string, payload []byte) (*domain.StatusCheck, error) {
	result, err := uc.aggregator.ParseCallback(payload)
	if err != nil {
		return nil, fmt.Errorf("%s callback: %w", uc.aggregator.GetName(), err)
	}

	if uc.secret == "" || !signature.Equal(token, CallbackToken(uc.secret, result.ExternalReference)) {
		uc.logger.Warn("callback token mismatch",
			zap.String("provider", uc.aggregator.GetName()),
			zap.String("deposit_id", result.ExternalReference))
		return nil, domain.ErrInvalidCallbackToken
	}

	uc.logger.Info("payment callback received",
		zap.String("provider", uc.aggregator.GetName()),
		zap.String("deposit_id", result.ExternalReference),
		zap.Bool("success", result.Success),
		zap.Int("result_code", result.ResultCode),
		zap.String("result_desc", result.ResultDescription))

	dep, err := uc.store.GetDeposit(ctx, result.ExternalReference)
	if err != nil {
		return nil, err
	}

	if dep.Status != domain.DepositStatusUnderReview {
		uc.logger.Info("callback for deposit not under review, ignoring",
			zap.String("deposit_id", dep.ID),
			zap.String("status", string(dep.Status)))
		return &domain.StatusCheck{Deposit: dep, Outcome: domain.OutcomeAlreadyFinal}, nil
	}

	if result.Success && !result.Amount.IsZero() && !result.Amount.Equal(dep.Amount) {
		uc.logger.Warn("callback amount differs from requested amount",
			zap.String("deposit_id", dep.ID),
			zap.String("requested", dep.Amount.String()),
			zap.String("paid", result.Amount.String()))
	}

	check, err := uc.status.checkDeposit(ctx, dep.ID, "callback")
	if err != nil {
		return nil, err
	}

	switch check.Outcome {
	case domain.OutcomeConfirmed, domain.OutcomeFailed:
		uc.scheduler.Cancel(dep.ID)
		uc.status.NotifyResult(ctx, check)
	case domain.OutcomePending, domain.OutcomeUnknown:
		// keep polling; a no-op when a check is already pending
		uc.scheduler.Schedule(dep.ID, false)
	}
	return check, nil
}
