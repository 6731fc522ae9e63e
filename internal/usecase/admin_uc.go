// internal/usecase/admin_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/events"
	"github.com/SHANKHAN254/fys-investment-bot/internal/messaging"
	"github.com/SHANKHAN254/fys-investment-bot/internal/provider"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrProviderConfirmed = errors.New("provider reports the payment as successful")

const depositListLimit = 20

// AdminUsecase holds the operator mutations shared by the text commands and the admin API.
type AdminUsecase struct {
	store      repository.Store
	aggregator provider.PaymentAggregator
	status     *StatusUsecase
	scheduler  StatusScheduler
	sender     messaging.Sender
	publisher  events.Publisher
	location   *time.Location
	logger     *zap.Logger
}

func NewAdminUsecase(
	store repository.Store,
	aggregator provider.PaymentAggregator,
	status *StatusUsecase,
	scheduler StatusScheduler,
	sender messaging.Sender,
	publisher events.Publisher,
	location *time.Location,
	logger *zap.Logger,
) *AdminUsecase {
	return &AdminUsecase{
		store:      store,
		aggregator: aggregator,
		status:     status,
		scheduler:  scheduler,
		sender:     sender,
		publisher:  publisher,
		location:   location,
		logger:     logger,
	}
}

// AnnounceOnline tells the super admin the bot has started. Delivery is best effort.
func (uc *AdminUsecase) AnnounceOnline(ctx context.Context, recipient string) {
	if recipient == "" {
		return
	}
	if err := uc.sender.Send(ctx, recipient, msgOnline(time.Now(), uc.location)); err != nil {
		uc.logger.Warn("failed to send online notice",
			zap.String("recipient", recipient),
			zap.Error(err))
	}
}

func (uc *AdminUsecase) GetSettings(ctx context.Context) (domain.Settings, error) {
	return uc.store.GetSettings(ctx)
}

// SetDepositBounds replaces both bounds; min must be positive and max >= min.
func (uc *AdminUsecase) SetDepositBounds(ctx context.Context, min, max decimal.Decimal) (domain.Settings, error) {
	settings, err := uc.store.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	settings.MinDeposit = min
	settings.MaxDeposit = max
	if err := uc.store.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}
	uc.logger.Info("deposit bounds updated",
		zap.String("min", min.String()),
		zap.String("max", max.String()))
	return settings, nil
}

func (uc *AdminUsecase) SetWelcomeMessage(ctx context.Context, text string) (domain.Settings, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Settings{}, &domain.ValidationError{Field: "welcome_message", Reason: "must not be empty"}
	}
	settings, err := uc.store.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	settings.WelcomeMessage = text
	if err := uc.store.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func (uc *AdminUsecase) ListDeposits(ctx context.Context, filter repository.DepositFilter) ([]*domain.DepositRequest, error) {
	return uc.store.ListDeposits(ctx, filter)
}

func (uc *AdminUsecase) GetDepositByID(ctx context.Context, id string) (*domain.DepositRequest, error) {
	return uc.store.GetDeposit(ctx, strings.ToUpper(strings.TrimSpace(id)))
}

func (uc *AdminUsecase) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return uc.store.ListUsers(ctx)
}

func (uc *AdminUsecase) GetUser(ctx context.Context, ownerID string) (*domain.User, error) {
	return uc.store.GetUser(ctx, ownerID)
}

// CreditUserBalance adds amount to the owner's balance. A negative amount debits
// and fails with domain.ErrInsufficientBalance if the balance would go negative.
func (uc *AdminUsecase) CreditUserBalance(ctx context.Context, ownerID string, amount decimal.Decimal) (*domain.User, error) {
	if amount.IsZero() {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must not be zero"}
	}
	if err := domain.ValidateScale("amount", amount); err != nil {
		return nil, err
	}
	u, err := uc.store.AdjustBalance(ctx, ownerID, amount)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("balance adjusted by admin",
		zap.String("owner_id", ownerID),
		zap.String("delta", amount.String()),
		zap.String("balance", u.Balance.String()))
	return u, nil
}

func (uc *AdminUsecase) BanUser(ctx context.Context, ownerID string) (*domain.User, error) {
	return uc.setBanned(ctx, ownerID, true)
}

func (uc *AdminUsecase) UnbanUser(ctx context.Context, ownerID string) (*domain.User, error) {
	return uc.setBanned(ctx, ownerID, false)
}

func (uc *AdminUsecase) setBanned(ctx context.Context, ownerID string, banned bool) (*domain.User, error) {
	u, err := uc.store.SetBanned(ctx, ownerID, banned)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("user ban updated", zap.String("owner_id", ownerID), zap.Bool("banned", banned))
	return u, nil
}

type BroadcastResult struct {
	Sent   []string `json:"sent"`
	Failed []string `json:"failed"`
}

// Broadcast sends text to each recipient and reports per-recipient delivery.
func (uc *AdminUsecase) Broadcast(ctx context.Context, recipients []string, text string) (*BroadcastResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &domain.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if len(recipients) == 0 {
		return nil, &domain.ValidationError{Field: "recipients", Reason: "must not be empty"}
	}

	res := &BroadcastResult{Sent: []string{}, Failed: []string{}}
	for _, r := range recipients {
		to := messaging.ChatID(r)
		if err := uc.sender.Send(ctx, to, text); err != nil {
			uc.logger.Warn("broadcast delivery failed", zap.String("recipient", to), zap.Error(err))
			res.Failed = append(res.Failed, to)
			continue
		}
		res.Sent = append(res.Sent, to)
	}
	return res, nil
}

// RecheckDeposit runs an immediate provider-verified status check and notifies the owner.
func (uc *AdminUsecase) RecheckDeposit(ctx context.Context, id string) (*domain.StatusCheck, error) {
	check, err := uc.status.checkDeposit(ctx, strings.ToUpper(strings.TrimSpace(id)), "admin")
	if err != nil {
		return nil, err
	}
	if check.Outcome == domain.OutcomeConfirmed || check.Outcome == domain.OutcomeFailed {
		uc.scheduler.Cancel(check.Deposit.ID)
		uc.status.NotifyResult(ctx, check)
	}
	return check, nil
}

// RejectDeposit fails an under_review deposit unless the provider reports success,
// in which case the deposit is confirmed instead and ErrProviderConfirmed is returned.
func (uc *AdminUsecase) RejectDeposit(ctx context.Context, id string, reason string) (*domain.DepositRequest, error) {
	dep, err := uc.store.GetDeposit(ctx, strings.ToUpper(strings.TrimSpace(id)))
	if err != nil {
		return nil, err
	}
	if dep.Status != domain.DepositStatusUnderReview {
		return dep, domain.ErrIllegalTransition
	}

	st, err := uc.aggregator.GetCollectionStatus(ctx, dep.ID)
	if err != nil {
		return nil, fmt.Errorf("cannot verify with provider: %w", err)
	}
	if st.Status == domain.ProviderStatusSuccess {
		check, err := uc.status.ApplyProviderStatus(ctx, dep, st)
		if err != nil {
			return nil, err
		}
		if check.Outcome == domain.OutcomeConfirmed || check.Outcome == domain.OutcomeFailed {
			uc.scheduler.Cancel(dep.ID)
			uc.status.NotifyResult(ctx, check)
		}
		if check.Outcome != domain.OutcomeConfirmed {
			return check.Deposit, nil
		}
		return check.Deposit, ErrProviderConfirmed
	}

	if reason == "" {
		reason = "rejected by admin"
	}
	updated, err := uc.store.ApplyTransition(ctx, domain.Transition{
		DepositID:     dep.ID,
		From:          domain.DepositStatusUnderReview,
		To:            domain.DepositStatusFailed,
		FailureReason: reason,
	})
	if err != nil {
		return nil, err
	}
	uc.scheduler.Cancel(dep.ID)

	if err := uc.publisher.PublishDepositEvent(ctx, updated); err != nil {
		uc.logger.Warn("failed to publish deposit event", zap.String("deposit_id", updated.ID), zap.Error(err))
	}
	uc.status.NotifyResult(ctx, &domain.StatusCheck{Deposit: updated, Outcome: domain.OutcomeFailed, ProviderStatus: st.Status})

	uc.logger.Info("deposit rejected by admin",
		zap.String("deposit_id", updated.ID),
		zap.String("provider_status", st.Status))
	return updated, nil
}
