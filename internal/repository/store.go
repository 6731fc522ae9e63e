// internal/repository/store.go
package repository

import (
	"context"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"

	"github.com/shopspring/decimal"
)

// Store persists users, their deposits and the bot settings.
type Store interface {
	// CreateDeposit stores a new deposit, creating its owner on first use.
	CreateDeposit(ctx context.Context, deposit *domain.DepositRequest) error
	GetDeposit(ctx context.Context, id string) (*domain.DepositRequest, error)
	ListDeposits(ctx context.Context, filter DepositFilter) ([]*domain.DepositRequest, error)

	// ApplyTransition is a compare-and-set on the deposit status. When the
	// target is confirmed the owner's balance is credited in the same write.
	// It returns domain.ErrStaleTransition when the current status is not t.From.
	ApplyTransition(ctx context.Context, t domain.Transition) (*domain.DepositRequest, error)

	EnsureUser(ctx context.Context, ownerID string) (*domain.User, error)
	GetUser(ctx context.Context, ownerID string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	// AdjustBalance adds delta (which may be negative) to the owner's balance.
	// The balance never goes below zero.
	AdjustBalance(ctx context.Context, ownerID string, delta decimal.Decimal) (*domain.User, error)
	SetBanned(ctx context.Context, ownerID string, banned bool) (*domain.User, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) error

	Close()
}

type DepositFilter struct {
	OwnerID string
	Status  domain.DepositStatus
	Limit   int
}

func (f DepositFilter) matches(d *domain.DepositRequest) bool {
	if f.OwnerID != "" && d.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	return true
}
