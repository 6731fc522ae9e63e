// internal/domain/user.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the per-owner record persisted by the state store. It owns its deposits.
type User struct {
	OwnerID   string            `json:"owner_id"`
	Balance   decimal.Decimal   `json:"balance"`
	Banned    bool              `json:"banned"`
	CreatedAt time.Time         `json:"created_at"`
	Deposits  []*DepositRequest `json:"deposits"`
}

func NewUser(ownerID string, now time.Time) *User {
	return &User{
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		Deposits:  []*DepositRequest{},
	}
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Deposits = make([]*DepositRequest, 0, len(u.Deposits))
	for _, d := range u.Deposits {
		c.Deposits = append(c.Deposits, d.Clone())
	}
	return &c
}

// FindDeposit returns the deposit with id, or nil.
func (u *User) FindDeposit(id string) *DepositRequest {
	for _, d := range u.Deposits {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Settings are the admin-tunable bot parameters.
type Settings struct {
	MinDeposit     decimal.Decimal `json:"min_deposit"`
	MaxDeposit     decimal.Decimal `json:"max_deposit"`
	WelcomeMessage string          `json:"welcome_message"`
}

func (s Settings) ValidateBounds() error {
	if !s.MinDeposit.IsPositive() || s.MaxDeposit.LessThan(s.MinDeposit) {
		return ErrInvalidBounds
	}
	return nil
}
