// Package session keeps per-owner conversation state.
package session

import (
	"context"
	"errors"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
)

var ErrNotFound = errors.New("session not found")

type Store interface {
	// Get returns ErrNotFound when the owner has no session or it expired.
	Get(ctx context.Context, ownerID string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, ownerID string) error
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	if s.PendingAmount != nil {
		amount := *s.PendingAmount
		c.PendingAmount = &amount
	}
	return &c
}
