// internal/events/publisher.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DepositEventsChannel = "deposit_events"

const (
	EventDepositCreated     = "deposit.created"
	EventDepositUnderReview = "deposit.under_review"
	EventDepositConfirmed   = "deposit.confirmed"
	EventDepositFailed      = "deposit.failed"
)

type Publisher interface {
	PublishDepositEvent(ctx context.Context, deposit *domain.DepositRequest) error
}

type DepositEvent struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	DepositID    string          `json:"deposit_id"`
	OwnerID      string          `json:"owner_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	MSISDN       string          `json:"msisdn"`
	ProviderRef  string          `json:"provider_reference,omitempty"`
	ProviderCode string          `json:"provider_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// EventTypeFor maps a deposit status onto its event type.
func EventTypeFor(status domain.DepositStatus) string {
	switch status {
	case domain.DepositStatusUnderReview:
		return EventDepositUnderReview
	case domain.DepositStatusConfirmed:
		return EventDepositConfirmed
	case domain.DepositStatusFailed:
		return EventDepositFailed
	default:
		return EventDepositCreated
	}
}

func NewDepositEvent(d *domain.DepositRequest, now time.Time) *DepositEvent {
	ev := &DepositEvent{
		EventID:   uuid.NewString(),
		EventType: EventTypeFor(d.Status),
		DepositID: d.ID,
		OwnerID:   d.OwnerID,
		Status:    string(d.Status),
		Amount:    d.Amount,
		Currency:  "KES",
		MSISDN:    d.MSISDN,
		Timestamp: now,
	}
	if d.ProviderReference != nil {
		ev.ProviderRef = *d.ProviderReference
	}
	if d.ProviderCode != nil {
		ev.ProviderCode = *d.ProviderCode
	}
	if d.FailureReason != nil {
		ev.ErrorMessage = *d.FailureReason
	}
	return ev
}

type RedisPublisher struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

func NewRedisPublisher(rdb redis.UniversalClient, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger}
}

func (p *RedisPublisher) PublishDepositEvent(ctx context.Context, deposit *domain.DepositRequest) error {
	event := NewDepositEvent(deposit, time.Now())

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, DepositEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("deposit event published",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.String("deposit_id", event.DepositID))
	return nil
}

// NopPublisher is used when redis is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishDepositEvent(context.Context, *domain.DepositRequest) error { return nil }
