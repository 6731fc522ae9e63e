// internal/domain/deposit.go
package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositStatusInitiating  DepositStatus = "initiating"
	DepositStatusUnderReview DepositStatus = "under_review"
	DepositStatusConfirmed   DepositStatus = "confirmed"
	DepositStatusFailed      DepositStatus = "failed"
)

// Provider status values compared case-sensitively against the aggregator response.
const (
	ProviderStatusSuccess = "SUCCESS"
	ProviderStatusFailed  = "FAILED"
)

// IsTerminal reports whether no further transition is permitted.
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusConfirmed || s == DepositStatusFailed
}

func (s DepositStatus) Valid() bool {
	switch s {
	case DepositStatusInitiating, DepositStatusUnderReview, DepositStatusConfirmed, DepositStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo enforces the forward-only lifecycle:
// initiating -> under_review | failed, under_review -> confirmed | failed.
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	switch s {
	case DepositStatusInitiating:
		return next == DepositStatusUnderReview || next == DepositStatusFailed
	case DepositStatusUnderReview:
		return next == DepositStatusConfirmed || next == DepositStatusFailed
	default:
		return false
	}
}

// DepositRequest is one STK push attempt owned by a single user.
type DepositRequest struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	Amount            decimal.Decimal `json:"amount"`
	MSISDN            string          `json:"msisdn"`
	Status            DepositStatus   `json:"status"`
	ProviderReference *string         `json:"provider_reference,omitempty"`
	ProviderCode      *string         `json:"provider_code,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// AmountScale is the number of decimal places money amounts may carry; the
// Postgres columns are NUMERIC(18,2).
const AmountScale = 2

// ValidateScale rejects amounts with more than AmountScale decimal places.
func ValidateScale(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return &ValidationError{Field: field, Reason: "must have at most 2 decimal places"}
	}
	return nil
}

// DepositRules are the creation-time constraints for a deposit.
type DepositRules struct {
	Min          decimal.Decimal
	Max          decimal.Decimal
	PhonePattern *regexp.Regexp
}

func (r DepositRules) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if err := ValidateScale("amount", amount); err != nil {
		return err
	}
	if amount.LessThan(r.Min) || amount.GreaterThan(r.Max) {
		return &ValidationError{Field: "amount", Reason: "must be between " + r.Min.String() + " and " + r.Max.String()}
	}
	return nil
}

func (r DepositRules) ValidatePhone(phone string) error {
	if r.PhonePattern == nil || !r.PhonePattern.MatchString(phone) {
		return &ValidationError{Field: "phone", Reason: "does not match the required format"}
	}
	return nil
}

// NewDepositRequest validates input and builds a deposit in the initiating state.
func NewDepositRequest(id, ownerID string, amount decimal.Decimal, msisdn string, rules DepositRules, now time.Time) (*DepositRequest, error) {
	if err := rules.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := rules.ValidatePhone(msisdn); err != nil {
		return nil, err
	}

	return &DepositRequest{
		ID:        id,
		OwnerID:   ownerID,
		Amount:    amount,
		MSISDN:    msisdn,
		Status:    DepositStatusInitiating,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy so callers never share pointers into store state.
func (d *DepositRequest) Clone() *DepositRequest {
	if d == nil {
		return nil
	}
	c := *d
	c.ProviderReference = cloneString(d.ProviderReference)
	c.ProviderCode = cloneString(d.ProviderCode)
	c.FailureReason = cloneString(d.FailureReason)
	return &c
}

// Transition describes a compare-and-set on a deposit's status.
type Transition struct {
	DepositID         string
	From              DepositStatus
	To                DepositStatus
	ProviderReference string
	ProviderCode      string
	FailureReason     string
}

// Apply mutates d according to t. It does not touch balances.
func (t Transition) Apply(d *DepositRequest, now time.Time) error {
	if d.Status != t.From {
		return ErrStaleTransition
	}
	if !t.From.CanTransitionTo(t.To) {
		return ErrIllegalTransition
	}

	d.Status = t.To
	d.UpdatedAt = now
	if t.ProviderReference != "" {
		ref := t.ProviderReference
		d.ProviderReference = &ref
	}
	if t.ProviderCode != "" {
		code := t.ProviderCode
		d.ProviderCode = &code
	}
	if t.FailureReason != "" {
		reason := t.FailureReason
		d.FailureReason = &reason
	}
	return nil
}

// StatusOutcome classifies the result of a provider status check.
type StatusOutcome string

const (
	OutcomeConfirmed    StatusOutcome = "confirmed"
	OutcomeFailed       StatusOutcome = "failed"
	OutcomePending      StatusOutcome = "pending"
	OutcomeUnknown      StatusOutcome = "unknown"
	OutcomeAlreadyFinal StatusOutcome = "already_final"
)

// StatusCheck is the result of checking one deposit against the aggregator.
type StatusCheck struct {
	Deposit        *DepositRequest
	Outcome        StatusOutcome
	ProviderStatus string
	ProviderCode   string
}

func (c *StatusCheck) Final() bool {
	return c.Outcome == OutcomeConfirmed || c.Outcome == OutcomeFailed || c.Outcome == OutcomeAlreadyFinal
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
