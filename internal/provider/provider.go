// internal/provider/provider.go
package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentAggregator is the mobile-money collection gateway used for deposits.
type PaymentAggregator interface {
	// GetName returns the provider name used in logs and events.
	GetName() string

	// RequestCollection asks the aggregator to send an STK push to the payer.
	// Any 2xx answer means accepted. Explicit refusals are returned as
	// *domain.AggregatorRejectedError and network failures wrap domain.ErrAggregatorTransport.
	RequestCollection(ctx context.Context, req CollectionRequest) (*CollectionResponse, error)

	// GetCollectionStatus queries the current status of a previously requested collection.
	GetCollectionStatus(ctx context.Context, reference string) (*CollectionStatus, error)

	// ParseCallback decodes the asynchronous result the aggregator posts to the callback URL.
	ParseCallback(payload []byte) (*CallbackResult, error)
}

type CollectionRequest struct {
	Amount    decimal.Decimal
	MSISDN    string
	Reference string

	// CallbackURL overrides the configured callback URL for this collection.
	CallbackURL string
}

type CollectionResponse struct {
	Accepted bool
	// Reference is the aggregator's own reference, falling back to the one we sent.
	Reference         string
	CheckoutRequestID string
	Status            string
}

type CollectionStatus struct {
	// Status is compared case-sensitively against domain.ProviderStatusSuccess / Failed.
	Status       string
	ProviderCode string

	// Amount is what the payer was charged; zero when the provider does not report it.
	Amount decimal.Decimal
}

type CallbackResult struct {
	ExternalReference string
	ProviderCode      string
	Success           bool
	ResultCode        int
	ResultDescription string
	Amount            decimal.Decimal
	PhoneNumber       string
}

// Status maps the callback onto the status vocabulary used by GetCollectionStatus.
func (c *CallbackResult) Status() string {
	if c.Success {
		return "SUCCESS"
	}
	return "FAILED"
}
