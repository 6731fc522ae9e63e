// internal/provider/payhero/payhero.go
package payhero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/SHANKHAN254/fys-investment-bot/config"
	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const providerName = "payhero"

// errUndecodableResponse marks a 2xx answer whose body could not be decoded.
var errUndecodableResponse = errors.New("undecodable response body")

type PayHeroProvider struct {
	config     config.PayHeroConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewPayHeroProvider(cfg config.PayHeroConfig, logger *zap.Logger) *PayHeroProvider {
	return &PayHeroProvider{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (p *PayHeroProvider) GetName() string {
	return providerName
}

// ============================================
// STK PUSH
// ============================================

type paymentRequest struct {
	Amount            json.Number `json:"amount"`
	PhoneNumber       string      `json:"phone_number"`
	ChannelID         int         `json:"channel_id"`
	Provider          string      `json:"provider"`
	ExternalReference string      `json:"external_reference"`
	CustomerName      string      `json:"customer_name"`
	CallbackURL       string      `json:"callback_url"`
}

type paymentResponse struct {
	Success           bool   `json:"success"`
	Status            string `json:"status"`
	Reference         string `json:"reference"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// RequestCollection initiates an M-Pesa STK push through PayHero.
func (p *PayHeroProvider) RequestCollection(ctx context.Context, req provider.CollectionRequest) (*provider.CollectionResponse, error) {
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = p.config.CallbackURL
	}

	payload := paymentRequest{
		Amount:            json.Number(req.Amount.String()),
		PhoneNumber:       req.MSISDN,
		ChannelID:         p.config.ChannelID,
		Provider:          p.config.Provider,
		ExternalReference: req.Reference,
		CustomerName:      p.config.CustomerName,
		CallbackURL:       callbackURL,
	}

	var resp paymentResponse
	err := p.makeRequest(ctx, http.MethodPost, p.config.PaymentsURL, payload, &resp)
	switch {
	case errors.Is(err, errUndecodableResponse):
		// 2xx already means the push went out
		p.logger.Warn("payhero accepted stk push with unreadable body",
			zap.String("reference", req.Reference),
			zap.Error(err))
		resp = paymentResponse{}
	case err != nil:
		p.logger.Warn("payhero stk push failed",
			zap.String("reference", req.Reference),
			zap.Error(err))
		return nil, err
	}

	ref := resp.Reference
	if ref == "" {
		ref = req.Reference
	}

	p.logger.Info("payhero stk push accepted",
		zap.String("reference", req.Reference),
		zap.String("provider_reference", ref),
		zap.String("status", resp.Status))

	return &provider.CollectionResponse{
		Accepted:          true,
		Reference:         ref,
		CheckoutRequestID: resp.CheckoutRequestID,
		Status:            resp.Status,
	}, nil
}

// ============================================
// TRANSACTION STATUS
// ============================================

type statusResponse struct {
	Status            string      `json:"status"`
	ProviderReference string      `json:"provider_reference"`
	Reference         string      `json:"reference"`
	Amount            json.Number `json:"amount"`
}

func (p *PayHeroProvider) GetCollectionStatus(ctx context.Context, reference string) (*provider.CollectionStatus, error) {
	u, err := url.Parse(p.config.StatusURL)
	if err != nil {
		return nil, fmt.Errorf("invalid status url: %w", err)
	}
	q := u.Query()
	q.Set("reference", reference)
	u.RawQuery = q.Encode()

	var resp statusResponse
	if err := p.makeRequest(ctx, http.MethodGet, u.String(), nil, &resp); err != nil {
		return nil, err
	}

	status := &provider.CollectionStatus{
		Status:       resp.Status,
		ProviderCode: resp.ProviderReference,
	}
	if resp.Amount != "" {
		if amt, err := decimal.NewFromString(resp.Amount.String()); err == nil {
			status.Amount = amt
		}
	}
	return status, nil
}

// ============================================
// CALLBACK
// ============================================

type callbackPayload struct {
	Status   bool `json:"status"`
	Response struct {
		Amount             json.Number `json:"Amount"`
		CheckoutRequestID  string      `json:"CheckoutRequestID"`
		ExternalReference  string      `json:"ExternalReference"`
		MerchantRequestID  string      `json:"MerchantRequestID"`
		MpesaReceiptNumber string      `json:"MpesaReceiptNumber"`
		Phone              string      `json:"Phone"`
		ResultCode         int         `json:"ResultCode"`
		ResultDesc         string      `json:"ResultDesc"`
		Status             string      `json:"Status"`
	} `json:"response"`
}

// ParseCallback parses the body PayHero posts to callback_url.
func (p *PayHeroProvider) ParseCallback(payload []byte) (*provider.CallbackResult, error) {
	var cb callbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("failed to parse callback: %w", err)
	}
	if cb.Response.ExternalReference == "" {
		return nil, errors.New("callback missing external reference")
	}

	result := &provider.CallbackResult{
		ExternalReference: cb.Response.ExternalReference,
		ProviderCode:      cb.Response.MpesaReceiptNumber,
		ResultCode:        cb.Response.ResultCode,
		ResultDescription: cb.Response.ResultDesc,
		PhoneNumber:       cb.Response.Phone,
		Success:           cb.Response.ResultCode == 0 && strings.EqualFold(cb.Response.Status, "success"),
	}
	if cb.Response.Amount != "" {
		if amt, err := decimal.NewFromString(cb.Response.Amount.String()); err == nil {
			result.Amount = amt
		}
	}
	return result, nil
}

// ============================================
// HELPER METHODS
// ============================================

func (p *PayHeroProvider) makeRequest(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", domain.ErrAggregatorTransport, err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAggregatorTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.config.AuthToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAggregatorTransport, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrAggregatorTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.AggregatorRejectedError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}

	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("%w: %w: %v", domain.ErrAggregatorTransport, errUndecodableResponse, err)
	}
	return nil
}
