// internal/messaging/whatsapp.go
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/config"

	"go.uber.org/zap"
)

// WhatsAppGateway sends text messages through the QR-session REST gateway.
type WhatsAppGateway struct {
	url    string
	token  string
	sender string
	client *http.Client
	logger *zap.Logger
}

func NewWhatsAppGateway(cfg config.WhatsAppConfig, logger *zap.Logger) *WhatsAppGateway {
	return &WhatsAppGateway{
		url:    cfg.URL,
		token:  cfg.Token,
		sender: cfg.Sender,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type gatewayMessage struct {
	MessageType string `json:"messageType"`
	RequestType string `json:"requestType"`
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Text        string `json:"text"`
}

func (g *WhatsAppGateway) Send(ctx context.Context, recipient, text string) error {
	start := time.Now()
	to := NormalizeChatID(recipient)

	body, err := json.Marshal(gatewayMessage{
		MessageType: "text",
		RequestType: "POST",
		Token:       g.token,
		From:        g.sender,
		To:          to,
		Text:        text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal WhatsApp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create WhatsApp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("whatsapp http error",
			zap.String("recipient", to),
			zap.Error(err))
		return fmt.Errorf("WhatsApp HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("whatsapp send failed",
			zap.String("recipient", to),
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(respBody)))
		return fmt.Errorf("WhatsApp API returned status %d", resp.StatusCode)
	}

	g.logger.Debug("whatsapp message sent",
		zap.String("recipient", to),
		zap.Duration("duration", time.Since(start)))
	return nil
}
