// internal/messaging/sender.go
package messaging

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// NormalizeChatID strips the "@c.us" suffix and any non-digits, leaving the MSISDN the gateway expects.
func NormalizeChatID(chatID string) string {
	id, _, _ := strings.Cut(chatID, "@")
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ChatID is the inverse of NormalizeChatID for Kenyan numbers, so "0712345678"
// and "254712345678" both become "254712345678@c.us".
func ChatID(phone string) string {
	digits := NormalizeChatID(phone)
	if strings.HasPrefix(digits, "0") && len(digits) == 10 {
		digits = "254" + digits[1:]
	}
	return digits + "@c.us"
}

// LogSender writes outbound messages to the log instead of a gateway.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(ctx context.Context, recipient, text string) error {
	l.logger.Info("outbound message",
		zap.String("recipient", recipient),
		zap.String("text", text))
	return nil
}
