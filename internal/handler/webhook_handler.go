// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SHANKHAN254/fys-investment-bot/internal/usecase"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/response"

	"go.uber.org/zap"
)

type WebhookHandler struct {
	conversationUC *usecase.ConversationUsecase
	logger         *zap.Logger
}

func NewWebhookHandler(conversationUC *usecase.ConversationUsecase, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		conversationUC: conversationUC,
		logger:         logger,
	}
}

// InboundMessageRequest is the payload the WhatsApp gateway posts for each message.
type InboundMessageRequest struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	FromMe    bool   `json:"from_me"`
}

// HandleWhatsAppMessage runs the conversation for one inbound message before acknowledging,
// so that a sender's messages are processed in arrival order.
func (h *WebhookHandler) HandleWhatsAppMessage(w http.ResponseWriter, r *http.Request) {
	var req InboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid whatsapp webhook payload", zap.Error(err))
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" {
		response.Error(w, http.StatusBadRequest, "from is required")
		return
	}

	h.logger.Debug("whatsapp message received",
		zap.String("message_id", req.MessageID),
		zap.String("from", req.From),
		zap.Bool("from_me", req.FromMe))

	// replies must go out even if the gateway drops the connection
	ctx := context.WithoutCancel(r.Context())
	h.conversationUC.HandleMessage(ctx, usecase.InboundMessage{
		ID:     req.MessageID,
		From:   req.From,
		Body:   req.Body,
		FromMe: req.FromMe,
	})

	response.Message(w, http.StatusOK, "received")
}
