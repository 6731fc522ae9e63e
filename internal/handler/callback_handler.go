// internal/handler/callback_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxCallbackBytes = 1 << 20

type CallbackHandler struct {
	callbackUC *usecase.CallbackUsecase
	logger     *zap.Logger
}

func NewCallbackHandler(callbackUC *usecase.CallbackUsecase, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbackUC: callbackUC,
		logger:     logger,
	}
}

// HandlePayHeroCallback re-checks a deposit when PayHero posts its asynchronous result
// to /callbacks/payhero/{token}. Unknown or already settled deposits are acknowledged
// so PayHero stops retrying.
func (h *CallbackHandler) HandlePayHeroCallback(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("received PayHero callback", zap.String("remote_addr", r.RemoteAddr))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		h.logger.Error("failed to read callback payload", zap.Error(err))
		h.sendCallbackResponse(w, http.StatusBadRequest, 1, "Failed to read payload")
		return
	}

	token := chi.URLParam(r, "token")
	check, err := h.callbackUC.ProcessCallback(context.WithoutCancel(r.Context()), token, payload)
	switch {
	case errors.Is(err, domain.ErrInvalidCallbackToken):
		h.logger.Warn("callback with invalid token", zap.String("remote_addr", r.RemoteAddr))
		h.sendCallbackResponse(w, http.StatusUnauthorized, 1, "Unauthorized")
		return
	case errors.Is(err, domain.ErrDepositNotFound):
		h.logger.Warn("callback for unknown deposit", zap.Int("payload_size", len(payload)))
		h.sendCallbackResponse(w, http.StatusOK, 0, "Unknown reference ignored")
		return
	case errors.Is(err, domain.ErrPersistence):
		h.logger.Error("failed to persist callback result", zap.Error(err))
		h.sendCallbackResponse(w, http.StatusInternalServerError, 1, "Temporary failure")
		return
	case err != nil:
		h.logger.Warn("rejected callback payload", zap.Error(err))
		h.sendCallbackResponse(w, http.StatusBadRequest, 1, "Invalid payload")
		return
	}

	h.logger.Info("PayHero callback processed",
		zap.String("deposit_id", check.Deposit.ID),
		zap.String("outcome", string(check.Outcome)))
	h.sendCallbackResponse(w, http.StatusOK, 0, "Success")
}

func (h *CallbackHandler) sendCallbackResponse(w http.ResponseWriter, status, resultCode int, resultDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"ResultCode": resultCode,
		"ResultDesc": resultDesc,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode callback response", zap.Error(err))
	}
}
