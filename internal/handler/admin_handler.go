// internal/handler/admin_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/internal/messaging"
	"github.com/SHANKHAN254/fys-investment-bot/internal/middleware"
	"github.com/SHANKHAN254/fys-investment-bot/internal/repository"
	"github.com/SHANKHAN254/fys-investment-bot/internal/usecase"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AdminHandler struct {
	adminUC *usecase.AdminUsecase
	logger  *zap.Logger
}

func NewAdminHandler(adminUC *usecase.AdminUsecase, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		adminUC: adminUC,
		logger:  logger,
	}
}

type BoundsRequest struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

type WelcomeRequest struct {
	Message string `json:"message"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type CreditRequest struct {
	// Amount may be negative to debit.
	Amount decimal.Decimal `json:"amount"`
}

type BroadcastRequest struct {
	Recipients []string `json:"recipients"`
	Text       string   `json:"text"`
}

func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.adminUC.GetSettings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, settings)
}

func (h *AdminHandler) UpdateBounds(w http.ResponseWriter, r *http.Request) {
	var req BoundsRequest
	if !h.decode(w, r, &req) {
		return
	}
	settings, err := h.adminUC.SetDepositBounds(r.Context(), req.Min, req.Max)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "update_bounds", zap.String("min", req.Min.String()), zap.String("max", req.Max.String()))
	response.JSON(w, http.StatusOK, settings)
}

func (h *AdminHandler) UpdateWelcome(w http.ResponseWriter, r *http.Request) {
	var req WelcomeRequest
	if !h.decode(w, r, &req) {
		return
	}
	settings, err := h.adminUC.SetWelcomeMessage(r.Context(), req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "update_welcome")
	response.JSON(w, http.StatusOK, settings)
}

// ListDeposits accepts optional status, owner and limit query parameters.
func (h *AdminHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DepositFilter{Status: domain.DepositStatus(strings.ToLower(q.Get("status")))}
	if filter.Status != "" && !filter.Status.Valid() {
		response.Error(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	if owner := q.Get("owner"); owner != "" {
		filter.OwnerID = messaging.ChatID(owner)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	deposits, err := h.adminUC.ListDeposits(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, deposits)
}

func (h *AdminHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	dep, err := h.adminUC.GetDepositByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, dep)
}

func (h *AdminHandler) RecheckDeposit(w http.ResponseWriter, r *http.Request) {
	check, err := h.adminUC.RecheckDeposit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "recheck_deposit", zap.String("deposit_id", check.Deposit.ID), zap.String("outcome", string(check.Outcome)))
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"outcome":         check.Outcome,
		"provider_status": check.ProviderStatus,
		"deposit":         check.Deposit,
	})
}

func (h *AdminHandler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	dep, err := h.adminUC.RejectDeposit(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Reason))
	switch {
	case errors.Is(err, usecase.ErrProviderConfirmed):
		response.Error(w, http.StatusConflict, "provider reports "+dep.ID+" as paid; it was confirmed instead")
		return
	case errors.Is(err, domain.ErrIllegalTransition) && dep != nil:
		response.Error(w, http.StatusConflict, dep.ID+" is already "+string(dep.Status))
		return
	case err != nil:
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "reject_deposit", zap.String("deposit_id", dep.ID))
	response.JSON(w, http.StatusOK, dep)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.adminUC.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, users)
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.adminUC.GetUser(r.Context(), ownerParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, u)
}

func (h *AdminHandler) CreditUser(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	owner := ownerParam(r)
	u, err := h.adminUC.CreditUserBalance(r.Context(), owner, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "adjust_balance", zap.String("owner_id", owner), zap.String("delta", req.Amount.String()))
	response.JSON(w, http.StatusOK, u)
}

func (h *AdminHandler) BanUser(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	u, err := h.adminUC.BanUser(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "ban_user", zap.String("owner_id", owner))
	response.JSON(w, http.StatusOK, u)
}

func (h *AdminHandler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	u, err := h.adminUC.UnbanUser(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "unban_user", zap.String("owner_id", owner))
	response.JSON(w, http.StatusOK, u)
}

func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.adminUC.Broadcast(r.Context(), req.Recipients, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "broadcast", zap.Int("sent", len(res.Sent)), zap.Int("failed", len(res.Failed)))
	response.JSON(w, http.StatusOK, res)
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *AdminHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidationError(err):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidBounds):
		response.Error(w, http.StatusBadRequest, "min must be above zero and not exceed max")
	case errors.Is(err, domain.ErrDepositNotFound), errors.Is(err, domain.ErrUserNotFound):
		response.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAggregatorTransport):
		response.Error(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("admin request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *AdminHandler) audit(r *http.Request, action string, fields ...zap.Field) {
	adminID, _ := middleware.GetAdminID(r.Context())
	h.logger.Info("admin action",
		append([]zap.Field{zap.String("admin_id", adminID), zap.String("action", action)}, fields...)...)
}

// ownerParam accepts a chat id or a bare phone number.
func ownerParam(r *http.Request) string {
	return messaging.ChatID(chi.URLParam(r, "owner"))
}
