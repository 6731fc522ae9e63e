package handler

import (
	"net/http"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/pkg/response"
)

type HealthHandler struct {
	started time.Time
	pending func() int
}

// NewHealthHandler reports uptime and, when pending is set, the number of queued status checks.
func NewHealthHandler(pending func() int) *HealthHandler {
	return &HealthHandler{started: time.Now(), pending: pending}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.pending != nil {
		data["pending_status_checks"] = h.pending()
	}
	response.JSON(w, http.StatusOK, data)
}
