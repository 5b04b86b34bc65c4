package handlers

import (
	"context"
	"net/http"

	"github.com/bastionauth/bastion/internal/background"
	pkghttp "github.com/bastionauth/bastion/pkg/http"
)

// ReclaimTrigger runs a reclaim pass on demand with scheduled-run semantics
type ReclaimTrigger interface {
	RunNow(ctx context.Context) (background.ReclaimResult, error)
}

// AdminHandler exposes operational endpoints
type AdminHandler struct {
	reclaimer ReclaimTrigger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(reclaimer ReclaimTrigger) *AdminHandler {
	return &AdminHandler{reclaimer: reclaimer}
}

// TriggerReclaim runs one lockout reclaim pass immediately. It blocks until
// any in-flight scheduled run completes, then executes with the same
// semantics.
func (h *AdminHandler) TriggerReclaim(w http.ResponseWriter, r *http.Request) {
	result, err := h.reclaimer.RunNow(r.Context())
	if err != nil {
		pkghttp.WriteServiceUnavailable(w, "Reclaim run failed. Check service logs.")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
