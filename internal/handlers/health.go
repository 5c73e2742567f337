package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves /health. A nil checker means the in-memory store.
type HealthHandler struct {
	checker HealthChecker
}

func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		pkghttp.WriteJSON(w, http.StatusOK, healthResponse{Status: "healthy", Storage: "memory"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.checker.HealthCheck(ctx); err != nil {
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Storage: "down"})
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, healthResponse{Status: "healthy", Storage: "up"})
}
