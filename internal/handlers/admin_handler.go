package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the administrative operations of the auth core.
type AdminServiceInterface interface {
	AdminUnlock(ctx context.Context, accountID, actorID string) error
	ChangeRole(ctx context.Context, accountID string, role models.Role, actorID string) (*models.Profile, error)
	SetAccountActive(ctx context.Context, accountID string, active bool, actorID string) (*models.Profile, error)
	ListSecurityEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	ResolveSecurityEvent(ctx context.Context, eventID, actorID string) (*models.SecurityEvent, error)
}

// AdminHandler handles account administration and security event review.
type AdminHandler struct {
	service AdminServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// ChangeRoleRequest assigns a new role
type ChangeRoleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=super_admin domain_admin user"`
}

// SetActiveRequest enables or disables an account
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SecurityEventResponse is the wire form of a security event
type SecurityEventResponse struct {
	ID         string              `json:"id"`
	AccountID  *string             `json:"account_id"`
	Kind       models.EventKind    `json:"kind"`
	Severity   models.Severity     `json:"severity"`
	Details    models.EventDetails `json:"details"`
	IPAddress  string              `json:"ip_address,omitempty"`
	UserAgent  string              `json:"user_agent,omitempty"`
	Resolved   bool                `json:"resolved"`
	ResolvedBy *string             `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// SecurityEventsResponse is one page of events, newest first
type SecurityEventsResponse struct {
	Events []SecurityEventResponse `json:"events"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

func toSecurityEventResponse(e *models.SecurityEvent) SecurityEventResponse {
	details := e.Details
	if details == nil {
		details = models.EventDetails{}
	}
	return SecurityEventResponse{
		ID:         e.ID,
		AccountID:  e.AccountID,
		Kind:       e.Kind,
		Severity:   e.Severity,
		Details:    details,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Resolved:   e.Resolved,
		ResolvedBy: e.ResolvedBy,
		ResolvedAt: e.ResolvedAt,
		CreatedAt:  e.CreatedAt,
	}
}

// UnlockAccount handles POST /admin/accounts/{id}/unlock
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	if err := h.service.AdminUnlock(r.Context(), chi.URLParam(r, "id"), claims.AccountID()); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangeRole handles PUT /admin/accounts/{id}/role
func (h *AdminHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	var req ChangeRoleRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	profile, err := h.service.ChangeRole(r.Context(), chi.URLParam(r, "id"), req.Role, claims.AccountID())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// SetActive handles PUT /admin/accounts/{id}/active
func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	var req SetActiveRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	profile, err := h.service.SetAccountActive(r.Context(), chi.URLParam(r, "id"), *req.Active, claims.AccountID())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// ListSecurityEvents handles GET /admin/security-events
// Filters: account_id, kind and severity (comma separated), resolved,
// from and to (RFC 3339), limit and offset.
func (h *AdminHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	events, err := h.service.ListSecurityEvents(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := SecurityEventsResponse{
		Events: make([]SecurityEventResponse, 0, len(events)),
		Limit:  filter.Normalize().Limit,
		Offset: filter.Normalize().Offset,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, toSecurityEventResponse(e))
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ResolveSecurityEvent handles POST /admin/security-events/{id}/resolve
func (h *AdminHandler) ResolveSecurityEvent(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	event, err := h.service.ResolveSecurityEvent(r.Context(), chi.URLParam(r, "id"), claims.AccountID())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toSecurityEventResponse(event))
}

func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	filter := models.EventFilter{AccountID: q.Get("account_id")}

	for _, raw := range splitList(q["kind"]) {
		kind, err := models.ParseEventKind(strings.ToUpper(raw))
		if err != nil {
			return filter, models.NewValidationError("kind", "unknown event kind "+raw)
		}
		filter.Kinds = append(filter.Kinds, kind)
	}

	for _, raw := range splitList(q["severity"]) {
		severity := models.Severity(strings.ToLower(raw))
		if !severity.Valid() {
			return filter, models.NewValidationError("severity", "unknown severity "+raw)
		}
		filter.Severities = append(filter.Severities, severity)
	}

	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			return filter, models.NewValidationError("resolved", "must be true or false")
		}
		filter.Resolved = &resolved
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, models.NewValidationError(p.name, "must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}

	var err error
	if filter.Limit, err = parseNonNegative(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseNonNegative(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseNonNegative(v, field string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, models.NewValidationError(field, "must be a non-negative integer")
	}
	return n, nil
}
