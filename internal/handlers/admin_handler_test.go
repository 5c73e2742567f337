package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdminHandler(svc AdminServiceInterface) *AdminHandler {
	return NewAdminHandler(svc, slog.New(slog.DiscardHandler))
}

func TestParseEventFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/admin/security-events?account_id=acc-1&kind=login_failure,MULTIPLE_LOGIN_FAILURES&severity=high&resolved=false&from=2026-03-01T00:00:00Z&limit=20&offset=40", nil)

	filter, err := parseEventFilter(req)
	require.NoError(t, err)

	assert.Equal(t, "acc-1", filter.AccountID)
	assert.Equal(t, []models.EventKind{models.EventLoginFailure, models.EventMultipleLoginFailures}, filter.Kinds)
	assert.Equal(t, []models.Severity{models.SeverityHigh}, filter.Severities)
	require.NotNil(t, filter.Resolved)
	assert.False(t, *filter.Resolved)
	require.NotNil(t, filter.From)
	assert.True(t, filter.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, filter.To)
	assert.Equal(t, 20, filter.Limit)
	assert.Equal(t, 40, filter.Offset)
}

func TestParseEventFilter_Rejects(t *testing.T) {
	tests := map[string]string{
		"kind":     "kind=LOGGED_IN",
		"severity": "severity=urgent",
		"resolved": "resolved=maybe",
		"from":     "from=yesterday",
		"limit":    "limit=-1",
		"offset":   "offset=x",
	}

	for field, query := range tests {
		t.Run(field, func(t *testing.T) {
			_, err := parseEventFilter(httptest.NewRequest(http.MethodGet, "/admin/security-events?"+query, nil))
			var ve *models.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, field, ve.Field)
		})
	}
}

func TestListSecurityEvents(t *testing.T) {
	account := "acc-1"
	svc := &MockAdminService{
		ListEventsFunc: func(_ context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
			assert.Equal(t, "acc-1", filter.AccountID)
			return []*models.SecurityEvent{{
				ID:        "ev-1",
				AccountID: &account,
				Kind:      models.EventLoginFailure,
				Severity:  models.SeverityMedium,
				CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			}}, nil
		},
	}

	w := httptest.NewRecorder()
	newTestAdminHandler(svc).ListSecurityEvents(w, httptest.NewRequest(http.MethodGet, "/admin/security-events?account_id=acc-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp SecurityEventsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, models.EventLoginFailure, resp.Events[0].Kind)
	assert.NotNil(t, resp.Events[0].Details)
	assert.Equal(t, models.DefaultEventPageSize, resp.Limit)
}

func TestListSecurityEvents_BadFilter(t *testing.T) {
	w := httptest.NewRecorder()
	newTestAdminHandler(&MockAdminService{}).ListSecurityEvents(w, httptest.NewRequest(http.MethodGet, "/admin/security-events?severity=urgent", nil))

	resp := assertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
	assert.Equal(t, "severity", resp.Details)
}

func TestChangeRole(t *testing.T) {
	svc := &MockAdminService{
		ChangeRoleFunc: func(_ context.Context, accountID string, role models.Role, actorID string) (*models.Profile, error) {
			if accountID == actorID {
				return nil, models.ErrForbidden
			}
			return &models.Profile{ID: accountID, Role: role}, nil
		},
	}
	handler := newTestAdminHandler(svc)

	req := withURLParam(withClaims(newTestRequest(t, http.MethodPut, "/admin/accounts/acc-2/role", ChangeRoleRequest{Role: models.RoleDomainAdmin}), "admin-1", "s"), "id", "acc-2")
	w := httptest.NewRecorder()
	handler.ChangeRole(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = withURLParam(withClaims(newTestRequest(t, http.MethodPut, "/admin/accounts/admin-1/role", ChangeRoleRequest{Role: models.RoleUser}), "admin-1", "s"), "id", "admin-1")
	w = httptest.NewRecorder()
	handler.ChangeRole(w, req)
	assertErrorResponse(t, w, http.StatusForbidden, "forbidden")

	req = withURLParam(withClaims(newTestRequest(t, http.MethodPut, "/admin/accounts/acc-2/role", ChangeRoleRequest{Role: "owner"}), "admin-1", "s"), "id", "acc-2")
	w = httptest.NewRecorder()
	handler.ChangeRole(w, req)
	resp := assertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
	assert.Equal(t, "role", resp.Details)
}

func TestSetActive_RequiresFlag(t *testing.T) {
	req := withURLParam(withClaims(newTestRequest(t, http.MethodPut, "/admin/accounts/acc-2/active", map[string]any{}), "admin-1", "s"), "id", "acc-2")
	w := httptest.NewRecorder()
	newTestAdminHandler(&MockAdminService{}).SetActive(w, req)

	resp := assertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
	assert.Equal(t, "active", resp.Details)
}

func TestUnlockAccount(t *testing.T) {
	svc := &MockAdminService{
		UnlockFunc: func(_ context.Context, accountID, actorID string) error {
			assert.Equal(t, "acc-2", accountID)
			assert.Equal(t, "admin-1", actorID)
			return nil
		},
	}

	req := withURLParam(withClaims(httptest.NewRequest(http.MethodPost, "/admin/accounts/acc-2/unlock", nil), "admin-1", "s"), "id", "acc-2")
	w := httptest.NewRecorder()
	newTestAdminHandler(svc).UnlockAccount(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
