package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// EventKind enumerates security-relevant occurrences.
type EventKind string

const (
	EventAccountCreated             EventKind = "ACCOUNT_CREATED"
	EventLoginSuccess               EventKind = "LOGIN_SUCCESS"
	EventLoginFailure               EventKind = "LOGIN_FAILURE"
	EventMultipleLoginFailures      EventKind = "MULTIPLE_LOGIN_FAILURES" // lockout engaged
	EventAccountUnlocked            EventKind = "ACCOUNT_UNLOCKED"        // lockout lifted
	EventPasswordResetRequested     EventKind = "PASSWORD_RESET_REQUESTED"
	EventPasswordResetCompleted     EventKind = "PASSWORD_RESET_COMPLETED"
	EventEmailVerificationRequested EventKind = "EMAIL_VERIFICATION_REQUESTED"
	EventEmailVerified              EventKind = "EMAIL_VERIFIED"
	EventTwoFactorEnabled           EventKind = "TWO_FACTOR_ENABLED"
	EventTwoFactorDisabled          EventKind = "TWO_FACTOR_DISABLED"
	EventSuspiciousLoginAttempt     EventKind = "SUSPICIOUS_LOGIN_ATTEMPT"
	EventSessionTerminated          EventKind = "SESSION_TERMINATED"
	EventPasswordChanged            EventKind = "PASSWORD_CHANGED"
	EventRoleChanged                EventKind = "ROLE_CHANGED"
)

// AllEventKinds lists every kind in declaration order.
var AllEventKinds = []EventKind{
	EventAccountCreated,
	EventLoginSuccess,
	EventLoginFailure,
	EventMultipleLoginFailures,
	EventAccountUnlocked,
	EventPasswordResetRequested,
	EventPasswordResetCompleted,
	EventEmailVerificationRequested,
	EventEmailVerified,
	EventTwoFactorEnabled,
	EventTwoFactorDisabled,
	EventSuspiciousLoginAttempt,
	EventSessionTerminated,
	EventPasswordChanged,
	EventRoleChanged,
}

// Severity orders how urgently an operator should look at an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ParseEventKind rejects unknown kinds.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if _, err := k.DefaultSeverity(); err != nil {
		return "", err
	}
	return k, nil
}

// DefaultSeverity returns the severity recorded when a caller does not override it.
func (k EventKind) DefaultSeverity() (Severity, error) {
	switch k {
	case EventAccountCreated, EventLoginSuccess, EventEmailVerified,
		EventEmailVerificationRequested, EventAccountUnlocked:
		return SeverityLow, nil
	case EventLoginFailure, EventPasswordResetRequested, EventPasswordResetCompleted,
		EventTwoFactorEnabled, EventSessionTerminated, EventPasswordChanged:
		return SeverityMedium, nil
	case EventMultipleLoginFailures, EventTwoFactorDisabled, EventSuspiciousLoginAttempt,
		EventRoleChanged:
		return SeverityHigh, nil
	}
	return "", fmt.Errorf("unknown event kind %q", string(k))
}

type SecurityEvent struct {
	ID         string
	AccountID  *string
	Kind       EventKind
	Severity   Severity
	Details    EventDetails
	IPAddress  string
	UserAgent  string
	Resolved   bool
	ResolvedBy *string
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EventDetails holds free-form context for an event, stored as JSONB
type EventDetails map[string]any

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value any) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported details type %T", value)
	}

	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(d))
}

// SecurityEventInput is what callers hand to the event log.
// An empty Severity falls back to the kind's default.
type SecurityEventInput struct {
	AccountID string
	Kind      EventKind
	Severity  Severity
	Details   EventDetails
	IPAddress string
	UserAgent string
}

// EventFilter narrows a security event query. Zero values mean "any".
type EventFilter struct {
	AccountID  string
	Kinds      []EventKind
	Severities []Severity
	Resolved   *bool
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const (
	DefaultEventPageSize = 50
	MaxEventPageSize     = 200
)

// Normalize clamps paging to sane bounds.
func (f EventFilter) Normalize() EventFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultEventPageSize
	}
	if f.Limit > MaxEventPageSize {
		f.Limit = MaxEventPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches evaluates the filter in memory.
func (f EventFilter) Matches(e *SecurityEvent) bool {
	if f.AccountID != "" && (e.AccountID == nil || *e.AccountID != f.AccountID) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, e.Severity) {
		return false
	}
	if f.Resolved != nil && *f.Resolved != e.Resolved {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}
