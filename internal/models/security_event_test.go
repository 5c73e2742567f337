package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKind_DefaultSeverity_CoversAllKinds(t *testing.T) {
	for _, kind := range AllEventKinds {
		sev, err := kind.DefaultSeverity()
		require.NoError(t, err, "kind %s", kind)
		assert.True(t, sev.Valid())
	}
}

func TestEventKind_DefaultSeverity_LockoutIsHigh(t *testing.T) {
	sev, err := EventMultipleLoginFailures.DefaultSeverity()
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, sev)

	sev, err = EventLoginFailure.DefaultSeverity()
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, sev)
}

func TestParseEventKind_Unknown(t *testing.T) {
	_, err := ParseEventKind("LOGIN_MAYBE")
	assert.Error(t, err)

	kind, err := ParseEventKind("ROLE_CHANGED")
	require.NoError(t, err)
	assert.Equal(t, EventRoleChanged, kind)
}

func TestEventFilter_Normalize(t *testing.T) {
	f := EventFilter{Limit: 0, Offset: -3}.Normalize()
	assert.Equal(t, DefaultEventPageSize, f.Limit)
	assert.Equal(t, 0, f.Offset)

	f = EventFilter{Limit: 5000}.Normalize()
	assert.Equal(t, MaxEventPageSize, f.Limit)
}

func TestEventFilter_Matches(t *testing.T) {
	accountID := "acc-1"
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &SecurityEvent{
		AccountID: &accountID,
		Kind:      EventLoginFailure,
		Severity:  SeverityMedium,
		CreatedAt: created,
	}

	resolved := false
	from := created.Add(-time.Hour)
	to := created.Add(time.Hour)

	assert.True(t, EventFilter{}.Matches(event))
	assert.True(t, EventFilter{
		AccountID:  accountID,
		Kinds:      []EventKind{EventLoginFailure, EventLoginSuccess},
		Severities: []Severity{SeverityMedium},
		Resolved:   &resolved,
		From:       &from,
		To:         &to,
	}.Matches(event))

	assert.False(t, EventFilter{AccountID: "other"}.Matches(event))
	assert.False(t, EventFilter{Kinds: []EventKind{EventLoginSuccess}}.Matches(event))
	assert.False(t, EventFilter{Severities: []Severity{SeverityHigh}}.Matches(event))
	assert.False(t, EventFilter{To: &created}.Matches(event))
}

func TestEventDetails_ScanValue(t *testing.T) {
	details := EventDetails{"reason": "admin", "attempts": float64(3)}
	raw, err := details.Value()
	require.NoError(t, err)

	var scanned EventDetails
	require.NoError(t, scanned.Scan(raw))
	assert.Equal(t, details, scanned)

	var empty EventDetails
	require.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty)
}
