package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is the log-side copy of a security event
type AuditEvent struct {
	EventID   string
	Kind      string
	Severity  string
	AccountID string
	IPAddress string
	UserAgent string
	Details   map[string]any
}

// AuditLogger writes security events to the structured log stream
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// LogSecurityEvent emits one audit line; level follows severity.
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security_event"),
		slog.String("event_kind", event.Kind),
		slog.String("severity", event.Severity),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.EventID != "" {
		attrs = append(attrs, slog.String("event_id", event.EventID))
	}
	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", event.Details))
	}

	al.logger.LogAttrs(ctx, levelForSeverity(event.Severity), "audit", attrs...)
}

func levelForSeverity(severity string) slog.Level {
	switch severity {
	case "critical":
		return slog.LevelError
	case "high", "medium":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
