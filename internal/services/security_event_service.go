package services

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	pkglogger "github.com/BradenHooton/mailgate/pkg/logger"
	"github.com/google/uuid"
)

// SecurityEventService is the append-only security event log.
// Every event goes to the audit log stream first and is then persisted;
// a failed persist is logged and counted but never fails the caller.
type SecurityEventService struct {
	repo         SecurityEventRepository
	audit        *pkglogger.AuditLogger
	logger       *slog.Logger
	timeout      time.Duration
	now          func() time.Time
	failedWrites atomic.Uint64
}

func NewSecurityEventService(repo SecurityEventRepository, audit *pkglogger.AuditLogger, logger *slog.Logger, timeout time.Duration, now func() time.Time) *SecurityEventService {
	if now == nil {
		now = time.Now
	}
	return &SecurityEventService{
		repo:    repo,
		audit:   audit,
		logger:  logger,
		timeout: timeout,
		now:     now,
	}
}

// Record appends an event. An empty severity falls back to the kind's default.
func (s *SecurityEventService) Record(ctx context.Context, in models.SecurityEventInput) {
	severity := in.Severity
	if severity == "" {
		def, err := in.Kind.DefaultSeverity()
		if err != nil {
			s.failedWrites.Add(1)
			s.logger.ErrorContext(ctx, "rejected security event with unknown kind",
				slog.String("event_kind", string(in.Kind)))
			return
		}
		severity = def
	} else if !severity.Valid() {
		severity = models.SeverityHigh
	}

	event := &models.SecurityEvent{
		ID:        uuid.New().String(),
		Kind:      in.Kind,
		Severity:  severity,
		Details:   in.Details,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		CreatedAt: s.now(),
	}
	if event.Details == nil {
		event.Details = models.EventDetails{}
	}
	if in.AccountID != "" {
		id := in.AccountID
		event.AccountID = &id
	}

	if s.audit != nil {
		s.audit.LogSecurityEvent(ctx, pkglogger.AuditEvent{
			EventID:   event.ID,
			Kind:      string(event.Kind),
			Severity:  string(event.Severity),
			AccountID: in.AccountID,
			IPAddress: event.IPAddress,
			UserAgent: event.UserAgent,
			Details:   event.Details,
		})
	}

	// the event outlives a cancelled request
	writeCtx, cancel := boundedContext(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.repo.Create(writeCtx, event); err != nil {
		n := s.failedWrites.Add(1)
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_id", event.ID),
			slog.String("event_kind", string(event.Kind)),
			slog.Uint64("failed_writes", n),
			slog.Any("error", err))
	}
}

// FailedWrites reports how many events reached the audit log but not the store.
func (s *SecurityEventService) FailedWrites() uint64 {
	return s.failedWrites.Load()
}

func (s *SecurityEventService) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, models.NewValidationError("to", "must not be before from")
	}
	for _, sev := range filter.Severities {
		if !sev.Valid() {
			return nil, models.NewValidationError("severity", "unknown severity "+string(sev))
		}
	}
	for _, k := range filter.Kinds {
		if _, err := models.ParseEventKind(string(k)); err != nil {
			return nil, models.NewValidationError("kind", err.Error())
		}
	}

	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	events, err := s.repo.Query(ctx, filter.Normalize())
	if err != nil {
		return nil, internalError("query security events", storeError("query security events", err))
	}
	return events, nil
}

func (s *SecurityEventService) Resolve(ctx context.Context, eventID, resolverID string) (*models.SecurityEvent, error) {
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	event, err := s.repo.Resolve(ctx, eventID, resolverID, s.now())
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "security event resolved",
			slog.String("event_id", eventID),
			slog.String("resolved_by", resolverID))
		return event, nil
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrConflict):
		return nil, err
	default:
		return nil, internalError("resolve security event", storeError("resolve security event", err))
	}
}
