package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/mailgate/internal/database"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const securityEventColumns = `id, account_id, kind, severity, details, ip_address, user_agent,
	resolved, resolved_by, resolved_at, created_at, updated_at`

type SecurityEventRepository struct {
	db database.Querier
}

func NewSecurityEventRepository(db database.Querier) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

func scanSecurityEventRow(scanner rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	var kind, severity string
	var details []byte

	err := scanner.Scan(
		&e.ID, &e.AccountID, &kind, &severity, &details, &e.IPAddress, &e.UserAgent,
		&e.Resolved, &e.ResolvedBy, &e.ResolvedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	e.Kind = models.EventKind(kind)
	e.Severity = models.Severity(severity)
	if len(details) == 0 {
		e.Details = models.EventDetails{}
	} else if err := e.Details.Scan(details); err != nil {
		return nil, fmt.Errorf("failed to decode event details: %w", err)
	}

	return &e, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", database.MapPostgresError(err))
	}

	return events, nil
}

func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.UpdatedAt = event.CreatedAt

	details, err := json.Marshal(map[string]any(event.Details))
	if err != nil {
		return fmt.Errorf("failed to encode event details: %w", err)
	}
	if event.Details == nil {
		details = []byte("{}")
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO security_events (id, account_id, kind, severity, details, ip_address, user_agent,
			resolved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $8)`,
		event.ID, event.AccountID, string(event.Kind), string(event.Severity), details,
		event.IPAddress, event.UserAgent, event.CreatedAt,
	)
	return database.MapPostgresError(err)
}

func (r *SecurityEventRepository) FindByID(ctx context.Context, id string) (*models.SecurityEvent, error) {
	return scanSecurityEventRow(r.db.QueryRow(ctx, `SELECT `+securityEventColumns+` FROM security_events WHERE id = $1`, id))
}

// Query builds the WHERE clause from the non-zero fields of filter.
func (r *SecurityEventRepository) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	filter = filter.Normalize()

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AccountID != "" {
		conds = append(conds, "account_id = "+arg(filter.AccountID))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		conds = append(conds, "kind = ANY("+arg(kinds)+")")
	}
	if len(filter.Severities) > 0 {
		severities := make([]string, len(filter.Severities))
		for i, s := range filter.Severities {
			severities[i] = string(s)
		}
		conds = append(conds, "severity = ANY("+arg(severities)+")")
	}
	if filter.Resolved != nil {
		conds = append(conds, "resolved = "+arg(*filter.Resolved))
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "created_at < "+arg(*filter.To))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + securityEventColumns + ` FROM security_events`)
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	sb.WriteString(" LIMIT " + arg(filter.Limit))
	sb.WriteString(" OFFSET " + arg(filter.Offset))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", database.MapPostgresError(err))
	}
	return scanSecurityEventRows(rows)
}

// Resolve only ever flips an unresolved event.
func (r *SecurityEventRepository) Resolve(ctx context.Context, id, resolverID string, now time.Time) (*models.SecurityEvent, error) {
	event, err := scanSecurityEventRow(r.db.QueryRow(ctx, `
		UPDATE security_events SET resolved = TRUE, resolved_by = $2, resolved_at = $3, updated_at = $3
		WHERE id = $1 AND NOT resolved
		RETURNING `+securityEventColumns,
		id, resolverID, now,
	))
	if errors.Is(err, models.ErrNotFound) {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, models.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}
