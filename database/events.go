package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
)

// RecordLoginEvent appends a login attempt. The row is immutable; it is
// the primary input stream for the authentication detectors.
func (d Datasource) RecordLoginEvent(ctx context.Context, event *model.LoginEvent) (*model.LoginEvent, error) {
	ctx, span := otel.Tracer("risk.database").Start(ctx, "Saving login event to db")
	defer span.End()

	event.EventID = model.GenerateUUIDWithSuffix("lgn")
	event.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO login_events(event_id, user_id, ip, country, success, attempted_email, failure_reason, user_agent, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.EventID, event.UserID, event.IP, event.Country, event.Success, event.AttemptedEmail, event.FailureReason, event.UserAgent, event.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record login event", err)
	}
	return event, nil
}

// RecordIncident appends an incident. Incidents are never updated or
// deleted.
func (d Datasource) RecordIncident(ctx context.Context, incident *model.Incident) (*model.Incident, error) {
	ctx, span := otel.Tracer("risk.database").Start(ctx, "Saving incident to db")
	defer span.End()

	incident.IncidentID = model.GenerateUUIDWithSuffix("inc")
	incident.CreatedAt = time.Now()

	detailsJSON, err := json.Marshal(incident.Details)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal incident details", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO incidents(incident_id, user_id, ip, country, label, severity, dedup_key, details, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		incident.IncidentID, incident.UserID, incident.IP, incident.Country, incident.Label, incident.Severity, incident.DedupKey, detailsJSON, incident.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record incident", err)
	}
	return incident, nil
}

// IncidentExists reports whether an incident with the same label and
// dedup key was raised inside the window. Check-then-insert is
// best-effort: two truly concurrent detectors can both miss and
// double-fire, which is acceptable for monitoring signals.
func (d Datasource) IncidentExists(ctx context.Context, label, dedupKey string, since time.Time) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM incidents WHERE label = $1 AND dedup_key = $2 AND created_at >= $3)
	`, label, dedupKey, since).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check for existing incident", err)
	}
	return exists, nil
}

func (d Datasource) GetIncidents(ctx context.Context, filter model.IncidentFilter) ([]model.Incident, error) {
	query := `
		SELECT incident_id, COALESCE(user_id, ''), COALESCE(ip, ''), COALESCE(country, ''), label, severity, COALESCE(dedup_key, ''), details, created_at
		FROM incidents
		WHERE 1=1
	`
	var args []interface{}
	var clauses []string
	argIndex := 1

	addClause := func(clause string, value interface{}) {
		clauses = append(clauses, fmt.Sprintf(clause, argIndex))
		args = append(args, value)
		argIndex++
	}

	if filter.Severity != "" {
		addClause("severity = $%d", filter.Severity)
	}
	if filter.UserID != "" {
		addClause("user_id = $%d", filter.UserID)
	}
	if filter.IP != "" {
		addClause("ip = $%d", filter.IP)
	}
	if !filter.From.IsZero() {
		addClause("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		addClause("created_at <= $%d", filter.To)
	}
	if filter.LabelContains != "" {
		addClause("label ILIKE $%d", "%"+filter.LabelContains+"%")
	}

	if len(clauses) > 0 {
		query += " AND " + strings.Join(clauses, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve incidents", err)
	}
	defer rows.Close()

	var incidents []model.Incident
	for rows.Next() {
		incident := model.Incident{}
		var detailsJSON []byte
		err = rows.Scan(&incident.IncidentID, &incident.UserID, &incident.IP, &incident.Country, &incident.Label, &incident.Severity, &incident.DedupKey, &detailsJSON, &incident.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan incident data", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &incident.Details); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal incident details", err)
			}
		}
		incidents = append(incidents, incident)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over incidents", err)
	}
	return incidents, nil
}

func (d Datasource) GetLoginEvents(ctx context.Context, filter model.IncidentFilter) ([]model.LoginEvent, error) {
	query := `
		SELECT event_id, COALESCE(user_id, ''), ip, COALESCE(country, ''), success, COALESCE(attempted_email, ''), COALESCE(failure_reason, ''), COALESCE(user_agent, ''), created_at
		FROM login_events
		WHERE 1=1
	`
	var args []interface{}
	var clauses []string
	argIndex := 1

	addClause := func(clause string, value interface{}) {
		clauses = append(clauses, fmt.Sprintf(clause, argIndex))
		args = append(args, value)
		argIndex++
	}

	if filter.UserID != "" {
		addClause("user_id = $%d", filter.UserID)
	}
	if filter.IP != "" {
		addClause("ip = $%d", filter.IP)
	}
	if !filter.From.IsZero() {
		addClause("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		addClause("created_at <= $%d", filter.To)
	}

	if len(clauses) > 0 {
		query += " AND " + strings.Join(clauses, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve login events", err)
	}
	defer rows.Close()

	var events []model.LoginEvent
	for rows.Next() {
		event := model.LoginEvent{}
		err = rows.Scan(&event.EventID, &event.UserID, &event.IP, &event.Country, &event.Success, &event.AttemptedEmail, &event.FailureReason, &event.UserAgent, &event.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan login event data", err)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over login events", err)
	}
	return events, nil
}

// GetPriorSuccessfulLogin returns the most recent successful login for a
// user excluding the event currently being evaluated. sql.ErrNoRows maps
// to a nil event, not an error: first logins have no prior.
func (d Datasource) GetPriorSuccessfulLogin(ctx context.Context, userID, excludeEventID string) (*model.LoginEvent, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT event_id, COALESCE(user_id, ''), ip, COALESCE(country, ''), success, COALESCE(attempted_email, ''), COALESCE(failure_reason, ''), COALESCE(user_agent, ''), created_at
		FROM login_events
		WHERE user_id = $1 AND success = TRUE AND event_id != $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, excludeEventID)

	event := &model.LoginEvent{}
	err := row.Scan(&event.EventID, &event.UserID, &event.IP, &event.Country, &event.Success, &event.AttemptedEmail, &event.FailureReason, &event.UserAgent, &event.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve prior login", err)
	}
	return event, nil
}

func (d Datasource) CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_events
		WHERE ip = $1 AND success = FALSE AND created_at >= $2
	`, ip, since).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count failed logins by ip", err)
	}
	return count, nil
}

func (d Datasource) CountDistinctFailedEmailsByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT attempted_email) FROM login_events
		WHERE ip = $1 AND success = FALSE AND created_at >= $2
	`, ip, since).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count distinct emails by ip", err)
	}
	return count, nil
}

func (d Datasource) CountFailedLoginsByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_events
		WHERE attempted_email = $1 AND success = FALSE AND created_at >= $2
	`, email, since).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count failed logins by email", err)
	}
	return count, nil
}

func (d Datasource) CountDistinctUsersByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM login_events
		WHERE ip = $1 AND success = TRUE AND user_id != '' AND created_at >= $2
	`, ip, since).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count distinct users by ip", err)
	}
	return count, nil
}
