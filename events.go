package ledgerguard

import (
	"context"

	"github.com/ledgerguard/ledgerguard/internal/apierror"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/sirupsen/logrus"
)

// RecordLoginEvent persists an authentication attempt and runs the login
// detectors against it synchronously. Detection is fail-open: detector
// failures are logged and the recorded event is still returned with
// whatever incidents did fire.
func (l *LedgerGuard) RecordLoginEvent(ctx context.Context, event *model.LoginEvent) (*model.LoginEvent, []*model.Incident, error) {
	ctx, span := tracer.Start(ctx, "RecordLoginEvent")
	defer span.End()

	if event.IP == "" {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Login event requires an IP", nil)
	}

	recorded, err := l.datasource.RecordLoginEvent(ctx, event)
	if err != nil {
		return nil, nil, err
	}

	incidents := l.risk.HandleLogin(ctx, recorded)
	return recorded, incidents, nil
}

// RecordRequestEvent forwards a web-layer event into the risk engine.
// Never fails; request events are signals, not records.
func (l *LedgerGuard) RecordRequestEvent(ctx context.Context, event *model.RequestEvent) {
	l.risk.HandleRequest(ctx, event)
}

// GetIncidents queries the incident store with the given filters.
func (l *LedgerGuard) GetIncidents(ctx context.Context, filter model.IncidentFilter) ([]model.Incident, error) {
	return l.datasource.GetIncidents(ctx, filter)
}

// GetLoginEvents queries the login-event store with the given filters.
func (l *LedgerGuard) GetLoginEvents(ctx context.Context, filter model.IncidentFilter) ([]model.LoginEvent, error) {
	return l.datasource.GetLoginEvents(ctx, filter)
}

// recordAdminIncident writes the audit trail entry every administrative
// command produces. Audit failures are logged, never propagated: the
// administrative action itself has already succeeded.
func (l *LedgerGuard) recordAdminIncident(ctx context.Context, actor, label string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["actor"] = actor

	incident := &model.Incident{
		UserID:   actor,
		Label:    label,
		Severity: model.SeverityLow,
		Details:  details,
	}
	saved, err := l.datasource.RecordIncident(ctx, incident)
	if err != nil {
		logrus.Errorf("failed to record audit incident %q: %v", label, err)
		return
	}
	l.postIncidentActions(ctx, saved)
}

// BlockUser records the administrative block of a user and notifies the
// external auth collaborator's consumers through the incident stream.
// Session/token revocation itself lives outside the ledger core.
func (l *LedgerGuard) BlockUser(ctx context.Context, userID, actor string) {
	l.recordAdminIncident(ctx, actor, "User blocked", map[string]interface{}{"user_id": userID})
}

// UnblockUser records the administrative unblock of a user.
func (l *LedgerGuard) UnblockUser(ctx context.Context, userID, actor string) {
	l.recordAdminIncident(ctx, actor, "User unblocked", map[string]interface{}{"user_id": userID})
}

// TerminateSessions records the administrative session termination for a
// user.
func (l *LedgerGuard) TerminateSessions(ctx context.Context, userID, actor string) {
	l.recordAdminIncident(ctx, actor, "Sessions terminated", map[string]interface{}{"user_id": userID})
}
