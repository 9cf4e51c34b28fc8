package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerguard/ledgerguard/model"
)

// Trailing windows the login detectors query. These mirror the rule
// contracts, not operator-tunable config.
const (
	failureWindow  = 10 * time.Minute
	travelWindow   = time.Hour
	ipFanoutWindow = time.Hour

	failureThreshold       = 5
	distinctEmailThreshold = 3
	distinctUserThreshold  = 5
)

const (
	LabelNewCountry         = "Login from new country"
	LabelImpossibleTravel   = "Impossible travel suspected"
	LabelCredentialStuffing = "Credential stuffing suspected"
	LabelBruteForce         = "Brute-force suspected on account"
	LabelMultipleAccounts   = "Multiple accounts from one IP"
)

// newCountryDetector fires when a successful login arrives from a country
// different from the user's most recent prior successful login.
type newCountryDetector struct {
	store Store
}

func newNewCountryDetector(store Store) *newCountryDetector {
	return &newCountryDetector{store: store}
}

func (d *newCountryDetector) Name() string { return "new_country_login" }

func (d *newCountryDetector) Evaluate(ctx context.Context, event Event) ([]*model.Incident, error) {
	login := event.Login
	if login == nil || !login.Success || login.UserID == "" || login.Country == "" {
		return nil, nil
	}
	prior, err := d.store.GetPriorSuccessfulLogin(ctx, login.UserID, login.EventID)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.Country == "" || prior.Country == login.Country {
		return nil, nil
	}
	return []*model.Incident{{
		UserID:   login.UserID,
		IP:       login.IP,
		Country:  login.Country,
		Label:    LabelNewCountry,
		Severity: model.SeverityMedium,
		Details: map[string]interface{}{
			"current_country":  login.Country,
			"previous_country": prior.Country,
		},
	}}, nil
}

// impossibleTravelDetector fires when the country changed and the prior
// successful login was at most an hour earlier. Deduplicated on
// (user, prior-login timestamp) so retried evaluations of the same hop
// raise at most one incident per window.
type impossibleTravelDetector struct {
	store Store
}

func newImpossibleTravelDetector(store Store) *impossibleTravelDetector {
	return &impossibleTravelDetector{store: store}
}

func (d *impossibleTravelDetector) Name() string { return "impossible_travel" }

func (d *impossibleTravelDetector) Evaluate(ctx context.Context, event Event) ([]*model.Incident, error) {
	login := event.Login
	if login == nil || !login.Success || login.UserID == "" || login.Country == "" {
		return nil, nil
	}
	prior, err := d.store.GetPriorSuccessfulLogin(ctx, login.UserID, login.EventID)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.Country == "" || prior.Country == login.Country {
		return nil, nil
	}
	elapsed := login.CreatedAt.Sub(prior.CreatedAt)
	if elapsed < 0 || elapsed > travelWindow {
		return nil, nil
	}

	dedupKey := fmt.Sprintf("%s:%d", login.UserID, prior.CreatedAt.Unix())
	exists, err := d.store.IncidentExists(ctx, LabelImpossibleTravel, dedupKey, login.CreatedAt.Add(-travelWindow))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	return []*model.Incident{{
		UserID:   login.UserID,
		IP:       login.IP,
		Country:  login.Country,
		Label:    LabelImpossibleTravel,
		Severity: model.SeverityHigh,
		DedupKey: dedupKey,
		Details: map[string]interface{}{
			"current_country":  login.Country,
			"previous_country": prior.Country,
			"elapsed_minutes":  int(elapsed.Minutes()),
		},
	}}, nil
}

// credentialStuffingDetector fires on a failed login when one IP has
// accumulated at least five failures across at least three distinct
// target emails inside the failure window. One incident per (ip, window).
type credentialStuffingDetector struct {
	store Store
}

func newCredentialStuffingDetector(store Store) *credentialStuffingDetector {
	return &credentialStuffingDetector{store: store}
}

func (d *credentialStuffingDetector) Name() string { return "credential_stuffing" }

func (d *credentialStuffingDetector) Evaluate(ctx context.Context, event Event) ([]*model.Incident, error) {
	login := event.Login
	if login == nil || login.Success || login.IP == "" {
		return nil, nil
	}
	since := login.CreatedAt.Add(-failureWindow)
	failures, err := d.store.CountFailedLoginsByIP(ctx, login.IP, since)
	if err != nil {
		return nil, err
	}
	if failures < failureThreshold {
		return nil, nil
	}
	emails, err := d.store.CountDistinctFailedEmailsByIP(ctx, login.IP, since)
	if err != nil {
		return nil, err
	}
	if emails < distinctEmailThreshold {
		return nil, nil
	}

	exists, err := d.store.IncidentExists(ctx, LabelCredentialStuffing, login.IP, since)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	return []*model.Incident{{
		IP:       login.IP,
		Country:  login.Country,
		Label:    LabelCredentialStuffing,
		Severity: model.SeverityHigh,
		DedupKey: login.IP,
		Details: map[string]interface{}{
			"failed_attempts": failures,
			"distinct_emails": emails,
		},
	}}, nil
}

// bruteForceDetector fires on a failed login when the same attempted
// email has accumulated at least five failures inside the failure
// window. One incident per (email, window).
type bruteForceDetector struct {
	store Store
}

func newBruteForceDetector(store Store) *bruteForceDetector {
	return &bruteForceDetector{store: store}
}

func (d *bruteForceDetector) Name() string { return "brute_force" }

func (d *bruteForceDetector) Evaluate(ctx context.Context, event Event) ([]*model.Incident, error) {
	login := event.Login
	if login == nil || login.Success || login.AttemptedEmail == "" {
		return nil, nil
	}
	since := login.CreatedAt.Add(-failureWindow)
	failures, err := d.store.CountFailedLoginsByEmail(ctx, login.AttemptedEmail, since)
	if err != nil {
		return nil, err
	}
	if failures < failureThreshold {
		return nil, nil
	}

	exists, err := d.store.IncidentExists(ctx, LabelBruteForce, login.AttemptedEmail, since)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	return []*model.Incident{{
		UserID:   login.UserID,
		IP:       login.IP,
		Country:  login.Country,
		Label:    LabelBruteForce,
		Severity: model.SeverityHigh,
		DedupKey: login.AttemptedEmail,
		Details: map[string]interface{}{
			"attempted_email": login.AttemptedEmail,
			"failed_attempts": failures,
		},
	}}, nil
}

// multipleAccountsDetector fires on a successful login when at least five
// distinct users have logged in successfully from the same IP inside the
// fan-out window. One incident per (ip, window).
type multipleAccountsDetector struct {
	store Store
}

func newMultipleAccountsDetector(store Store) *multipleAccountsDetector {
	return &multipleAccountsDetector{store: store}
}

func (d *multipleAccountsDetector) Name() string { return "multiple_accounts_per_ip" }

func (d *multipleAccountsDetector) Evaluate(ctx context.Context, event Event) ([]*model.Incident, error) {
	login := event.Login
	if login == nil || !login.Success || login.IP == "" {
		return nil, nil
	}
	since := login.CreatedAt.Add(-ipFanoutWindow)
	users, err := d.store.CountDistinctUsersByIP(ctx, login.IP, since)
	if err != nil {
		return nil, err
	}
	if users < distinctUserThreshold {
		return nil, nil
	}

	exists, err := d.store.IncidentExists(ctx, LabelMultipleAccounts, login.IP, since)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	return []*model.Incident{{
		IP:       login.IP,
		Country:  login.Country,
		Label:    LabelMultipleAccounts,
		Severity: model.SeverityMedium,
		DedupKey: login.IP,
		Details: map[string]interface{}{
			"distinct_users": users,
		},
	}}, nil
}
