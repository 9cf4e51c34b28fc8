package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// fakeStore is an in-memory Store with canned window statistics.
type fakeStore struct {
	prior    *model.LoginEvent
	priorErr error

	failedByIP     int
	distinctEmails int
	failedByEmail  int
	distinctUsers  int
	windowCount    int
	windowTotal    int64
	average        int64
	exists         bool

	incidents []*model.Incident
}

func (s *fakeStore) RecordIncident(_ context.Context, incident *model.Incident) (*model.Incident, error) {
	incident.IncidentID = model.GenerateUUIDWithSuffix("inc")
	incident.CreatedAt = time.Now()
	s.incidents = append(s.incidents, incident)
	return incident, nil
}

func (s *fakeStore) IncidentExists(_ context.Context, _, _ string, _ time.Time) (bool, error) {
	return s.exists, nil
}

func (s *fakeStore) GetPriorSuccessfulLogin(_ context.Context, _, _ string) (*model.LoginEvent, error) {
	return s.prior, s.priorErr
}

func (s *fakeStore) CountFailedLoginsByIP(_ context.Context, _ string, _ time.Time) (int, error) {
	return s.failedByIP, nil
}

func (s *fakeStore) CountDistinctFailedEmailsByIP(_ context.Context, _ string, _ time.Time) (int, error) {
	return s.distinctEmails, nil
}

func (s *fakeStore) CountFailedLoginsByEmail(_ context.Context, _ string, _ time.Time) (int, error) {
	return s.failedByEmail, nil
}

func (s *fakeStore) CountDistinctUsersByIP(_ context.Context, _ string, _ time.Time) (int, error) {
	return s.distinctUsers, nil
}

func (s *fakeStore) GetSenderWindowStats(_ context.Context, _ string, _ time.Time) (int, int64, error) {
	return s.windowCount, s.windowTotal, nil
}

func (s *fakeStore) GetSenderAverageAmount(_ context.Context, _, _ string, _ time.Time) (int64, error) {
	return s.average, nil
}

func riskConf() *config.Configuration {
	return &config.Configuration{
		Risk: config.RiskConfig{
			LargeTransactionThreshold: 10000, // 1,000,000 minor units
			UnusualSizeMultiplier:     5,
			VelocityCount:             10,
			VelocityTotal:             50000, // 5,000,000 minor units
		},
	}
}

func newTestEngine(store Store) *Engine {
	return NewEngine(store, riskConf())
}

func successLogin(userID, ip, country string) *model.LoginEvent {
	return &model.LoginEvent{
		EventID:   model.GenerateUUIDWithSuffix("lgn"),
		UserID:    userID,
		IP:        ip,
		Country:   country,
		Success:   true,
		CreatedAt: time.Now(),
	}
}

func failedLogin(ip, email string) *model.LoginEvent {
	return &model.LoginEvent{
		EventID:        model.GenerateUUIDWithSuffix("lgn"),
		IP:             ip,
		AttemptedEmail: email,
		Success:        false,
		FailureReason:  "bad password",
		CreatedAt:      time.Now(),
	}
}

func TestNewCountryLogin(t *testing.T) {
	store := &fakeStore{
		prior: &model.LoginEvent{
			UserID:    "usr_1",
			Country:   "US",
			Success:   true,
			CreatedAt: time.Now().Add(-48 * time.Hour),
		},
	}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), successLogin("usr_1", "203.0.113.7", "DE"))

	assert.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, LabelNewCountry, incident.Label)
	assert.Equal(t, model.SeverityMedium, incident.Severity)
	assert.Equal(t, "DE", incident.Details["current_country"])
	assert.Equal(t, "US", incident.Details["previous_country"])
	assert.Equal(t, string(ActionMonitor), incident.Details["recommended_action"])
	assert.Nil(t, incident.Details["ai_analysis"])
	assert.NotEmpty(t, incident.IncidentID)
}

func TestSameCountryLoginIsQuiet(t *testing.T) {
	store := &fakeStore{
		prior: &model.LoginEvent{UserID: "usr_1", Country: "US", Success: true, CreatedAt: time.Now().Add(-time.Hour)},
	}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), successLogin("usr_1", "203.0.113.7", "US"))
	assert.Empty(t, incidents)
}

func TestFirstLoginHasNoPrior(t *testing.T) {
	engine := newTestEngine(&fakeStore{})
	incidents := engine.HandleLogin(context.Background(), successLogin("usr_1", "203.0.113.7", "US"))
	assert.Empty(t, incidents)
}

func TestImpossibleTravel(t *testing.T) {
	priorAt := time.Now().Add(-30 * time.Minute)
	store := &fakeStore{
		prior: &model.LoginEvent{UserID: "usr_1", Country: "US", Success: true, CreatedAt: priorAt},
	}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), successLogin("usr_1", "203.0.113.7", "JP"))

	// The country change raises both the new-country and the travel rule.
	assert.Len(t, incidents, 2)
	travel := incidents[1]
	assert.Equal(t, LabelImpossibleTravel, travel.Label)
	assert.Equal(t, model.SeverityHigh, travel.Severity)
	assert.Equal(t, fmt.Sprintf("usr_1:%d", priorAt.Unix()), travel.DedupKey)
	assert.Equal(t, 30, travel.Details["elapsed_minutes"])
	assert.Equal(t, string(ActionTerminate), travel.Details["recommended_action"])
}

func TestImpossibleTravelOutsideWindow(t *testing.T) {
	store := &fakeStore{
		prior: &model.LoginEvent{UserID: "usr_1", Country: "US", Success: true, CreatedAt: time.Now().Add(-2 * time.Hour)},
	}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), successLogin("usr_1", "203.0.113.7", "JP"))

	assert.Len(t, incidents, 1)
	assert.Equal(t, LabelNewCountry, incidents[0].Label)
}

func TestImpossibleTravelDeduplicated(t *testing.T) {
	store := &fakeStore{
		prior:  &model.LoginEvent{UserID: "usr_1", Country: "US", Success: true, CreatedAt: time.Now().Add(-30 * time.Minute)},
		exists: true,
	}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), successLogin("usr_1", "203.0.113.7", "JP"))

	// Only the new-country rule fires; it carries no dedup key.
	assert.Len(t, incidents, 1)
	assert.Equal(t, LabelNewCountry, incidents[0].Label)
}

func TestBruteForce(t *testing.T) {
	store := &fakeStore{failedByEmail: 5, failedByIP: 5, distinctEmails: 1}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), failedLogin("203.0.113.7", "victim@example.com"))

	assert.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, LabelBruteForce, incident.Label)
	assert.Equal(t, model.SeverityHigh, incident.Severity)
	assert.Equal(t, "victim@example.com", incident.DedupKey)
	assert.Equal(t, 5, incident.Details["failed_attempts"])
	assert.Equal(t, string(ActionBlock), incident.Details["recommended_action"])
}

func TestBruteForceBelowThreshold(t *testing.T) {
	store := &fakeStore{failedByEmail: 4, failedByIP: 4, distinctEmails: 1}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), failedLogin("203.0.113.7", "victim@example.com"))
	assert.Empty(t, incidents)
}

func TestBruteForceDeduplicated(t *testing.T) {
	store := &fakeStore{failedByEmail: 6, exists: true}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), failedLogin("203.0.113.7", "victim@example.com"))
	assert.Empty(t, incidents)
	assert.Empty(t, store.incidents)
}

func TestCredentialStuffing(t *testing.T) {
	store := &fakeStore{failedByIP: 7, distinctEmails: 4}
	engine := newTestEngine(store)

	// No attempted email, so the brute-force rule stays out of the way.
	incidents := engine.HandleLogin(context.Background(), failedLogin("203.0.113.7", ""))

	assert.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, LabelCredentialStuffing, incident.Label)
	assert.Equal(t, "203.0.113.7", incident.DedupKey)
	assert.Equal(t, 7, incident.Details["failed_attempts"])
	assert.Equal(t, 4, incident.Details["distinct_emails"])
	assert.Equal(t, string(ActionBlock), incident.Details["recommended_action"])
}

func TestCredentialStuffingNeedsDistinctEmails(t *testing.T) {
	// Five failures against a single email is brute force, not stuffing.
	store := &fakeStore{failedByIP: 7, distinctEmails: 2}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), failedLogin("203.0.113.7", ""))
	assert.Empty(t, incidents)
}

func TestMultipleAccountsFromOneIP(t *testing.T) {
	store := &fakeStore{distinctUsers: 6}
	engine := newTestEngine(store)

	incidents := engine.HandleLogin(context.Background(), successLogin("usr_6", "203.0.113.7", ""))

	assert.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, LabelMultipleAccounts, incident.Label)
	assert.Equal(t, model.SeverityMedium, incident.Severity)
	assert.Equal(t, "203.0.113.7", incident.DedupKey)
	assert.Equal(t, 6, incident.Details["distinct_users"])
}

func TestLargeTransaction(t *testing.T) {
	engine := newTestEngine(&fakeStore{})

	incidents := engine.HandleTransaction(context.Background(), &model.Transaction{
		TransactionID: "txn_1",
		Sender:        "1000000001",
		Amount:        1500000,
		CreatedAt:     time.Now(),
	})

	assert.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, LabelLargeTransaction, incident.Label)
	assert.Equal(t, "1000000001", incident.UserID)
	assert.Equal(t, "15000.00", incident.Details["amount"])
	assert.Equal(t, string(ActionMonitor), incident.Details["recommended_action"])
}

func TestLargeTransactionBelowThreshold(t *testing.T) {
	engine := newTestEngine(&fakeStore{})

	incidents := engine.HandleTransaction(context.Background(), &model.Transaction{
		TransactionID: "txn_1",
		Sender:        "1000000001",
		Amount:        999999,
		CreatedAt:     time.Now(),
	})
	assert.Empty(t, incidents)
}

func TestUnusualTransactionSize(t *testing.T) {
	store := &fakeStore{average: 10000}
	engine := newTestEngine(store)

	incidents := engine.HandleTransaction(context.Background(), &model.Transaction{
		TransactionID: "txn_1",
		Sender:        "1000000001",
		Amount:        60000, // 6x the trailing average
		CreatedAt:     time.Now(),
	})

	assert.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, LabelUnusualSize, incident.Label)
	assert.Equal(t, "600.00", incident.Details["amount"])
	assert.Equal(t, "100.00", incident.Details["average_amount"])
}

func TestUnusualSizeNeedsHistory(t *testing.T) {
	engine := newTestEngine(&fakeStore{average: 0})

	incidents := engine.HandleTransaction(context.Background(), &model.Transaction{
		TransactionID: "txn_1",
		Sender:        "1000000001",
		Amount:        60000,
		CreatedAt:     time.Now(),
	})
	assert.Empty(t, incidents)
}

func TestTransactionVelocity(t *testing.T) {
	store := &fakeStore{windowCount: 10, windowTotal: 120000}
	engine := newTestEngine(store)

	incidents := engine.HandleTransaction(context.Background(), &model.Transaction{
		TransactionID: "txn_1",
		Sender:        "1000000001",
		Amount:        5000,
		CreatedAt:     time.Now(),
	})

	assert.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, LabelVelocity, incident.Label)
	assert.Equal(t, "1000000001", incident.DedupKey)
	assert.Equal(t, 10, incident.Details["window_count"])
	assert.Equal(t, string(ActionFreeze), incident.Details["recommended_action"])
}

func TestVelocityDeduplicated(t *testing.T) {
	store := &fakeStore{windowCount: 12, exists: true}
	engine := newTestEngine(store)

	incidents := engine.HandleTransaction(context.Background(), &model.Transaction{
		TransactionID: "txn_1",
		Sender:        "1000000001",
		Amount:        5000,
		CreatedAt:     time.Now(),
	})
	assert.Empty(t, incidents)
}

func TestDetectorFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{priorErr: errors.New("store down")}
	engine := newTestEngine(store)

	// Both prior-login detectors fail; the rest still run and the call
	// never surfaces an error.
	incidents := engine.HandleLogin(context.Background(), successLogin("usr_1", "203.0.113.7", "US"))
	assert.Empty(t, incidents)
}

func TestIncidentHookReceivesRaisedIncidents(t *testing.T) {
	store := &fakeStore{distinctUsers: 6}
	engine := newTestEngine(store)

	var hooked []*model.Incident
	engine.SetIncidentHook(func(_ context.Context, incident *model.Incident) {
		hooked = append(hooked, incident)
	})

	engine.HandleLogin(context.Background(), successLogin("usr_6", "203.0.113.7", ""))

	assert.Len(t, hooked, 1)
	assert.Equal(t, LabelMultipleAccounts, hooked[0].Label)
	assert.NotEmpty(t, hooked[0].IncidentID)
}

func TestRateLimitBreachRaisesIncident(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store)

	incidents := engine.HandleRequest(context.Background(), &model.RequestEvent{
		IP:        "203.0.113.9",
		Path:      "/transactions",
		Method:    "POST",
		CreatedAt: time.Now(),
	})

	assert.Len(t, incidents, 1)
	incident := incidents[0]
	assert.Equal(t, LabelRateLimitBreach, incident.Label)
	assert.Equal(t, model.SeverityLow, incident.Severity)
	assert.Equal(t, "203.0.113.9", incident.DedupKey)
	assert.Equal(t, "/transactions", incident.Details["path"])
	assert.Equal(t, string(ActionNoAction), incident.Details["recommended_action"])
}

func TestRateLimitBreachDeduplicated(t *testing.T) {
	store := &fakeStore{exists: true}
	engine := newTestEngine(store)

	incidents := engine.HandleRequest(context.Background(), &model.RequestEvent{
		IP:     "203.0.113.9",
		Path:   "/transactions",
		Method: "POST",
	})
	assert.Empty(t, incidents)
	assert.Empty(t, store.incidents)
}

func TestRateLimitBreachIgnoresAnonymousIP(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store)

	incidents := engine.HandleRequest(context.Background(), &model.RequestEvent{Path: "/transactions"})
	assert.Empty(t, incidents)
}
