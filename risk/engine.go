package risk

import (
	"context"
	"time"

	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/internal/notification"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("risk.engine")

// Store is the slice of the datasource the detectors query. All detector
// "memory" lives here; detectors themselves carry no state between
// evaluations.
type Store interface {
	RecordIncident(ctx context.Context, incident *model.Incident) (*model.Incident, error)
	IncidentExists(ctx context.Context, label, dedupKey string, since time.Time) (bool, error)
	GetPriorSuccessfulLogin(ctx context.Context, userID, excludeEventID string) (*model.LoginEvent, error)
	CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountDistinctFailedEmailsByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountFailedLoginsByEmail(ctx context.Context, email string, since time.Time) (int, error)
	CountDistinctUsersByIP(ctx context.Context, ip string, since time.Time) (int, error)
	GetSenderWindowStats(ctx context.Context, sender string, since time.Time) (int, int64, error)
	GetSenderAverageAmount(ctx context.Context, sender, excludeTxnID string, since time.Time) (int64, error)
}

// Event is the envelope detectors evaluate. Exactly one of the payload
// fields is set, matching Kind.
type Event struct {
	Kind        EventKind
	Login       *model.LoginEvent
	Transaction *model.Transaction
	Request     *model.RequestEvent
}

type EventKind string

const (
	EventKindLogin       EventKind = "login"
	EventKindTransaction EventKind = "transaction"
	EventKindRequest     EventKind = "request"
)

// Detector is a pure rule: it inspects one event plus whatever trailing
// window it queries from the store and returns zero or more incidents.
// Detectors are independent; the engine runs every registered detector
// for the event kind and all matches fire.
type Detector interface {
	Name() string
	Evaluate(ctx context.Context, event Event) ([]*model.Incident, error)
}

// IncidentHook is invoked after an incident has been persisted and
// classified. Used to fan incidents out to the queue and webhooks.
type IncidentHook func(ctx context.Context, incident *model.Incident)

// Engine iterates a registry of detectors once per incoming event,
// persists every incident they emit, attaches the deterministic action
// classification and, when configured, an AI narrative. Detector and
// store failures are logged and swallowed: detection fails open, it can
// never block the operation that produced the event.
type Engine struct {
	store       Store
	login       []Detector
	transaction []Detector
	request     []Detector
	narrative   *NarrativeClient
	hook        IncidentHook
}

// NewEngine builds the default detector registry from the configured
// thresholds.
func NewEngine(store Store, conf *config.Configuration) *Engine {
	e := &Engine{
		store:     store,
		narrative: NewNarrativeClient(conf.Risk.AI),
	}
	e.login = []Detector{
		newNewCountryDetector(store),
		newImpossibleTravelDetector(store),
		newCredentialStuffingDetector(store),
		newBruteForceDetector(store),
		newMultipleAccountsDetector(store),
	}
	e.transaction = []Detector{
		newLargeTransactionDetector(conf.Risk),
		newUnusualSizeDetector(store, conf.Risk),
		newVelocityDetector(store, conf.Risk),
	}
	e.request = []Detector{
		newRateLimitBreachDetector(store),
	}
	return e
}

// SetIncidentHook registers the post-persist fan-out callback.
func (e *Engine) SetIncidentHook(hook IncidentHook) {
	e.hook = hook
}

// HandleLogin runs the login detectors against a freshly recorded login
// event. Called synchronously on the login path; always returns the
// incidents it managed to raise, even when some detectors failed.
func (e *Engine) HandleLogin(ctx context.Context, event *model.LoginEvent) []*model.Incident {
	return e.evaluate(ctx, e.login, Event{Kind: EventKindLogin, Login: event})
}

// HandleTransaction runs the transaction detectors against a committed
// transaction. Called from the post-commit worker, never from inside the
// transfer critical section.
func (e *Engine) HandleTransaction(ctx context.Context, txn *model.Transaction) []*model.Incident {
	return e.evaluate(ctx, e.transaction, Event{Kind: EventKindTransaction, Transaction: txn})
}

// HandleRequest forwards a generic web-layer event through the request
// detector registry. Ships with the rate-limit breach detector;
// additional detectors register via RegisterRequestDetector.
func (e *Engine) HandleRequest(ctx context.Context, req *model.RequestEvent) []*model.Incident {
	return e.evaluate(ctx, e.request, Event{Kind: EventKindRequest, Request: req})
}

// RegisterRequestDetector appends a detector to the request registry.
func (e *Engine) RegisterRequestDetector(d Detector) {
	e.request = append(e.request, d)
}

func (e *Engine) evaluate(ctx context.Context, detectors []Detector, event Event) []*model.Incident {
	ctx, span := tracer.Start(ctx, "EvaluateEvent")
	defer span.End()

	var raised []*model.Incident
	for _, detector := range detectors {
		incidents, err := detector.Evaluate(ctx, event)
		if err != nil {
			logrus.Errorf("risk detector %s failed: %v", detector.Name(), err)
			notification.NotifyError(err)
			continue
		}
		for _, incident := range incidents {
			if saved := e.raise(ctx, incident); saved != nil {
				raised = append(raised, saved)
			}
		}
	}
	return raised
}

// raise persists one incident, classifies it and invokes the fan-out
// hook. Classification always happens before narrative enrichment so a
// dead narrative collaborator leaves the caller with the deterministic
// action and a null analysis.
func (e *Engine) raise(ctx context.Context, incident *model.Incident) *model.Incident {
	if incident.Details == nil {
		incident.Details = map[string]interface{}{}
	}
	incident.Details["recommended_action"] = string(DetermineAction(incident))

	saved, err := e.store.RecordIncident(ctx, incident)
	if err != nil {
		logrus.Errorf("failed to record incident %q: %v", incident.Label, err)
		notification.NotifyError(err)
		return nil
	}

	if analysis := e.narrative.Analyze(ctx, saved); analysis != nil {
		saved.Details["ai_analysis"] = analysis
	} else {
		saved.Details["ai_analysis"] = nil
	}

	if e.hook != nil {
		e.hook(ctx, saved)
	}
	return saved
}
