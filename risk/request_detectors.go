package risk

import (
	"context"
	"time"

	"github.com/ledgerguard/ledgerguard/model"
)

// breachWindow is the dedup horizon for rate-limit incidents: one
// incident per offending IP per window, however hard the client hammers.
const breachWindow = 10 * time.Minute

const LabelRateLimitBreach = "Rate limit breached"

// rateLimitBreachDetector turns rate-limit breaches reported by the web
// layer into incidents. The middleware only forwards requests that were
// rejected, so every event reaching this detector is already a signal.
type rateLimitBreachDetector struct {
	store Store
}

func newRateLimitBreachDetector(store Store) *rateLimitBreachDetector {
	return &rateLimitBreachDetector{store: store}
}

func (d *rateLimitBreachDetector) Name() string { return "rate_limit_breach" }

func (d *rateLimitBreachDetector) Evaluate(ctx context.Context, event Event) ([]*model.Incident, error) {
	req := event.Request
	if req == nil || req.IP == "" {
		return nil, nil
	}

	exists, err := d.store.IncidentExists(ctx, LabelRateLimitBreach, req.IP, time.Now().Add(-breachWindow))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	return []*model.Incident{{
		UserID:   req.UserID,
		IP:       req.IP,
		Label:    LabelRateLimitBreach,
		Severity: model.SeverityLow,
		DedupKey: req.IP,
		Details: map[string]interface{}{
			"path":   req.Path,
			"method": req.Method,
		},
	}}, nil
}
