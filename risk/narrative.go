package risk

import (
	"context"
	"net/http"

	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/internal/request"
	"github.com/sirupsen/logrus"
)

// Narrative is the enrichment returned by the external analysis service.
type Narrative struct {
	Summary        string  `json:"summary"`
	RiskScore      float64 `json:"risk_score"`
	Recommendation string  `json:"recommendation,omitempty"`
}

// NarrativeClient calls the optional incident-analysis collaborator. The
// service is best-effort: when it is disabled, unreachable or returns
// garbage, Analyze yields nil and the incident keeps its deterministic
// classification.
type NarrativeClient struct {
	conf config.AIConfig
}

func NewNarrativeClient(conf config.AIConfig) *NarrativeClient {
	return &NarrativeClient{conf: conf}
}

// Analyze posts the incident to the analysis service and returns its
// narrative, or nil on any failure.
func (c *NarrativeClient) Analyze(ctx context.Context, incident interface{}) *Narrative {
	if !c.conf.Enabled || c.conf.Url == "" {
		return nil
	}

	payload, err := request.ToJsonReq(incident)
	if err != nil {
		logrus.Errorf("narrative payload encoding failed: %v", err)
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Url, payload)
	if err != nil {
		logrus.Errorf("narrative request build failed: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.conf.Headers {
		req.Header.Set(key, value)
	}

	var narrative Narrative
	resp, err := request.Call(req, &narrative)
	if err != nil {
		logrus.Warnf("narrative service unavailable: %v", err)
		return nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		logrus.Warnf("narrative service returned %d", resp.StatusCode)
		return nil
	}
	if narrative.Summary == "" {
		return nil
	}
	return &narrative
}
