package risk

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/ledgerguard/ledgerguard/config"
	"github.com/ledgerguard/ledgerguard/model"
	"github.com/stretchr/testify/assert"
)

func TestNarrativeAnalyze(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://narrative.test/analyze",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{
			"summary":        "Rapid country hop consistent with session hijacking.",
			"risk_score":     0.92,
			"recommendation": "terminate sessions",
		}))

	client := NewNarrativeClient(config.AIConfig{
		Enabled: true,
		Url:     "http://narrative.test/analyze",
	})

	narrative := client.Analyze(context.Background(), &model.Incident{Label: LabelImpossibleTravel})
	assert.NotNil(t, narrative)
	assert.Equal(t, "Rapid country hop consistent with session hijacking.", narrative.Summary)
	assert.Equal(t, 0.92, narrative.RiskScore)
}

func TestNarrativeDisabled(t *testing.T) {
	client := NewNarrativeClient(config.AIConfig{})
	assert.Nil(t, client.Analyze(context.Background(), &model.Incident{}))
}

func TestNarrativeServiceErrorYieldsNil(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://narrative.test/analyze",
		httpmock.NewJsonResponderOrPanic(http.StatusInternalServerError, map[string]interface{}{"error": "overloaded"}))

	client := NewNarrativeClient(config.AIConfig{Enabled: true, Url: "http://narrative.test/analyze"})
	assert.Nil(t, client.Analyze(context.Background(), &model.Incident{}))
}

func TestNarrativeEmptySummaryYieldsNil(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://narrative.test/analyze",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{"risk_score": 0.1}))

	client := NewNarrativeClient(config.AIConfig{Enabled: true, Url: "http://narrative.test/analyze"})
	assert.Nil(t, client.Analyze(context.Background(), &model.Incident{}))
}
