package risk

import (
	"strings"

	"github.com/ledgerguard/ledgerguard/model"
)

// Action is the recommended operator response to an incident. Actions
// are advisory; nothing in the engine executes them automatically.
type Action string

const (
	ActionTerminate Action = "terminate"
	ActionFreeze    Action = "freeze"
	ActionBlock     Action = "block"
	ActionMonitor   Action = "monitor"
	ActionNoAction  Action = "no_action"
)

// actionRank orders actions from least to most severe so the decision
// table can keep the most severe match.
var actionRank = map[Action]int{
	ActionNoAction:  0,
	ActionMonitor:   1,
	ActionBlock:     2,
	ActionFreeze:    3,
	ActionTerminate: 4,
}

type keywordRule struct {
	keyword string
	action  Action
}

// Keyword tier of the decision table, matched case-insensitively against
// the incident label.
var keywordRules = []keywordRule{
	{"impossible travel", ActionTerminate},
	{"credential stuffing", ActionBlock},
	{"brute-force", ActionBlock},
	{"velocity", ActionFreeze},
}

// Severity tier: anything critical warrants terminating sessions, high
// warrants blocking, medium is watched.
var severityActions = map[model.Severity]Action{
	model.SeverityCritical: ActionTerminate,
	model.SeverityHigh:     ActionBlock,
	model.SeverityMedium:   ActionMonitor,
	model.SeverityLow:      ActionNoAction,
}

// Numeric tier thresholds, read from the incident detail payload.
const (
	escalateFailedAttempts = 10
	escalateWindowCount    = 20
	escalateDistinctUsers  = 10
)

// DetermineAction maps an incident to a recommended operator action via
// an ordered decision table: keyword match, then severity, then numeric
// detail thresholds. Every tier contributes its match and the most
// severe class wins. Total: always returns a value, ActionNoAction when
// nothing matches. Must run before any narrative enrichment.
func DetermineAction(incident *model.Incident) Action {
	best := ActionNoAction
	promote := func(a Action) {
		if actionRank[a] > actionRank[best] {
			best = a
		}
	}

	label := strings.ToLower(incident.Label)
	for _, rule := range keywordRules {
		if strings.Contains(label, rule.keyword) {
			promote(rule.action)
		}
	}

	if action, ok := severityActions[incident.Severity]; ok {
		promote(action)
	}

	if detailInt(incident.Details, "failed_attempts") >= escalateFailedAttempts {
		promote(ActionBlock)
	}
	if detailInt(incident.Details, "window_count") >= escalateWindowCount {
		promote(ActionFreeze)
	}
	if detailInt(incident.Details, "distinct_users") >= escalateDistinctUsers {
		promote(ActionBlock)
	}

	return best
}

// detailInt reads a numeric detail value. Detail payloads arrive either
// as native ints from detectors or as float64 after a JSON round trip
// through the queue.
func detailInt(details map[string]interface{}, key string) int {
	if details == nil {
		return 0
	}
	switch v := details[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
