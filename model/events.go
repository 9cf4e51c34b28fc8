package model

import (
	"encoding/json"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Incident is an append-only audit record of a security-relevant event.
// Incidents are produced by risk detectors and administrative commands,
// never by ledger operations directly.
type Incident struct {
	ID         int64                  `json:"-"`
	IncidentID string                 `json:"incident_id"`
	UserID     string                 `json:"user_id,omitempty"`
	IP         string                 `json:"ip,omitempty"`
	Country    string                 `json:"country,omitempty"`
	Label      string                 `json:"event"`
	Severity   Severity               `json:"severity"`
	DedupKey   string                 `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

func (incident *Incident) ToJSON() ([]byte, error) {
	return json.Marshal(incident)
}

// LoginEvent records a single authentication attempt, successful or not.
// Unknown email attempts keep UserID empty.
type LoginEvent struct {
	ID             int64     `json:"-"`
	EventID        string    `json:"event_id"`
	UserID         string    `json:"user_id,omitempty"`
	IP             string    `json:"ip"`
	Country        string    `json:"country,omitempty"`
	Success        bool      `json:"success"`
	AttemptedEmail string    `json:"attempted_email,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RequestEvent is a generic web-layer event forwarded into the risk
// engine by rate-limit and authorization middleware.
type RequestEvent struct {
	IP        string    `json:"ip"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IncidentFilter narrows incident and login-event queries. Zero values
// mean "no constraint".
type IncidentFilter struct {
	Severity      Severity
	UserID        string
	IP            string
	From          time.Time
	To            time.Time
	LabelContains string
	Limit         int
	Offset        int
}
