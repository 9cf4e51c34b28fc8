package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	model2 "github.com/ledgerguard/ledgerguard/api/model"
	"github.com/ledgerguard/ledgerguard/model"
)

// RecordLoginEvent ingests an authentication result from the auth
// collaborator. Detectors run synchronously; the response includes any
// incidents the login raised.
func (a Api) RecordLoginEvent(c *gin.Context) {
	var newEvent model2.RecordLoginEvent
	if err := c.ShouldBindJSON(&newEvent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newEvent.ValidateRecordLoginEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	event, incidents, err := a.ledger.RecordLoginEvent(c.Request.Context(), newEvent.ToLoginEvent())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event, "incidents": incidents})
}

func (a Api) GetIncidents(c *gin.Context) {
	filter, err := parseEventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incidents, err := a.ledger.GetIncidents(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, incidents)
}

func (a Api) GetLoginEvents(c *gin.Context) {
	filter, err := parseEventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := a.ledger.GetLoginEvents(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// parseEventFilter builds an IncidentFilter from the query string. Times
// are RFC 3339.
func parseEventFilter(c *gin.Context) (model.IncidentFilter, error) {
	limit, offset := pagination(c)
	filter := model.IncidentFilter{
		Severity:      model.Severity(c.Query("severity")),
		UserID:        c.Query("user_id"),
		IP:            c.Query("ip"),
		LabelContains: c.Query("event_contains"),
		Limit:         limit,
		Offset:        offset,
	}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, err
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, err
		}
		filter.To = t
	}
	return filter, nil
}
