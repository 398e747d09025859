package regionalsync

import (
	"time"

	"github.com/seplag/regional_sync/models"
)

// FetchResult is one successful read of the external list.
// Names are trimmed and valid but may repeat; Discarded counts the records that were dropped.
type FetchResult struct {
	Names     []string
	Received  int
	Discarded int
}

// Plan is the difference between the active local set and the external list.
// Every slice is sorted ascending.
type Plan struct {
	Create     []string
	Deactivate []string
	Unchanged  []string
	// Repair holds names that currently have more than one active row. They are
	// a subset of Create or Deactivate.
	Repair []string
}

func (p Plan) HasChanges() bool {
	return len(p.Create) > 0 || len(p.Deactivate) > 0
}

// ReconcileResult is what Reconcile actually did to the store.
type ReconcileResult struct {
	Plan        Plan
	Created     []string
	Deactivated []string
	Errors      []error
}

func (r ReconcileResult) Changed() bool {
	return len(r.Created) > 0 || len(r.Deactivated) > 0
}

// CycleReport summarizes one run of RunCycle.
type CycleReport struct {
	RunId         uint      `json:"run_id,omitempty"`
	Status        string    `json:"status"`
	TriggeredBy   string    `json:"triggered_by"`
	CorrelationId string    `json:"correlation_id"`
	Received      int       `json:"received"`
	Discarded     int       `json:"discarded"`
	Created       []string  `json:"created"`
	Deactivated   []string  `json:"deactivated"`
	Unchanged     int       `json:"unchanged"`
	ErrorCount    int       `json:"error_count"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// RegionalChangeEvent is published after a cycle that created or deactivated rows.
type RegionalChangeEvent struct {
	RunId         uint      `json:"run_id,omitempty"`
	CorrelationId string    `json:"correlation_id"`
	Created       []string  `json:"created"`
	Deactivated   []string  `json:"deactivated"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type SyncTriggerResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Report  *CycleReport `json:"report,omitempty"`
}

type RegionalResponse struct {
	Id        uint   `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type RegionalListResponse struct {
	Items []RegionalResponse `json:"items"`
	Total int                `json:"total"`
}

type SyncRunListResponse struct {
	Items []models.RegionalSyncRun `json:"items"`
}

func toRegionalResponse(r models.Regional) RegionalResponse {
	return RegionalResponse{
		Id:        r.ID,
		Name:      r.Name,
		Active:    r.Active,
		CreatedAt: formatTime(r.CreatedAt),
		UpdatedAt: formatTime(r.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
