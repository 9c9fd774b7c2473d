package domain

import "time"

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// ClientInfo is session metadata attached to a run, never to individual
// records.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// AnalysisRun is the unit of work: a set of uploaded documents analyzed
// together into one TaxRecord set.
type AnalysisRun struct {
	ID          string            `json:"id"`
	Status      RunStatus         `json:"status"`
	TaxYear     int               `json:"tax_year"`
	Client      ClientInfo        `json:"client,omitempty"`
	Context     string            `json:"context,omitempty"`
	DocumentIDs []string          `json:"document_ids"`
	Rates       ExchangeRateTable `json:"rates"`
	Diagnostics []Diagnostic      `json:"diagnostics,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}
