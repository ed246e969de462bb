package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type QueryRun struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	QueryName     string          `json:"query_name" db:"query_name"`
	Spec          json.RawMessage `json:"spec" db:"spec"`
	Mode          ExtractMode     `json:"mode" db:"mode"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at" db:"finished_at"`
	Status        RunStatus       `json:"status" db:"status"`
	ListingsFound int             `json:"listings_found" db:"listings_found"`
	RecordsOK     int             `json:"records_ok" db:"records_ok"`
	RecordsFailed int             `json:"records_failed" db:"records_failed"`
	Error         string          `json:"error,omitempty" db:"error"`
}

func NewQueryRun(name string, spec QuerySpec, mode ExtractMode) *QueryRun {
	raw, _ := json.Marshal(spec)
	return &QueryRun{
		ID:        uuid.New(),
		QueryName: name,
		Spec:      raw,
		Mode:      mode,
		StartedAt: time.Now(),
		Status:    RunStatusRunning,
	}
}

// Trigger asks the scheduler to run a saved query outside its schedule.
type Trigger struct {
	Query       string    `json:"query"`
	RequestedAt time.Time `json:"requested_at"`
}

// RunResult is the output of one query run. In details mode Records has one
// entry per URL, empty where extraction failed. In history mode History holds
// every listing's entries concatenated in URL order.
type RunResult struct {
	Run     *QueryRun
	URLs    []string
	Records []Record
	History []PriceHistoryEntry
}
