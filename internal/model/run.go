package model

import "time"

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RowStatus classifies the outcome of one row in a nearest-neighbor batch.
type RowStatus string

const (
	RowStatusOK      RowStatus = "ok"      // k neighbors found
	RowStatusPartial RowStatus = "partial" // fewer than k
	RowStatusEmpty   RowStatus = "empty"   // window read, no match
	RowStatusError   RowStatus = "error"   // window not readable
	RowStatusSkipped RowStatus = "skipped" // excluded by row filter
)

// RunCounts tallies row outcomes for a run.
type RunCounts struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Partial int `json:"partial"`
	Empty   int `json:"empty"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Add records one row outcome.
func (c *RunCounts) Add(s RowStatus) {
	c.Total++
	switch s {
	case RowStatusOK:
		c.OK++
	case RowStatusPartial:
		c.Partial++
	case RowStatusEmpty:
		c.Empty++
	case RowStatusError:
		c.Failed++
	case RowStatusSkipped:
		c.Skipped++
	}
}

// Run is a recorded batch invocation.
type Run struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Input     string    `json:"input"`
	Raster    string    `json:"raster,omitempty"`
	Params    string    `json:"params,omitempty"`
	Status    RunStatus `json:"status"`
	Counts    RunCounts `json:"counts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunRow is the recorded outcome of one row in a run.
type RunRow struct {
	RunID  string    `json:"run_id"`
	Row    int       `json:"row"`
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Status RowStatus `json:"status"`
	Found  int       `json:"found"`
	Error  string    `json:"error,omitempty"`
}
