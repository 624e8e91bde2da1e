// Package extract runs one extraction end to end: probe the API, normalize
// the payloads, persist the result files, record the run and render the
// report. It maps the outcome to a process exit code.
package extract

import (
	"context"
	"time"
)

// Process exit codes.
const (
	// ExitStructured means a non-empty checkpoint tree was produced.
	ExitStructured = 0
	// ExitNoStructured means the run completed without a checkpoint tree.
	ExitNoStructured = 1
	// ExitFault means the run could not complete.
	ExitFault = 2
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Ledger records one row per completed run.
type Ledger interface {
	RecordRun(ctx context.Context, record RunRecord) error
}

// Publisher announces completed runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunRecord is the ledger row for one run.
type RunRecord struct {
	RunID               string
	ExecutionID         string
	JourneyID           string
	ProjectID           string
	StartedAt           time.Time
	FinishedAt          time.Time
	SuccessfulEndpoints []string
	FailedEndpoints     int
	StructuredSource    string
	Checkpoints         int
	RawURI              string
	RawSHA256           string
	StructuredURI       string
	ExitCode            int
}

// RunNotification is published after a run completes.
type RunNotification struct {
	RunID               string    `json:"run_id"`
	ExecutionID         string    `json:"execution_id"`
	JourneyID           string    `json:"journey_id"`
	ProjectID           string    `json:"project_id"`
	FinishedAt          time.Time `json:"finished_at"`
	SuccessfulEndpoints []string  `json:"successful_endpoints"`
	StructuredSource    string    `json:"structured_source,omitempty"`
	Checkpoints         int       `json:"checkpoints"`
	RawURI              string    `json:"raw_uri"`
	StructuredURI       string    `json:"structured_uri,omitempty"`
	ExitCode            int       `json:"exit_code"`
}
