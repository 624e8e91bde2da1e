// Package probe discovers which candidate endpoint shapes of a remote API
// serve data for one execution and aggregates the payloads they return.
package probe

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/JakeFAU/execution-probe/internal/jsonvalue"
)

// Identifier is an opaque remote identifier. Purely numeric identifiers are
// emitted as JSON numbers so downstream consumers see `"executionId": 88715`.
type Identifier string

// MarshalJSON implements json.Marshaler.
func (id Identifier) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*id = Identifier(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = Identifier(s)
	return nil
}

func (id Identifier) numeric() bool {
	if id == "" || len(id) > 18 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return id[0] != '0' || len(id) == 1
}

func (id Identifier) String() string {
	return string(id)
}

// Identifiers is the identifier set a run is scoped to.
type Identifiers struct {
	ExecutionID Identifier `json:"execution_id"`
	JourneyID   Identifier `json:"journey_id"`
	ProjectID   Identifier `json:"project_id"`
	OrgID       Identifier `json:"org_id"`
}

// Endpoint describes one candidate request shape.
type Endpoint struct {
	Name        string `json:"name" yaml:"name"`
	Path        string `json:"path" yaml:"path"`
	Description string `json:"description" yaml:"description"`
}

// OutcomeKind classifies the final result of fetching one endpoint.
type OutcomeKind string

// Outcome kinds recorded per endpoint.
const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeNotFound       OutcomeKind = "not_found"
	OutcomeAuthFailure    OutcomeKind = "auth_failure"
	OutcomeTransportError OutcomeKind = "transport_error"
)

// Outcome is the result of fetching one endpoint, produced once per run.
type Outcome struct {
	Name       string
	Kind       OutcomeKind
	Payload    jsonvalue.Value
	LastStatus int
	Attempts   int
	Err        error
}

// Succeeded reports whether the outcome carries a payload.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// Request is a single transport-level HTTP request.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is what the core needs back from the transport.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FailedEndpoint is recorded for every endpoint that exhausted its attempts.
type FailedEndpoint struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Execution is the canonical checkpoint tree for one execution.
type Execution struct {
	ExecutionID Identifier        `json:"executionId"`
	JourneyID   Identifier        `json:"journeyId"`
	ProjectID   Identifier        `json:"projectId"`
	Checkpoints []jsonvalue.Value `json:"checkpoints"`
}

// RunConfig is the configuration snapshot written alongside the results.
type RunConfig struct {
	BaseURL     string     `json:"base_url"`
	UIURL       string     `json:"ui_url"`
	Token       string     `json:"token"`
	ExecutionID Identifier `json:"execution_id"`
	JourneyID   Identifier `json:"journey_id"`
	ProjectID   Identifier `json:"project_id"`
	OrgID       Identifier `json:"org_id"`
}

// Aggregate accumulates everything learned during one run.
//
// Every name in SuccessfulEndpoints has an entry in ExtractedData; names in
// FailedEndpoints appear in neither.
type Aggregate struct {
	RunID               string                     `json:"run_id,omitempty"`
	Timestamp           time.Time                  `json:"timestamp"`
	Config              RunConfig                  `json:"config"`
	SuccessfulEndpoints []string                   `json:"successful_endpoints"`
	FailedEndpoints     []FailedEndpoint           `json:"failed_endpoints"`
	ExtractedData       map[string]jsonvalue.Value `json:"extracted_data"`
	StructuredData      *Execution                 `json:"structured_data"`
	StructuredSource    string                     `json:"structured_source,omitempty"`

	ids Identifiers
}

// NewAggregate returns an empty aggregate scoped to ids.
func NewAggregate(ids Identifiers) *Aggregate {
	return &Aggregate{
		SuccessfulEndpoints: []string{},
		FailedEndpoints:     []FailedEndpoint{},
		ExtractedData:       map[string]jsonvalue.Value{},
		ids:                 ids,
	}
}

// Identifiers returns the identifier set the aggregate was created for.
func (a *Aggregate) Identifiers() Identifiers {
	return a.ids
}

// RecordSuccess appends name and stores its payload.
func (a *Aggregate) RecordSuccess(name string, payload jsonvalue.Value) {
	a.SuccessfulEndpoints = append(a.SuccessfulEndpoints, name)
	a.ExtractedData[name] = payload
}

// RecordFailure appends the endpoint to the failed list.
func (a *Aggregate) RecordFailure(endpoint Endpoint) {
	a.FailedEndpoints = append(a.FailedEndpoints, FailedEndpoint{
		Name:        endpoint.Name,
		Path:        endpoint.Path,
		Description: endpoint.Description,
	})
}

// Payload returns the payload stored for name.
func (a *Aggregate) Payload(name string) (jsonvalue.Value, bool) {
	v, ok := a.ExtractedData[name]
	return v, ok
}

// SetStructured records the normalized tree and the source it came from.
func (a *Aggregate) SetStructured(exec *Execution, source string) {
	a.StructuredData = exec
	a.StructuredSource = source
}

// HasStructured reports whether normalization produced a non-empty tree.
func (a *Aggregate) HasStructured() bool {
	return a.StructuredData != nil && len(a.StructuredData.Checkpoints) > 0
}
