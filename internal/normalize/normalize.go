// Package normalize turns the payloads collected by a probe run into the
// canonical execution -> checkpoints -> steps tree.
package normalize

import (
	"errors"

	"github.com/PaesslerAG/jsonpath"

	"github.com/JakeFAU/execution-probe/internal/jsonvalue"
	"github.com/JakeFAU/execution-probe/internal/probe"
)

// ErrNoUsableSource is returned when no rule produced a checkpoint list. It
// is an expected outcome of a run, not a fault.
var ErrNoUsableSource = errors.New("no usable checkpoint source")

// StepsCheckpointName names the checkpoint synthesized around raw steps.
const StepsCheckpointName = "Execution Steps"

// GraphQLCheckpointsPath locates the checkpoint list in a GraphQL response.
const GraphQLCheckpointsPath = "$.data.execution.journey.checkpoints"

// Extractor derives a checkpoint list from one non-empty payload. ok=false
// means the payload held nothing usable.
type Extractor func(payload jsonvalue.Value) (checkpoints []jsonvalue.Value, ok bool)

// Rule binds a source name to its extractor. A nil Extract reserves the
// source's priority slot without reading it.
type Rule struct {
	Source  string
	Extract Extractor
}

// Result is the normalized tree and the source it came from.
type Result struct {
	Execution *probe.Execution
	Source    string
}

// Normalizer applies rules in order and stops at the first hit.
type Normalizer struct {
	rules []Rule
}

// New returns a Normalizer over rules in priority order.
func New(rules ...Rule) *Normalizer {
	return &Normalizer{rules: rules}
}

// Default returns the standard priority:
// checkpoints, steps, journey_steps, testsuite, execution_journey, graphql.
func Default() *Normalizer {
	return New(
		Rule{Source: "checkpoints", Extract: Checkpoints},
		Rule{Source: "steps", Extract: Steps},
		Rule{Source: "journey_steps", Extract: Steps},
		Rule{Source: "testsuite"},
		Rule{Source: "execution_journey"},
		Rule{Source: probe.GraphQLSource, Extract: Path(GraphQLCheckpointsPath)},
	)
}

// Sources lists rule sources in priority order.
func (n *Normalizer) Sources() []string {
	out := make([]string, len(n.rules))
	for i, r := range n.rules {
		out[i] = r.Source
	}
	return out
}

// Normalize builds the tree for ids from payloads keyed by source name.
// Sources ranked below the winner are never read.
func (n *Normalizer) Normalize(ids probe.Identifiers, payloads map[string]jsonvalue.Value) (Result, error) {
	for _, rule := range n.rules {
		if rule.Extract == nil {
			continue
		}
		payload, ok := payloads[rule.Source]
		if !ok || payload.IsZero() {
			continue
		}
		checkpoints, ok := rule.Extract(payload)
		if !ok || len(checkpoints) == 0 {
			continue
		}
		return Result{
			Execution: &probe.Execution{
				ExecutionID: ids.ExecutionID,
				JourneyID:   ids.JourneyID,
				ProjectID:   ids.ProjectID,
				Checkpoints: checkpoints,
			},
			Source: rule.Source,
		}, nil
	}
	return Result{}, ErrNoUsableSource
}

// Apply normalizes agg's payloads and stores the winner on agg.
func (n *Normalizer) Apply(agg *probe.Aggregate) (Result, error) {
	res, err := n.Normalize(agg.Identifiers(), agg.ExtractedData)
	if err != nil {
		return res, err
	}
	agg.SetStructured(res.Execution, res.Source)
	return res, nil
}

// Checkpoints uses an array payload as is and wraps anything else.
func Checkpoints(payload jsonvalue.Value) ([]jsonvalue.Value, bool) {
	return payload.AsList(), true
}

// Steps wraps the payload's steps in one synthesized checkpoint.
func Steps(payload jsonvalue.Value) ([]jsonvalue.Value, bool) {
	checkpoint := jsonvalue.Object(map[string]jsonvalue.Value{
		"name":  jsonvalue.StringValue(StepsCheckpointName),
		"steps": jsonvalue.List(payload.AsList()),
	})
	return []jsonvalue.Value{checkpoint}, true
}

// Path extracts the value at a JSONPath expression, wrapping non-arrays.
// A missing path or an empty value yields nothing.
func Path(expr string) Extractor {
	return func(payload jsonvalue.Value) ([]jsonvalue.Value, bool) {
		raw, err := jsonpath.Get(expr, payload.Interface())
		if err != nil {
			return nil, false
		}
		v := jsonvalue.From(raw)
		if v.IsZero() {
			return nil, false
		}
		return v.AsList(), true
	}
}
