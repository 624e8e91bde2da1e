package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGraphQLURL = "https://api.example.test/graphql"

func TestProberScenarioPartialSuccessTriggersGraphQL(t *testing.T) {
	t.Parallel()

	catalog := Catalog{
		{Name: "execution", Path: "/executions/88715", Description: "Main execution data"},
		{Name: "steps", Path: "/executions/88715/steps", Description: "Execution steps"},
	}
	tr := newScriptedTransport().
		on(http.MethodGet, testBaseURL+"/executions/88715", step{status: 200, body: `{"a":1}`}).
		on(http.MethodGet, testBaseURL+"/executions/88715/steps", step{status: 404}).
		on(http.MethodPost, testGraphQLURL, step{status: 500})
	obs := newRecordingObserver()
	f, _, _ := newTestFetcher(t, tr, obs)
	p := NewProber(f, testIDs, "", nil)

	agg, err := p.Run(context.Background(), catalog)
	require.NoError(t, err)

	assert.Equal(t, []string{"execution"}, agg.SuccessfulEndpoints)
	assert.Equal(t, []FailedEndpoint{{
		Name:        "steps",
		Path:        "/executions/88715/steps",
		Description: "Execution steps",
	}}, agg.FailedEndpoints)
	assert.Contains(t, agg.ExtractedData, "execution")
	assert.NotContains(t, agg.ExtractedData, "steps")

	gql := tr.callsTo(http.MethodPost, testGraphQLURL)
	require.Len(t, gql, 1, "graphql must be probed exactly once")
	assert.NotContains(t, agg.ExtractedData, GraphQLSource)
	assert.Equal(t, []string{"unexpected_status"}, obs.graphql)
	for _, failed := range agg.FailedEndpoints {
		assert.NotEqual(t, GraphQLSource, failed.Name, "graphql failures are not recorded")
	}
}

func TestProberGraphQLSuccessIsRecorded(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport().
		on(http.MethodPost, testGraphQLURL, step{status: 200, body: `{"data":{"execution":{"journey":{"checkpoints":[{"id":1}]}}}}`})
	f, _, _ := newTestFetcher(t, tr, nil)
	p := NewProber(f, testIDs, "", nil)

	agg, err := p.Run(context.Background(), Catalog{{Name: "execution", Path: "/executions/88715"}})
	require.NoError(t, err)
	assert.Equal(t, []string{GraphQLSource}, agg.SuccessfulEndpoints)
	_, ok := agg.Payload(GraphQLSource)
	assert.True(t, ok)

	gql := tr.callsTo(http.MethodPost, testGraphQLURL)
	require.Len(t, gql, 1)
	var body struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	require.NoError(t, json.Unmarshal(gql[0].Body, &body))
	assert.Contains(t, body.Query, "GetExecutionData")
	assert.Contains(t, body.Query, "checkpoints")
	assert.Equal(t, float64(88715), body.Variables["executionId"])
	assert.Equal(t, float64(527218), body.Variables["journeyId"])
}

func TestProberSkipsGraphQLAtThreshold(t *testing.T) {
	t.Parallel()

	catalog := Catalog{
		{Name: "a", Path: "/a"},
		{Name: "b", Path: "/b"},
		{Name: "c", Path: "/c"},
		{Name: "d", Path: "/d"},
	}
	tr := newScriptedTransport().
		on(http.MethodGet, testBaseURL+"/a", step{status: 200, body: `1`}).
		on(http.MethodGet, testBaseURL+"/c", step{status: 200, body: `2`}).
		on(http.MethodGet, testBaseURL+"/d", step{status: 200, body: `3`})
	f, _, _ := newTestFetcher(t, tr, nil)
	p := NewProber(f, testIDs, testGraphQLURL, nil)

	agg, err := p.Run(context.Background(), catalog)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, agg.SuccessfulEndpoints, "catalog order must be preserved")
	assert.Empty(t, tr.callsTo(http.MethodPost, testGraphQLURL))
}

func TestProberAggregateInvariant(t *testing.T) {
	t.Parallel()

	ids := testIDs
	catalog := DefaultCatalog(ids)
	tr := newScriptedTransport().
		on(http.MethodGet, testBaseURL+"/executions/88715/checkpoints", step{status: 200, body: `[{"name":"CP1"}]`}).
		on(http.MethodGet, testBaseURL+"/runs/88715", step{status: 200, body: `{"id":88715}`})
	f, _, _ := newTestFetcher(t, tr, nil)
	p := NewProber(f, ids, testGraphQLURL, nil)

	agg, err := p.Run(context.Background(), catalog)
	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoints", "run"}, agg.SuccessfulEndpoints)
	assert.Len(t, agg.FailedEndpoints, len(catalog)-2)
	for _, name := range agg.SuccessfulEndpoints {
		assert.Contains(t, agg.ExtractedData, name)
	}
	for _, failed := range agg.FailedEndpoints {
		assert.NotContains(t, agg.ExtractedData, failed.Name)
		assert.NotContains(t, agg.SuccessfulEndpoints, failed.Name)
	}
	assert.Equal(t, ids, agg.Identifiers())
}

func TestProberCanceledMidRunReturnsPartialAggregate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newScriptedTransport().
		on(http.MethodGet, testBaseURL+"/a", step{status: 200, body: `{}`})
	f, _, _ := newTestFetcher(t, tr, nil)
	f.sleep = func(context.Context, time.Duration) error { return nil }
	f.transport = cancelAfter{next: tr, cancel: cancel, after: testBaseURL + "/a"}
	p := NewProber(f, testIDs, testGraphQLURL, nil)

	agg, err := p.Run(ctx, Catalog{{Name: "a", Path: "/a"}, {Name: "b", Path: "/b"}})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, agg)
	assert.Empty(t, agg.SuccessfulEndpoints, "cancellation during a request aborts before recording")
}

// cancelAfter cancels the run once the given URL has been requested.
type cancelAfter struct {
	next   Transport
	cancel context.CancelFunc
	after  string
}

func (c cancelAfter) Do(ctx context.Context, req Request) (Response, error) {
	resp, err := c.next.Do(ctx, req)
	if req.URL == c.after {
		c.cancel()
	}
	return resp, err
}

func TestGraphQLURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://api-app2.virtuoso.qa/api":  "https://api-app2.virtuoso.qa/graphql",
		"https://api-app2.virtuoso.qa/api/": "https://api-app2.virtuoso.qa/graphql",
		"https://host.test/v1/api":          "https://host.test/v1/graphql",
		"https://host.test":                 "https://host.test/graphql",
		"https://host.test/rest":            "https://host.test/rest/graphql",
	}
	for in, want := range tests {
		assert.Equal(t, want, GraphQLURL(in), in)
	}
}
