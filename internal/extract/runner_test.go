package extract

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/execution-probe/internal/artifact"
	"github.com/JakeFAU/execution-probe/internal/clock/system"
	"github.com/JakeFAU/execution-probe/internal/hash/sha256"
	"github.com/JakeFAU/execution-probe/internal/id/uuid"
	"github.com/JakeFAU/execution-probe/internal/jsonvalue"
	"github.com/JakeFAU/execution-probe/internal/normalize"
	"github.com/JakeFAU/execution-probe/internal/probe"
	pubmemory "github.com/JakeFAU/execution-probe/internal/publisher/memory"
	"github.com/JakeFAU/execution-probe/internal/storage/memory"
)

var (
	testIDs = probe.Identifiers{ExecutionID: "88715", JourneyID: "527218", ProjectID: "4889", OrgID: "1964"}
	startAt = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
)

type stubProber struct {
	payloads map[string]string
	err      error
	panicMsg string
}

func (s stubProber) Run(_ context.Context, catalog probe.Catalog) (*probe.Aggregate, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	agg := probe.NewAggregate(testIDs)
	if s.err != nil {
		return agg, s.err
	}
	for _, e := range catalog {
		body, ok := s.payloads[e.Name]
		if !ok {
			agg.RecordFailure(e)
			continue
		}
		agg.RecordSuccess(e.Name, jsonvalue.MustParse(body))
	}
	return agg, nil
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) RecordRun(ctx context.Context, rec RunRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type fakeMetrics struct {
	normalized []string
	runs       []int
	textfiles  []string
}

func (f *fakeMetrics) ObserveNormalized(source string) { f.normalized = append(f.normalized, source) }
func (f *fakeMetrics) ObserveRun(code int, _ float64) { f.runs = append(f.runs, code) }
func (f *fakeMetrics) WriteTextfile(path string) error {
	f.textfiles = append(f.textfiles, path)
	return nil
}

type fixture struct {
	deps      Deps
	store     *memory.BlobStore
	publisher *pubmemory.Publisher
	metrics   *fakeMetrics
	report    *bytes.Buffer
}

func newFixture(t *testing.T, prober Prober) *fixture {
	t.Helper()
	store := memory.NewBlobStore()
	writer, err := artifact.NewWriter(store, sha256.New())
	require.NoError(t, err)
	f := &fixture{
		store:     store,
		publisher: pubmemory.New(),
		metrics:   &fakeMetrics{},
		report:    &bytes.Buffer{},
	}
	f.deps = Deps{
		Prober:     prober,
		Catalog:    probe.DefaultCatalog(testIDs),
		Normalizer: normalize.Default(),
		Artifacts:  writer,
		Publisher:  f.publisher,
		Metrics:    f.metrics,
		Clock:      system.Fixed{At: startAt},
		IDs:        uuid.Static("run-1"),
		Report:     f.report,
	}
	return f
}

func newRunner(t *testing.T, deps Deps) *Runner {
	t.Helper()
	r, err := New(deps, Config{Topic: "probe-runs", MetricsTextfile: "/tmp/probe.prom"})
	require.NoError(t, err)
	return r
}

func TestExecuteStructuredRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubProber{payloads: map[string]string{
		"execution":   `{"id":88715}`,
		"checkpoints": `[{"name":"CP1"},{"name":"CP2"}]`,
	}})
	ledger := &mockLedger{}
	ledger.On("RecordRun", mock.Anything, mock.MatchedBy(func(rec RunRecord) bool {
		return rec.RunID == "run-1" &&
			rec.ExitCode == ExitStructured &&
			rec.Checkpoints == 2 &&
			rec.StructuredSource == "checkpoints" &&
			rec.FailedEndpoints == 17 &&
			rec.StructuredURI == "memory://execution_88715_structured_20240309_140507.json"
	})).Return(nil).Once()
	f.deps.Ledger = ledger

	code := newRunner(t, f.deps).Execute(context.Background())
	assert.Equal(t, ExitStructured, code)
	ledger.AssertExpectations(t)

	assert.Equal(t, []string{
		"execution_88715_raw_20240309_140507.json",
		"execution_88715_structured_20240309_140507.json",
	}, f.store.Keys())

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "probe-runs", msgs[0].Topic)
	assert.Contains(t, string(msgs[0].Data), `"execution_id":"88715"`)

	assert.Equal(t, []string{"checkpoints"}, f.metrics.normalized)
	assert.Equal(t, []int{ExitStructured}, f.metrics.runs)
	assert.Equal(t, []string{"/tmp/probe.prom"}, f.metrics.textfiles)
	assert.Contains(t, f.report.String(), "Successful endpoints: 2")
}

func TestRunStampsAggregate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubProber{payloads: map[string]string{"run": `{"state":"finished"}`}})
	r, err := New(f.deps, Config{RunConfig: probe.RunConfig{BaseURL: "https://h/api", Token: "9e14***"}})
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, startAt, summary.Aggregate.Timestamp)
	assert.Equal(t, "9e14***", summary.Aggregate.Config.Token)
	assert.Equal(t, ExitNoStructured, summary.ExitCode)
	assert.Nil(t, summary.Files.Structured)
	assert.Equal(t, []string{""}, f.metrics.normalized)
	assert.Contains(t, f.report.String(), "Partial data extracted")
}

func TestExecuteProbeErrorIsFault(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubProber{err: context.Canceled})
	code := newRunner(t, f.deps).Execute(context.Background())
	assert.Equal(t, ExitFault, code)
	assert.Empty(t, f.store.Keys())
	assert.Empty(t, f.publisher.Messages())
	assert.Equal(t, []int{ExitFault}, f.metrics.runs)
}

func TestExecuteLedgerErrorIsFault(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubProber{payloads: map[string]string{"checkpoints": `[{"name":"CP1"}]`}})
	ledger := &mockLedger{}
	ledger.On("RecordRun", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	f.deps.Ledger = ledger

	assert.Equal(t, ExitFault, newRunner(t, f.deps).Execute(context.Background()))
	ledger.AssertExpectations(t)
	assert.Empty(t, f.publisher.Messages())
}

func TestExecutePublishFailureOnlyWarns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubProber{payloads: map[string]string{"steps": `{"id":1,"action":"click"}`}})
	f.publisher.FailWith(errors.New("broker unavailable"))

	assert.Equal(t, ExitStructured, newRunner(t, f.deps).Execute(context.Background()))
	assert.Len(t, f.store.Keys(), 2)
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubProber{panicMsg: "boom"})
	assert.Equal(t, ExitFault, newRunner(t, f.deps).Execute(context.Background()))
	assert.Equal(t, []int{ExitFault}, f.metrics.runs)
}

func TestExecuteOptionalDepsMayBeNil(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stubProber{payloads: map[string]string{}})
	f.deps.Publisher = nil
	f.deps.Metrics = nil
	f.deps.Report = nil

	assert.Equal(t, ExitNoStructured, newRunner(t, f.deps).Execute(context.Background()))
	assert.Equal(t, []string{"execution_88715_raw_20240309_140507.json"}, f.store.Keys())
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	base := newFixture(t, stubProber{}).deps
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{name: "prober", mutate: func(d *Deps) { d.Prober = nil }},
		{name: "normalizer", mutate: func(d *Deps) { d.Normalizer = nil }},
		{name: "artifacts", mutate: func(d *Deps) { d.Artifacts = nil }},
		{name: "clock", mutate: func(d *Deps) { d.Clock = nil }},
		{name: "ids", mutate: func(d *Deps) { d.IDs = nil }},
		{name: "catalog", mutate: func(d *Deps) { d.Catalog = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			deps := base
			tt.mutate(&deps)
			_, err := New(deps, Config{})
			assert.Error(t, err)
		})
	}
}
