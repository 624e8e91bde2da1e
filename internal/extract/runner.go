package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/execution-probe/internal/artifact"
	"github.com/JakeFAU/execution-probe/internal/normalize"
	"github.com/JakeFAU/execution-probe/internal/probe"
	"github.com/JakeFAU/execution-probe/internal/report"
)

// Prober sweeps the endpoint catalog.
type Prober interface {
	Run(ctx context.Context, catalog probe.Catalog) (*probe.Aggregate, error)
}

// Normalizer picks the checkpoint tree out of an aggregate.
type Normalizer interface {
	Apply(agg *probe.Aggregate) (normalize.Result, error)
}

// ArtifactWriter persists the result files.
type ArtifactWriter interface {
	Write(ctx context.Context, agg *probe.Aggregate, at time.Time) (artifact.Result, error)
}

// Metrics receives run-level observations.
type Metrics interface {
	ObserveNormalized(source string)
	ObserveRun(exitCode int, finishedUnix float64)
	WriteTextfile(path string) error
}

// Deps wires a Runner. Ledger, Publisher, Metrics and Report are optional.
type Deps struct {
	Prober     Prober
	Catalog    probe.Catalog
	Normalizer Normalizer
	Artifacts  ArtifactWriter
	Ledger     Ledger
	Publisher  Publisher
	Metrics    Metrics
	Clock      Clock
	IDs        IDGenerator
	Report     io.Writer
	Logger     *zap.Logger
}

// Config controls Runner behavior.
type Config struct {
	RunConfig       probe.RunConfig
	Topic           string
	MetricsTextfile string
}

// Summary is what one completed run produced.
type Summary struct {
	RunID     string
	ExitCode  int
	Aggregate *probe.Aggregate
	Files     artifact.Result
}

// Runner executes the extraction pipeline once.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Runner.
func New(deps Deps, cfg Config) (*Runner, error) {
	switch {
	case deps.Prober == nil:
		return nil, errors.New("prober is required")
	case deps.Normalizer == nil:
		return nil, errors.New("normalizer is required")
	case deps.Artifacts == nil:
		return nil, errors.New("artifact writer is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case len(deps.Catalog) == 0:
		return nil, errors.New("catalog is empty")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("extract")}, nil
}

// Execute runs the pipeline and maps the outcome to a process exit code.
// Panics and errors are faults.
func (r *Runner) Execute(ctx context.Context) (code int) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("extraction panicked", zap.Any("panic", rec), zap.Stack("stack"))
			code = ExitFault
		}
		r.observeRun(code)
	}()

	summary, err := r.Run(ctx)
	if err != nil {
		r.logger.Error("extraction failed", zap.Error(err))
		return ExitFault
	}
	return summary.ExitCode
}

// Run probes, normalizes, persists, records and reports one extraction.
// A non-nil error means the run is a fault.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	started := r.deps.Clock.Now()
	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := r.logger.With(zap.String("run_id", runID))

	agg, err := r.deps.Prober.Run(ctx, r.deps.Catalog)
	if err != nil {
		return Summary{}, fmt.Errorf("probe: %w", err)
	}
	agg.RunID = runID
	agg.Timestamp = started
	agg.Config = r.cfg.RunConfig

	res, err := r.deps.Normalizer.Apply(agg)
	switch {
	case errors.Is(err, normalize.ErrNoUsableSource):
		logger.Warn("no checkpoint or step data found")
	case err != nil:
		return Summary{}, fmt.Errorf("normalize: %w", err)
	default:
		logger.Info("structured checkpoints",
			zap.String("source", res.Source),
			zap.Int("checkpoints", len(res.Execution.Checkpoints)),
		)
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveNormalized(res.Source)
	}

	files, err := r.deps.Artifacts.Write(ctx, agg, started)
	if err != nil {
		return Summary{}, fmt.Errorf("persist results: %w", err)
	}
	logger.Info("raw results saved", zap.String("uri", files.Raw.URI), zap.Int("bytes", files.Raw.Bytes))
	if files.Structured != nil {
		logger.Info("structured results saved", zap.String("uri", files.Structured.URI))
	}

	code := ExitNoStructured
	if agg.HasStructured() {
		code = ExitStructured
	}
	summary := Summary{RunID: runID, ExitCode: code, Aggregate: agg, Files: files}
	record := r.record(summary, started, r.deps.Clock.Now())

	if r.deps.Ledger != nil {
		if err := r.deps.Ledger.RecordRun(ctx, record); err != nil {
			return Summary{}, fmt.Errorf("record run: %w", err)
		}
	}
	if r.deps.Publisher != nil {
		msgID, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, notification(record))
		if err != nil {
			logger.Warn("run notification failed", zap.Error(err))
		} else {
			logger.Debug("run notification published", zap.String("message_id", msgID))
		}
	}
	if r.deps.Report != nil {
		opts := report.Options{RawFile: files.Raw.Name}
		if files.Structured != nil {
			opts.StructuredFile = files.Structured.Name
		}
		if err := report.Render(r.deps.Report, agg, opts); err != nil {
			logger.Warn("render report failed", zap.Error(err))
		}
	}
	return summary, nil
}

func (r *Runner) record(s Summary, started, finished time.Time) RunRecord {
	ids := s.Aggregate.Identifiers()
	rec := RunRecord{
		RunID:               s.RunID,
		ExecutionID:         ids.ExecutionID.String(),
		JourneyID:           ids.JourneyID.String(),
		ProjectID:           ids.ProjectID.String(),
		StartedAt:           started,
		FinishedAt:          finished,
		SuccessfulEndpoints: append([]string(nil), s.Aggregate.SuccessfulEndpoints...),
		FailedEndpoints:     len(s.Aggregate.FailedEndpoints),
		StructuredSource:    s.Aggregate.StructuredSource,
		RawURI:              s.Files.Raw.URI,
		RawSHA256:           s.Files.Raw.SHA256,
		ExitCode:            s.ExitCode,
	}
	if s.Aggregate.StructuredData != nil {
		rec.Checkpoints = len(s.Aggregate.StructuredData.Checkpoints)
	}
	if s.Files.Structured != nil {
		rec.StructuredURI = s.Files.Structured.URI
	}
	return rec
}

func notification(rec RunRecord) RunNotification {
	return RunNotification{
		RunID:               rec.RunID,
		ExecutionID:         rec.ExecutionID,
		JourneyID:           rec.JourneyID,
		ProjectID:           rec.ProjectID,
		FinishedAt:          rec.FinishedAt,
		SuccessfulEndpoints: rec.SuccessfulEndpoints,
		StructuredSource:    rec.StructuredSource,
		Checkpoints:         rec.Checkpoints,
		RawURI:              rec.RawURI,
		StructuredURI:       rec.StructuredURI,
		ExitCode:            rec.ExitCode,
	}
}

func (r *Runner) observeRun(code int) {
	if r.deps.Metrics == nil {
		return
	}
	r.deps.Metrics.ObserveRun(code, float64(r.deps.Clock.Now().Unix()))
	if r.cfg.MetricsTextfile == "" {
		return
	}
	if err := r.deps.Metrics.WriteTextfile(r.cfg.MetricsTextfile); err != nil {
		r.logger.Warn("write metrics textfile failed", zap.Error(err))
	}
}
