// Package app initializes and holds the services of one extraction run,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/execution-probe/internal/artifact"
	"github.com/JakeFAU/execution-probe/internal/clock/system"
	"github.com/JakeFAU/execution-probe/internal/config"
	"github.com/JakeFAU/execution-probe/internal/extract"
	collyfetcher "github.com/JakeFAU/execution-probe/internal/fetcher/colly"
	"github.com/JakeFAU/execution-probe/internal/hash/sha256"
	"github.com/JakeFAU/execution-probe/internal/id/uuid"
	"github.com/JakeFAU/execution-probe/internal/metrics"
	"github.com/JakeFAU/execution-probe/internal/normalize"
	"github.com/JakeFAU/execution-probe/internal/probe"
	pubmemory "github.com/JakeFAU/execution-probe/internal/publisher/memory"
	"github.com/JakeFAU/execution-probe/internal/publisher/pubsub"
	"github.com/JakeFAU/execution-probe/internal/storage"
	"github.com/JakeFAU/execution-probe/internal/storage/gcs"
	"github.com/JakeFAU/execution-probe/internal/storage/local"
	"github.com/JakeFAU/execution-probe/internal/storage/memory"
	"github.com/JakeFAU/execution-probe/internal/storage/minio"
	"github.com/JakeFAU/execution-probe/internal/storage/postgres"
)

// App holds the services wired for one run.
type App struct {
	logger  *zap.Logger
	runner  *extract.Runner
	metrics *metrics.Recorder
	closers []func() error
}

// Runner returns the configured extraction runner.
func (a *App) Runner() *extract.Runner {
	return a.runner
}

// Metrics returns the run's metrics recorder.
func (a *App) Metrics() *metrics.Recorder {
	return a.metrics
}

// New builds every service from cfg. The report is written to out. New fails
// fast if a configured backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	ids := cfg.Identifiers()
	catalog, err := Catalog(cfg)
	if err != nil {
		return nil, err
	}

	session, err := probe.NewStaticSession(cfg.API.Token, ids.OrgID, cfg.API.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}
	transport := collyfetcher.New(collyfetcher.Config{UserAgent: cfg.API.UserAgent, Timeout: cfg.RequestTimeout()})
	fetcher := probe.NewFetcher(transport, session, cfg.FetcherConfig(), a.metrics, logger.Named("fetcher"))
	prober := probe.NewProber(fetcher, ids, cfg.API.GraphQLURL, logger.Named("prober"))

	store, err := a.blobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	writer, err := artifact.NewWriter(storage.WithPrefix(store, cfg.Storage.Prefix), sha256.New())
	if err != nil {
		return nil, err
	}

	deps := extract.Deps{
		Prober:     prober,
		Catalog:    catalog,
		Normalizer: normalize.Default(),
		Artifacts:  writer,
		Metrics:    a.metrics,
		Clock:      system.New(),
		IDs:        uuid.New(),
		Report:     out,
		Logger:     logger,
	}

	if cfg.DB.DSN != "" {
		ledger, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			return nil, fmt.Errorf("init run ledger: %w", err)
		}
		logger.Info("recording runs in postgres", zap.String("table", cfg.DB.Table))
		a.closers = append(a.closers, func() error { ledger.Close(); return nil })
		deps.Ledger = ledger
	}

	if cfg.PubSub.TopicName != "" {
		pub, closeFn, err := pubsub.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		logger.Info("publishing run notifications", zap.String("topic", cfg.PubSub.TopicName))
		a.closers = append(a.closers, closeFn)
		deps.Publisher = pub
	} else {
		deps.Publisher = pubmemory.New()
	}

	runner, err := extract.New(deps, extract.Config{
		RunConfig:       cfg.RunConfig(),
		Topic:           cfg.PubSub.TopicName,
		MetricsTextfile: cfg.Metrics.Textfile,
	})
	if err != nil {
		return nil, err
	}
	a.runner = runner
	ok = true
	return a, nil
}

// Catalog resolves the endpoint catalog: the YAML file named by
// catalog.file, or the built-in list.
func Catalog(cfg config.Config) (probe.Catalog, error) {
	ids := cfg.Identifiers()
	if cfg.Catalog.File == "" {
		return probe.DefaultCatalog(ids), nil
	}
	f, err := os.Open(cfg.Catalog.File)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	catalog, err := probe.LoadCatalog(f, ids)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", cfg.Catalog.File, err)
	}
	return catalog, nil
}

func (a *App) blobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Provider {
	case config.StorageLocal:
		a.logger.Info("writing results to local directory", zap.String("dir", cfg.Storage.BaseDir))
		return local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	case config.StorageMemory:
		a.logger.Info("keeping results in memory; nothing is written to disk")
		return memory.NewBlobStore(), nil
	case config.StorageGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("writing results to gcs", zap.String("bucket", cfg.Storage.GCSBucket))
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case config.StorageMinIO:
		m := cfg.Storage.MinIO
		a.logger.Info("writing results to s3-compatible store",
			zap.String("endpoint", m.Endpoint), zap.String("bucket", m.Bucket))
		return minio.New(minio.Config{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Region:    m.Region,
			UseSSL:    m.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

// Close releases backend clients and flushes the logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}
