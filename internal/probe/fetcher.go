package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/execution-probe/internal/jsonvalue"
)

// Fetcher defaults.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
	DefaultTimeout     = 10 * time.Second
)

// Transport performs one HTTP round trip.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Observer receives probe counters. metrics.Recorder implements it.
type Observer interface {
	ObserveAttempt(endpoint, result string)
	ObserveEndpoint(kind OutcomeKind)
	ObserveAuthUpgrade()
	ObserveGraphQL(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, string) {}
func (nopObserver) ObserveEndpoint(OutcomeKind)   {}
func (nopObserver) ObserveAuthUpgrade()           {}
func (nopObserver) ObserveGraphQL(string)         {}

// FetcherConfig controls retry behavior.
type FetcherConfig struct {
	BaseURL     string
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

// Fetcher executes endpoints against a transport with bounded retries and a
// one-shot auth upgrade.
type Fetcher struct {
	transport Transport
	session   *Session
	cfg       FetcherConfig
	observer  Observer
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a Fetcher. observer and logger may be nil.
func NewFetcher(transport Transport, session *Session, cfg FetcherConfig, observer Observer, logger *zap.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		transport: transport,
		session:   session,
		cfg:       cfg,
		observer:  observer,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Fetch runs up to MaxAttempts GETs for endpoint. Per-attempt failures are
// recovered locally and reported through the returned Outcome; the error is
// non-nil only when ctx ends.
func (f *Fetcher) Fetch(ctx context.Context, endpoint Endpoint) (Outcome, error) {
	target := JoinURL(f.cfg.BaseURL, endpoint.Path)
	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, fmt.Errorf("fetch %s: %w", endpoint.Name, err)
		}
		attempts = attempt
		resp, terr := f.transport.Do(ctx, Request{
			Method:  http.MethodGet,
			URL:     target,
			Header:  f.session.Header(),
			Timeout: f.cfg.Timeout,
		})
		if err := ctx.Err(); err != nil {
			return Outcome{}, fmt.Errorf("fetch %s: %w", endpoint.Name, err)
		}
		payload, cerr := classify(resp, terr)
		f.observer.ObserveAttempt(endpoint.Name, resultLabel(cerr))
		if cerr == nil {
			f.logger.Info("endpoint succeeded",
				zap.String("endpoint", endpoint.Name),
				zap.String("url", target),
				zap.Int("attempt", attempt),
			)
			f.observer.ObserveEndpoint(OutcomeSuccess)
			return Outcome{
				Name:       endpoint.Name,
				Kind:       OutcomeSuccess,
				Payload:    payload,
				LastStatus: resp.StatusCode,
				Attempts:   attempts,
			}, nil
		}

		lastErr = cerr
		lastStatus = 0
		if terr == nil {
			lastStatus = resp.StatusCode
		}
		f.logger.Debug("endpoint attempt failed",
			zap.String("endpoint", endpoint.Name),
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.cfg.MaxAttempts),
			zap.Int("status", lastStatus),
			zap.Error(cerr),
		)

		if attempt == 1 && errors.Is(cerr, ErrAuthRejected) {
			if f.session.UpgradeAuth() {
				f.observer.ObserveAuthUpgrade()
				f.logger.Info("authentication rejected; adding secondary auth header",
					zap.String("endpoint", endpoint.Name),
					zap.String("header", AuthTokenHeader),
				)
			}
			continue
		}
		if attempt < f.cfg.MaxAttempts {
			if err := f.sleep(ctx, f.cfg.RetryDelay); err != nil {
				return Outcome{}, fmt.Errorf("fetch %s: %w", endpoint.Name, err)
			}
		}
	}

	kind := kindFor(lastErr)
	f.observer.ObserveEndpoint(kind)
	f.logger.Info("endpoint failed",
		zap.String("endpoint", endpoint.Name),
		zap.String("url", target),
		zap.String("outcome", string(kind)),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return Outcome{
		Name:       endpoint.Name,
		Kind:       kind,
		LastStatus: lastStatus,
		Attempts:   attempts,
		Err:        lastErr,
	}, nil
}

// post sends a single JSON POST with the session headers, without retries.
func (f *Fetcher) post(ctx context.Context, target string, body []byte) (jsonvalue.Value, int, error) {
	resp, terr := f.transport.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     target,
		Header:  f.session.Header(),
		Body:    body,
		Timeout: f.cfg.Timeout,
	})
	payload, err := classify(resp, terr)
	if terr != nil {
		return payload, 0, err
	}
	return payload, resp.StatusCode, err
}

// JoinURL appends path to base, keeping any path prefix of base.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
