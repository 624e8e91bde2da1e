// Package collyfetcher implements probe.Transport using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/execution-probe/internal/probe"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Transport implements probe.Transport using the Colly collector.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Do executes a single request. Non-2xx statuses are returned as responses;
// only transport failures are errors, and they keep the underlying net.Error.
func (t *Transport) Do(ctx context.Context, request probe.Request) (probe.Response, error) {
	var (
		result   probe.Response
		fetchErr error
	)
	collector := t.buildCollector(ctx, request, &result, &fetchErr)
	if err := t.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return probe.Response{}, err
	}
	return result, nil
}

func (t *Transport) buildCollector(
	ctx context.Context,
	request probe.Request,
	result *probe.Response,
	fetchErr *error,
) *colly.Collector {
	collector := t.baseCollector.Clone()
	collector.Context = ctx
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	// API responses with error statuses still carry a status we classify.
	collector.ParseHTTPErrorResponse = true
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	// No body limit: payloads are decoded whole.
	collector.MaxBodySize = 0

	timeout := request.Timeout
	if timeout == 0 {
		timeout = t.cfg.Timeout
	}
	if timeout == 0 {
		timeout = probe.DefaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	t.configureCollectorHooks(collector, request, result, fetchErr)
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	request probe.Request,
	result *probe.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		t.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*result = probe.Response{
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, request probe.Request, fetchErr *error) error {
	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, request.URL, body, nil, nil)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (t *Transport) copyHeaders(request probe.Request, r *colly.Request) {
	if request.Header == nil {
		return
	}
	for key, values := range request.Header {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
