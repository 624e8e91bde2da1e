package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/execution-probe/internal/probe"
)

func TestTransportGetReturnsStatusAndBody(t *testing.T) {
	t.Parallel()

	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":88715}`)
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{UserAgent: "probe-test"})
	resp, err := tr.Do(context.Background(), probe.Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/executions/88715",
		Header: http.Header{"Authorization": {"Bearer tok"}, "X-Organization-Id": {"1964"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":88715}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer tok", gotHeader.Get("Authorization"))
	assert.Equal(t, "1964", gotHeader.Get("X-Organization-Id"))
	assert.Equal(t, "probe-test", gotHeader.Get("User-Agent"))
}

func TestTransportErrorStatusIsNotAnError(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":"nope"}`)
		}))
		resp, err := New(Config{}).Do(context.Background(), probe.Request{URL: srv.URL + "/x"})
		srv.Close()
		require.NoError(t, err, status)
		assert.Equal(t, status, resp.StatusCode)
	}
}

func TestTransportRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{})
	for i := 0; i < 3; i++ {
		_, err := tr.Do(context.Background(), probe.Request{URL: srv.URL + "/same"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestTransportReadsBodiesPastCollyDefaultLimit(t *testing.T) {
	t.Parallel()

	// colly truncates at 10 MiB unless MaxBodySize is lifted.
	item := `{"id":1,"url":"https://cdn.example.test/screenshot.png"},`
	body := "[" + strings.Repeat(item, (11<<20)/len(item)) + `{"id":2}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	resp, err := New(Config{}).Do(context.Background(), probe.Request{
		URL:     srv.URL + "/executions/1/screenshots",
		Timeout: 30 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Body, len(body))
	assert.Greater(t, len(resp.Body), 10<<20)
	assert.True(t, strings.HasSuffix(string(resp.Body), `{"id":2}]`))
}

func TestTransportPostSendsBody(t *testing.T) {
	t.Parallel()

	var (
		gotMethod string
		gotBody   string
		gotType   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		_, _ = io.WriteString(w, `{"data":null}`)
	}))
	t.Cleanup(srv.Close)

	resp, err := New(Config{}).Do(context.Background(), probe.Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/graphql",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"query":"{}"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, `{"query":"{}"}`, gotBody)
}

func TestTransportTimeoutKeepsNetError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	_, err := New(Config{}).Do(context.Background(), probe.Request{
		URL:     srv.URL + "/slow",
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr), "expected net.Error in chain, got %T", err)
	assert.True(t, netErr.Timeout())
}

func TestTransportConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{}).Do(context.Background(), probe.Request{URL: addr + "/gone", Timeout: time.Second})
	require.Error(t, err)
}

func TestTransportHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Do(ctx, probe.Request{URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	tr := New(Config{UserAgent: "coverage-agent", Timeout: time.Second})
	collector := tr.buildCollector(context.Background(), probe.Request{URL: "https://example.com"}, &probe.Response{}, new(error))
	assert.Equal(t, "coverage-agent", collector.UserAgent)
	assert.True(t, collector.IgnoreRobotsTxt)
	assert.True(t, collector.AllowURLRevisit)
	assert.True(t, collector.ParseHTTPErrorResponse)
	assert.Zero(t, collector.MaxBodySize)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	req := probe.Request{
		URL:    "https://example.com",
		Header: http.Header{"X-Trace": {"yes"}, "User-Agent": {"session-agent"}},
	}
	var result probe.Response
	var fetchErr error

	hooks := &stubHooks{}
	tr.configureCollectorHooks(hooks, req, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"User-Agent": {"colly"}}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	assert.Equal(t, []string{"session-agent"}, (*collyReq.Headers)["User-Agent"])

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Header.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.Error(t, fetchErr)
	assert.Equal(t, "boom", fetchErr.Error())
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	tr.copyHeaders(probe.Request{}, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
