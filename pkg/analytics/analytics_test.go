package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"seo-optimizer/pkg/logger"
	"seo-optimizer/pkg/opportunity"
)

// serve runs handler on an in-memory listener and returns a dial option
// pointing the client at it.
func serve(t *testing.T, handler fasthttp.RequestHandler) ClientOption {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return WithDial(func(string) (net.Conn, error) { return ln.Dial() })
}

func fastClient() ClientConfig {
	return ClientConfig{Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}
}

func TestSearchAnalytics_Signals(t *testing.T) {
	var body searchQuery
	var path, auth string
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		path = string(ctx.Request.Header.RequestURI())
		auth = string(ctx.Request.Header.Peek("Authorization"))
		_ = json.Unmarshal(ctx.PostBody(), &body)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"rows":[
			{"keys":["mobile apps"],"clicks":3,"impressions":150,"ctr":0.02,"position":12.4},
			{"keys":["bad"],"clicks":1,"impressions":2,"ctr":0.5,"position":0.2},
			{"keys":[],"clicks":1,"impressions":2,"ctr":0.5,"position":3}
		]}`)
	})

	src, err := NewSearchAnalytics(SearchConfig{
		Endpoint: "http://analytics.test/v3",
		APIKey:   "token",
		SiteURL:  "https://example.com/",
		Client:   fastClient(),
	}, logger.Nop(), dial)
	require.NoError(t, err)
	src.now = func() time.Time { return time.Date(2026, 10, 31, 9, 0, 0, 0, time.UTC) }

	signals, err := src.Signals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]opportunity.PerformanceSignal{
		"mobile apps": {Position: 12.4, Impressions: 150, Clicks: 3, CTR: 2},
	}, signals)

	assert.True(t, strings.HasPrefix(path, "/v3/sites/https:"), path)
	assert.True(t, strings.HasSuffix(path, "/searchAnalytics/query"), path)
	assert.Equal(t, "Bearer token", auth)
	assert.Equal(t, searchQuery{StartDate: "2026-10-01", EndDate: "2026-10-31", Dimensions: []string{"query"}, RowLimit: 100}, body)
}

func TestSearchAnalytics_RetriesThenFails(t *testing.T) {
	var calls int32
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})
	src, err := NewSearchAnalytics(SearchConfig{Endpoint: "http://a.test", SiteURL: "s", Client: fastClient()}, logger.Nop(), dial)
	require.NoError(t, err)

	_, err = src.Signals(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCollaborator))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.Code)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSearchAnalytics_NoRetryOnAuthError(t *testing.T) {
	var calls int32
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	})
	src, err := NewSearchAnalytics(SearchConfig{Endpoint: "http://a.test", SiteURL: "s", Client: fastClient()}, logger.Nop(), dial)
	require.NoError(t, err)

	_, err = src.Signals(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewSearchAnalytics_RequiresEndpoint(t *testing.T) {
	_, err := NewSearchAnalytics(SearchConfig{SiteURL: "s"}, logger.Nop())
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "signals.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"x":{"position":12,"impressions":150,"clicks":6,"ctr":4}}`), 0644))

	signals, err := FileSource{Path: good}.Signals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, opportunity.PerformanceSignal{Position: 12, Impressions: 150, Clicks: 6, CTR: 4}, signals["x"])

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"x":{"position":12,"ctr":140}}`), 0644))
	_, err = FileSource{Path: bad}.Signals(context.Background())
	assert.ErrorIs(t, err, ErrCollaborator)

	_, err = FileSource{Path: filepath.Join(dir, "missing.json")}.Signals(context.Background())
	assert.ErrorIs(t, err, ErrCollaborator)
}

func TestSERPClient_Lookup(t *testing.T) {
	var query string
	dial := serve(t, func(ctx *fasthttp.RequestCtx) {
		query = string(ctx.QueryArgs().Peek("q"))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"results":[
			{"position":1,"title":"Best Apps","url":"https://www.rival.com/apps","snippet":"We build apps"},
			{"position":2,"title":"","url":"https://other.io/x","snippet":""},
			{"position":3,"title":"Apps again","url":"https://rival.com/b","snippet":"More"}
		],"featuredSnippet":"Apps are"}`)
	})
	c, err := NewSERPClient(SERPConfig{Endpoint: "http://serp.test/search", Client: fastClient()}, logger.Nop(), dial)
	require.NoError(t, err)

	snap, err := c.Lookup(context.Background(), "mobile apps")
	require.NoError(t, err)
	assert.Equal(t, "mobile apps", query)
	assert.Equal(t, "mobile apps", snap.Keyword)
	assert.Equal(t, []string{"Best Apps", "Apps again"}, snap.Titles())
	assert.Equal(t, []string{"We build apps", "More"}, snap.Descriptions())
	assert.Equal(t, []string{"rival.com", "other.io"}, snap.Domains())
	assert.Equal(t, "Apps are", snap.FeaturedSnippet)
}

type fakeSERP struct {
	fail  map[string]bool
	calls []string
}

func (f *fakeSERP) Lookup(ctx context.Context, kw string) (SERPSnapshot, error) {
	f.calls = append(f.calls, kw)
	if f.fail[kw] {
		return SERPSnapshot{}, errors.New("blocked")
	}
	return SERPSnapshot{Keyword: kw}, nil
}

func TestLookupAll_LimitsAndIsolates(t *testing.T) {
	src := &fakeSERP{fail: map[string]bool{"b": true}}
	got, errs := LookupAll(context.Background(), src, []string{"a", "b", "a", "c", "d"}, 4, 0, logger.Nop())

	assert.Equal(t, []string{"a", "b", "c"}, src.calls)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "c")
	require.Len(t, errs, 1)
}

func TestLookupAll_Delay(t *testing.T) {
	src := &fakeSERP{}
	start := time.Now()
	LookupAll(context.Background(), src, []string{"a", "b", "c"}, 0, 20*time.Millisecond, logger.Nop())
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLookupAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, errs := LookupAll(ctx, &fakeSERP{}, []string{"a", "b"}, 0, 0, logger.Nop())
	assert.Empty(t, got)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetry(5, time.Hour)
	calls := 0
	err := r.Execute(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}
