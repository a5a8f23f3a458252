package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/cachestore/memstore"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
)

var errConnRefused = errors.New("connection refused")

// fakeUpstream answers every fetch with a fixed response or error, after an
// optional delay.
type fakeUpstream struct {
	mu    sync.Mutex
	resp  *upstream.Response
	err   error
	delay time.Duration
	calls int
}

func (f *fakeUpstream) Do(ctx context.Context, req *http.Request) (*upstream.Response, error) {
	f.mu.Lock()
	resp, err, delay := f.resp, f.err, f.delay
	f.calls++
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	c := *resp
	return &c, nil
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okResponse(body string) *upstream.Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/html")
	return &upstream.Response{Status: 200, Header: h, Body: []byte(body)}
}

func newTestStrategies(t *testing.T, up upstream.Upstream, tweak func(*Opts)) (*Strategies, *cachestore.Manager) {
	t.Helper()
	store := memstore.NewMemStore(memstore.Opts{CleanerInterval: -1})
	t.Cleanup(func() { store.Close() })

	parts, err := cachestore.NewManager(store, "v1", nil)
	require.NoError(t, err)

	opts := Opts{
		Upstream:    up,
		Partitions:  parts,
		RaceTimeout: 50 * time.Millisecond,
		Background:  func(f func()) { f() },
	}
	if tweak != nil {
		tweak(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s, parts
}

func getRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, rawURL, nil)
	return req
}

func TestNavigation_networkWinsAndCaches(t *testing.T) {
	up := &fakeUpstream{resp: okResponse("<html>home</html>")}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/")

	resp := s.Navigation(context.Background(), req)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("<html>home</html>"), resp.Body)

	key := cachestore.Key(http.MethodGet, req.URL)
	e, ok, err := parts.Static().Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("<html>home</html>"), e.Body)
}

func TestNavigation_slowOriginServesCache(t *testing.T) {
	up := &fakeUpstream{resp: okResponse("fresh"), delay: 500 * time.Millisecond}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/about")

	key := cachestore.Key(http.MethodGet, req.URL)
	cached := okResponse("cached copy").Entry(time.Now())
	require.NoError(t, parts.Static().Put(context.Background(), key, cached))

	start := time.Now()
	resp := s.Navigation(context.Background(), req)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "must not wait for the slow origin")
	assert.Equal(t, []byte("cached copy"), resp.Body)
}

func TestNavigation_offlineDocument(t *testing.T) {
	up := &fakeUpstream{err: errConnRefused}
	offlineURL := getRequest(t, "https://example.com/offline.html").URL
	offlineKey := cachestore.Key(http.MethodGet, offlineURL)

	s, parts := newTestStrategies(t, up, func(o *Opts) { o.OfflineKey = offlineKey })
	require.NoError(t, parts.Static().Put(context.Background(), offlineKey,
		okResponse("you are offline").Entry(time.Now())))

	resp := s.Navigation(context.Background(), getRequest(t, "https://example.com/never-seen"))
	assert.Equal(t, []byte("you are offline"), resp.Body)
}

func TestNavigation_builtinOfflinePage(t *testing.T) {
	up := &fakeUpstream{err: errConnRefused}
	s, _ := newTestStrategies(t, up, nil)

	resp := s.Navigation(context.Background(), getRequest(t, "https://example.com/never-seen"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Contains(t, string(resp.Body), "offline")
}

func TestNavigation_errorStatusServedNotCached(t *testing.T) {
	up := &fakeUpstream{resp: &upstream.Response{Status: 500, Header: make(http.Header), Body: []byte("boom")}}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/broken")

	resp := s.Navigation(context.Background(), req)
	assert.Equal(t, 500, resp.Status)

	key := cachestore.Key(http.MethodGet, req.URL)
	_, ok, err := parts.Static().Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok, "error responses must not be cached")
}

func TestAIContent_freshAnswerStampedInEphemeral(t *testing.T) {
	up := &fakeUpstream{resp: okResponse(`{"answer":42}`)}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/api/ai/chat")

	resp := s.AIContent(context.Background(), req)
	assert.Equal(t, 200, resp.Status)
	assert.Empty(t, resp.Header.Get(cachestore.CapturedAtHeader),
		"the served response must not carry the synthetic timestamp")

	key := cachestore.Key(http.MethodGet, req.URL)
	e, ok, err := parts.Ephemeral().Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, e.Header.Get(cachestore.CapturedAtHeader))
}

func TestAIContent_staleWithinTTLServed(t *testing.T) {
	up := &fakeUpstream{err: errConnRefused}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/api/ai/chat")
	key := cachestore.Key(http.MethodGet, req.URL)

	e := okResponse(`{"answer":"stale"}`).Entry(time.Now())
	e.Stamp(time.Now().Add(-2 * time.Minute))
	require.NoError(t, parts.Ephemeral().Put(context.Background(), key, e))

	resp := s.AIContent(context.Background(), req)
	assert.Equal(t, []byte(`{"answer":"stale"}`), resp.Body)
}

func TestAIContent_expiredEntryDeletedAndOfflineServed(t *testing.T) {
	up := &fakeUpstream{err: errConnRefused}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/api/ai/chat")
	key := cachestore.Key(http.MethodGet, req.URL)

	e := okResponse(`{"answer":"ancient"}`).Entry(time.Now())
	e.Stamp(time.Now().Add(-10 * time.Minute))
	require.NoError(t, parts.Ephemeral().Put(context.Background(), key, e))

	resp := s.AIContent(context.Background(), req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)

	_, ok, err := parts.Ephemeral().Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must be purged on sight")
}

func TestAIContent_ttlBoundary(t *testing.T) {
	up := &fakeUpstream{err: errConnRefused}
	s, parts := newTestStrategies(t, up, func(o *Opts) { o.AIServeTTL = time.Minute })
	req := getRequest(t, "https://example.com/api/ai/chat")
	key := cachestore.Key(http.MethodGet, req.URL)

	e := okResponse("just inside").Entry(time.Now())
	e.Stamp(time.Now().Add(-59 * time.Second))
	require.NoError(t, parts.Ephemeral().Put(context.Background(), key, e))

	resp := s.AIContent(context.Background(), req)
	assert.Equal(t, []byte("just inside"), resp.Body)
}

func TestStaticAsset_cacheHitSkipsNetworkWait(t *testing.T) {
	up := &fakeUpstream{resp: okResponse("refetched")}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/css/site.css")
	key := cachestore.Key(http.MethodGet, req.URL)

	require.NoError(t, parts.Static().Put(context.Background(), key,
		okResponse("cached css").Entry(time.Now())))

	resp, err := s.StaticAsset(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached css"), resp.Body)

	// Background runs synchronously in tests, so the revalidation has
	// already overwritten the entry.
	assert.Equal(t, 1, up.callCount())
	e, ok, gerr := parts.Static().Get(context.Background(), key)
	require.NoError(t, gerr)
	require.True(t, ok)
	assert.Equal(t, []byte("refetched"), e.Body)
}

func TestStaticAsset_missFetchesAndStores(t *testing.T) {
	up := &fakeUpstream{resp: okResponse("fetched")}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/js/app.js")

	resp, err := s.StaticAsset(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("fetched"), resp.Body)

	key := cachestore.Key(http.MethodGet, req.URL)
	_, ok, gerr := parts.Static().Get(context.Background(), key)
	require.NoError(t, gerr)
	assert.True(t, ok)
}

func TestStaticAsset_missPropagatesError(t *testing.T) {
	up := &fakeUpstream{err: errConnRefused}
	s, _ := newTestStrategies(t, up, nil)

	_, err := s.StaticAsset(context.Background(), getRequest(t, "https://example.com/img/logo.svg"))
	assert.ErrorIs(t, err, errConnRefused)
}

func TestAPI_getIsCacheFirstOnDynamic(t *testing.T) {
	up := &fakeUpstream{err: errConnRefused}
	s, parts := newTestStrategies(t, up, nil)
	req := getRequest(t, "https://example.com/api/services")
	key := cachestore.Key(http.MethodGet, req.URL)

	require.NoError(t, parts.Dynamic().Put(context.Background(), key,
		okResponse(`["a","b"]`).Entry(time.Now())))

	resp, err := s.API(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte(`["a","b"]`), resp.Body)
}

func TestAPI_mutationNeverCached(t *testing.T) {
	up := &fakeUpstream{resp: okResponse(`{"ok":true}`)}
	s, parts := newTestStrategies(t, up, nil)
	req := httptest.NewRequest(http.MethodPost, "https://example.com/api/contact", nil)

	resp, err := s.API(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	assert.Equal(t, 0, parts.Dynamic().Len())
	assert.Equal(t, 0, parts.Static().Len())
}

func TestAPI_mutationFailurePropagates(t *testing.T) {
	up := &fakeUpstream{err: errConnRefused}
	s, _ := newTestStrategies(t, up, nil)
	req := httptest.NewRequest(http.MethodPost, "https://example.com/api/contact", nil)

	_, err := s.API(context.Background(), req)
	assert.ErrorIs(t, err, errConnRefused)
}

func TestRaceFetch_timeoutError(t *testing.T) {
	up := &fakeUpstream{resp: okResponse("late"), delay: 300 * time.Millisecond}
	s, _ := newTestStrategies(t, up, func(o *Opts) { o.RaceTimeout = 20 * time.Millisecond })

	_, err := s.raceFetch(context.Background(), getRequest(t, "https://example.com/"))
	assert.ErrorIs(t, err, ErrFetchTimeout)
}
