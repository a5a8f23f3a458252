// Package strategy implements the per-class fetch policies of the gateway.
// Every strategy terminates in a served response or a propagated error:
// Navigation and AIContent always resolve to something servable, StaticAsset
// and API propagate failures on a cache miss so the caller can decide.
package strategy

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/pool"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
)

const (
	defaultRaceTimeout = 2000 * time.Millisecond
	defaultAIServeTTL  = 5 * time.Minute

	// refreshTimeout bounds one background refresh fetch.
	refreshTimeout = 5 * time.Second
)

var (
	nopLogger = zap.NewNop()

	// ErrFetchTimeout is returned when the network loses the race against
	// the strategy timer.
	ErrFetchTimeout = errors.New("upstream fetch timed out")
)

type Opts struct {
	// Upstream cannot be nil.
	Upstream upstream.Upstream

	// Partitions cannot be nil.
	Partitions *cachestore.Manager

	// OfflineKey is the static-partition key of the offline document. It
	// can be repointed later with SetOfflineKey when the precache manifest
	// changes at runtime.
	OfflineKey string

	// RaceTimeout is the network race window for Navigation and
	// AIContent. Default is 2000 ms.
	RaceTimeout time.Duration

	// AIServeTTL is how long a stale AI entry stays servable.
	// Default is 5 minutes.
	AIServeTTL time.Duration

	// Background runs f off the request path. The gateway passes a
	// tracked spawner so shutdown waits for in-flight cache writes.
	// Default is a plain goroutine.
	Background func(f func())

	Logger  *zap.Logger
	Metrics *Metrics
}

func (opts *Opts) Init() error {
	if opts.Upstream == nil {
		return errors.New("nil upstream")
	}
	if opts.Partitions == nil {
		return errors.New("nil partition manager")
	}
	if opts.RaceTimeout <= 0 {
		opts.RaceTimeout = defaultRaceTimeout
	}
	if opts.AIServeTTL <= 0 {
		opts.AIServeTTL = defaultAIServeTTL
	}
	if opts.Background == nil {
		opts.Background = func(f func()) { go f() }
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return nil
}

type Strategies struct {
	opts Opts

	offlineKey atomic.Value // string
	refreshSF  singleflight.Group
}

func New(opts Opts) (*Strategies, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	s := &Strategies{opts: opts}
	s.offlineKey.Store(opts.OfflineKey)
	return s, nil
}

// SetOfflineKey repoints the offline fallback document. Safe to call while
// requests are in flight.
func (s *Strategies) SetOfflineKey(key string) {
	s.offlineKey.Store(key)
}

func (s *Strategies) currentOfflineKey() string {
	key, _ := s.offlineKey.Load().(string)
	return key
}

type fetchResult struct {
	resp *upstream.Response
	err  error
}

// raceFetch races the network against the strategy timer. Losing the race
// does not cancel the in-flight request: its late result is simply
// discarded. The wasted work is accepted in exchange for a handler without
// cancellation plumbing.
func (s *Strategies) raceFetch(ctx context.Context, req *http.Request) (*upstream.Response, error) {
	detached := req.Clone(context.WithoutCancel(ctx))

	ch := make(chan fetchResult, 1)
	go func() {
		resp, err := s.opts.Upstream.Do(detached.Context(), detached)
		ch <- fetchResult{resp: resp, err: err}
	}()

	timer := pool.GetTimer(s.opts.RaceTimeout)
	defer pool.ReleaseTimer(timer)

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-timer.C:
		return nil, ErrFetchTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tryStore writes a response into a partition. Storage failures are logged
// and treated as a no-op, never surfaced to the request.
func (s *Strategies) tryStore(ctx context.Context, part cachestore.Partition, key string, resp *upstream.Response) {
	if !resp.OK() {
		return
	}
	if err := part.Put(ctx, key, resp.Entry(time.Now())); err != nil {
		s.opts.Logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
}

// lookup reads a partition, logging and treating storage errors as a miss.
func (s *Strategies) lookup(ctx context.Context, part cachestore.Partition, key string) (*cachestore.Entry, bool) {
	e, ok, err := part.Get(ctx, key)
	if err != nil {
		s.opts.Logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return e, ok
}

// refreshLater schedules a fire-and-forget refetch of key. Concurrent
// refreshes of the same key collapse into one flight. Failures are logged
// only; the response already served to the caller is unaffected.
func (s *Strategies) refreshLater(part cachestore.Partition, req *http.Request, key string) {
	cloned := req.Clone(context.WithoutCancel(req.Context()))
	s.opts.Background(func() {
		_, _, _ = s.refreshSF.Do(key, func() (interface{}, error) {
			defer s.refreshSF.Forget(key)

			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()

			resp, err := s.opts.Upstream.Do(ctx, cloned)
			if err != nil {
				s.opts.Metrics.RefreshFailures.Inc()
				s.opts.Logger.Debug("background refresh failed", zap.String("key", key), zap.Error(err))
				return nil, nil
			}
			s.tryStore(ctx, part, key, resp)
			return nil, nil
		})
	})
}

var builtinOfflinePage = []byte(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>This page is not available right now. Please check your connection and try again.</p></body>
</html>
`)

// offline returns the dedicated offline document, or a built-in page when
// the install never managed to cache one.
func (s *Strategies) offline(ctx context.Context) *upstream.Response {
	s.opts.Metrics.OfflinePages.Inc()

	if key := s.currentOfflineKey(); key != "" {
		if e, ok := s.lookup(ctx, s.opts.Partitions.Static(), key); ok {
			return upstream.FromEntry(e)
		}
	}

	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &upstream.Response{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   builtinOfflinePage,
	}
}

// logFetchErr mirrors the usual race outcomes: a lost race is expected and
// logged quietly, real network failures are warned about.
func (s *Strategies) logFetchErr(strategyName, key string, err error) {
	switch {
	case errors.Is(err, ErrFetchTimeout):
		s.opts.Logger.Debug("upstream lost the race",
			zap.String("strategy", strategyName), zap.String("key", key))
	case errors.Is(err, context.Canceled):
		s.opts.Logger.Debug("fetch canceled",
			zap.String("strategy", strategyName), zap.String("key", key))
	default:
		s.opts.Logger.Warn("upstream fetch failed",
			zap.String("strategy", strategyName), zap.String("key", key), zap.Error(err))
	}
}
