package strategy

import (
	"context"
	"net/http"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
)

// StaticAsset is cache-first with background revalidation. A hit is served
// immediately and a refetch is scheduled off the request path; a miss goes
// to the network synchronously and the fetch error, if any, propagates to
// the caller. There is no offline fallback here: a failed asset load is the
// navigation layer's problem, not this one's.
func (s *Strategies) StaticAsset(ctx context.Context, req *http.Request) (*upstream.Response, error) {
	s.opts.Metrics.Requests.WithLabelValues("static").Inc()
	return s.cacheFirst(ctx, req, s.opts.Partitions.Static(), "static")
}

func (s *Strategies) cacheFirst(ctx context.Context, req *http.Request, part cachestore.Partition, class string) (*upstream.Response, error) {
	key := cachestore.Key(req.Method, req.URL)

	if e, ok := s.lookup(ctx, part, key); ok {
		s.opts.Metrics.CacheHits.WithLabelValues(class).Inc()
		s.refreshLater(part, req, key)
		return upstream.FromEntry(e), nil
	}
	s.opts.Metrics.CacheMisses.WithLabelValues(class).Inc()

	resp, err := s.opts.Upstream.Do(ctx, req)
	if err != nil {
		s.logFetchErr(class, key, err)
		return nil, err
	}
	s.tryStore(ctx, part, key, resp)
	return resp, nil
}
