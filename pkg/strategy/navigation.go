package strategy

import (
	"context"
	"net/http"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
)

// Navigation serves a full-page load. The network is raced against the
// strategy timer; a reachable origin wins and success responses are stored
// in the static partition. When the origin is slow or down the last cached
// copy of this exact page is served, and with no copy at all the offline
// document is. Navigation never returns an error.
func (s *Strategies) Navigation(ctx context.Context, req *http.Request) *upstream.Response {
	s.opts.Metrics.Requests.WithLabelValues("navigation").Inc()
	key := cachestore.Key(req.Method, req.URL)

	resp, err := s.raceFetch(ctx, req)
	if err == nil {
		s.tryStore(ctx, s.opts.Partitions.Static(), key, resp)
		return resp
	}
	s.logFetchErr("navigation", key, err)

	if e, ok := s.lookup(ctx, s.opts.Partitions.Static(), key); ok {
		s.opts.Metrics.CacheHits.WithLabelValues("static").Inc()
		return upstream.FromEntry(e)
	}

	s.opts.Metrics.CacheMisses.WithLabelValues("static").Inc()
	return s.offline(ctx)
}
