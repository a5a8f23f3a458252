package strategy

import (
	"context"
	"net/http"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
)

// API is method-sensitive. GETs are cache-first against the dynamic
// partition with the same background revalidation as static assets.
// Mutations go straight to the network and never touch the cache; a
// delivery failure propagates so the application layer can queue the
// payload in the outbox.
func (s *Strategies) API(ctx context.Context, req *http.Request) (*upstream.Response, error) {
	s.opts.Metrics.Requests.WithLabelValues("api").Inc()

	if req.Method == http.MethodGet {
		return s.cacheFirst(ctx, req, s.opts.Partitions.Dynamic(), "dynamic")
	}

	resp, err := s.opts.Upstream.Do(ctx, req)
	if err != nil {
		s.logFetchErr("api", cachestore.Key(req.Method, req.URL), err)
		return nil, err
	}
	return resp, nil
}
