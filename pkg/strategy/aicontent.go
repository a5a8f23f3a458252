package strategy

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
)

// AIContent serves chat and automation endpoints. Freshness beats
// availability: the network is always tried first within the race window.
// A fresh answer is returned unstamped while a stamped clone goes into the
// ephemeral partition; on failure a stale entry younger than the serve TTL
// is returned, an expired entry is deleted, and with nothing usable the
// offline document is served. AIContent never returns an error.
func (s *Strategies) AIContent(ctx context.Context, req *http.Request) *upstream.Response {
	s.opts.Metrics.Requests.WithLabelValues("ai").Inc()
	key := cachestore.Key(req.Method, req.URL)
	ephemeral := s.opts.Partitions.Ephemeral()

	resp, err := s.raceFetch(ctx, req)
	if err == nil {
		if resp.OK() {
			now := time.Now()
			stamped := resp.Entry(now).Clone()
			stamped.Stamp(now)
			if perr := ephemeral.Put(ctx, key, stamped); perr != nil {
				s.opts.Logger.Warn("ephemeral store failed", zap.String("key", key), zap.Error(perr))
			}
		}
		return resp
	}
	s.logFetchErr("ai", key, err)

	if e, ok := s.lookup(ctx, ephemeral, key); ok {
		age := time.Since(e.CapturedAt())
		if age < s.opts.AIServeTTL {
			s.opts.Metrics.CacheHits.WithLabelValues("ephemeral").Inc()
			return upstream.FromEntry(e)
		}
		// Expired entries are purged on sight rather than waiting for
		// the periodic sweep.
		if derr := ephemeral.Delete(ctx, key); derr != nil {
			s.opts.Logger.Warn("ephemeral delete failed", zap.String("key", key), zap.Error(derr))
		}
	}

	s.opts.Metrics.CacheMisses.WithLabelValues("ephemeral").Inc()
	return s.offline(ctx)
}
