package worker

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SweepEphemeral removes every ephemeral entry older than the sweep TTL,
// whether or not it was ever re-requested. The sweep TTL is coarser than
// the strategy serve TTL on purpose: the strategy already refuses to serve
// anything past five minutes, this pass just reclaims the storage.
func (w *Worker) SweepEphemeral(ctx context.Context) (removed int) {
	part := w.opts.Partitions.Ephemeral()
	keys, err := part.Keys(ctx)
	if err != nil {
		w.opts.Logger.Warn("ephemeral sweep: list keys failed", zap.Error(err))
		return 0
	}

	deadline := time.Now().Add(-w.opts.SweepTTL)
	for _, key := range keys {
		e, ok, err := part.Get(ctx, key)
		if err != nil {
			w.opts.Logger.Warn("ephemeral sweep: read failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if e.CapturedAt().After(deadline) {
			continue
		}
		if err := part.Delete(ctx, key); err != nil {
			w.opts.Logger.Warn("ephemeral sweep: delete failed", zap.String("key", key), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		w.opts.Logger.Info("ephemeral sweep finished", zap.Int("removed", removed))
	}
	return removed
}

// RefreshStatic refetches every key currently in the static partition and
// overwrites it, best-effort per key, to keep the offline shell fresh.
func (w *Worker) RefreshStatic(ctx context.Context) (refreshed int) {
	part := w.opts.Partitions.Static()
	keys, err := part.Keys(ctx)
	if err != nil {
		w.opts.Logger.Warn("static refresh: list keys failed", zap.Error(err))
		return 0
	}

	for _, key := range keys {
		req, err := requestFromKey(ctx, key)
		if err != nil {
			w.opts.Logger.Warn("static refresh: bad key", zap.String("key", key), zap.Error(err))
			continue
		}

		resp, err := w.opts.Upstream.Do(ctx, req)
		if err != nil {
			w.opts.Logger.Debug("static refresh: fetch failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !resp.OK() {
			continue
		}
		if err := part.Put(ctx, key, resp.Entry(time.Now())); err != nil {
			w.opts.Logger.Warn("static refresh: store failed", zap.String("key", key), zap.Error(err))
			continue
		}
		refreshed++
	}

	w.opts.Logger.Info("static refresh finished",
		zap.Int("refreshed", refreshed), zap.Int("total", len(keys)))
	return refreshed
}

// requestFromKey rebuilds a fetchable request from a cache key, which is
// always "METHOD absolute-url".
func requestFromKey(ctx context.Context, key string) (*http.Request, error) {
	method, rawURL, ok := strings.Cut(key, " ")
	if !ok {
		return nil, errBadKey(key)
	}
	return http.NewRequestWithContext(ctx, method, rawURL, nil)
}

type errBadKey string

func (e errBadKey) Error() string { return "malformed cache key: " + string(e) }
