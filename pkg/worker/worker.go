// Package worker ties the router, strategies, cache partitions and outbox
// together into the gateway's event surface: the fetch handler, the
// startup install/activate sequence, the periodic maintenance sweeps and
// the sync triggers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/notify"
	"github.com/stefanjohn16/edgecache/pkg/outbox"
	"github.com/stefanjohn16/edgecache/pkg/router"
	"github.com/stefanjohn16/edgecache/pkg/strategy"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
)

const (
	defaultSweepTTL      = 10 * time.Minute
	defaultProbeTimeout  = 5 * time.Second
	defaultInstallPerURL = 15 * time.Second
)

var nopLogger = zap.NewNop()

type Opts struct {
	Router     *router.Router
	Strategies *strategy.Strategies
	Partitions *cachestore.Manager
	Upstream   upstream.Upstream

	// Origin is the base URL requests are rewritten to.
	Origin *url.URL

	// Manifest lists the shell documents to precache.
	Manifest *Manifest

	Outbox  outbox.Store
	Drainer *outbox.Drainer

	Notifier notify.Notifier

	// QueueRoutes maps a mutation path prefix to the outbox queue that
	// captures its payload when the origin is unreachable.
	QueueRoutes map[string]string

	// SweepTTL is the janitorial max age for ephemeral entries. It is
	// deliberately coarser than the strategy serve TTL. Default is 10
	// minutes.
	SweepTTL time.Duration

	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Router == nil {
		return errors.New("nil router")
	}
	if opts.Strategies == nil {
		return errors.New("nil strategies")
	}
	if opts.Partitions == nil {
		return errors.New("nil partition manager")
	}
	if opts.Upstream == nil {
		return errors.New("nil upstream")
	}
	if opts.Origin == nil {
		return errors.New("nil origin url")
	}
	if opts.Manifest == nil {
		opts.Manifest = new(Manifest)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.SweepTTL <= 0 {
		opts.SweepTTL = defaultSweepTTL
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type Worker struct {
	opts Opts

	// bg tracks every background task spawned off a request so shutdown
	// can wait for in-flight cache writes and drains to settle.
	bg sync.WaitGroup

	// online holds the last probe outcome. It starts optimistic so the
	// first offline-to-online transition after a real outage drains the
	// outbox.
	online atomic.Bool

	mu       sync.Mutex
	manifest *Manifest
}

func New(opts Opts) (*Worker, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	w := &Worker{opts: opts, manifest: opts.Manifest}
	w.online.Store(true)
	return w, nil
}

// Go runs f as a tracked background task.
func (w *Worker) Go(f func()) {
	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		f()
	}()
}

// WaitIdle blocks until all tracked background tasks finished.
func (w *Worker) WaitIdle() {
	w.bg.Wait()
}

func (w *Worker) Version() string {
	return w.opts.Partitions.Version()
}

func (w *Worker) currentManifest() *Manifest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manifest
}

// reloadManifest swaps in a new manifest and repoints the strategies'
// offline fallback, so a changed offline document takes effect without a
// restart.
func (w *Worker) reloadManifest(m *Manifest) {
	w.mu.Lock()
	w.manifest = m
	w.mu.Unlock()
	w.opts.Strategies.SetOfflineKey(w.OfflineKey())
}

// Install warms the static partition. Every critical resource must cache
// or install fails as a whole; optional assets are fetched independently
// and individual failures only logged.
func (w *Worker) Install(ctx context.Context) error {
	m := w.currentManifest()

	critical := m.criticalPaths()
	for _, p := range critical {
		if err := w.precache(ctx, p); err != nil {
			return fmt.Errorf("critical resource %s: %w", p, err)
		}
	}

	for _, p := range m.Optional {
		if err := w.precache(ctx, p); err != nil {
			w.opts.Logger.Warn("optional precache failed", zap.String("path", p), zap.Error(err))
		}
	}

	w.opts.Logger.Info("install finished",
		zap.Int("critical", len(critical)),
		zap.Int("optional", len(m.Optional)),
		zap.Int("static_entries", w.opts.Partitions.Static().Len()))
	return nil
}

// Activate drops partitions left behind by previous versions. The current
// version's partitions are untouched.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.opts.Partitions.PurgeStale(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	w.opts.Logger.Info("activated", zap.String("version", w.Version()))
	return nil
}

// precache fetches one origin path and stores it in the static partition.
// A non-success status is a failure: precaching an error page would poison
// the offline shell.
func (w *Worker) precache(ctx context.Context, path string) error {
	u, err := w.resolvePrecacheURL(path)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultInstallPerURL)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := w.opts.Upstream.Do(reqCtx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("origin answered %d", resp.Status)
	}

	key := cachestore.Key(http.MethodGet, u)
	return w.opts.Partitions.Static().Put(ctx, key, resp.Entry(time.Now()))
}

// CacheURLs warms the given paths into the static partition, best-effort
// per item.
func (w *Worker) CacheURLs(ctx context.Context, paths []string) (cached int) {
	for _, p := range paths {
		if err := w.precache(ctx, p); err != nil {
			w.opts.Logger.Warn("cache url failed", zap.String("path", p), zap.Error(err))
			continue
		}
		cached++
	}
	return cached
}

// TriggerSync kicks a background drain of every outbox queue.
func (w *Worker) TriggerSync() {
	if w.opts.Drainer == nil {
		return
	}
	w.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		w.opts.Drainer.DrainAll(ctx)
	})
}

// EnqueueAIInteraction records chat telemetry in the silent outbox queue.
func (w *Worker) EnqueueAIInteraction(ctx context.Context, interactionType string, payload json.RawMessage) (outbox.Record, error) {
	if w.opts.Outbox == nil {
		return outbox.Record{}, errors.New("outbox not configured")
	}
	return w.opts.Outbox.Enqueue(ctx, outbox.QueueAIInteractions, interactionType, payload)
}

// OfflineKey is the static-partition key of the manifest's offline
// document.
func (w *Worker) OfflineKey() string {
	m := w.currentManifest()
	if m.Offline == "" {
		return ""
	}
	return cachestore.Key(http.MethodGet, w.originURL(m.Offline))
}

// resolvePrecacheURL turns a manifest or CACHE_URLS entry into a
// fetchable origin URL. Entries are normally origin paths; an absolute URL
// is accepted only when it points at the origin itself, anything else is
// rejected instead of being cached under a bogus key.
func (w *Worker) resolvePrecacheURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid precache url %q: %w", raw, err)
	}
	if u.IsAbs() || u.Host != "" {
		if u.Scheme != w.opts.Origin.Scheme || u.Host != w.opts.Origin.Host {
			return nil, fmt.Errorf("cannot precache cross-origin url %q", raw)
		}
		u.Fragment = ""
		return u, nil
	}
	return w.originURL(u.Path), nil
}

func (w *Worker) originURL(path string) *url.URL {
	u := *w.opts.Origin
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = ""
	return &u
}
