package coremain

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stefanjohn16/edgecache/mlog"
	"github.com/stefanjohn16/edgecache/pkg/api"
	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/cachestore/memstore"
	"github.com/stefanjohn16/edgecache/pkg/cachestore/redisstore"
	"github.com/stefanjohn16/edgecache/pkg/notify"
	"github.com/stefanjohn16/edgecache/pkg/outbox"
	"github.com/stefanjohn16/edgecache/pkg/router"
	"github.com/stefanjohn16/edgecache/pkg/safe_close"
	"github.com/stefanjohn16/edgecache/pkg/strategy"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
	"github.com/stefanjohn16/edgecache/pkg/worker"
)

const (
	defaultVersion       = "v1"
	defaultListen        = ":8080"
	defaultOriginTimeout = 30 * time.Second
	startupTimeout       = 5 * time.Minute
)

// Gateway holds every long-lived component of a running instance.
type Gateway struct {
	logger *zap.Logger

	store  cachestore.Store
	parts  *cachestore.Manager
	worker *worker.Worker

	adminMux   *http.ServeMux
	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

// RunGateway assembles the gateway from cfg, runs the install/activate
// startup sequence and blocks until shutdown.
func RunGateway(cfg *Config) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.Origin.URL == "" {
		return errors.New("no origin url is configured")
	}
	origin, err := url.Parse(cfg.Origin.URL)
	if err != nil {
		return fmt.Errorf("invalid origin url: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("origin url %q needs a scheme and a host", cfg.Origin.URL)
	}

	g := &Gateway{
		logger:     lg,
		adminMux:   http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}

	g.adminMux.Handle("/metrics", promhttp.HandlerFor(g.metricsReg, promhttp.HandlerOpts{}))
	g.adminMux.HandleFunc("/debug/pprof/", pprof.Index)
	g.adminMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	g.adminMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	g.adminMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	g.adminMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if err := g.initStore(cfg); err != nil {
		return err
	}

	g.parts, err = cachestore.NewManager(g.store, cfg.Version, lg)
	if err != nil {
		return fmt.Errorf("failed to open cache partitions: %w", err)
	}

	up := newUpstream(&cfg.Origin)

	rt, err := router.New(router.Opts{
		OriginHost:  origin.Host,
		APIHost:     cfg.Origin.APIHost,
		FontHosts:   cfg.Origin.FontHosts,
		AIPatterns:  cfg.Routes.AIPatterns,
		APIPatterns: cfg.Routes.APIPatterns,
		Rules:       cfg.Routes.Rules,
		Logger:      lg,
	})
	if err != nil {
		return fmt.Errorf("failed to init router: %w", err)
	}

	notifier, err := newNotifier(&cfg.Notify, lg)
	if err != nil {
		return err
	}

	var obStore outbox.Store
	var drainer *outbox.Drainer
	if cfg.Outbox.Path != "" {
		s, err := outbox.OpenSQLite(cfg.Outbox.Path)
		if err != nil {
			return fmt.Errorf("failed to open outbox: %w", err)
		}
		obStore = s
		drainer, err = outbox.NewDrainer(outbox.DrainerOpts{
			Store:     s,
			Endpoints: cfg.Outbox.Endpoints,
			Notifier:  notifier,
			Logger:    lg,
			Metrics:   outbox.NewDrainMetrics(g.metricsReg),
		})
		if err != nil {
			return fmt.Errorf("failed to init drainer: %w", err)
		}
	}

	manifest := new(worker.Manifest)
	if cfg.Precache.Manifest != "" {
		manifest, err = worker.LoadManifest(cfg.Precache.Manifest)
		if err != nil {
			return err
		}
	}

	strats, err := strategy.New(strategy.Opts{
		Upstream:   up,
		Partitions: g.parts,
		OfflineKey: offlineKey(manifest, origin),
		Background: func(f func()) { g.worker.Go(f) },
		Logger:     lg,
		Metrics:    strategy.NewMetrics(g.metricsReg),
	})
	if err != nil {
		return fmt.Errorf("failed to init strategies: %w", err)
	}

	g.worker, err = worker.New(worker.Opts{
		Router:      rt,
		Strategies:  strats,
		Partitions:  g.parts,
		Upstream:    up,
		Origin:      origin,
		Manifest:    manifest,
		Outbox:      obStore,
		Drainer:     drainer,
		Notifier:    notifier,
		QueueRoutes: cfg.Outbox.QueueRoutes,
		SweepTTL:    cfg.Sync.SweepTTL,
		Logger:      lg,
	})
	if err != nil {
		return fmt.Errorf("failed to init worker: %w", err)
	}

	// Install then activate: warm the shell, then retire partitions left
	// by previous versions.
	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if err := g.worker.Install(startCtx); err != nil {
		if !cfg.Precache.Optional {
			return fmt.Errorf("install failed: %w", err)
		}
		lg.Warn("install failed, continuing with a cold cache", zap.Error(err))
	}
	if err := g.worker.Activate(startCtx); err != nil {
		return err
	}

	if cfg.Precache.Watch && cfg.Precache.Manifest != "" {
		if err := g.worker.WatchManifest(cfg.Precache.Manifest, g.sc); err != nil {
			return err
		}
	}

	g.startHTTPServer("gateway", cfg.Listen, g.worker)

	if cfg.API.HTTP != "" {
		ctrl, err := api.NewController(api.Opts{Worker: g.worker, Logger: lg})
		if err != nil {
			return err
		}
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		ctrl.Register(e)
		g.startHTTPServer("control api", cfg.API.HTTP, e)
	}

	if cfg.Admin.HTTP != "" {
		g.startHTTPServer("admin", cfg.Admin.HTTP, g.adminMux)
	}

	g.worker.StartBackground(worker.SyncConfig{
		ProbeInterval:   cfg.Sync.ProbeInterval,
		SweepInterval:   cfg.Sync.SweepInterval,
		RefreshInterval: cfg.Sync.RefreshInterval,
	}, g.sc)

	lg.Info("gateway is up",
		zap.String("version", cfg.Version),
		zap.String("origin", origin.String()),
		zap.String("listen", cfg.Listen))

	setRunning(g)
	defer setRunning(nil)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		sig := <-c
		lg.Info("signal received, exiting", zap.Stringer("signal", sig))
		g.sc.SendCloseSignal(nil)
	}()

	<-g.sc.ReceiveCloseSignal()
	g.sc.Done()
	g.sc.CloseWait()

	g.shutdownStore(cfg)
	return g.sc.Err()
}

// GetSafeClose exposes the close chain, mainly for the service wrapper.
func (g *Gateway) GetSafeClose() *safe_close.SafeClose {
	return g.sc
}

func (g *Gateway) initStore(cfg *Config) error {
	switch cfg.Cache.Backend {
	case "", "mem":
		ms := memstore.NewMemStore(memstore.Opts{
			Size:            cfg.Cache.Size,
			MaxEntryAge:     cfg.Cache.MaxEntryAge,
			CleanerInterval: cfg.Cache.CleanerInterval,
		})
		if cfg.Cache.Snapshot != "" {
			n, err := ms.LoadSnapshot(cfg.Cache.Snapshot)
			if err != nil {
				g.logger.Warn("snapshot load failed, starting cold", zap.Error(err))
			} else if n > 0 {
				g.logger.Info("snapshot loaded", zap.Int("entries", n))
			}
		}
		g.store = ms
	case "redis":
		redisOpt, err := redis.ParseURL(cfg.Cache.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(redisOpt)
		rs, err := redisstore.NewRedisStore(redisstore.Opts{
			Client:        client,
			ClientCloser:  client,
			ClientTimeout: cfg.Cache.Redis.Timeout,
			Logger:        g.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to init redis store: %w", err)
		}
		g.store = rs
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return nil
}

// shutdownStore persists the mem snapshot, if configured, then closes the
// backend.
func (g *Gateway) shutdownStore(cfg *Config) {
	if ms, ok := g.store.(*memstore.MemStore); ok && cfg.Cache.Snapshot != "" {
		if err := ms.SaveSnapshot(cfg.Cache.Snapshot); err != nil {
			g.logger.Error("snapshot save failed", zap.Error(err))
		} else {
			g.logger.Info("snapshot saved", zap.String("file", cfg.Cache.Snapshot))
		}
	}
	if err := g.store.Close(); err != nil {
		g.logger.Error("store close failed", zap.Error(err))
	}
}

// startHTTPServer runs an http server attached to the close chain. A
// server error tears the whole gateway down.
func (g *Gateway) startHTTPServer(name, addr string, h http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}
	g.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			g.logger.Info("starting http server",
				zap.String("server", name), zap.String("addr", addr))
			errChan <- server.ListenAndServe()
		}()
		select {
		case err := <-errChan:
			g.sc.SendCloseSignal(err)
		case <-closeSignal:
			server.Close()
		}
	})
}

func newUpstream(cfg *OriginConfig) upstream.Upstream {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOriginTimeout
	}
	client := &http.Client{Timeout: timeout}
	if cfg.InsecureSkipVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return upstream.NewHTTPUpstream(client)
}

func newNotifier(cfg *NotifyConfig, lg *zap.Logger) (notify.Notifier, error) {
	if cfg.URL == "" {
		return notify.Nop{}, nil
	}
	wh, err := notify.NewWebhook(notify.WebhookOpts{
		URL:    cfg.URL,
		Token:  cfg.Token,
		Logger: lg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init notifier: %w", err)
	}
	return wh, nil
}

func offlineKey(m *worker.Manifest, origin *url.URL) string {
	if m == nil || m.Offline == "" {
		return ""
	}
	u := *origin
	u.Path = m.Offline
	if u.Path != "" && u.Path[0] != '/' {
		u.Path = "/" + u.Path
	}
	u.RawQuery = ""
	return cachestore.Key(http.MethodGet, &u)
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
