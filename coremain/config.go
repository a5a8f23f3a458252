package coremain

import (
	"time"

	"github.com/stefanjohn16/edgecache/mlog"
	"github.com/stefanjohn16/edgecache/pkg/router"
)

// Config is the top level configuration of the gateway.
type Config struct {
	Log     mlog.LogConfig `yaml:"log"`
	Include []string       `yaml:"include"`

	// Version names the active cache generation. Bumping it and
	// restarting (or sending SKIP_WAITING) retires the previous
	// generation's partitions.
	Version string `yaml:"version"`

	// Listen is the address of the caching fetch surface.
	Listen string `yaml:"listen"`

	API   APIConfig   `yaml:"api"`
	Admin AdminConfig `yaml:"admin"`

	Origin   OriginConfig   `yaml:"origin"`
	Cache    CacheConfig    `yaml:"cache"`
	Precache PrecacheConfig `yaml:"precache"`
	Routes   RoutesConfig   `yaml:"routes"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Sync     SyncConfig     `yaml:"sync"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// APIConfig configures the control channel (messages and push intake).
type APIConfig struct {
	HTTP string `yaml:"http"`
}

// AdminConfig configures the metrics and pprof endpoint.
type AdminConfig struct {
	HTTP string `yaml:"http"`
}

// OriginConfig describes the site being fronted.
type OriginConfig struct {
	// URL is the upstream base, e.g. "https://example.com". Required.
	URL string `yaml:"url"`

	// APIHost is a separate backend authority whose requests are always
	// treated as API traffic.
	APIHost string `yaml:"api_host"`

	// FontHosts are third-party asset authorities the gateway caches
	// alongside the origin instead of passing through.
	FontHosts []string `yaml:"font_hosts"`

	// Timeout bounds a single upstream fetch.
	Timeout time.Duration `yaml:"timeout"`

	// InsecureSkipVerify disables upstream TLS verification. Staging only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// CacheConfig selects and sizes the partition backend.
type CacheConfig struct {
	// Backend is "mem" (default) or "redis".
	Backend string `yaml:"backend"`

	// Size caps each partition's entry count for the mem backend.
	Size int `yaml:"size"`

	// MaxEntryAge caps how long a mem backend entry may live regardless
	// of access. Zero keeps entries until LRU pressure evicts them.
	MaxEntryAge time.Duration `yaml:"max_entry_age"`

	// CleanerInterval drives the mem backend's expiry janitor.
	CleanerInterval time.Duration `yaml:"cleaner_interval"`

	Redis RedisConfig `yaml:"redis"`

	// Snapshot is a file the mem backend persists to on shutdown and
	// reloads on start, so the offline shell survives restarts.
	Snapshot string `yaml:"snapshot"`
}

type RedisConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PrecacheConfig points at the asset manifest.
type PrecacheConfig struct {
	Manifest string `yaml:"manifest"`

	// Watch reloads the manifest and re-warms the shell on file change.
	Watch bool `yaml:"watch"`

	// Optional allows startup to proceed when warming a critical asset
	// fails. The default is strict: a failed critical fetch aborts start.
	Optional bool `yaml:"optional"`
}

// RoutesConfig tunes request classification.
type RoutesConfig struct {
	AIPatterns  []string            `yaml:"ai_patterns"`
	APIPatterns []string            `yaml:"api_patterns"`
	Rules       []router.RuleConfig `yaml:"rules"`
}

// OutboxConfig configures the durable queue and its delivery targets.
type OutboxConfig struct {
	// Path is the sqlite database file. Empty disables the outbox.
	Path string `yaml:"path"`

	// Endpoints maps a queue name to the URL its records replay to.
	Endpoints map[string]string `yaml:"endpoints"`

	// QueueRoutes maps a mutation path prefix to the queue that captures
	// its payload when the origin is unreachable.
	QueueRoutes map[string]string `yaml:"queue_routes"`
}

// SyncConfig tunes the background loops.
type SyncConfig struct {
	ProbeInterval   time.Duration `yaml:"probe_interval"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	SweepTTL        time.Duration `yaml:"sweep_ttl"`
}

// NotifyConfig configures the ntfy-compatible notification relay.
type NotifyConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}
