package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stefanjohn16/edgecache/pkg/safe_close"
)

// Manifest lists the origin paths to precache. Offline is the dedicated
// offline document and is always treated as critical.
type Manifest struct {
	Offline  string   `yaml:"offline"`
	Critical []string `yaml:"critical"`
	Optional []string `yaml:"optional"`
}

// criticalPaths returns the offline document plus the critical list,
// deduplicated.
func (m *Manifest) criticalPaths() []string {
	paths := make([]string, 0, len(m.Critical)+1)
	seen := make(map[string]struct{}, len(m.Critical)+1)
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	add(m.Offline)
	for _, p := range m.Critical {
		add(p)
	}
	return paths
}

func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m := new(Manifest)
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// WatchManifest reloads the manifest on file changes and re-warms the
// static partition. Runtime reloads are fully best-effort: a failed
// critical fetch here is logged, never fatal, because the gateway is
// already serving.
func (w *Worker) WatchManifest(path string, sc *safe_close.SafeClose) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("init manifest watcher: %w", err)
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch manifest dir: %w", err)
	}

	base := filepath.Base(path)
	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		defer watcher.Close()
		for {
			select {
			case <-closeSignal:
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.opts.Logger.Warn("manifest watcher error", zap.Error(err))
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				m, err := LoadManifest(path)
				if err != nil {
					w.opts.Logger.Warn("manifest reload failed", zap.Error(err))
					continue
				}
				w.reloadManifest(m)
				w.opts.Logger.Info("manifest reloaded", zap.String("file", path))
				w.Go(func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
					defer cancel()
					if err := w.Install(ctx); err != nil {
						w.opts.Logger.Warn("manifest re-warm failed", zap.Error(err))
					}
				})
			}
		}
	})
	return nil
}
