package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// DefaultInterval is the polling period when none is configured
const DefaultInterval = 500 * time.Millisecond

// Config defines what to watch
type Config struct {
	Path     string        // Script file
	Globs    []string      // Extra patterns, relative to the script directory
	Interval time.Duration // Polling period
	Logger   *zap.Logger
}

// Change lists the files that changed since the previous scan
type Change struct {
	Paths []string
	At    time.Time
}

type stamp struct {
	modTime time.Time
	size    int64
}

// Watcher polls the script and matching files for modifications
type Watcher struct {
	path     string
	dir      string
	globs    []string
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	snapshot map[string]stamp
	subs     map[int]func(Change)
	nextID   int
}

// New validates cfg and takes the initial snapshot
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("watcher: script path is required")
	}
	for _, g := range cfg.Globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("watcher: invalid glob %q", g)
		}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		dir:      filepath.Dir(abs),
		globs:    cfg.Globs,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		subs:     make(map[int]func(Change)),
	}
	w.snapshot, err = w.scan()
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Subscribe registers fn for change notifications
func (w *Watcher) Subscribe(fn func(Change)) (unsubscribe func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.subs[id] = fn

	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// Run polls until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Poll(); err != nil {
				w.logger.Warn("watch scan failed", zap.Error(err))
			}
		}
	}
}

// Poll rescans once and notifies subscribers when something changed
func (w *Watcher) Poll() (*Change, error) {
	current, err := w.scan()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	changed := diff(w.snapshot, current)
	w.snapshot = current
	subs := make([]func(Change), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	if len(changed) == 0 {
		return nil, nil
	}

	change := Change{Paths: changed, At: time.Now()}
	w.logger.Info("script files changed", zap.Strings("paths", changed))
	for _, fn := range subs {
		fn(change)
	}
	return &change, nil
}

func (w *Watcher) scan() (map[string]stamp, error) {
	out := make(map[string]stamp)

	info, err := os.Stat(w.path)
	switch {
	case err == nil:
		out[w.path] = stamp{modTime: info.ModTime(), size: info.Size()}
	case errors.Is(err, fs.ErrNotExist):
		// A deleted script is reported as a change by diff.
	default:
		return nil, fmt.Errorf("watcher: stat %s: %w", w.path, err)
	}

	fsys := os.DirFS(w.dir)
	for _, pattern := range w.globs {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("watcher: glob %q: %w", pattern, err)
		}
		for _, rel := range matches {
			full := filepath.Join(w.dir, filepath.FromSlash(rel))
			info, err := os.Stat(full)
			if err != nil {
				continue
			}
			out[full] = stamp{modTime: info.ModTime(), size: info.Size()}
		}
	}
	return out, nil
}

func diff(before, after map[string]stamp) []string {
	var changed []string
	for path, s := range after {
		if prev, ok := before[path]; !ok || !prev.modTime.Equal(s.modTime) || prev.size != s.size {
			changed = append(changed, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}
