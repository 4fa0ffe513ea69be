package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/slogger"
)

// PlanWatcherOptions configures a PlanWatcher.
type PlanWatcherOptions struct {
	// Pattern is the doublestar pattern the watcher reloads plans from.
	Pattern string

	// Debounce coalesces bursts of filesystem events into one reload.
	Debounce time.Duration

	Logger slogger.Logger
}

// PlanWatcher keeps an in-memory plan set in sync with the plan directory.
// Editors produce bursts of writes and renames, so reloads are debounced and
// always re-read the full pattern rather than tracking individual files.
type PlanWatcher struct {
	pattern  string
	debounce time.Duration
	logger   slogger.Logger

	mu    sync.RWMutex
	plans map[string]*ripcord.RecoveryPlan
}

// NewPlanWatcher creates a PlanWatcher and performs the initial load.
func NewPlanWatcher(opts PlanWatcherOptions) (*PlanWatcher, error) {
	if opts.Pattern == "" {
		return nil, fmt.Errorf("plan pattern is required")
	}
	if opts.Debounce == 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	w := &PlanWatcher{
		pattern:  opts.Pattern,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		plans:    make(map[string]*ripcord.RecoveryPlan),
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Plan returns the loaded plan with the given id.
func (w *PlanWatcher) Plan(id string) (*ripcord.RecoveryPlan, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	plan, ok := w.plans[id]
	return plan, ok
}

// Plans returns all loaded plans.
func (w *PlanWatcher) Plans() []*ripcord.RecoveryPlan {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*ripcord.RecoveryPlan, 0, len(w.plans))
	for _, plan := range w.plans {
		out = append(out, plan)
	}
	return out
}

// Watch blocks, reloading the plan set whenever files under the pattern's
// base directory change, until the context is cancelled. A reload that fails
// to parse keeps the previous plan set; a broken edit must not take down the
// running loop.
func (w *PlanWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	base := w.baseDir()
	if err := watcher.Add(base); err != nil {
		return fmt.Errorf("watching %s: %w", base, err)
	}
	if err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == base {
			return err
		}
		return watcher.Add(path)
	}); err != nil {
		return fmt.Errorf("watching subdirectories of %s: %w", base, err)
	}

	w.logger.Info("watching plan directory", "dir", base, "pattern", w.pattern)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantPlanEvent(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("plan watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.reload(); err != nil {
				w.logger.Error("plan reload failed, keeping previous plans", "error", err)
			}
		}
	}
}

func (w *PlanWatcher) reload() error {
	plans, err := LoadPlans(w.pattern)
	if err != nil {
		return err
	}
	next := make(map[string]*ripcord.RecoveryPlan, len(plans))
	for _, plan := range plans {
		next[plan.ID] = plan
	}
	w.mu.Lock()
	w.plans = next
	w.mu.Unlock()
	w.logger.Info("loaded plans", "count", len(next))
	return nil
}

func (w *PlanWatcher) baseDir() string {
	base, _ := doublestar.SplitPattern(w.pattern)
	return base
}

func relevantPlanEvent(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == ".yml" || ext == ".yaml"
}
