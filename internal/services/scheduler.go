package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vanpelt/purrlog/internal/logger"
)

// ErrSchedulerStopped is returned when a refresh is requested after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// SchedulerConfig holds the timing knobs of the regeneration scheduler.
type SchedulerConfig struct {
	// WatchInterval is the shard mtime polling period.
	WatchInterval time.Duration
	// DebounceWindow is how long changes must stay quiet before a run.
	DebounceWindow time.Duration
	// MinRegenInterval is the minimum elapsed time between two
	// poll-triggered runs; a pending run inside this window is dropped.
	MinRegenInterval time.Duration
}

// Scheduler is the only component allowed to start a regeneration run.
// A background poll observes shard mtime increases, debounces bursts from
// actively streaming sessions, and rate-limits the expensive renderer.
// An fsnotify watcher on the project directories feeds the same
// observation path to cut latency; the poll remains the source of truth.
type Scheduler struct {
	regen    *Regenerator
	detector *StalenessDetector
	cfg      SchedulerConfig

	// now is swapped out in tests for deterministic debounce timing.
	now func() time.Time

	watcher  *fsnotify.Watcher
	kick     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	seeded   bool
	lastSeen time.Time
	pending  bool
}

// NewScheduler creates a scheduler. Start must be called to begin the
// background loop; Poll can be driven directly in tests.
func NewScheduler(regen *Regenerator, detector *StalenessDetector, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		regen:    regen,
		detector: detector,
		cfg:      cfg,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the polling loop and the filesystem watcher.
func (s *Scheduler) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	root := s.detector.Root()
	if err := watcher.Add(root); err != nil {
		logger.Warnf("Failed to watch projects root %s: %v", root, err)
	}
	if entries, err := os.ReadDir(root); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := watcher.Add(filepath.Join(root, entry.Name())); err != nil {
					logger.Warnf("Failed to watch project %s: %v", entry.Name(), err)
				}
			}
		}
	}

	go s.watchEvents()
	go s.loop()
	logger.Infof("Scheduler started (watch=%s debounce=%s min-interval=%s)",
		s.cfg.WatchInterval, s.cfg.DebounceWindow, s.cfg.MinRegenInterval)
	return nil
}

// Stop terminates the background loop and the watcher.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}

// Bootstrap deletes all existing artifacts and runs a full regeneration.
// Run in the background at startup so the server is serving immediately.
func (s *Scheduler) Bootstrap(ctx context.Context) {
	logger.Info("Clearing existing artifacts and regenerating in background")
	s.regen.ClearArtifacts()
	if _, err := s.regen.Run(ctx, false); err != nil {
		logger.Warnf("Initial regeneration failed: %v", err)
	}
	s.regen.MarkRegen(s.now())
	logger.Info("Initial regeneration complete")
}

// Refresh dispatches a regeneration run asynchronously. Fire-and-forget:
// the only error is a scheduler that has already been stopped. A run
// already in flight absorbs the request through the re-entrance guard.
func (s *Scheduler) Refresh() error {
	select {
	case <-s.stopCh:
		return ErrSchedulerStopped
	default:
	}

	go func() {
		// Manual refresh forces a renderer pass even with nothing stale,
		// matching the behavior users expect from the refresh button.
		res, err := s.regen.Run(context.Background(), true)
		if err != nil {
			logger.Warnf("Manual refresh failed: %v", err)
			return
		}
		if res.Skipped {
			logger.Debug("Manual refresh coalesced into in-flight run")
			return
		}
		s.regen.MarkRegen(s.now())
	}()
	return nil
}

// Poll performs one observation and decision pass of the state machine:
// Idle -> PendingChange on an mtime increase, PendingChange -> Running
// once the debounce window closes and the rate limit allows, or
// PendingChange -> dropped when it does not.
func (s *Scheduler) Poll(ctx context.Context) {
	now := s.now()
	current := s.detector.MaxShardMtime()

	s.mu.Lock()
	if !s.seeded {
		// First observation is the baseline, not a change. An empty root
		// baselines at the zero time, so the first shard ever written is
		// still observed as a change.
		s.seeded = true
		s.lastSeen = current
	} else if current.After(s.lastSeen) {
		s.lastSeen = current
		s.pending = true
		s.regen.MarkChange(now)
		logger.Debugf("Shard change observed, debouncing")
	}
	pending := s.pending
	s.mu.Unlock()

	if !pending {
		return
	}
	if now.Sub(s.regen.LastChange()) < s.cfg.DebounceWindow {
		return
	}

	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()

	if last := s.regen.LastRegen(); !last.IsZero() && now.Sub(last) < s.cfg.MinRegenInterval {
		// Dropped, not queued: the change is only picked up again by a
		// fresh mtime increase or a manual refresh.
		logger.Debugf("Dropping pending regeneration: last run %s ago", now.Sub(last))
		return
	}

	res, err := s.regen.Run(ctx, false)
	s.regen.MarkRegen(s.now())
	if err != nil {
		// Artifacts are already deleted; re-arm so the run is retried
		// once the rate limit allows.
		logger.Warnf("Scheduled regeneration failed: %v", err)
		s.mu.Lock()
		s.pending = true
		s.mu.Unlock()
		return
	}
	if res.Updated > 0 {
		logger.Infof("Scheduled regeneration updated %d session(s)", res.Updated)
	}
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Poll(context.Background())
		case <-s.kick:
			s.Poll(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// watchEvents forwards relevant filesystem events into the poll loop.
func (s *Scheduler) watchEvents() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := s.watcher.Add(event.Name); err != nil {
						logger.Warnf("Failed to watch new project %s: %v", event.Name, err)
					}
				}
			}
			if strings.HasSuffix(event.Name, shardExt) && event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				select {
				case s.kick <- struct{}{}:
				default:
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Watcher error: %v", err)
		case <-s.stopCh:
			return
		}
	}
}
