package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vanpelt/purrlog/internal/logger"
	"github.com/vanpelt/purrlog/internal/models"
)

// stderrTruncateLen bounds renderer error output in log lines.
const stderrTruncateLen = 200

// regenState is the single piece of shared mutable regeneration state.
// It is owned by the Regenerator and only ever accessed under its mutex;
// the mutex is never held across the renderer subprocess call.
type regenState struct {
	mu         sync.Mutex
	inProgress bool
	lastChange time.Time
	lastRegen  time.Time
}

// RunResult reports the outcome of one regeneration run.
type RunResult struct {
	// Updated is the number of stale shards the run addressed.
	Updated int
	// Skipped is true when another run was already in progress and this
	// invocation exited immediately.
	Skipped bool
}

// Regenerator drives the external renderer: it deletes stale artifacts,
// invokes the tool, and classifies the result. At most one run is active
// at any time; concurrent invocations coalesce through the re-entrance
// guard rather than queueing.
type Regenerator struct {
	detector *StalenessDetector
	renderer Renderer
	state    regenState
}

// NewRegenerator creates a regenerator over the detector's projects root.
func NewRegenerator(detector *StalenessDetector, renderer Renderer) *Regenerator {
	return &Regenerator{detector: detector, renderer: renderer}
}

// Run performs one regeneration pass. A pass with nothing stale and no
// forceClear returns without invoking the renderer. Renderer failures and
// timeouts are returned as errors but leave the process healthy: stale
// artifacts stay deleted and are retried on the next pass.
func (r *Regenerator) Run(ctx context.Context, forceClear bool) (RunResult, error) {
	r.state.mu.Lock()
	if r.state.inProgress {
		r.state.mu.Unlock()
		logger.Debug("Regeneration already in progress, skipping")
		return RunResult{Skipped: true}, nil
	}
	r.state.inProgress = true
	r.state.mu.Unlock()

	defer func() {
		r.state.mu.Lock()
		r.state.inProgress = false
		r.state.mu.Unlock()
	}()

	stale, err := r.detector.StaleShards()
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to scan for stale shards: %w", err)
	}
	if len(stale) == 0 && !forceClear {
		return RunResult{Updated: 0}, nil
	}

	// Projects with shards but no aggregate artifact require a full
	// rebuild: without --clear the renderer only fills in missing
	// per-shard artifacts and leaves its cached project listings alone.
	missingAggregate, err := r.detector.ProjectsMissingAggregate()
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to scan for missing aggregates: %w", err)
	}

	touched := make(map[string]struct{})
	for _, shard := range stale {
		touched[shard.Project] = struct{}{}
		if err := os.Remove(shard.ArtifactPath); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Failed to delete stale artifact %s: %v", shard.ArtifactPath, err)
		}
	}

	// Deleting the aggregate is what forces the renderer to re-list the
	// project's sessions.
	for project := range touched {
		aggregate := filepath.Join(r.detector.Root(), project, aggregateArtifactName)
		if err := os.Remove(aggregate); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Failed to delete aggregate artifact %s: %v", aggregate, err)
		}
	}

	fullRebuild := forceClear || len(missingAggregate) > 0
	stderr, err := r.renderer.Render(ctx, r.detector.Root(), fullRebuild)
	if err != nil {
		if errors.Is(err, ErrRendererTimeout) {
			logger.Warnf("Renderer timed out; stale artifacts remain deleted until the next run")
		} else {
			logger.Warnf("Renderer failed: %v (stderr: %s)", err, truncate(stderr, stderrTruncateLen))
		}
		return RunResult{}, fmt.Errorf("renderer failed: %w", err)
	}

	logger.Infof("Regenerated %d stale session(s) (clear=%v)", len(stale), fullRebuild)
	return RunResult{Updated: len(stale)}, nil
}

// Snapshot returns the freshness signal for polling clients: the maximum
// artifact mtime under the projects root plus the in-progress flag.
func (r *Regenerator) Snapshot() models.VersionSnapshot {
	var version int64
	if latest := r.detector.MaxArtifactMtime(); !latest.IsZero() {
		version = latest.Unix()
	}

	r.state.mu.Lock()
	regenerating := r.state.inProgress
	r.state.mu.Unlock()

	return models.VersionSnapshot{Version: version, Regenerating: regenerating}
}

// MarkChange records the observation time of a shard change.
func (r *Regenerator) MarkChange(t time.Time) {
	r.state.mu.Lock()
	r.state.lastChange = t
	r.state.mu.Unlock()
}

// LastChange returns when a shard change was last observed.
func (r *Regenerator) LastChange() time.Time {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return r.state.lastChange
}

// MarkRegen records the completion time of a scheduler-triggered run.
func (r *Regenerator) MarkRegen(t time.Time) {
	r.state.mu.Lock()
	r.state.lastRegen = t
	r.state.mu.Unlock()
}

// LastRegen returns when a scheduler-triggered run last completed.
func (r *Regenerator) LastRegen() time.Time {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return r.state.lastRegen
}

// ClearArtifacts deletes every rendered artifact under the projects root.
// Used at startup so the first regeneration produces a clean mirror.
func (r *Regenerator) ClearArtifacts() {
	root := r.detector.Root()
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".html") {
				continue
			}
			if err := os.Remove(filepath.Join(projectDir, file.Name())); err != nil && !os.IsNotExist(err) {
				logger.Warnf("Failed to delete artifact %s: %v", file.Name(), err)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
