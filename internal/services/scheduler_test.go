package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(t *testing.T, root string) (*Scheduler, *MockRenderer, *fakeClock) {
	t.Helper()
	detector := NewStalenessDetector(root)
	renderer := NewMockRenderer()
	regen := NewRegenerator(detector, renderer)
	scheduler := NewScheduler(regen, detector, SchedulerConfig{
		WatchInterval:    5 * time.Second,
		DebounceWindow:   30 * time.Second,
		MinRegenInterval: 5 * time.Minute,
	})
	clock := newFakeClock(time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC))
	scheduler.now = clock.Now
	return scheduler, renderer, clock
}

func TestPoll_DebounceCollapsesBurst(t *testing.T) {
	root := t.TempDir()
	scheduler, renderer, clock := newTestScheduler(t, root)
	ctx := context.Background()

	// First observation is the baseline, not a change
	writeShard(t, root, "proj", uuid.NewString(), baseTime)
	scheduler.Poll(ctx)
	assert.Equal(t, 0, renderer.CallCount())

	// A burst of shard writes inside the debounce window
	for i := 1; i <= 3; i++ {
		writeShard(t, root, "proj", uuid.NewString(), baseTime.Add(time.Duration(i)*time.Second))
		scheduler.Poll(ctx)
		clock.Advance(10 * time.Second)
		scheduler.Poll(ctx)
		assert.Equal(t, 0, renderer.CallCount())
	}

	// Quiet for the full debounce window: exactly one run
	clock.Advance(31 * time.Second)
	scheduler.Poll(ctx)
	assert.Equal(t, 1, renderer.CallCount())

	// No further changes, no further runs
	clock.Advance(time.Minute)
	scheduler.Poll(ctx)
	assert.Equal(t, 1, renderer.CallCount())
}

func TestPoll_FirstShardOnEmptyRoot(t *testing.T) {
	root := t.TempDir()
	scheduler, renderer, clock := newTestScheduler(t, root)
	ctx := context.Background()

	// Baseline over a root with no shards at all
	scheduler.Poll(ctx)
	assert.Equal(t, 0, renderer.CallCount())

	// The very first shard ever written is a change, not a new baseline
	writeShard(t, root, "proj", uuid.NewString(), baseTime)
	scheduler.Poll(ctx)
	clock.Advance(31 * time.Second)
	scheduler.Poll(ctx)
	assert.Equal(t, 1, renderer.CallCount())
}

func TestPoll_RateLimitDropsNotQueues(t *testing.T) {
	root := t.TempDir()
	scheduler, renderer, clock := newTestScheduler(t, root)
	ctx := context.Background()

	writeShard(t, root, "proj", uuid.NewString(), baseTime)
	scheduler.Poll(ctx)

	// First eligible run
	writeShard(t, root, "proj", uuid.NewString(), baseTime.Add(time.Second))
	scheduler.Poll(ctx)
	clock.Advance(31 * time.Second)
	scheduler.Poll(ctx)
	require.Equal(t, 1, renderer.CallCount())

	// Another change debounces out while still inside the minimum
	// interval: the pending run is dropped
	writeShard(t, root, "proj", uuid.NewString(), baseTime.Add(2*time.Second))
	scheduler.Poll(ctx)
	clock.Advance(31 * time.Second)
	scheduler.Poll(ctx)
	assert.Equal(t, 1, renderer.CallCount())

	// Dropped means dropped: quiet time alone never revives it
	clock.Advance(10 * time.Minute)
	scheduler.Poll(ctx)
	assert.Equal(t, 1, renderer.CallCount())

	// A fresh change after the interval triggers normally
	writeShard(t, root, "proj", uuid.NewString(), baseTime.Add(3*time.Second))
	scheduler.Poll(ctx)
	clock.Advance(31 * time.Second)
	scheduler.Poll(ctx)
	assert.Equal(t, 2, renderer.CallCount())
}

func TestRefresh_ConcurrentTriggersCoalesce(t *testing.T) {
	root := t.TempDir()
	scheduler, renderer, _ := newTestScheduler(t, root)
	writeShard(t, root, "proj", uuid.NewString(), baseTime)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	renderer.OnRender = func(string, bool) {
		once.Do(func() { close(started) })
		<-release
	}

	require.NoError(t, scheduler.Refresh())
	<-started
	// Second trigger while the first run is in flight is absorbed by
	// the re-entrance guard
	require.NoError(t, scheduler.Refresh())
	time.Sleep(50 * time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return renderer.CallCount() >= 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, renderer.CallCount())
}

func TestRefresh_AfterStop(t *testing.T) {
	scheduler, _, _ := newTestScheduler(t, t.TempDir())
	scheduler.Stop()
	assert.ErrorIs(t, scheduler.Refresh(), ErrSchedulerStopped)
}

func TestBootstrap_ClearsAndRegenerates(t *testing.T) {
	root := t.TempDir()
	scheduler, renderer, _ := newTestScheduler(t, root)

	sessionID := uuid.NewString()
	writeShard(t, root, "proj", sessionID, baseTime)
	artifact := writeSessionArtifact(t, root, "proj", sessionID, baseTime.Add(time.Minute))
	writeAggregate(t, root, "proj", "<html></html>", baseTime.Add(time.Minute))

	scheduler.Bootstrap(context.Background())

	assert.False(t, fileExists(artifact))
	require.Equal(t, 1, renderer.CallCount())
	// Everything was cleared, so all aggregates are missing and a full
	// rebuild is requested
	assert.True(t, renderer.Calls()[0].Clear)
	assert.False(t, scheduler.regen.LastRegen().IsZero())
}
