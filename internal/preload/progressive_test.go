package preload

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yomu-app/yomu/internal/model"
)

func newTestLoader(cfg model.ProgressiveConfig, enqueue enqueueFunc) *ProgressiveLoader {
	p := newProgressiveLoader(cfg, nil, nil, LogLevelError, enqueue)
	p.tick = 50 * time.Millisecond
	return p
}

func waitForBatch(t *testing.T, ch <-chan []int, timeout time.Duration) []int {
	t.Helper()
	select {
	case batch := <-ch:
		return batch
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a progressive batch")
		return nil
	}
}

func TestProgressiveLoader_DwellTriggersOneBatch(t *testing.T) {
	batches := make(chan []int, 4)
	enqueue := func(pages []int) []int {
		batches <- pages
		return pages
	}

	cfg := model.ProgressiveConfig{Enabled: true, DwellSeconds: 3, BatchSize: 5, MaxPages: 0}
	p := newTestLoader(cfg, enqueue)
	defer p.Cancel()

	p.Rearm(10, 100, 5, model.DirectionForward)

	st := p.State()
	assert.True(t, st.TimerArmed)
	assert.Equal(t, 3, st.CountdownSeconds)
	assert.False(t, st.Running)

	// One batch just past the LOW boundary, nothing more until the pages
	// report back.
	batch := waitForBatch(t, batches, 2*time.Second)
	assert.Equal(t, []int{16, 17, 18, 19, 20}, batch)
	assert.True(t, p.State().Running)

	select {
	case extra := <-batches:
		t.Fatalf("unexpected second batch %v before the first completed", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestProgressiveLoader_CompletionAdvancesAndRearms(t *testing.T) {
	batches := make(chan []int, 4)
	enqueue := func(pages []int) []int {
		batches <- pages
		return pages
	}

	cfg := model.ProgressiveConfig{Enabled: true, DwellSeconds: 1, BatchSize: 3, MaxPages: 0}
	p := newTestLoader(cfg, enqueue)
	defer p.Cancel()

	p.Rearm(10, 100, 5, model.DirectionForward)

	batch := waitForBatch(t, batches, 2*time.Second)
	require.Equal(t, []int{16, 17, 18}, batch)

	for _, page := range batch {
		p.OnPageLoaded(page)
	}

	st := p.State()
	assert.False(t, st.Running)
	assert.Equal(t, 18, st.FurthestLoaded)
	// Window not exhausted: the dwell countdown re-arms for the next batch.
	assert.True(t, st.TimerArmed)

	next := waitForBatch(t, batches, 2*time.Second)
	assert.Equal(t, []int{19, 20, 21}, next)
}

func TestProgressiveLoader_NavigationResetsCountdown(t *testing.T) {
	batches := make(chan []int, 4)
	enqueue := func(pages []int) []int {
		batches <- pages
		return pages
	}

	cfg := model.ProgressiveConfig{Enabled: true, DwellSeconds: 3, BatchSize: 5, MaxPages: 0}
	p := newTestLoader(cfg, enqueue)
	defer p.Cancel()

	p.Rearm(10, 100, 5, model.DirectionForward)
	// Almost through the dwell, then a navigation arrives.
	time.Sleep(120 * time.Millisecond)
	p.Rearm(11, 100, 5, model.DirectionForward)

	time.Sleep(75 * time.Millisecond)
	st := p.State()
	assert.False(t, st.Running, "the interrupted countdown must not reach Running")
	assert.True(t, st.TimerArmed)
	assert.Equal(t, 2, st.CountdownSeconds)

	// The restarted dwell completes normally.
	batch := waitForBatch(t, batches, 2*time.Second)
	assert.Equal(t, []int{17, 18, 19, 20, 21}, batch)
}

func TestProgressiveLoader_MaxPagesBoundsTheWindow(t *testing.T) {
	batches := make(chan []int, 4)
	enqueue := func(pages []int) []int {
		batches <- pages
		return pages
	}

	cfg := model.ProgressiveConfig{Enabled: true, DwellSeconds: 1, BatchSize: 5, MaxPages: 7}
	p := newTestLoader(cfg, enqueue)
	defer p.Cancel()

	p.Rearm(10, 100, 5, model.DirectionForward)

	batch := waitForBatch(t, batches, 2*time.Second)
	assert.Equal(t, []int{16, 17}, batch)

	for _, page := range batch {
		p.OnPageLoaded(page)
	}
	// Window exhausted: no re-arm.
	st := p.State()
	assert.False(t, st.TimerArmed)
	assert.False(t, st.Running)
}

func TestProgressiveLoader_BackwardDirection(t *testing.T) {
	batches := make(chan []int, 4)
	enqueue := func(pages []int) []int {
		batches <- pages
		return pages
	}

	cfg := model.ProgressiveConfig{Enabled: true, DwellSeconds: 1, BatchSize: 5, MaxPages: 0}
	p := newTestLoader(cfg, enqueue)
	defer p.Cancel()

	p.Rearm(50, 100, 5, model.DirectionBackward)

	batch := waitForBatch(t, batches, 2*time.Second)
	assert.Equal(t, []int{44, 43, 42, 41, 40}, batch)

	p.OnPageLoaded(44)
	p.OnPageLoaded(40)
	assert.Equal(t, 40, p.State().FurthestLoaded)
}

func TestProgressiveLoader_CachedPagesCountImmediately(t *testing.T) {
	enqueue := func(pages []int) []int {
		// Everything already cached: nothing is queued.
		return nil
	}

	cfg := model.ProgressiveConfig{Enabled: true, DwellSeconds: 1, BatchSize: 3, MaxPages: 6}
	p := newTestLoader(cfg, enqueue)
	defer p.Cancel()

	p.Rearm(10, 100, 5, model.DirectionForward)

	// Batch one is {16}, all cached; window exhausted right away.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := p.State()
		if !st.Running && !st.TimerArmed && st.FurthestLoaded == 16 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("loader did not settle, state=%+v", p.State())
}

func TestProgressiveLoader_DisabledNeverArms(t *testing.T) {
	called := false
	var mu sync.Mutex
	enqueue := func(pages []int) []int {
		mu.Lock()
		called = true
		mu.Unlock()
		return pages
	}

	cfg := model.ProgressiveConfig{Enabled: false, DwellSeconds: 1, BatchSize: 3, MaxPages: 0}
	p := newTestLoader(cfg, enqueue)

	p.Rearm(10, 100, 5, model.DirectionForward)
	assert.False(t, p.State().TimerArmed)

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called, "a disabled loader must never enqueue")
}

func TestProgressiveLoader_SetConfig(t *testing.T) {
	p := newTestLoader(model.DefaultProgressiveConfig(), func(pages []int) []int { return pages })
	defer p.Cancel()

	disabled := false
	cfg, err := p.SetConfig(model.ProgressiveConfigPatch{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.False(t, p.State().TimerArmed)

	bad := 0
	_, err = p.SetConfig(model.ProgressiveConfigPatch{DwellSeconds: &bad})
	assert.Error(t, err)
	// The rejected patch leaves the config untouched.
	assert.Equal(t, cfg.DwellSeconds, p.Config().DwellSeconds)
}
