package preload

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yomu-app/yomu/internal/events"
	"github.com/yomu-app/yomu/internal/model"
)

// enqueueFunc schedules pages at BACKGROUND priority on the current epoch
// and returns the subset actually queued (pages already cached or out of
// range are filtered out by the scheduler).
type enqueueFunc func(pages []int) []int

// ProgressiveLoader extends the preload window past the LOW tier once the
// current page has been stable for the configured dwell time. Each dwell
// expiry produces one Running phase of at most BatchSize pages; if the
// window is not exhausted afterwards, the countdown re-arms so sustained
// dwell keeps extending further in the predicted direction.
//
// Lock order: the loader may call into the scheduler (via enqueue) while
// holding its own mutex; the scheduler must never call loader methods while
// holding the scheduler mutex.
type ProgressiveLoader struct {
	mu       sync.Mutex
	cfg      model.ProgressiveConfig
	bus      *events.Bus
	logger   *log.Logger
	logLevel LogLevel
	enqueue  enqueueFunc
	tick     time.Duration

	// gen invalidates countdowns and running batches; every navigation or
	// cancel bumps it.
	gen uint64

	state      model.ProgressiveState
	current    int
	totalPages int
	dir        model.Direction
	nextOffset int // distance beyond current already covered by tiers/batches
	pending    map[int]bool
}

func newProgressiveLoader(cfg model.ProgressiveConfig, bus *events.Bus, logger *log.Logger, logLevel LogLevel, enqueue enqueueFunc) *ProgressiveLoader {
	return &ProgressiveLoader{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		logLevel: logLevel,
		enqueue:  enqueue,
		tick:     time.Second,
		state:    model.ProgressiveState{FurthestLoaded: -1},
		current:  -1,
	}
}

// Rearm cancels any countdown or running batch and, if the feature is
// enabled, restarts the dwell countdown for the given page. lowRange is the
// LOW tier's outer boundary offset; extension begins just past it.
func (p *ProgressiveLoader) Rearm(current, totalPages, lowRange int, dir model.Direction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	p.current = current
	p.totalPages = totalPages
	p.dir = dir
	p.nextOffset = lowRange
	p.pending = nil
	p.state.Running = false
	p.state.FurthestLoaded = -1

	if !p.cfg.Enabled || totalPages <= 0 || current < 0 {
		p.state.TimerArmed = false
		p.state.CountdownSeconds = 0
		p.notifyLocked()
		return
	}

	p.armCountdownLocked()
}

// Cancel stops the countdown and any running batch and returns to idle.
func (p *ProgressiveLoader) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	p.pending = nil
	p.state.Running = false
	p.state.TimerArmed = false
	p.state.CountdownSeconds = 0
	p.notifyLocked()
}

// OnPageLoaded is called by the scheduler whenever a BACKGROUND task
// completes. Pages outside the in-flight batch are ignored.
func (p *ProgressiveLoader) OnPageLoaded(page int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.Running || !p.pending[page] {
		return
	}
	delete(p.pending, page)
	p.markLoadedLocked(page)
	if len(p.pending) == 0 {
		p.finishRunLocked()
	}
}

// State returns a snapshot of the progressive-load state.
func (p *ProgressiveLoader) State() model.ProgressiveState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Config returns the current configuration.
func (p *ProgressiveLoader) Config() model.ProgressiveConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetConfig overlays a partial update onto the configuration. Disabling the
// feature cancels any countdown or running batch.
func (p *ProgressiveLoader) SetConfig(patch model.ProgressiveConfigPatch) (model.ProgressiveConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := patch.Apply(p.cfg)
	if err := next.Validate(); err != nil {
		return p.cfg, fmt.Errorf("progressive config: %w", err)
	}
	p.cfg = next

	if !p.cfg.Enabled {
		p.gen++
		p.pending = nil
		p.state.Running = false
		p.state.TimerArmed = false
		p.state.CountdownSeconds = 0
	}
	p.notifyLocked()
	return p.cfg, nil
}

func (p *ProgressiveLoader) armCountdownLocked() {
	p.gen++
	gen := p.gen
	p.state.TimerArmed = true
	p.state.CountdownSeconds = p.cfg.DwellSeconds
	p.notifyLocked()
	go p.countdown(gen)
}

// countdown decrements once per tick until it reaches zero, then starts a
// running batch. A generation bump (navigation, cancel, reconfigure) makes
// it exit silently.
func (p *ProgressiveLoader) countdown(gen uint64) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.state.CountdownSeconds--
		if p.state.CountdownSeconds > 0 {
			p.notifyLocked()
			p.mu.Unlock()
			continue
		}
		p.state.CountdownSeconds = 0
		p.state.TimerArmed = false
		p.startRunLocked()
		p.mu.Unlock()
		return
	}
}

func (p *ProgressiveLoader) startRunLocked() {
	batch := p.nextBatchLocked()
	if len(batch) == 0 {
		p.state.Running = false
		p.notifyLocked()
		p.logf(LogLevelDebug, "window_exhausted current=%d offset=%d", p.current, p.nextOffset)
		return
	}

	p.state.Running = true
	p.notifyLocked()
	p.logf(LogLevelDebug, "batch_start current=%d pages=%d dir=%s", p.current, len(batch), p.dir)

	queued := p.enqueue(batch)
	queuedSet := make(map[int]bool, len(queued))
	for _, page := range queued {
		queuedSet[page] = true
	}

	p.pending = make(map[int]bool)
	for _, page := range batch {
		if queuedSet[page] {
			p.pending[page] = true
		} else {
			// Already cached; counts as loaded immediately.
			p.markLoadedLocked(page)
		}
	}
	if len(p.pending) == 0 {
		p.finishRunLocked()
	}
}

// nextBatchLocked returns up to BatchSize pages just past the covered
// window in the predicted direction, bounded by MaxPages beyond the current
// page (0 = unbounded) and the document edges.
func (p *ProgressiveLoader) nextBatchLocked() []int {
	maxOffset := p.totalPages // effectively unbounded
	if p.cfg.MaxPages > 0 {
		maxOffset = p.cfg.MaxPages
	}

	var batch []int
	for i := 0; i < p.cfg.BatchSize; i++ {
		offset := p.nextOffset + 1 + i
		if offset > maxOffset {
			break
		}
		page := p.current + offset
		if p.dir == model.DirectionBackward {
			page = p.current - offset
		}
		if page < 0 || page >= p.totalPages {
			break
		}
		batch = append(batch, page)
	}
	p.nextOffset += len(batch)
	return batch
}

func (p *ProgressiveLoader) finishRunLocked() {
	p.state.Running = false
	p.pending = nil

	if p.cfg.Enabled && p.hasMoreLocked() {
		p.armCountdownLocked()
		return
	}
	p.state.TimerArmed = false
	p.notifyLocked()
}

func (p *ProgressiveLoader) hasMoreLocked() bool {
	offset := p.nextOffset + 1
	if p.cfg.MaxPages > 0 && offset > p.cfg.MaxPages {
		return false
	}
	page := p.current + offset
	if p.dir == model.DirectionBackward {
		page = p.current - offset
	}
	return page >= 0 && page < p.totalPages
}

func (p *ProgressiveLoader) markLoadedLocked(page int) {
	switch {
	case p.state.FurthestLoaded == -1:
		p.state.FurthestLoaded = page
	case p.dir == model.DirectionForward && page > p.state.FurthestLoaded:
		p.state.FurthestLoaded = page
	case p.dir == model.DirectionBackward && page < p.state.FurthestLoaded:
		p.state.FurthestLoaded = page
	}
	p.notifyLocked()
}

func (p *ProgressiveLoader) notifyLocked() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.EventProgressive, map[string]any{
		"running":           p.state.Running,
		"countdown_seconds": p.state.CountdownSeconds,
		"timer_armed":       p.state.TimerArmed,
		"furthest_loaded":   p.state.FurthestLoaded,
	})
}

func (p *ProgressiveLoader) logf(level LogLevel, format string, args ...any) {
	if p.logger == nil || level < p.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	p.logger.Printf("%s %s progressive: %s", time.Now().Format(time.RFC3339), level, msg)
}
