// Package preload implements the predictive preload scheduler: a
// priority-driven, cancellable, direction-aware queue of page decode work,
// with rapid-turn detection and dwell-driven progressive extension.
package preload

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yomu-app/yomu/internal/events"
	"github.com/yomu-app/yomu/internal/model"
)

// Decoder produces a decoded frame for one page. The scheduler never aborts
// an in-flight decode; staleness is handled at the cache-write boundary.
type Decoder interface {
	Decode(ctx context.Context, page int) (*model.Frame, error)
}

// FrameCache is the decoded-frame cache collaborator.
type FrameCache interface {
	Has(page int) bool
	Put(page int, frame *model.Frame)
	Len() int
}

// Scheduler decides, on every page turn, which nearby pages to decode next,
// in what order and with what urgency. All mutable state is guarded by one
// mutex; timers and decode completions re-enter through it, which is the Go
// rendition of a single logical scheduling thread.
type Scheduler struct {
	decoder  Decoder
	cache    FrameCache
	bus      *events.Bus
	logger   *log.Logger
	logLevel LogLevel

	detector    *rapidTurnDetector
	progressive *ProgressiveLoader

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	cfg           model.PreloadConfig
	queue         *taskQueue
	state         model.RuntimeState
	totalPages    int
	processing    bool
	tierTimers    []*time.Timer
	recoveryTimer *time.Timer
	recoveryDelay time.Duration
	now           func() time.Time
	closed        bool
}

// NewScheduler creates a scheduler over the given collaborators. bus may be
// nil when no subscriber cares about state changes.
func NewScheduler(cfg model.PreloadConfig, decoder Decoder, cache FrameCache, bus *events.Bus, logger *log.Logger, logLevel LogLevel) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("preload config: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "", 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		decoder:       decoder,
		cache:         cache,
		bus:           bus,
		logger:        logger,
		logLevel:      logLevel,
		detector:      newRapidTurnDetector(),
		ctx:           ctx,
		cancel:        cancel,
		cfg:           cfg,
		queue:         newTaskQueue(),
		state:         model.NewRuntimeState(),
		recoveryDelay: rapidRecoveryDelay,
		now:           time.Now,
	}
	s.progressive = newProgressiveLoader(model.DefaultProgressiveConfig(), bus, logger, logLevel, s.enqueueBackground)
	return s, nil
}

// SetCurrentPage is the sole navigation entry point. Synchronously, before
// any async work: the epoch advances (invalidating all prior tasks), the
// direction updates, the rapid detector observes the turn, and either the
// full tier set or only the current page is scheduled.
func (s *Scheduler) SetCurrentPage(page, totalPages int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if page < 0 || totalPages <= 0 || page >= totalPages {
		s.logf(LogLevelWarn, "navigation_rejected page=%d total=%d", page, totalPages)
		s.mu.Unlock()
		return
	}

	s.totalPages = totalPages
	s.state.Epoch++
	epoch := s.state.Epoch

	if s.state.CurrentPage >= 0 && page != s.state.CurrentPage {
		if page > s.state.CurrentPage {
			s.state.Direction = model.DirectionForward
		} else {
			s.state.Direction = model.DirectionBackward
		}
	}
	s.state.PreviousPage = s.state.CurrentPage
	s.state.CurrentPage = page

	s.cancelTiersLocked()
	s.queue.CancelPending()
	s.queue.Reset()

	now := s.now()
	s.state.LastTurn = now
	rapid, entered := s.detector.Observe(now)
	s.state.RapidMode = rapid
	s.state.RapidCount = s.detector.Count()

	if !s.cache.Has(page) {
		s.queue.Push(page, model.PriorityCritical, epoch, now)
	}

	if rapid {
		s.armRecoveryLocked()
	} else {
		s.scheduleTiersLocked(epoch)
	}
	s.startDrainLocked()

	dir := s.state.Direction
	lowRange := s.cfg.LowRange
	s.logf(LogLevelDebug, "navigation page=%d epoch=%d dir=%s rapid=%v", page, epoch, dir, rapid)
	s.mu.Unlock()

	if entered {
		s.publishRapid(true)
	}
	if rapid {
		// Tiered preloading and the dwell timer are suppressed until the
		// recovery timer re-runs them.
		s.progressive.Cancel()
	} else {
		s.progressive.Rearm(page, totalPages, lowRange, dir)
	}
}

// CancelAll clears all delayed-tier timers and marks every pending task
// cancelled. A task already loading finishes normally; the epoch has not
// moved, so its result may still land in the cache.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	s.cancelTiersLocked()
	n := s.queue.CancelPending()
	s.logf(LogLevelDebug, "cancel_all pending_cancelled=%d", n)
	s.mu.Unlock()

	s.progressive.Cancel()
}

// Reset returns the scheduler to its initial navigation state for a newly
// opened document. The epoch keeps counting so stale tasks from the previous
// document can never write.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cancelTiersLocked()
	s.queue.CancelPending()
	s.queue.Reset()
	s.detector.Reset()
	epoch := s.state.Epoch
	s.state = model.NewRuntimeState()
	s.state.Epoch = epoch
	s.totalPages = 0
	s.mu.Unlock()

	s.progressive.Cancel()
}

// Close shuts the scheduler down. In-flight decodes are abandoned via
// context cancellation.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelTiersLocked()
	s.queue.CancelPending()
	s.mu.Unlock()

	s.cancel()
	s.progressive.Cancel()
}

// Status reports the scheduler's introspection snapshot.
func (s *Scheduler) Status() model.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.QueueStatus{
		CurrentPage:  s.state.CurrentPage,
		PendingCount: s.queue.PendingCount(),
		CachedCount:  s.cache.Len(),
		Epoch:        s.state.Epoch,
		Direction:    s.state.Direction,
		RapidMode:    s.state.RapidMode,
	}
}

// PreloadConfig returns the active tier configuration.
func (s *Scheduler) PreloadConfig() model.PreloadConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetPreloadConfig swaps the tier configuration. Already-armed tiers keep
// their old ranges; the next navigation uses the new ones.
func (s *Scheduler) SetPreloadConfig(cfg model.PreloadConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("preload config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// ProgressiveState exposes the background-extension state snapshot.
func (s *Scheduler) ProgressiveState() model.ProgressiveState {
	return s.progressive.State()
}

// ProgressiveConfig exposes the background-extension configuration.
func (s *Scheduler) ProgressiveConfig() model.ProgressiveConfig {
	return s.progressive.Config()
}

// SetProgressiveConfig applies a partial progressive-load config update.
func (s *Scheduler) SetProgressiveConfig(patch model.ProgressiveConfigPatch) (model.ProgressiveConfig, error) {
	return s.progressive.SetConfig(patch)
}

// scheduleTiersLocked arms one timer per tier. Each timer captures the
// epoch active now and re-checks it at fire time, since the epoch may
// advance during the delay.
func (s *Scheduler) scheduleTiersLocked(epoch uint64) {
	tiers := []struct {
		rng      int
		delayMs  int
		priority int
	}{
		{s.cfg.HighRange, s.cfg.HighDelayMs, model.PriorityHigh},
		{s.cfg.NormalRange, s.cfg.NormalDelayMs, model.PriorityNormal},
		{s.cfg.LowRange, s.cfg.LowDelayMs, model.PriorityLow},
	}
	for _, tier := range tiers {
		rng, priority := tier.rng, tier.priority
		timer := time.AfterFunc(time.Duration(tier.delayMs)*time.Millisecond, func() {
			s.onTierFire(epoch, rng, priority)
		})
		s.tierTimers = append(s.tierTimers, timer)
	}
}

func (s *Scheduler) onTierFire(epoch uint64, tierRange, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || epoch != s.state.Epoch {
		return
	}

	pages := predictPages(s.state.CurrentPage, tierRange, s.totalPages, s.state.Direction)
	queued := 0
	now := s.now()
	for _, page := range pages {
		if s.cache.Has(page) {
			continue
		}
		s.queue.Push(page, priority, epoch, now)
		queued++
	}
	s.logf(LogLevelDebug, "tier_fire priority=%d range=%d queued=%d epoch=%d", priority, tierRange, queued, epoch)
	if queued > 0 {
		s.startDrainLocked()
	}
}

func (s *Scheduler) cancelTiersLocked() {
	for _, t := range s.tierTimers {
		t.Stop()
	}
	s.tierTimers = nil
}

func (s *Scheduler) armRecoveryLocked() {
	if s.recoveryTimer != nil {
		s.recoveryTimer.Stop()
	}
	s.recoveryTimer = time.AfterFunc(s.recoveryDelay, s.onRecovery)
}

// onRecovery fires after rapid mode has kept the scheduler quiet for the
// recovery delay. It resets the detector and re-runs the tier and dwell
// scheduling for whatever page is current now.
func (s *Scheduler) onRecovery() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.detector.Reset()
	s.state.RapidMode = false
	s.state.RapidCount = 0

	page := s.state.CurrentPage
	if page < 0 {
		s.mu.Unlock()
		return
	}
	epoch := s.state.Epoch
	if !s.cache.Has(page) {
		s.queue.Push(page, model.PriorityCritical, epoch, s.now())
	}
	s.scheduleTiersLocked(epoch)
	s.startDrainLocked()

	totalPages := s.totalPages
	lowRange := s.cfg.LowRange
	dir := s.state.Direction
	s.logf(LogLevelDebug, "rapid_recovered page=%d epoch=%d", page, epoch)
	s.mu.Unlock()

	s.publishRapid(false)
	s.progressive.Rearm(page, totalPages, lowRange, dir)
}

// enqueueBackground schedules progressive-extension pages on the current
// epoch and reports which ones were actually queued.
func (s *Scheduler) enqueueBackground(pages []int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	epoch := s.state.Epoch
	now := s.now()
	var queued []int
	for _, page := range pages {
		if page < 0 || page >= s.totalPages || s.cache.Has(page) {
			continue
		}
		s.queue.Push(page, model.PriorityBackground, epoch, now)
		queued = append(queued, page)
	}
	if len(queued) > 0 {
		s.startDrainLocked()
	}
	return queued
}

// startDrainLocked kicks the drain worker if it is not already running.
// Re-entrant triggers are no-ops, so late pokes never create parallel
// drains.
func (s *Scheduler) startDrainLocked() {
	if s.processing || s.closed {
		return
	}
	s.processing = true
	go s.drain()
}

// drain is the single logical worker: it pulls the highest-priority pending
// task, skips cached or stale work, decodes, and writes back only if the
// task's epoch still matches.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		task := s.queue.NextPending()
		if task == nil || s.closed {
			s.processing = false
			s.mu.Unlock()
			return
		}

		if task.Epoch != s.state.Epoch {
			task.Status = model.StatusCancelled
			s.mu.Unlock()
			continue
		}
		if s.cache.Has(task.PageIndex) {
			task.Status = model.StatusDone
			background := task.Priority == model.PriorityBackground
			page := task.PageIndex
			s.mu.Unlock()
			if background {
				s.progressive.OnPageLoaded(page)
			}
			continue
		}

		if err := model.ValidateTaskTransition(task.Status, model.StatusLoading); err != nil {
			s.logf(LogLevelError, "task_transition_invalid page=%d error=%v", task.PageIndex, err)
			s.mu.Unlock()
			continue
		}
		task.Status = model.StatusLoading
		page := task.PageIndex
		taskEpoch := task.Epoch
		priority := task.Priority
		ctx := s.ctx
		s.mu.Unlock()

		frame, err := s.decoder.Decode(ctx, page)

		s.mu.Lock()
		// Decode failures end in done too: retry policy, if any, belongs to
		// the decode collaborator.
		task.Status = model.StatusDone
		// A closed scheduler's cache may already belong to the next document.
		stale := taskEpoch != s.state.Epoch || s.closed

		switch {
		case stale:
			// Dropped silently even on failure; the user has already left.
			s.logf(LogLevelDebug, "stale_result_dropped page=%d epoch=%d current_epoch=%d", page, taskEpoch, s.state.Epoch)
			s.mu.Unlock()
		case err != nil:
			s.logf(LogLevelError, "decode_failed page=%d epoch=%d error=%v", page, taskEpoch, err)
			s.mu.Unlock()
			s.publish(events.EventPageFailed, map[string]any{"page": page, "error": err.Error()})
		default:
			s.cache.Put(page, frame)
			s.logf(LogLevelDebug, "page_ready page=%d epoch=%d priority=%d decode_ms=%d", page, taskEpoch, priority, frame.DecodeMs)
			s.mu.Unlock()
			s.publish(events.EventPageReady, map[string]any{"page": page, "priority": priority})
			if priority == model.PriorityBackground {
				s.progressive.OnPageLoaded(page)
			}
		}
	}
}

func (s *Scheduler) publishRapid(active bool) {
	s.publish(events.EventRapidMode, map[string]any{"active": active})
}

func (s *Scheduler) publish(eventType events.EventType, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, data)
}

func (s *Scheduler) logf(level LogLevel, format string, args ...any) {
	if level < s.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s %s scheduler: %s", time.Now().Format(time.RFC3339), level, msg)
}
