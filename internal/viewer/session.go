// Package viewer ties the preload core to its collaborators: page source,
// decode pipeline, frame cache, settings, and the event bus. One Session
// owns one open document at a time.
package viewer

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yomu-app/yomu/internal/cache"
	"github.com/yomu-app/yomu/internal/decode"
	"github.com/yomu-app/yomu/internal/events"
	"github.com/yomu-app/yomu/internal/model"
	"github.com/yomu-app/yomu/internal/preload"
	"github.com/yomu-app/yomu/internal/settings"
)

// Session is one viewer session. The scheduler is constructed at
// document-open time and torn down at document-close, so no preload state
// leaks across documents.
type Session struct {
	id           string
	logger       *log.Logger
	logLevel     preload.LogLevel
	bus          *events.Bus
	settingsPath string
	watcher      *settings.Watcher

	mu        sync.Mutex
	cfg       settings.Settings
	cache     *cache.FrameCache
	source    *decode.DirSource
	pipeline  *decode.Pipeline
	scheduler *preload.Scheduler
	closed    bool
}

// Metrics aggregates the session's pipeline and cache counters.
type Metrics struct {
	Pipeline decode.Metrics `json:"pipeline"`
	Cache    cache.Stats    `json:"cache"`
}

// NewSession loads settings from settingsPath (capability-derived defaults
// when the file does not exist) and prepares a session. Log output goes to
// out.
func NewSession(settingsPath string, out io.Writer) (*Session, error) {
	cfg, err := settings.Load(settingsPath)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(settingsPath); statErr != nil {
		// First use, no settings file: pick the preload preset from the
		// machine's capability.
		cfg.Preload.Config = adaptivePreset(runtime.NumCPU())
	}

	if out == nil {
		out = os.Stderr
	}
	logger := log.New(out, "", 0)

	s := &Session{
		id:           uuid.NewString(),
		logger:       logger,
		logLevel:     preload.ParseLogLevel(cfg.Logging.Level),
		bus:          events.NewBus(64),
		settingsPath: settingsPath,
		cfg:          cfg,
		cache:        cache.New(cfg.Cache.MaxBytes, cfg.Cache.MaxEntries),
	}

	if _, statErr := os.Stat(filepath.Dir(settingsPath)); statErr == nil {
		watcher, werr := settings.Watch(settingsPath, logger, s.applySettings)
		if werr != nil {
			s.logf(preload.LogLevelWarn, "settings_watch_failed error=%v", werr)
		} else {
			s.watcher = watcher
		}
	}

	s.logf(preload.LogLevelInfo, "session_created id=%s cpus=%d", s.id, runtime.NumCPU())
	return s, nil
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Open loads a directory of images as the current book. Any previously open
// document is closed and the decoded-frame cache is purged.
func (s *Session) Open(dir string) error {
	source, err := decode.OpenDir(dir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session closed")
	}
	if s.scheduler != nil {
		s.scheduler.Close()
	}
	s.cache.Purge()

	s.source = source
	s.pipeline = decode.NewPipeline(source, s.logger)

	scheduler, err := preload.NewScheduler(s.cfg.EffectivePreload(), s.pipeline, s.cache, s.bus, s.logger, s.logLevel)
	if err != nil {
		return err
	}
	if _, err := scheduler.SetProgressiveConfig(progressivePatch(s.cfg.Progressive)); err != nil {
		scheduler.Close()
		return err
	}
	s.scheduler = scheduler

	s.logf(preload.LogLevelInfo, "book_opened session=%s dir=%s pages=%d", s.id, dir, source.TotalPages())
	return nil
}

// SetCurrentPage forwards a navigation to the scheduler.
func (s *Session) SetCurrentPage(page int) {
	s.mu.Lock()
	scheduler, source := s.scheduler, s.source
	s.mu.Unlock()

	if scheduler == nil || source == nil {
		return
	}
	scheduler.SetCurrentPage(page, source.TotalPages())
}

// TotalPages returns the page count of the open document, 0 if none.
func (s *Session) TotalPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return 0
	}
	return s.source.TotalPages()
}

// Status returns the scheduler's introspection snapshot.
func (s *Session) Status() model.QueueStatus {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler == nil {
		return model.QueueStatus{CurrentPage: -1, Direction: model.DirectionForward}
	}
	return scheduler.Status()
}

// Metrics returns pipeline and cache counters.
func (s *Session) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{Cache: s.cache.Stats()}
	if s.pipeline != nil {
		m.Pipeline = s.pipeline.Metrics()
	}
	return m
}

// ProgressiveState exposes the background-extension state.
func (s *Session) ProgressiveState() model.ProgressiveState {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler == nil {
		return model.ProgressiveState{FurthestLoaded: -1}
	}
	return scheduler.ProgressiveState()
}

// ProgressiveConfig exposes the background-extension configuration.
func (s *Session) ProgressiveConfig() model.ProgressiveConfig {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler == nil {
		return s.cfg.Progressive
	}
	return scheduler.ProgressiveConfig()
}

// SetProgressiveConfig applies a partial progressive-load update to the
// live scheduler and remembers it in the session settings.
func (s *Session) SetProgressiveConfig(patch model.ProgressiveConfigPatch) (model.ProgressiveConfig, error) {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler == nil {
		next := patch.Apply(s.cfg.Progressive)
		if err := next.Validate(); err != nil {
			return s.cfg.Progressive, err
		}
		s.mu.Lock()
		s.cfg.Progressive = next
		s.mu.Unlock()
		return next, nil
	}

	cfg, err := scheduler.SetProgressiveConfig(patch)
	if err != nil {
		return cfg, err
	}
	s.mu.Lock()
	s.cfg.Progressive = cfg
	s.mu.Unlock()
	return cfg, nil
}

// Subscribe registers a callback for viewer state-change events. Returns an
// unsubscribe function.
func (s *Session) Subscribe(eventType events.EventType, fn events.Subscriber) func() {
	return s.bus.Subscribe(eventType, fn)
}

// Close tears the session down.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	scheduler := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if scheduler != nil {
		scheduler.Close()
	}
	s.bus.Close()
	s.logf(preload.LogLevelInfo, "session_closed id=%s", s.id)
}

// applySettings hot-applies a reloaded settings file to the live session.
func (s *Session) applySettings(cfg settings.Settings) {
	s.mu.Lock()
	s.cfg = cfg
	s.logLevel = preload.ParseLogLevel(cfg.Logging.Level)
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler != nil {
		if err := scheduler.SetPreloadConfig(cfg.EffectivePreload()); err != nil {
			s.logf(preload.LogLevelWarn, "settings_apply_failed error=%v", err)
		}
		if _, err := scheduler.SetProgressiveConfig(progressivePatch(cfg.Progressive)); err != nil {
			s.logf(preload.LogLevelWarn, "settings_apply_failed error=%v", err)
		}
	}
	s.bus.Publish(events.EventConfigReloaded, map[string]any{"session": s.id})
}

// adaptivePreset maps machine capability to a preload preset.
func adaptivePreset(cpus int) model.PreloadConfig {
	switch {
	case cpus <= 2:
		return model.PreloadPresetLow()
	case cpus <= 6:
		return model.PreloadPresetMedium()
	default:
		return model.PreloadPresetHigh()
	}
}

func progressivePatch(c model.ProgressiveConfig) model.ProgressiveConfigPatch {
	return model.ProgressiveConfigPatch{
		Enabled:      &c.Enabled,
		DwellSeconds: &c.DwellSeconds,
		BatchSize:    &c.BatchSize,
		MaxPages:     &c.MaxPages,
	}
}

func (s *Session) logf(level preload.LogLevel, format string, args ...any) {
	if level < s.logLevel {
		return
	}
	s.logger.Printf("%s %s viewer: %s", time.Now().Format(time.RFC3339), level, fmt.Sprintf(format, args...))
}
