package model

import "fmt"

// PreloadConfig holds the tiered range/delay parameters. Ranges are
// cumulative page counts in the predicted direction; delays say how long to
// wait before dispatching each tier.
type PreloadConfig struct {
	HighRange   int `yaml:"high_range" json:"high_range"`
	NormalRange int `yaml:"normal_range" json:"normal_range"`
	LowRange    int `yaml:"low_range" json:"low_range"`

	HighDelayMs   int `yaml:"high_delay_ms" json:"high_delay_ms"`
	NormalDelayMs int `yaml:"normal_delay_ms" json:"normal_delay_ms"`
	LowDelayMs    int `yaml:"low_delay_ms" json:"low_delay_ms"`
}

// Validate enforces the tier ordering invariants: ranges strictly widen and
// delays never shrink as tiers get farther out.
func (c PreloadConfig) Validate() error {
	if c.HighRange < 1 {
		return fmt.Errorf("high_range must be >= 1, got %d", c.HighRange)
	}
	if !(c.HighRange < c.NormalRange && c.NormalRange < c.LowRange) {
		return fmt.Errorf("ranges must satisfy high < normal < low, got %d/%d/%d",
			c.HighRange, c.NormalRange, c.LowRange)
	}
	if c.HighDelayMs < 0 {
		return fmt.Errorf("high_delay_ms must be >= 0, got %d", c.HighDelayMs)
	}
	if !(c.HighDelayMs <= c.NormalDelayMs && c.NormalDelayMs <= c.LowDelayMs) {
		return fmt.Errorf("delays must be non-decreasing, got %d/%d/%d",
			c.HighDelayMs, c.NormalDelayMs, c.LowDelayMs)
	}
	return nil
}

// Preset preload configurations selected by device capability.
func PreloadPresetLow() PreloadConfig {
	return PreloadConfig{
		HighRange: 1, NormalRange: 2, LowRange: 4,
		HighDelayMs: 50, NormalDelayMs: 150, LowDelayMs: 400,
	}
}

func PreloadPresetMedium() PreloadConfig {
	return PreloadConfig{
		HighRange: 2, NormalRange: 4, LowRange: 8,
		HighDelayMs: 30, NormalDelayMs: 120, LowDelayMs: 300,
	}
}

func PreloadPresetHigh() PreloadConfig {
	return PreloadConfig{
		HighRange: 3, NormalRange: 6, LowRange: 12,
		HighDelayMs: 20, NormalDelayMs: 100, LowDelayMs: 250,
	}
}

// ScaleToUserSize derives tier ranges from a user-configured preload size:
// 20% / 50% / 100% of size, floored so the ordering invariant always holds.
// Delays are kept from the receiver.
func (c PreloadConfig) ScaleToUserSize(size int) PreloadConfig {
	if size < 2 {
		size = 2
	}
	scaled := c
	scaled.HighRange = size * 20 / 100
	if scaled.HighRange < 1 {
		scaled.HighRange = 1
	}
	scaled.NormalRange = size * 50 / 100
	if scaled.NormalRange <= scaled.HighRange {
		scaled.NormalRange = scaled.HighRange + 1
	}
	scaled.LowRange = size
	if scaled.LowRange <= scaled.NormalRange {
		scaled.LowRange = scaled.NormalRange + 1
	}
	return scaled
}

// ProgressiveConfig controls the dwell-driven background extension.
// MaxPages == 0 means unbounded up to the document's page count.
type ProgressiveConfig struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	DwellSeconds int  `yaml:"dwell_seconds" json:"dwell_seconds"`
	BatchSize    int  `yaml:"batch_size" json:"batch_size"`
	MaxPages     int  `yaml:"max_pages" json:"max_pages"`
}

func DefaultProgressiveConfig() ProgressiveConfig {
	return ProgressiveConfig{
		Enabled:      true,
		DwellSeconds: 3,
		BatchSize:    5,
		MaxPages:     0,
	}
}

func (c ProgressiveConfig) Validate() error {
	if c.DwellSeconds < 1 {
		return fmt.Errorf("dwell_seconds must be >= 1, got %d", c.DwellSeconds)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0, got %d", c.MaxPages)
	}
	return nil
}

// ProgressiveConfigPatch is a partial update; nil fields keep their current
// value.
type ProgressiveConfigPatch struct {
	Enabled      *bool `json:"enabled,omitempty"`
	DwellSeconds *int  `json:"dwell_seconds,omitempty"`
	BatchSize    *int  `json:"batch_size,omitempty"`
	MaxPages     *int  `json:"max_pages,omitempty"`
}

// Apply overlays the patch onto cfg and returns the result.
func (p ProgressiveConfigPatch) Apply(cfg ProgressiveConfig) ProgressiveConfig {
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.DwellSeconds != nil {
		cfg.DwellSeconds = *p.DwellSeconds
	}
	if p.BatchSize != nil {
		cfg.BatchSize = *p.BatchSize
	}
	if p.MaxPages != nil {
		cfg.MaxPages = *p.MaxPages
	}
	return cfg
}
