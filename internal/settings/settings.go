// Package settings provides the viewer's YAML settings file: typed access,
// defaults, validation, atomic persistence, and hot reload.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/yomu-app/yomu/internal/model"
)

// Settings is the persisted viewer configuration.
type Settings struct {
	SchemaVersion int                     `yaml:"schema_version"`
	Preload       PreloadSettings         `yaml:"preload"`
	Progressive   model.ProgressiveConfig `yaml:"progressive"`
	Cache         CacheSettings           `yaml:"cache"`
	Logging       LoggingSettings         `yaml:"logging"`
}

type PreloadSettings struct {
	// UserSize scales the preset tier ranges when > 0; 0 keeps the
	// capability-derived preset untouched.
	UserSize int                 `yaml:"user_size"`
	Config   model.PreloadConfig `yaml:"tiers"`
}

type CacheSettings struct {
	MaxBytes   int64 `yaml:"max_bytes"`
	MaxEntries int   `yaml:"max_entries"`
}

type LoggingSettings struct {
	Level string `yaml:"level"`
}

const schemaVersion = 1

// Default returns the settings used when no file exists yet.
func Default() Settings {
	return Settings{
		SchemaVersion: schemaVersion,
		Preload: PreloadSettings{
			UserSize: 0,
			Config:   model.PreloadPresetMedium(),
		},
		Progressive: model.DefaultProgressiveConfig(),
		Cache: CacheSettings{
			MaxBytes:   256 << 20,
			MaxEntries: 0,
		},
		Logging: LoggingSettings{Level: "info"},
	}
}

// Validate checks the invariants of every section.
func (s Settings) Validate() error {
	if err := s.Preload.Config.Validate(); err != nil {
		return err
	}
	if err := s.Progressive.Validate(); err != nil {
		return err
	}
	if s.Preload.UserSize < 0 {
		return fmt.Errorf("preload user_size must be >= 0, got %d", s.Preload.UserSize)
	}
	if s.Cache.MaxBytes < 0 {
		return fmt.Errorf("cache max_bytes must be >= 0, got %d", s.Cache.MaxBytes)
	}
	return nil
}

// EffectivePreload returns the tier config after user-size scaling.
func (s Settings) EffectivePreload() model.PreloadConfig {
	if s.Preload.UserSize > 0 {
		return s.Preload.Config.ScaleToUserSize(s.Preload.UserSize)
	}
	return s.Preload.Config
}

// Load reads path, falling back to Default when the file does not exist.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// Save writes the settings atomically: marshal to a temp file in the same
// directory, validate the written bytes, then rename over the target.
func Save(path string, cfg Settings) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	content, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".yomu-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read temp file for validation: %w", err)
	}
	var check Settings
	if err := yamlv3.Unmarshal(written, &check); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
