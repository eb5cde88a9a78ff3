// Package config loads stepcraft settings from a TOML file. Every field has
// a default, so a missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// AppName is used for the config and data directory names.
const AppName = "stepcraft"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the full settings tree.
type Config struct {
	Storage StorageConfig    `toml:"storage"`
	Layout  stepgraph.Layout `toml:"layout"`
	Camera  CameraConfig     `toml:"camera"`
	Render  RenderConfig     `toml:"render"`
	Script  ScriptConfig     `toml:"script"`
	Log     LogConfig        `toml:"log"`
	// MaxDepth bounds sub-step nesting when authoring.
	MaxDepth int `toml:"max_depth"`
}

// StorageConfig selects where saved models live.
type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// CameraConfig tunes the follow camera.
type CameraConfig struct {
	Offset  float64 `toml:"offset"`
	Damping float64 `toml:"damping"`
}

// RenderConfig controls mesh generation for the scene.
type RenderConfig struct {
	Meshes    bool `toml:"meshes"`
	MeshCells int  `toml:"mesh_cells"`
}

// ScriptConfig bounds script evaluation.
type ScriptConfig struct {
	TimeoutSeconds float64 `toml:"timeout_seconds"`
}

// Timeout returns the evaluation limit as a duration.
func (s ScriptConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    defaultDataPath(),
		},
		Layout: stepgraph.DefaultLayout(),
		Camera: CameraConfig{Offset: 5, Damping: 0.05},
		Render: RenderConfig{Meshes: true, MeshCells: 64},
		Script: ScriptConfig{TimeoutSeconds: 5},
		Log:    LogConfig{Level: "info", Format: "text"},

		MaxDepth: stepgraph.DefaultMaxDepth,
	}
}

func userDir(fn func() (string, error)) string {
	dir, err := fn()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, AppName)
}

func defaultDataPath() string {
	return filepath.Join(userDir(os.UserConfigDir), "models.db")
}

// DefaultPath returns the config file location under the user config dir.
func DefaultPath() string {
	return filepath.Join(userDir(os.UserConfigDir), "config.toml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Write saves cfg as TOML, creating the parent directory.
func Write(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks ranges that would break layout or rendering.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: expected %s or %s", c.Storage.Backend, BackendSQLite, BackendMemory))
	}
	if c.Layout.StepSpacing <= 0 {
		errs = append(errs, errors.New("layout.step_spacing must be positive"))
	}
	if c.Layout.SubStepLateral == 0 {
		errs = append(errs, errors.New("layout.substep_lateral must be non-zero"))
	}
	if c.Camera.Damping <= 0 || c.Camera.Damping > 1 {
		errs = append(errs, fmt.Errorf("camera.damping %.3f: must be in (0, 1]", c.Camera.Damping))
	}
	if c.Render.MeshCells < 8 {
		errs = append(errs, fmt.Errorf("render.mesh_cells %d: must be at least 8", c.Render.MeshCells))
	}
	if c.Script.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("script.timeout_seconds must be positive"))
	}
	if c.MaxDepth < 1 {
		errs = append(errs, errors.New("max_depth must be at least 1"))
	}
	return errors.Join(errs...)
}
