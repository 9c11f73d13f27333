package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

const (
	ConfigFile = "vmsvga3d.toml"

	BackendSoftware = "software"
	BackendVulkan   = "vulkan"
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Driver  DriverConfig  `toml:"driver"`
	Table   TableConfig   `toml:"table"`
	Fence   FenceConfig   `toml:"fence"`
	Surface SurfaceConfig `toml:"surface"`
	YUV     YUVConfig     `toml:"yuv"`
	Dump    DumpConfig    `toml:"dump"`
}

type LogConfig struct {
	/** @brief One of debug, info, warn, error. */
	Level string `toml:"level"`
}

type DriverConfig struct {
	/** @brief The host driver, software or vulkan. Read once at start. */
	Backend string `toml:"backend"`
	AppName string `toml:"app_name"`
	/** @brief Enables validation layers on the vulkan driver. */
	Debug bool `toml:"debug"`
	/** @brief Size of the executor command queue. */
	CommandQueueSize int `toml:"command_queue_size"`
}

type TableConfig struct {
	/** @brief Growth granularity of every id table. */
	GrowBlock     uint32 `toml:"grow_block"`
	MaxContextIDs uint32 `toml:"max_context_ids"`
	MaxSurfaceIDs uint32 `toml:"max_surface_ids"`
	MaxShaderIDs  uint32 `toml:"max_shader_ids"`
}

type FenceConfig struct {
	/** @brief Sleep between two polls of a pending event query. */
	PollIntervalUS uint32 `toml:"poll_interval_us"`
	/** @brief Polls before a flush gives up with a timeout. */
	MaxPolls uint32 `toml:"max_polls"`
}

type SurfaceConfig struct {
	/** @brief Retry failed render target creation with lockable dynamic usage. */
	AllowFallback       bool `toml:"allow_fallback"`
	VertexDeclCacheSize int  `toml:"vertex_decl_cache_size"`
}

type YUVConfig struct {
	DisableReadback bool `toml:"disable_readback"`
	DisableUpload   bool `toml:"disable_upload"`
}

type DumpConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	Workers int    `toml:"workers"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Driver: DriverConfig{
			Backend:          BackendSoftware,
			AppName:          "vmsvga3d",
			Debug:            false,
			CommandQueueSize: 1024,
		},
		Table: TableConfig{
			GrowBlock:     16,
			MaxContextIDs: 256,
			MaxSurfaceIDs: 32 * 1024,
			MaxShaderIDs:  8 * 1024,
		},
		Fence: FenceConfig{
			PollIntervalUS: 1000,
			MaxPolls:       10000,
		},
		Surface: SurfaceConfig{
			AllowFallback:       true,
			VertexDeclCacheSize: 64,
		},
		YUV: YUVConfig{
			DisableReadback: false,
			DisableUpload:   false,
		},
		Dump: DumpConfig{
			Enabled: false,
			Dir:     filepath.Join(os.TempDir(), "vmsvga3d"),
			Workers: 1,
		},
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Fence.PollIntervalUS) * time.Microsecond
}

func (c *Config) Validate() error {
	switch c.Driver.Backend {
	case BackendSoftware, BackendVulkan:
	default:
		return fmt.Errorf("config: unknown driver backend %q: %w", c.Driver.Backend, core.ErrInvalidParameter)
	}
	if c.Table.GrowBlock == 0 {
		return fmt.Errorf("config: table.grow_block must be at least 1: %w", core.ErrInvalidParameter)
	}
	if c.Table.MaxContextIDs == 0 || c.Table.MaxSurfaceIDs == 0 || c.Table.MaxShaderIDs == 0 {
		return fmt.Errorf("config: table limits must be positive: %w", core.ErrInvalidParameter)
	}
	if c.Fence.MaxPolls == 0 {
		return fmt.Errorf("config: fence.max_polls must be at least 1: %w", core.ErrInvalidParameter)
	}
	if c.Surface.VertexDeclCacheSize < 1 {
		return fmt.Errorf("config: surface.vertex_decl_cache_size must be at least 1: %w", core.ErrInvalidParameter)
	}
	if c.Driver.CommandQueueSize < 1 {
		return fmt.Errorf("config: driver.command_queue_size must be at least 1: %w", core.ErrInvalidParameter)
	}
	if c.Dump.Enabled && c.Dump.Workers < 1 {
		return fmt.Errorf("config: dump.workers must be at least 1: %w", core.ErrInvalidParameter)
	}
	return nil
}

// Load reads path on top of the defaults, so keys missing from the file keep
// their default value. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		core.LogInfo("config file %s not found, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: could not read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: could not decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: could not create directory for %s: %w", path, err)
	}
	var buffer bytes.Buffer
	if err := toml.NewEncoder(&buffer).Encode(cfg); err != nil {
		return fmt.Errorf("config: could not encode: %w", err)
	}
	return os.WriteFile(path, buffer.Bytes(), 0644)
}

// Dir resolves $XDG_CONFIG_HOME/vmsvga3d with a fallback to ~/.config/vmsvga3d.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, "vmsvga3d")
}

func DefaultPath() string {
	return filepath.Join(Dir(), ConfigFile)
}
