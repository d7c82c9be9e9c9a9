package tinyvm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hctung57/tinyVM/internal/hw"
)

// Config sizes the simulated machine. Fields missing from a YAML file
// keep their defaults (see LoadConfig); Boot validates the result and
// rejects zero or undersized values.
type Config struct {
	// UserFrames is the size of the physical user-frame pool in pages.
	UserFrames int `yaml:"user_frames"`

	// DiskSectors is the size of the filesystem disk in sectors.
	DiskSectors uint32 `yaml:"disk_sectors"`

	// SwapSectors is the size of the swap disk in sectors. Must hold at
	// least one page.
	SwapSectors uint32 `yaml:"swap_sectors"`
}

// DefaultConfig returns a machine small enough that eviction is easy to
// provoke: 64 user frames, a 1 MiB disk, and 64 swap slots.
func DefaultConfig() Config {
	return Config{
		UserFrames:  64,
		DiskSectors: 2048,
		SwapSectors: 512,
	}
}

// LoadConfig reads a YAML config file. Missing fields keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.UserFrames <= 0 {
		return fmt.Errorf("config: user_frames must be positive, got %d", cfg.UserFrames)
	}
	if cfg.DiskSectors < 2 {
		return fmt.Errorf("config: disk_sectors must be at least 2, got %d", cfg.DiskSectors)
	}
	if int(cfg.SwapSectors) < hw.SectorsPerPage {
		return fmt.Errorf("config: swap_sectors must hold at least one page, got %d", cfg.SwapSectors)
	}
	return nil
}
