package server

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/voxelstream/voxelstream/voxel"
)

// Config is the root TOML configuration for the voxelstream server.
type Config struct {
	Server  ServerConfig
	Logging voxel.LogConfig
	Task    TaskConfig
}

// ServerConfig holds listener and storage-path settings.
type ServerConfig struct {
	HTTPAddress   string   `toml:"http_address"`
	DataRoot      string   `toml:"data_root"`
	PerfStorePath string   `toml:"perf_store_path"`
	ShutdownDelay int      `toml:"shutdown_delay"` // seconds
	CORSOrigins   []string `toml:"cors_origins"`
}

// TaskConfig configures the server-side task registry.
type TaskConfig struct {
	TTLMinutes int `toml:"ttl_minutes"`
}

// DefaultConfig returns a Config with the defaults this package ships
// with when a setting is left out of the TOML file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddress:   "localhost:8500",
			DataRoot:      ".",
			PerfStorePath: "./voxelstream-perf",
			ShutdownDelay: 5,
			CORSOrigins:   []string{"*"},
		},
		Task: TaskConfig{TTLMinutes: 10},
	}
}

// LoadConfig reads and decodes path, a TOML file, on top of
// DefaultConfig. An empty path returns the defaults unmodified.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return cfg, nil
}
