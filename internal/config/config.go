package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level configuration for a Sapphire process, assembled
// from LoadRaw's merged map via Load.
type Config struct {
	DataDir     string        `yaml:"data_dir"`
	APIKey      string        `yaml:"api_key"`
	Server      ServerConfig  `yaml:"server"`
	Scheduler   SchedulerCfg  `yaml:"scheduler"`
	StartPrivacy bool         `yaml:"start_in_privacy_mode"`
	Whitelist   []string      `yaml:"privacy_whitelist"`
}

// ServerConfig controls the HTTP facade.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SchedulerCfg holds the continuity scheduler's tick cadence setting. It is
// decoded and defaulted here, but the scheduler does not read it: it always
// wakes at continuity.TickInterval.
type SchedulerCfg struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
}

func defaultConfig() Config {
	return Config{
		DataDir: "./data",
		Server:  ServerConfig{Addr: ":8787"},
		Scheduler: SchedulerCfg{
			TickIntervalSeconds: 30,
		},
		Whitelist: []string{"127.0.0.1", "localhost", "192.168.0.0/16", "10.0.0.0/8", "172.16.0.0/12"},
	}
}

// Load reads path (resolving $include directives and env expansion via
// LoadRaw) and decodes it into a Config, filling unset fields with defaults.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("stat config %s: %w", path, err)
	}

	raw, err := LoadRaw(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := decodeInto(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.DataDir != "" {
		abs, err := filepath.Abs(cfg.DataDir)
		if err == nil {
			cfg.DataDir = abs
		}
	}
	return cfg, nil
}

// decodeInto re-marshals the raw map through YAML into the typed struct, so
// $include-merged maps decode with the same struct tags callers would use
// for a single plain file.
func decodeInto(raw map[string]any, out *Config) error {
	data, err := marshalYAML(raw)
	if err != nil {
		return err
	}
	return unmarshalYAML(data, out)
}
