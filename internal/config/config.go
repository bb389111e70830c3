// Package config loads otcbrokerd's configuration: a YAML file merged
// with environment variables, in that precedence order (environment
// wins, then the file, then the defaults below), per spec §6.3's
// recognized options. It is built the way internal/node/config.go
// loads and saves a Config struct as YAML with gopkg.in/yaml.v3,
// generalized from a P2P node's network/identity/storage sections to
// the broker's server, tick-loop, and per-chain operator settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for the options spec §6.3 names.
const (
	DefaultPort               = 8080
	DefaultTickIntervalMS     = 5000
	DefaultMaxAttemptsPerItem = 10
	DefaultDataDir            = "~/.otc-broker"
)

// ConfigFileName is the default config file name within DataDir.
const ConfigFileName = "config.yaml"

// Config is otcbrokerd's full configuration.
type Config struct {
	// BaseURL is used to build the party-detail fill links returned
	// by otc.createDeal (spec §6.3).
	BaseURL string `yaml:"base_url"`

	// Port is the JSON-RPC/WebSocket listen port.
	Port int `yaml:"port"`

	// DataDir holds the SQLite database and any plugin key material.
	DataDir string `yaml:"data_dir"`

	// TickIntervalMS is how often internal/engine's tick loop runs.
	TickIntervalMS int64 `yaml:"tick_interval_ms"`

	// MaxAttemptsPerItem bounds internal/txqueue retries before a
	// queue item is marked FAILED.
	MaxAttemptsPerItem int `yaml:"max_attempts_per_item"`

	// OperatorAddress maps chainId -> the broker's own payout address
	// for OP_COMMISSION items.
	OperatorAddress map[string]string `yaml:"operator_address"`

	// PluginConfig passes arbitrary per-chain settings through to
	// internal/simplugin without internal/config needing to know
	// every plugin's shape (spec §6.3 "plugin-specific config passed
	// through").
	PluginConfig map[string]yaml.Node `yaml:"plugin_config,omitempty"`

	// Logging controls pkg/logging.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings, the same shape the teacher's
// node.Config uses.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		BaseURL:            "http://localhost:8080",
		Port:               DefaultPort,
		DataDir:            DefaultDataDir,
		TickIntervalMS:     DefaultTickIntervalMS,
		MaxAttemptsPerItem: DefaultMaxAttemptsPerItem,
		OperatorAddress:    map[string]string{},
		Logging:            LoggingConfig{Level: "info"},
	}
}

// Path returns the full path to the config file under dataDir.
func Path(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// Load reads configPath if it exists, else writes a default config
// file there and returns the defaults. Environment variables are
// always applied afterward as overrides, since those commonly vary
// per deployment without editing the checked-in file.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("config: failed to create default config: %w", err)
		}
		applyEnv(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", configPath, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", configPath, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating its directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to marshal config: %w", err)
	}
	header := []byte("# otc-broker daemon configuration\n# generated automatically on first run\n\n")
	if err := os.WriteFile(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays the spec §6.3 environment variables onto cfg.
// Per-chain OPERATOR_ADDRESS uses the form OPERATOR_ADDRESS_<CHAINID>
// since the option is per chain, not global.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("TICK_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TickIntervalMS = n
		}
	}
	if v := os.Getenv("MAX_ATTEMPTS_PER_ITEM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAttemptsPerItem = n
		}
	}
	if cfg.OperatorAddress == nil {
		cfg.OperatorAddress = map[string]string{}
	}
	const prefix = "OPERATOR_ADDRESS_"
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		chainID := strings.TrimPrefix(k, prefix)
		if chainID != "" && v != "" {
			cfg.OperatorAddress[chainID] = v
		}
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
