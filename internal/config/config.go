// Package config loads the indexer's configuration from a YAML file with
// environment variable overrides, the way cmd/engine/main.go reads
// DATABASE_URL/BTC_RPC_* but generalized into a struct instead of loose
// locals.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainProducerKind selects which ChainSyncClient implementation to dial.
type ChainProducerKind string

const (
	ProducerDirect ChainProducerKind = "direct"
	ProducerOgmios ChainProducerKind = "ogmios"
)

// InputManagementMode controls what happens to a spent input once it falls
// outside the rollback window: it is either kept with a spent_at marker or
// deleted outright.
type InputManagementMode string

const (
	MarkSpentInputs   InputManagementMode = "mark"
	RemoveSpentInputs InputManagementMode = "remove"
)

// Config is the full set of knobs the indexer needs at startup. Zero values
// are never valid configuration; Validate fills in nothing, it only checks.
type Config struct {
	NetworkMagic uint32 `yaml:"network_magic"`

	ChainProducer ChainProducerKind `yaml:"chain_producer"`
	NodeSocket    string            `yaml:"node_socket"`
	OgmiosURL     string            `yaml:"ogmios_url"`

	DataDir string `yaml:"data_dir"`

	InputManagement   InputManagementMode `yaml:"input_management"`
	StabilityWindow   uint64              `yaml:"stability_window"`
	LongestRollback   uint64              `yaml:"longest_rollback"`
	PruneThrottleDelay time.Duration      `yaml:"prune_throttle_delay"`

	HTTPBindAddress string `yaml:"http_bind_address"`
	MetricsAddress  string `yaml:"metrics_address"`

	MailboxCapacity int `yaml:"mailbox_capacity"`

	InitialPatterns []string `yaml:"initial_patterns"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config with every non-zero default the indexer ships
// with out of the box.
func Default() Config {
	return Config{
		NetworkMagic:       764824073, // mainnet
		ChainProducer:      ProducerDirect,
		DataDir:            "./data",
		InputManagement:    MarkSpentInputs,
		StabilityWindow:    2160,
		LongestRollback:    2160,
		PruneThrottleDelay: 10 * time.Second,
		HTTPBindAddress:    "0.0.0.0:1442",
		MetricsAddress:     "127.0.0.1:9090",
		MailboxCapacity:    100,
		LogLevel:           "info",
	}
}

// Load reads a YAML config file (if path is non-empty) layered onto
// Default(), then applies environment variable overrides the way
// requireEnv/getEnvOrDefault do in the teacher's main.go: required values
// that are still unset after the file+defaults fail Load outright.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KUPOCHAIN_NODE_SOCKET"); v != "" {
		cfg.NodeSocket = v
	}
	if v := os.Getenv("KUPOCHAIN_OGMIOS_URL"); v != "" {
		cfg.OgmiosURL = v
		cfg.ChainProducer = ProducerOgmios
	}
	if v := os.Getenv("KUPOCHAIN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KUPOCHAIN_HTTP_BIND"); v != "" {
		cfg.HTTPBindAddress = v
	}
	if v := os.Getenv("KUPOCHAIN_STABILITY_WINDOW"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.StabilityWindow = n
		} else {
			log.Printf("config: ignoring invalid KUPOCHAIN_STABILITY_WINDOW %q: %v", v, err)
		}
	}
	if v := os.Getenv("KUPOCHAIN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks that the configuration is internally consistent and
// names a reachable chain producer.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	switch c.ChainProducer {
	case ProducerDirect:
		if c.NodeSocket == "" {
			return fmt.Errorf("config: chain_producer=direct requires node_socket")
		}
	case ProducerOgmios:
		if c.OgmiosURL == "" {
			return fmt.Errorf("config: chain_producer=ogmios requires ogmios_url")
		}
	default:
		return fmt.Errorf("config: unknown chain_producer %q", c.ChainProducer)
	}
	switch c.InputManagement {
	case MarkSpentInputs, RemoveSpentInputs:
	default:
		return fmt.Errorf("config: unknown input_management %q", c.InputManagement)
	}
	if c.MailboxCapacity <= 0 {
		return fmt.Errorf("config: mailbox_capacity must be positive")
	}
	if c.LongestRollback < c.StabilityWindow {
		return fmt.Errorf("config: longest_rollback must be >= stability_window")
	}
	return nil
}

// Summary renders a flat string map suitable for chain.Health's
// ConfigurationSummary and for startup logging.
func (c Config) Summary() map[string]string {
	return map[string]string{
		"network_magic":    strconv.FormatUint(uint64(c.NetworkMagic), 10),
		"chain_producer":   string(c.ChainProducer),
		"input_management": string(c.InputManagement),
		"stability_window": strconv.FormatUint(c.StabilityWindow, 10),
		"longest_rollback": strconv.FormatUint(c.LongestRollback, 10),
	}
}
