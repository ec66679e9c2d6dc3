// Package config loads the runtime configuration from a YAML file:
// which chains to connect to, where the transaction log lives, and the
// position-lock and guardrail settings.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Chain describes one chain endpoint.
type Chain struct {
	// Name is a human-readable label ("base", "mainnet", "solana").
	Name string `yaml:"name"`

	// ChainID identifies the chain in records and lock keys. Solana
	// entries use the fixed synthetic id.
	ChainID uint64 `yaml:"chain_id"`

	// Family is "evm" or "solana".
	Family string `yaml:"family"`

	// RPCURL is the node endpoint.
	RPCURL string `yaml:"rpc_url"`
}

// Lock holds position-lock tuning.
type Lock struct {
	// TTLSeconds is how long a held lock survives before the sweeper
	// reclaims it. Zero means the default.
	TTLSeconds int `yaml:"ttl_seconds,omitempty"`

	// AcquireTimeoutSeconds bounds how long an execution waits for a
	// contended lock. Zero means the default.
	AcquireTimeoutSeconds int `yaml:"acquire_timeout_seconds,omitempty"`
}

// Config is the top-level runtime configuration.
type Config struct {
	Chains []Chain `yaml:"chains"`

	// DBPath is the SQLite transaction log location.
	DBPath string `yaml:"db_path"`

	// PolicyDir holds the CUE guardrail policy files. Empty means the
	// built-in default limits.
	PolicyDir string `yaml:"policy_dir,omitempty"`

	Lock Lock `yaml:"lock,omitempty"`

	// MetricsAddr is the Prometheus listen address. Empty disables the
	// metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DBPath: "chainclaw.db",
	}
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	// Strict field validation catches typos like "chain:" vs "chains:".
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	seen := make(map[uint64]string, len(cfg.Chains))
	for i, ch := range cfg.Chains {
		if ch.Name == "" {
			return fmt.Errorf("chains[%d]: name is required", i)
		}
		if ch.RPCURL == "" {
			return fmt.Errorf("chain %q: rpc_url is required", ch.Name)
		}
		switch ch.Family {
		case "evm", "solana":
		default:
			return fmt.Errorf("chain %q: unknown family %q", ch.Name, ch.Family)
		}
		if ch.ChainID == 0 {
			return fmt.Errorf("chain %q: chain_id is required", ch.Name)
		}
		if prev, dup := seen[ch.ChainID]; dup {
			return fmt.Errorf("chain %q: chain_id %d already used by %q", ch.Name, ch.ChainID, prev)
		}
		seen[ch.ChainID] = ch.Name
	}
	if cfg.Lock.TTLSeconds < 0 || cfg.Lock.AcquireTimeoutSeconds < 0 {
		return fmt.Errorf("lock durations must not be negative")
	}
	return nil
}

// LockTTL returns the configured TTL, or zero when the service default
// should apply.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

// LockAcquireTimeout returns the configured acquire timeout, or zero
// when the service default should apply.
func (c Config) LockAcquireTimeout() time.Duration {
	return time.Duration(c.Lock.AcquireTimeoutSeconds) * time.Second
}

// EVMChains returns the configured EVM endpoints.
func (c Config) EVMChains() []Chain {
	var out []Chain
	for _, ch := range c.Chains {
		if ch.Family == "evm" {
			out = append(out, ch)
		}
	}
	return out
}

// SolanaChain returns the configured Solana endpoint, if any.
func (c Config) SolanaChain() (Chain, bool) {
	for _, ch := range c.Chains {
		if ch.Family == "solana" {
			return ch, true
		}
	}
	return Chain{}, false
}
