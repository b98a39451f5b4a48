// Package config loads NodePulse's own settings file. This is the
// monitor's configuration, not the node's bitcoin.conf (that one is
// managed by the nodeconf package).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete monitor configuration.
type Config struct {
	Node     NodeConfig     `mapstructure:"node"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Alerts   AlertConfig    `mapstructure:"alerts"`
	Clock    ClockConfig    `mapstructure:"clock"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// NodeConfig locates the daemon, its RPC client and its config file.
type NodeConfig struct {
	BitcoindPath   string        `mapstructure:"bitcoind_path"`    // daemon executable
	BitcoinCliPath string        `mapstructure:"bitcoin_cli_path"` // RPC client executable
	ConfPath       string        `mapstructure:"conf_path"`        // bitcoin.conf location
	RPCTimeout     time.Duration `mapstructure:"rpc_timeout"`      // per-call wall-clock limit for data calls
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`     // the stop call may take longer
	FDLimitFloor   uint64        `mapstructure:"fd_limit_floor"`   // RLIMIT_NOFILE floor raised before start
}

// RefreshConfig drives the scheduler cadences.
type RefreshConfig struct {
	FastInterval     time.Duration `mapstructure:"fast_interval"`     // chain/network/mempool/fee tier
	SlowInterval     time.Duration `mapstructure:"slow_interval"`     // recent blocks + clock probe tier
	LivenessInterval time.Duration `mapstructure:"liveness_interval"` // process-table-only probe
	RecentBlocks     int           `mapstructure:"recent_blocks"`     // block summaries kept per snapshot
	StatsWindow      int           `mapstructure:"stats_window"`      // sync samples retained for rate/ETA
}

// AlertConfig tunes alert generation and retention.
type AlertConfig struct {
	LogCapacity   int `mapstructure:"log_capacity"`   // alert log FIFO cap
	PeerThreshold int `mapstructure:"peer_threshold"` // low-peer warning threshold
}

// ClockConfig tunes the NTP drift probe.
type ClockConfig struct {
	DriftThreshold time.Duration `mapstructure:"drift_threshold"` // warn when |offset| exceeds this
}

// LoggingConfig mirrors logger.Options.
type LoggingConfig struct {
	FilePath  string `mapstructure:"file_path"`
	Level     string `mapstructure:"level"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// Load loads configuration from file, falling back to defaults when the
// file is absent.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("nodepulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".nodepulse"))
		}
		v.AddConfigPath("/etc/nodepulse")
	}

	setDefaults(v)

	v.SetEnvPrefix("NODEPULSE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No settings file anywhere; run on defaults.
			return parseConfig(v)
		}
		if configPath != "" && os.IsNotExist(err) {
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	// Node defaults
	v.SetDefault("node.bitcoind_path", filepath.Join(home, "bin", "bitcoind"))
	v.SetDefault("node.bitcoin_cli_path", filepath.Join(home, "bin", "bitcoin-cli"))
	v.SetDefault("node.conf_path", filepath.Join(home, ".bitcoin", "bitcoin.conf"))
	v.SetDefault("node.rpc_timeout", "5s")
	v.SetDefault("node.stop_timeout", "30s")
	v.SetDefault("node.fd_limit_floor", 4096)

	// Refresh defaults
	v.SetDefault("refresh.fast_interval", "5s")
	v.SetDefault("refresh.slow_interval", "25s")
	v.SetDefault("refresh.liveness_interval", "2s")
	v.SetDefault("refresh.recent_blocks", 5)
	v.SetDefault("refresh.stats_window", 60)

	// Alert defaults
	v.SetDefault("alerts.log_capacity", 50)
	v.SetDefault("alerts.peer_threshold", 3)

	// Clock defaults
	v.SetDefault("clock.drift_threshold", "2s")

	// Logging defaults
	v.SetDefault("logging.file_path", "logs/nodepulse.log")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
}

// parseConfig unmarshals and validates the assembled configuration.
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (cfg *Config) Validate() error {
	if cfg.Refresh.FastInterval <= 0 {
		return fmt.Errorf("refresh.fast_interval must be positive, got %v", cfg.Refresh.FastInterval)
	}
	if cfg.Refresh.SlowInterval < cfg.Refresh.FastInterval {
		return fmt.Errorf("refresh.slow_interval (%v) must not be shorter than refresh.fast_interval (%v)",
			cfg.Refresh.SlowInterval, cfg.Refresh.FastInterval)
	}
	if cfg.Refresh.RecentBlocks <= 0 || cfg.Refresh.RecentBlocks > 20 {
		return fmt.Errorf("refresh.recent_blocks must be in 1..20, got %d", cfg.Refresh.RecentBlocks)
	}
	if cfg.Refresh.StatsWindow < 2 {
		return fmt.Errorf("refresh.stats_window must be at least 2, got %d", cfg.Refresh.StatsWindow)
	}
	if cfg.Alerts.LogCapacity <= 0 {
		return fmt.Errorf("alerts.log_capacity must be positive, got %d", cfg.Alerts.LogCapacity)
	}
	if cfg.Node.RPCTimeout <= 0 {
		return fmt.Errorf("node.rpc_timeout must be positive, got %v", cfg.Node.RPCTimeout)
	}
	return nil
}
