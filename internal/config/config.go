// Package config loads cortex-brain settings from ~/.cortex/config.yaml with
// CORTEX_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete cortex-brain configuration.
type Config struct {
	Home    string        `mapstructure:"home" yaml:"home"`
	Brain   BrainConfig   `mapstructure:"brain" yaml:"brain"`
	Lock    LockConfig    `mapstructure:"lock" yaml:"lock"`
	KDF     KDFConfig     `mapstructure:"kdf" yaml:"kdf"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// BrainConfig holds defaults applied to brain commands.
type BrainConfig struct {
	// SecretEnv names the env var holding the passphrase for new brains.
	SecretEnv     string `mapstructure:"secret_env" yaml:"secret_env"`
	DefaultTenant string `mapstructure:"default_tenant" yaml:"default_tenant"`
	Actor         string `mapstructure:"actor" yaml:"actor"`
}

// LockConfig controls what happens when a brain is already open elsewhere.
type LockConfig struct {
	Policy  string `mapstructure:"policy" yaml:"policy"`
	Timeout string `mapstructure:"timeout" yaml:"timeout"`
}

// KDFConfig holds Argon2id parameters used when creating brains.
type KDFConfig struct {
	Time      uint32 `mapstructure:"time" yaml:"time"`
	MemoryKiB uint32 `mapstructure:"memory_kib" yaml:"memory_kib"`
	Threads   uint8  `mapstructure:"threads" yaml:"threads"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Home: "~/.cortex",
		Brain: BrainConfig{
			SecretEnv:     "CORTEX_BRAIN_SECRET",
			DefaultTenant: "local",
			Actor:         "cli",
		},
		Lock: LockConfig{
			Policy:  "fail_fast",
			Timeout: "30s",
		},
		KDF: KDFConfig{
			Time:      3,
			MemoryKiB: 64 * 1024,
			Threads:   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns ~/.cortex/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cortex", "config.yaml"), nil
}

// Load reads the default config file.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads path, writing the defaults there first if it does not
// exist. Environment variables such as CORTEX_HOME or CORTEX_LOCK_POLICY
// override file values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CORTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Home = expandPath(cfg.Home)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("home", d.Home)
	v.SetDefault("brain.secret_env", d.Brain.SecretEnv)
	v.SetDefault("brain.default_tenant", d.Brain.DefaultTenant)
	v.SetDefault("brain.actor", d.Brain.Actor)
	v.SetDefault("lock.policy", d.Lock.Policy)
	v.SetDefault("lock.timeout", d.Lock.Timeout)
	v.SetDefault("kdf.time", d.KDF.Time)
	v.SetDefault("kdf.memory_kib", d.KDF.MemoryKiB)
	v.SetDefault("kdf.threads", d.KDF.Threads)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// SaveToPath writes c as YAML.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// LockTimeout parses Lock.Timeout. Empty means no timeout.
func (c *Config) LockTimeout() (time.Duration, error) {
	if c.Lock.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Lock.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid lock.timeout '%s': %w", c.Lock.Timeout, err)
	}
	return d, nil
}

// Validate rejects values the brain store cannot use.
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home cannot be empty")
	}
	if c.Brain.SecretEnv == "" {
		return fmt.Errorf("brain.secret_env cannot be empty")
	}

	if c.Lock.Policy != "fail_fast" && c.Lock.Policy != "block" {
		return fmt.Errorf("invalid lock.policy '%s', must be 'fail_fast' or 'block'", c.Lock.Policy)
	}
	if d, err := c.LockTimeout(); err != nil {
		return err
	} else if d < 0 {
		return fmt.Errorf("lock.timeout cannot be negative")
	}

	if c.KDF.Time < 1 {
		return fmt.Errorf("kdf.time must be at least 1")
	}
	if c.KDF.MemoryKiB < 8*1024 {
		return fmt.Errorf("kdf.memory_kib must be at least 8192")
	}
	if c.KDF.Threads < 1 {
		return fmt.Errorf("kdf.threads must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging.format '%s', must be 'text' or 'json'", c.Logging.Format)
	}
	return nil
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
