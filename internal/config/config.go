// Package config loads lockbox settings with viper.
//
// Precedence, lowest first: built-in defaults, the YAML config file
// (<dir>/config.yaml or --config), LOCKBOX_* environment variables, and
// command-line flags bound by the CLI.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illarion/lockbox/internal/crypto"
	"github.com/illarion/lockbox/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	// Directory holding the key, vault and index
	Dir string `mapstructure:"dir"`

	// File-cipher passphrase. Empty means keyring or prompt.
	Passphrase string `mapstructure:"passphrase"`

	Log    LogConfig    `mapstructure:"log"`
	Cipher CipherConfig `mapstructure:"cipher"`

	// How long to wait for another instance to release the index
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// CipherConfig holds the parameters for newly sealed files.
type CipherConfig struct {
	Time      uint32 `mapstructure:"time"`
	Memory    uint32 `mapstructure:"memory"` // KiB
	Threads   uint8  `mapstructure:"threads"`
	ChunkSize uint32 `mapstructure:"chunk_size"`
}

// Params converts to container parameters.
func (c CipherConfig) Params() crypto.Params {
	return crypto.Params{
		Time:      c.Time,
		Memory:    c.Memory,
		Threads:   c.Threads,
		ChunkSize: c.ChunkSize,
	}
}

// String hides the passphrase when the config is printed.
func (c Config) String() string {
	pass := ""
	if c.Passphrase != "" {
		pass = "[redacted]"
	}
	return fmt.Sprintf("Config{Dir:%s Passphrase:%s Log:%+v Cipher:%+v LockTimeout:%s}",
		c.Dir, pass, c.Log, c.Cipher, c.LockTimeout)
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("dir is required")
	}

	if c.LockTimeout <= 0 {
		return errors.New("lock_timeout must be positive")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if err := c.Cipher.Params().Validate(); err != nil {
		return fmt.Errorf("cipher: %w", err)
	}

	return nil
}
