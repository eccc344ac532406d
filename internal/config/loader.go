package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/illarion/lockbox/internal/appdir"
	"github.com/illarion/lockbox/internal/crypto"
)

const (
	EnvPrefix = "LOCKBOX"
	FileName  = "config.yaml"

	// KeyConfigFile names an explicit config file, normally bound to --config.
	KeyConfigFile = "config"
)

// NewViper returns a viper instance with defaults and environment binding
// in place. Callers may bind flags before passing it to Load.
func NewViper() *viper.Viper {
	v := viper.New()

	dir, err := appdir.DefaultPath()
	if err != nil {
		dir = ""
	}
	p := crypto.DefaultParams()

	v.SetDefault("dir", dir)
	v.SetDefault("passphrase", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("cipher.time", p.Time)
	v.SetDefault("cipher.memory", p.Memory)
	v.SetDefault("cipher.threads", p.Threads)
	v.SetDefault("cipher.chunk_size", p.ChunkSize)
	v.SetDefault("lock_timeout", 2*time.Second)
	v.SetDefault(KeyConfigFile, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional config file and decodes the merged settings.
// An explicitly named config file must exist; the default one is optional.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	} else if dir := v.GetString("dir"); dir != "" {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Dir != "" {
		abs, err := filepath.Abs(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("resolve dir: %w", err)
		}
		cfg.Dir = abs
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
