// Package config loads the TOML configuration of the spawn command.
package config

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	spawn "github.com/jcbhmr/go-spawn"
)

// Config is the top-level configuration, persisted as TOML at
// DefaultConfigPath().
type Config struct {
	Log      LogConfig      `toml:"log"`
	Spawn    SpawnConfig    `toml:"spawn"`
	Defaults DefaultsConfig `toml:"defaults"`
}

// LogConfig controls the command's slog output.
type LogConfig struct {
	// Level is one of "debug", "info", "warn" or "error".
	Level string `toml:"level"`
}

// SpawnConfig maps onto spawn.Spawner.
type SpawnConfig struct {
	// Reap is "nonblocking" (the default) or "blocking". It only matters
	// for children that fail before exec.
	Reap string `toml:"reap"`

	// Path is searched by `spawn run --search` when the child's
	// environment has no PATH.
	Path string `toml:"path,omitempty"`
}

// DefaultsConfig holds attributes applied to every spawned process unless a
// flag overrides them.
type DefaultsConfig struct {
	// InheritEnv starts children with this process's environment.
	InheritEnv bool `toml:"inherit_env"`

	// Setsid puts every child in a new session.
	Setsid bool `toml:"setsid,omitempty"`

	// KeepSigmask passes the command's blocked signal set to children
	// instead of clearing it.
	KeepSigmask bool `toml:"keep_sigmask,omitempty"`

	// Dir is the working directory of children.
	Dir string `toml:"dir,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Log:   LogConfig{Level: "info"},
		Spawn: SpawnConfig{Reap: spawn.ReapNonBlocking.String()},
		Defaults: DefaultsConfig{
			InheritEnv: true,
		},
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/go-spawn/config.toml, falling
// back to ~/.config.
func DefaultConfigPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "determining home directory")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "go-spawn", "config.toml"), nil
}

// LoadConfig decodes the TOML file at path over DefaultConfig. A missing
// file returns an error wrapping fs.ErrNotExist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, "config file not found")
		}
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}
	return cfg, nil
}

// SaveConfig encodes cfg as TOML at path, creating parent directories.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating config directory %s", dir)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating config file %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return nil
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if _, err := spawn.ParseReapPolicy(c.Spawn.Reap); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level. An empty level is info.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	s := strings.TrimSpace(c.Log.Level)
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Wrapf(err, "log level %q", c.Log.Level)
	}
	return level, nil
}

// Spawner builds the spawn.Spawner described by c.
func (c *Config) Spawner(logger *slog.Logger) (*spawn.Spawner, error) {
	reap, err := spawn.ParseReapPolicy(c.Spawn.Reap)
	if err != nil {
		return nil, err
	}
	return &spawn.Spawner{
		Logger:      logger,
		Reap:        reap,
		DefaultPath: c.Spawn.Path,
	}, nil
}
