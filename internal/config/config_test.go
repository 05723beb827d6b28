package config

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spawn "github.com/jcbhmr/go-spawn"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "nonblocking", cfg.Spawn.Reap)
	assert.True(t, cfg.Defaults.InheritEnv)
	assert.False(t, cfg.Defaults.Setsid)
}

func TestSaveLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Log.Level = "debug"
	cfg.Spawn.Reap = "blocking"
	cfg.Spawn.Path = "/opt/bin:/usr/bin"
	cfg.Defaults.Setsid = true
	cfg.Defaults.Dir = "/srv"

	require.NoError(t, SaveConfig(path, cfg))
	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[spawn]\nreap = \"blocking\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "blocking", cfg.Spawn.Reap)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Defaults.InheritEnv)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	tests := map[string]string{
		"syntax":    "[spawn\n",
		"reap":      "[spawn]\nreap = \"sometimes\"\n",
		"log level": "[log]\nlevel = \"loud\"\n",
	}
	for name, body := range tests {
		path := filepath.Join(dir, name+".toml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := LoadConfig(path)
		assert.Error(t, err, name)
		assert.NotErrorIs(t, err, fs.ErrNotExist, name)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/go-spawn/config.toml", path)

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/someone")
	path, err = DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/home/someone/.config/go-spawn/config.toml", path)
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"":       slog.LevelInfo,
		"debug":  slog.LevelDebug,
		" warn ": slog.LevelWarn,
		"ERROR":  slog.LevelError,
	} {
		cfg := &Config{Log: LogConfig{Level: in}}
		got, err := cfg.LogLevel()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestConfigSpawner(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Spawn.Reap = "blocking"
	cfg.Spawn.Path = "/opt/bin"
	logger := slog.New(slog.DiscardHandler)

	sp, err := cfg.Spawner(logger)
	require.NoError(t, err)
	assert.Equal(t, spawn.ReapBlocking, sp.Reap)
	assert.Equal(t, "/opt/bin", sp.DefaultPath)
	assert.Same(t, logger, sp.Logger)

	cfg.Spawn.Reap = "bogus"
	_, err = cfg.Spawner(logger)
	assert.Error(t, err)
}
