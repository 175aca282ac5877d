package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadEmptyPathReturnsValidatedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaultsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_sessions: 5\ndefault_strategy: Conservative\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxSessions)
	require.Equal(t, "Conservative", cfg.DefaultStrategy)
	require.Equal(t, Default().MaxBufferBytes, cfg.MaxBufferBytes)
}

func TestLoadRejectsInvalidStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_strategy: Reckless\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveBufferSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_buffer_bytes: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDurationAccessorsConvertUnits(t *testing.T) {
	cfg := Default()
	require.Equal(t, cfg.SessionTTLSeconds, int(cfg.SessionTTL().Seconds()))
	require.Equal(t, cfg.CoalesceWindowMs, int(cfg.CoalesceWindow().Milliseconds()))
	require.Equal(t, cfg.CallbackBudgetMs, int(cfg.CallbackBudget().Milliseconds()))
}
