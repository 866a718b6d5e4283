package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLoadDefaults tests that an empty path yields the defaults.
func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

// TestLoadMergesOverDefaults tests that file values override defaults
// while unset keys keep their default values.
func TestLoadMergesOverDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trouped.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
subsystem_levels:
  ACTR: trace
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "trace", cfg.SubsystemLevels["ACTR"])
	require.Equal(t, Default().ListenAddr, cfg.ListenAddr,
		"unset keys keep defaults")
}

// TestLoadRejectsBadLevel tests that validation rejects unparseable log
// levels.
func TestLoadRejectsBadLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trouped.yaml")
	require.NoError(t, os.WriteFile(
		path, []byte("log_level: shout\n"), 0o644,
	))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "log_level")
}

// TestLoadMissingFile tests that a nonexistent path is reported.
func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
