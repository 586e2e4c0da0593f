package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_SetsSpecDefaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 10, c.MaxRecoveryAttempts)
	assert.Equal(t, 50, c.MaxAutomationSteps)
	assert.Equal(t, 500, c.MaxRecordingActions)
	assert.Equal(t, 140_000, c.ContextTargetTokens)
	assert.Equal(t, 10, c.RecentTurnsToKeep)
	assert.Equal(t, 30*time.Second, c.Timeouts.Navigate)
	assert.Equal(t, time.Duration(0), c.Timeouts.Planner)
}

func TestLoadFromBytes_OverridesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("WAYFARER_TEST_MODEL", "claude-test-model")
	yamlDoc := []byte(`
planner_model: ${WAYFARER_TEST_MODEL}
max_automation_steps: 25
`)

	c, err := LoadFromBytes(yamlDoc)
	require.NoError(t, err)
	assert.Equal(t, "claude-test-model", c.PlannerModel)
	assert.Equal(t, 25, c.MaxAutomationSteps)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10, c.MaxRecoveryAttempts)
}

func TestLoadFile_MissingFileReturnsDefaults(t *testing.T) {
	c, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestLoadFile_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /tmp/wayfarer-test\n"), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/wayfarer-test", c.DataDir)
}
