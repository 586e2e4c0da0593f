// Package config holds the engine's configuration surface (spec.md §6).
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Timeouts holds the per-operation timeout budget.
type Timeouts struct {
	Navigate       time.Duration `yaml:"navigate"`
	WaitForElement time.Duration `yaml:"wait_for_element"`
	Planner        time.Duration `yaml:"planner"` // 0 = unbounded, per spec §5
}

// Config is the orchestrator's configuration struct (spec.md §6).
type Config struct {
	MaxRecoveryAttempts int      `yaml:"max_recovery_attempts"`
	MaxAutomationSteps  int      `yaml:"max_automation_steps"`
	MaxRecordingActions int      `yaml:"max_recording_actions"`
	ContextTargetTokens int      `yaml:"context_target_tokens"`
	RecentTurnsToKeep   int      `yaml:"recent_turns_to_keep"`
	PlannerModel        string   `yaml:"planner_model"`
	Timeouts            Timeouts `yaml:"timeouts"`

	// DataDir is where the session store and recording snapshots live.
	DataDir string `yaml:"data_dir"`

	// CDPURL, if set, attaches to an already-running browser instead of
	// launching a headless one through chromedp (see internal/bcs.New).
	CDPURL string `yaml:"cdp_url"`
}

// DefaultConfig returns the engine defaults named in spec.md §4.10/§6.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		MaxRecoveryAttempts: 10,
		MaxAutomationSteps:  50,
		MaxRecordingActions: 500,
		ContextTargetTokens: 140_000,
		RecentTurnsToKeep:   10,
		PlannerModel:        "claude-sonnet-4-5",
		Timeouts: Timeouts{
			Navigate:       30 * time.Second,
			WaitForElement: 10 * time.Second,
			Planner:        0,
		},
		DataDir: home + "/.wayfarer",
	}
}

// LoadFromBytes loads configuration from YAML bytes, expanding ${VAR}
// environment references, and applying defaults for unset fields.
func LoadFromBytes(data []byte) (Config, error) {
	c := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, err
	}
	return c, nil
}

// LoadFile loads configuration from a YAML file on disk. A missing file is
// not an error; DefaultConfig() is returned instead.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, err
	}
	return LoadFromBytes(data)
}

// LoadDotEnv best-effort loads a .env file (API keys, etc). Absence is not
// an error, matching the teacher's own godotenv usage.
func LoadDotEnv(path string) {
	_ = godotenv.Load(path)
}
