package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wayfarer-dev/wayfarer/internal/bcs"
	"github.com/wayfarer-dev/wayfarer/internal/config"
	"github.com/wayfarer-dev/wayfarer/internal/planner"
	"github.com/wayfarer-dev/wayfarer/internal/recordingstore"
	"github.com/wayfarer-dev/wayfarer/internal/store"
	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
)

// engineDeps bundles the long-lived dependencies every subcommand that
// touches the browser or persistence needs.
type engineDeps struct {
	surface    *bcs.Surface
	store      *store.Store
	recordings *recordingstore.Store
	registry   *toolregistry.Registry
	planner    planner.Planner
}

func openEngineDeps(cfg config.Config) (*engineDeps, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	surface, err := bcs.New(cfg.CDPURL)
	if err != nil {
		return nil, fmt.Errorf("start browser surface: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		surface.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	recordings, err := recordingstore.Open(filepath.Join(cfg.DataDir, "recordings"))
	if err != nil {
		st.Close()
		surface.Close()
		return nil, fmt.Errorf("open recording store: %w", err)
	}

	registry, err := toolregistry.New()
	if err != nil {
		st.Close()
		surface.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	pl := planner.NewAnthropicPlanner(apiKey, cfg.PlannerModel)

	return &engineDeps{
		surface:    surface,
		store:      st,
		recordings: recordings,
		registry:   registry,
		planner:    pl,
	}, nil
}

func (d *engineDeps) Close() {
	d.store.Close()
	d.surface.Close()
}
