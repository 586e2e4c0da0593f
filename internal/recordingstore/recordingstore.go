// Package recordingstore persists RecordingSession snapshots as flat JSON
// files under the engine's data directory, the way config.LoadFile reads a
// single YAML document rather than going through the session SQLite store
// (recordings are write-once reference artifacts, not mutated session
// state — see DESIGN.md).
package recordingstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// Store reads and writes recording snapshots under dir.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("recordingstore: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes session to disk under its own ID, overwriting any existing
// snapshot with the same ID.
func (s *Store) Save(session types.RecordingSession) error {
	if session.ID == "" {
		return fmt.Errorf("recordingstore: session has no ID")
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("recordingstore: marshal: %w", err)
	}
	return os.WriteFile(s.path(session.ID), data, 0644)
}

// Load reads the recording snapshot identified by id.
func (s *Store) Load(id string) (*types.RecordingSession, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("recordingstore: read %s: %w", id, err)
	}
	var session types.RecordingSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("recordingstore: unmarshal %s: %w", id, err)
	}
	return &session, nil
}

// List returns the IDs of every recording snapshot on disk, most recently
// written first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("recordingstore: read dir: %w", err)
	}
	type stamped struct {
		id      string
		modTime int64
	}
	var stampedIDs []stamped
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stampedIDs = append(stampedIDs, stamped{
			id:      strings.TrimSuffix(e.Name(), ".json"),
			modTime: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(stampedIDs, func(i, j int) bool { return stampedIDs[i].modTime > stampedIDs[j].modTime })
	ids := make([]string, len(stampedIDs))
	for i, s := range stampedIDs {
		ids[i] = s.id
	}
	return ids, nil
}

// Delete removes the recording snapshot identified by id.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("recordingstore: delete %s: %w", id, err)
	}
	return nil
}
