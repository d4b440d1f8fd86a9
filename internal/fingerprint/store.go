// Package fingerprint tracks the content hash of every ingested document so
// that ingestion runs can tell new, modified, unchanged and deleted documents
// apart.
package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/pkg/logger"
	"github.com/onboarding-agent/backend/pkg/utils"
)

var ErrCorruptState = errors.New("fingerprint state is corrupt")

// CalculateHash returns the hex MD5 digest of content.
func CalculateHash(content []byte) string {
	return utils.HashBytes(content)
}

func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return CalculateHash(data), nil
}

// Store persists the document_id -> content_hash mapping as a JSON file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted mapping, or an empty mapping when nothing has
// been saved yet.
func (s *Store) Load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprint state: %w", err)
	}

	state := map[string]string{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	for id, hash := range state {
		if hash == "" {
			return nil, fmt.Errorf("%w: empty hash for %q", ErrCorruptState, id)
		}
	}
	return state, nil
}

// Save replaces the persisted mapping. The new state is written to a temp file
// in the same directory and renamed into place, so a crash leaves either the
// old or the new file intact.
func (s *Store) Save(state map[string]string) error {
	if state == nil {
		state = map[string]string{}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".fingerprints-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	logger.Debug("Fingerprint state saved", zap.String("path", s.path), zap.Int("documents", len(state)))
	return nil
}

// Changes classifies document ids between two scans. Every slice is sorted.
type Changes struct {
	Unchanged []string
	New       []string
	Modified  []string
	Deleted   []string
}

// HasChanges reports whether reconciling would touch the index.
func (c Changes) HasChanges() bool {
	return len(c.New) > 0 || len(c.Modified) > 0 || len(c.Deleted) > 0
}

// Diff compares the previous mapping with the current scan. Any hash mismatch
// counts as a modification.
func Diff(previous, current map[string]string) Changes {
	var changes Changes

	for id, hash := range current {
		oldHash, known := previous[id]
		switch {
		case !known:
			changes.New = append(changes.New, id)
		case oldHash != hash:
			changes.Modified = append(changes.Modified, id)
		default:
			changes.Unchanged = append(changes.Unchanged, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			changes.Deleted = append(changes.Deleted, id)
		}
	}

	sort.Strings(changes.Unchanged)
	sort.Strings(changes.New)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Deleted)
	return changes
}
