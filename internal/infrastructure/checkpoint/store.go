// Package checkpoint persists engine snapshots as JSON files keyed by
// the episode counter. Writes are temp-then-rename so a crash mid-save
// never leaves a half-written checkpoint behind.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	domainPolicy "github.com/xxzhixng/Carla-ppo/internal/domain/policy"
)

const (
	filePrefix = "checkpoint_ep"
	fileSuffix = ".json"
)

// Store reads and writes checkpoints under one directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created by
// the engine at construction.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// fileName returns the checkpoint file name for an episode index.
func fileName(episode int64) string {
	return fmt.Sprintf("%s%09d%s", filePrefix, episode, fileSuffix)
}

// Save writes a checkpoint atomically and returns its path. A
// checkpoint for the same episode is overwritten.
func (s *Store) Save(cp *domainPolicy.Checkpoint) (string, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := filepath.Join(s.dir, fileName(cp.Episode))
	tmp, err := os.CreateTemp(s.dir, filePrefix+"*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	return path, nil
}

// List returns the available checkpoint file names sorted by episode.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	names := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadLatest finds the checkpoint with the highest episode index and
// parses it. The status distinguishes "nothing saved yet" from "file
// exists but cannot be restored"; the accompanying error carries the
// parse detail for the corrupt case.
func (s *Store) LoadLatest() (*domainPolicy.Checkpoint, domainPolicy.RestoreStatus, error) {
	names, err := s.List()
	if err != nil {
		return nil, domainPolicy.RestoreCorrupt, fmt.Errorf("%w: %v", domainPolicy.ErrCheckpointCorrupt, err)
	}
	if len(names) == 0 {
		return nil, domainPolicy.RestoreNotFound, nil
	}

	// Names embed a fixed-width episode index, so the lexicographic max
	// is the latest episode.
	latest := names[len(names)-1]
	if _, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(latest, filePrefix), fileSuffix), 10, 64); err != nil {
		return nil, domainPolicy.RestoreCorrupt, fmt.Errorf("%w: malformed checkpoint name %s", domainPolicy.ErrCheckpointCorrupt, latest)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, latest))
	if err != nil {
		return nil, domainPolicy.RestoreCorrupt, fmt.Errorf("%w: %v", domainPolicy.ErrCheckpointCorrupt, err)
	}

	var cp domainPolicy.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, domainPolicy.RestoreCorrupt, fmt.Errorf("%w: %v", domainPolicy.ErrCheckpointCorrupt, err)
	}

	return &cp, domainPolicy.Restored, nil
}
