// internal/state/concept.go
package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/user/folio/internal/types"
)

func (s *FileStore) conceptsPath(id types.SessionID) string {
	return filepath.Join(s.sessionDir(id), "concepts.json")
}

// SaveConcepts appends concepts extracted from a session. Missing ids,
// session ids and timestamps are filled in.
func (s *FileStore) SaveConcepts(_ context.Context, id types.SessionID, concepts []types.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if find(index, id) == nil {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}

	var existing []types.Concept
	if err := readJSON(s.conceptsPath(id), &existing); err != nil {
		return err
	}
	now := s.now()
	for _, c := range concepts {
		existing = append(existing, fillConcept(c, id, now))
	}
	return writeJSON(s.conceptsPath(id), existing)
}

// ListConcepts gathers concepts across all sessions, oldest first.
func (s *FileStore) ListConcepts(_ context.Context) ([]types.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := filepath.Join(s.sessionsDir(), "*", "concepts.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob concepts: %w", err)
	}

	var all []types.Concept
	for _, path := range matches {
		var concepts []types.Concept
		if err := readJSON(path, &concepts); err != nil {
			return nil, err
		}
		all = append(all, concepts...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}
