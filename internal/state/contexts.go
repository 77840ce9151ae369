// internal/state/contexts.go
package state

import (
	"context"
	"path/filepath"

	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/types"
)

const contextsFile = "contexts.json"

func (s *FileStore) contextsPath(id types.SessionID) string {
	return filepath.Join(s.sessionDir(id), contextsFile)
}

func (s *FileStore) readContexts(id types.SessionID) ([]types.HighlightedContext, error) {
	var contexts []types.HighlightedContext
	if err := readJSON(s.contextsPath(id), &contexts); err != nil {
		return nil, err
	}
	return contexts, nil
}

// AddHighlightedContext appends a context and refreshes the session's
// distinct source-document count.
func (s *FileStore) AddHighlightedContext(_ context.Context, id types.SessionID, documentID types.DocumentID, documentTitle string, pageNumber int, selectedText string, rects []geom.Rect) (types.ContextID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hc := types.HighlightedContext{
		ID:              types.NewContextID(),
		SessionID:       id,
		DocumentID:      documentID,
		DocumentTitle:   documentTitle,
		PageNumber:      pageNumber,
		SelectedText:    selectedText,
		TextCoordinates: append([]geom.Rect(nil), rects...),
		CreatedAt:       s.now(),
	}

	err := s.mutate(id, func(sess *types.Session) error {
		if err := writable(sess); err != nil {
			return err
		}
		contexts, err := s.readContexts(id)
		if err != nil {
			return err
		}
		contexts = append(contexts, hc)
		if err := writeJSON(s.contextsPath(id), contexts); err != nil {
			return err
		}
		sess.SourceDocumentCount = distinctDocuments(contexts)
		return nil
	})
	if err != nil {
		return "", err
	}
	return hc.ID, nil
}

func distinctDocuments(contexts []types.HighlightedContext) int {
	seen := make(map[types.DocumentID]struct{}, len(contexts))
	for _, c := range contexts {
		seen[c.DocumentID] = struct{}{}
	}
	return len(seen)
}
