// internal/types/interfaces.go
package types

import (
	"context"

	"github.com/user/folio/internal/geom"
)

// SessionStore is the system of record for chat sessions. At most one
// session is active at a time; callers re-read GetActive instead of caching.
type SessionStore interface {
	// GetActive returns the globally active session, or nil when none is active.
	GetActive(ctx context.Context) (*Session, error)
	// Create stores a new session and makes it the active one.
	Create(ctx context.Context, title string) (SessionID, error)
	SetActive(ctx context.Context, id SessionID) error
	End(ctx context.Context, id SessionID) error
	// Get returns the session with its messages and contexts, or ErrNotFound.
	Get(ctx context.Context, id SessionID) (*Session, error)
	Delete(ctx context.Context, id SessionID) error
	// List returns ended, inactive sessions, most recently updated first,
	// without messages or contexts.
	List(ctx context.Context) ([]*Session, error)
	Clear(ctx context.Context, id SessionID) error
	UpdateTitle(ctx context.Context, id SessionID, title string) error
	AddHighlightedContext(ctx context.Context, id SessionID, documentID DocumentID, documentTitle string, pageNumber int, selectedText string, rects []geom.Rect) (ContextID, error)
	AddMessage(ctx context.Context, id SessionID, content string, sender SenderType) (MessageID, error)
	SetAnalysisStatus(ctx context.Context, id SessionID, status AnalysisStatus) error
}

type ConceptStore interface {
	SaveConcepts(ctx context.Context, sessionID SessionID, concepts []Concept) error
	ListConcepts(ctx context.Context) ([]Concept, error)
}

// Store bundles both boundaries with a lifecycle.
type Store interface {
	SessionStore
	ConceptStore
	Close() error
}
