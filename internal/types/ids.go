// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type DocumentID string
type SessionID string
type MessageID string
type ContextID string
type SelectionID string
type ConceptID string
type RunID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewContextID() ContextID {
	return ContextID(uuid.New().String())
}

func NewSelectionID() SelectionID {
	return SelectionID(uuid.New().String())
}

func NewConceptID() ConceptID {
	return ConceptID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// ParseSessionID validates that s is a UUID before treating it as a session id.
func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return SessionID(id.String()), nil
}

// DocumentIDFor derives a stable document id from a location such as an
// absolute file path, so reopening the same file yields the same id.
func DocumentIDFor(location string) DocumentID {
	return DocumentID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(location)).String())
}
