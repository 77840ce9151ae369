// internal/types/models.go
package types

import (
	"time"

	"github.com/user/folio/internal/geom"
)

type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderAssistant SenderType = "assistant"
	SenderSystem    SenderType = "system"
)

type AnalysisStatus string

const (
	AnalysisNone       AnalysisStatus = "none"
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisComplete   AnalysisStatus = "complete"
	AnalysisFailed     AnalysisStatus = "failed"
)

// Document identifies a loaded document. Title is denormalized onto every
// context promoted from it.
type Document struct {
	ID        DocumentID `json:"id"`
	Title     string     `json:"title"`
	Path      string     `json:"path,omitempty"`
	PageCount int        `json:"page_count,omitempty"`
}

// TextSelection is one completed drag-selection on a single page.
// StartCoordinate and EndCoordinate are the raw drag endpoints and are not
// normalized.
type TextSelection struct {
	ID              SelectionID `json:"id"`
	DocumentID      DocumentID  `json:"document_id"`
	PageNumber      int         `json:"page_number"`
	SelectedText    string      `json:"selected_text"`
	StartCoordinate geom.Point  `json:"start_coordinate"`
	EndCoordinate   geom.Point  `json:"end_coordinate"`
	BoundingBoxes   []geom.Rect `json:"bounding_boxes"`
	CreatedAt       time.Time   `json:"created_at"`
}

// HighlightedContext is a selection promoted into a conversation. Contexts
// are append-only: a correction is a new context.
type HighlightedContext struct {
	ID              ContextID   `json:"id"`
	SessionID       SessionID   `json:"session_id,omitempty"`
	DocumentID      DocumentID  `json:"document_id"`
	DocumentTitle   string      `json:"document_title"`
	PageNumber      int         `json:"page_number"`
	SelectedText    string      `json:"selected_text"`
	TextCoordinates []geom.Rect `json:"text_coordinates"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NewHighlightedContext maps a selection into a context with a fresh id.
func NewHighlightedContext(sel TextSelection, documentTitle string) HighlightedContext {
	return HighlightedContext{
		ID:              NewContextID(),
		DocumentID:      sel.DocumentID,
		DocumentTitle:   documentTitle,
		PageNumber:      sel.PageNumber,
		SelectedText:    sel.SelectedText,
		TextCoordinates: append([]geom.Rect(nil), sel.BoundingBoxes...),
		CreatedAt:       time.Now(),
	}
}

// SameSource reports whether the context was captured from the same
// (text, page, document) triple as sel.
func (c HighlightedContext) SameSource(sel TextSelection) bool {
	return c.SelectedText == sel.SelectedText &&
		c.PageNumber == sel.PageNumber &&
		c.DocumentID == sel.DocumentID
}

// StoredMessage is a chat message as persisted by a SessionStore.
type StoredMessage struct {
	ID        MessageID  `json:"id"`
	SessionID SessionID  `json:"session_id"`
	Content   string     `json:"content"`
	Sender    SenderType `json:"sender_type"`
	CreatedAt time.Time  `json:"created_at"`
}

type Session struct {
	ID                  SessionID            `json:"id"`
	Title               string               `json:"title"`
	PreviewText         string               `json:"preview_text,omitempty"`
	SourceDocumentCount int                  `json:"source_document_count"`
	AnalysisStatus      AnalysisStatus       `json:"analysis_status"`
	Active              bool                 `json:"is_active"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
	Messages            []StoredMessage      `json:"messages,omitempty"`
	Contexts            []HighlightedContext `json:"highlighted_contexts,omitempty"`
}

// Ended reports whether the session has gone through the one-way end transition.
func (s *Session) Ended() bool {
	return s.CompletedAt != nil
}

type Concept struct {
	ID          ConceptID `json:"id"`
	SessionID   SessionID `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence_score"`
	CreatedAt   time.Time `json:"created_at"`
}

// AnalysisResult is the outcome reported by the concept-extraction boundary.
type AnalysisResult struct {
	Success           bool   `json:"success"`
	ConceptsExtracted int    `json:"concepts_extracted,omitempty"`
	Error             string `json:"error,omitempty"`
}
