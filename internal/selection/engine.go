// Package selection turns pointer drags over a rendered page into text
// selections.
package selection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/types"
)

type Phase int

const (
	Idle Phase = iota
	Selecting
)

func (p Phase) String() string {
	if p == Selecting {
		return "selecting"
	}
	return "idle"
}

// Engine is the capture state machine for one rendered page view. It is
// safe for concurrent use; the selected callback runs without the engine
// lock held.
type Engine struct {
	provider   RunProvider
	onSelected func(types.TextSelection)
	logger     *zap.Logger
	now        func() time.Time

	mu         sync.Mutex
	documentID types.DocumentID
	page       int
	enabled    bool
	phase      Phase
	anchor     geom.Point
	rects      []geom.Rect
	current    *types.TextSelection
}

// EngineOption configures optional behavior on an Engine.
type EngineOption func(*Engine)

func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the timestamp source for produced selections.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an enabled engine with no document loaded. onSelected
// may be nil.
func NewEngine(provider RunProvider, onSelected func(types.TextSelection), opts ...EngineOption) *Engine {
	e := &Engine{
		provider:   provider,
		onSelected: onSelected,
		logger:     zap.NewNop(),
		now:        time.Now,
		enabled:    true,
		page:       1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetDocument switches the loaded document and drops any gesture or selection.
func (e *Engine) SetDocument(id types.DocumentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id != e.documentID {
		e.documentID = id
		e.reset()
	}
}

// SetPage switches the current 1-based page and drops any gesture or selection.
func (e *Engine) SetPage(page int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if page != e.page {
		e.page = page
		e.reset()
	}
}

func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

func (e *Engine) DocumentID() types.DocumentID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.documentID
}

func (e *Engine) Page() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page
}

// PointerDown starts a gesture at p. It reports false when no document is
// loaded or capture is disabled.
func (e *Engine) PointerDown(p geom.Point) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.documentID == "" || !e.enabled {
		return false
	}
	e.phase = Selecting
	e.anchor = p
	e.rects = nil
	return true
}

// PointerMove updates the live rectangle while a gesture is in progress.
func (e *Engine) PointerMove(p geom.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != Selecting {
		return
	}
	e.rects = []geom.Rect{geom.FromCorners(e.anchor, p)}
}

// PointerUp completes the gesture at p. When the dragged rectangle covers
// no text, the gesture is discarded and ok is false. Otherwise the new
// selection becomes current and the selected callback fires once.
func (e *Engine) PointerUp(ctx context.Context, p geom.Point) (*types.TextSelection, bool) {
	e.mu.Lock()
	if e.phase != Selecting {
		e.mu.Unlock()
		return nil, false
	}
	anchor := e.anchor
	docID := e.documentID
	page := e.page
	bounds := geom.FromCorners(anchor, p)
	e.mu.Unlock()

	text := e.extract(ctx, page, bounds)

	e.mu.Lock()
	// The page or document changed while runs were being resolved.
	if e.phase != Selecting || e.documentID != docID || e.page != page || e.anchor != anchor {
		e.mu.Unlock()
		return nil, false
	}
	e.phase = Idle
	if text == "" {
		e.rects = nil
		e.mu.Unlock()
		e.logger.Debug("selection discarded", zap.Int("page", page))
		return nil, false
	}
	sel := types.TextSelection{
		ID:              types.NewSelectionID(),
		DocumentID:      docID,
		PageNumber:      page,
		SelectedText:    text,
		StartCoordinate: anchor,
		EndCoordinate:   p,
		BoundingBoxes:   append([]geom.Rect(nil), e.rects...),
		CreatedAt:       e.now(),
	}
	e.current = &sel
	e.mu.Unlock()

	e.logger.Debug("selection captured",
		zap.String("selection_id", string(sel.ID)),
		zap.Int("page", page),
		zap.Int("chars", len(text)),
	)
	if e.onSelected != nil {
		e.onSelected(sel)
	}
	out := sel
	return &out, true
}

func (e *Engine) extract(ctx context.Context, page int, bounds geom.Rect) string {
	if e.provider == nil {
		return ""
	}
	runs, err := e.provider.RunsForPage(ctx, page)
	if err != nil {
		e.logger.Warn("resolve text runs", zap.Int("page", page), zap.Error(err))
		return ""
	}
	return Extract(bounds, runs)
}

// Clear drops the current selection, rectangles and any gesture in progress.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

func (e *Engine) reset() {
	e.phase = Idle
	e.rects = nil
	e.current = nil
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Rects returns a copy of the highlighted rectangles.
func (e *Engine) Rects() []geom.Rect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]geom.Rect(nil), e.rects...)
}

// Current returns the last completed selection, or nil.
func (e *Engine) Current() *types.TextSelection {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	sel := *e.current
	return &sel
}

func (e *Engine) HasSelection() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Frame renders the engine's current state through Overlay.
func (e *Engine) Frame() OverlayFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Overlay(e.rects, e.phase == Selecting, e.current != nil)
}
