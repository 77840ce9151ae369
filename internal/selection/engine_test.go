package selection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/types"
)

func staticRuns(runs ...TextRun) RunProvider {
	return RunProviderFunc(func(_ context.Context, _ int) ([]TextRun, error) {
		return runs, nil
	})
}

func drag(t *testing.T, e *Engine, from, to geom.Point) (*types.TextSelection, bool) {
	t.Helper()
	require.True(t, e.PointerDown(from))
	e.PointerMove(to)
	return e.PointerUp(context.Background(), to)
}

func TestPointerDownRequiresDocument(t *testing.T) {
	e := NewEngine(staticRuns(), nil)
	assert.False(t, e.PointerDown(geom.Point{X: 1, Y: 1}))
	assert.Equal(t, Idle, e.Phase())

	e.SetDocument("doc-1")
	e.SetEnabled(false)
	assert.False(t, e.PointerDown(geom.Point{X: 1, Y: 1}))

	e.SetEnabled(true)
	assert.True(t, e.PointerDown(geom.Point{X: 1, Y: 1}))
	assert.Equal(t, Selecting, e.Phase())
}

func TestPointerMovePublishesSingleNormalizedRect(t *testing.T) {
	e := NewEngine(staticRuns(), nil)
	e.SetDocument("doc-1")
	e.PointerDown(geom.Point{X: 100, Y: 80})
	e.PointerMove(geom.Point{X: 40, Y: 20})
	e.PointerMove(geom.Point{X: 20, Y: 40})

	assert.Equal(t, []geom.Rect{{X: 20, Y: 40, Width: 80, Height: 40}}, e.Rects())
}

func TestPointerMoveIgnoredWhenIdle(t *testing.T) {
	e := NewEngine(staticRuns(), nil)
	e.SetDocument("doc-1")
	e.PointerMove(geom.Point{X: 10, Y: 10})
	assert.Empty(t, e.Rects())
}

func TestNoOverlappingRunDiscardsSelection(t *testing.T) {
	called := 0
	e := NewEngine(staticRuns(TextRun{Rect: geom.Rect{X: 500, Y: 500, Width: 50, Height: 10}, Text: "far"}),
		func(types.TextSelection) { called++ })
	e.SetDocument("doc-1")

	sel, ok := drag(t, e, geom.Point{X: 0, Y: 0}, geom.Point{X: 100, Y: 100})
	assert.False(t, ok)
	assert.Nil(t, sel)
	assert.Empty(t, e.Rects())
	assert.Equal(t, Idle, e.Phase())
	assert.False(t, e.HasSelection())
	assert.Zero(t, called)
}

func TestProviderErrorTakesDiscardPath(t *testing.T) {
	failing := RunProviderFunc(func(context.Context, int) ([]TextRun, error) {
		return nil, errors.New("no text layer")
	})
	e := NewEngine(failing, nil)
	e.SetDocument("doc-1")

	_, ok := drag(t, e, geom.Point{X: 0, Y: 0}, geom.Point{X: 100, Y: 100})
	assert.False(t, ok)
	assert.Equal(t, Idle, e.Phase())
}

func TestSelectionCapturedAndCallbackFiresOnce(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var got []types.TextSelection
	e := NewEngine(staticRuns(
		TextRun{Rect: geom.Rect{X: 10, Y: 10, Width: 60, Height: 12}, Text: "Machine learning"},
		TextRun{Rect: geom.Rect{X: 75, Y: 10, Width: 40, Height: 12}, Text: "is a"},
		TextRun{Rect: geom.Rect{X: 10, Y: 200, Width: 40, Height: 12}, Text: "unrelated"},
	), func(s types.TextSelection) { got = append(got, s) }, WithClock(func() time.Time { return fixed }))
	e.SetDocument("doc-1")
	e.SetPage(3)

	sel, ok := drag(t, e, geom.Point{X: 120, Y: 30}, geom.Point{X: 5, Y: 5})
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, *sel, got[0])

	assert.Equal(t, "Machine learning is a", sel.SelectedText)
	assert.Equal(t, types.DocumentID("doc-1"), sel.DocumentID)
	assert.Equal(t, 3, sel.PageNumber)
	assert.Equal(t, geom.Point{X: 120, Y: 30}, sel.StartCoordinate)
	assert.Equal(t, geom.Point{X: 5, Y: 5}, sel.EndCoordinate)
	assert.Equal(t, []geom.Rect{{X: 5, Y: 5, Width: 115, Height: 25}}, sel.BoundingBoxes)
	assert.Equal(t, fixed, sel.CreatedAt)
	assert.NotEmpty(t, sel.ID)

	assert.Equal(t, Idle, e.Phase())
	assert.True(t, e.HasSelection())
	assert.Equal(t, sel.ID, e.Current().ID)

	// A stray release does not fire again.
	_, ok = e.PointerUp(context.Background(), geom.Point{X: 1, Y: 1})
	assert.False(t, ok)
	assert.Len(t, got, 1)
}

func TestPageChangeResetsState(t *testing.T) {
	e := NewEngine(staticRuns(TextRun{Rect: geom.Rect{X: 0, Y: 0, Width: 50, Height: 10}, Text: "hello"}), nil)
	e.SetDocument("doc-1")
	_, ok := drag(t, e, geom.Point{X: 0, Y: 0}, geom.Point{X: 20, Y: 20})
	require.True(t, ok)

	e.SetPage(2)
	assert.False(t, e.HasSelection())
	assert.Empty(t, e.Rects())

	e.PointerDown(geom.Point{X: 0, Y: 0})
	e.SetDocument("doc-2")
	assert.Equal(t, Idle, e.Phase())
}

func TestClear(t *testing.T) {
	e := NewEngine(staticRuns(TextRun{Rect: geom.Rect{X: 0, Y: 0, Width: 50, Height: 10}, Text: "hello"}), nil)
	e.SetDocument("doc-1")
	_, ok := drag(t, e, geom.Point{X: 0, Y: 0}, geom.Point{X: 20, Y: 20})
	require.True(t, ok)

	e.Clear()
	assert.Nil(t, e.Current())
	assert.Empty(t, e.Rects())
	assert.Equal(t, CursorDefault, e.Frame().Cursor)
}
