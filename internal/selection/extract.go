package selection

import (
	"context"
	"strings"

	"github.com/user/folio/internal/geom"
)

// TextRun is one positioned span of text on a rendered page, in
// container-relative pixels.
type TextRun struct {
	Rect geom.Rect `json:"rect"`
	Text string    `json:"text"`
}

// RunProvider resolves the text runs of a page of the current document in
// reading order.
type RunProvider interface {
	RunsForPage(ctx context.Context, page int) ([]TextRun, error)
}

// RunProviderFunc adapts a function to RunProvider.
type RunProviderFunc func(ctx context.Context, page int) ([]TextRun, error)

func (f RunProviderFunc) RunsForPage(ctx context.Context, page int) ([]TextRun, error) {
	return f(ctx, page)
}

// Extract returns the text of every run overlapping sel, joined with single
// spaces in the order given. Runs are included whole: a run that overlaps
// by one pixel contributes all of its text.
func Extract(sel geom.Rect, runs []TextRun) string {
	var parts []string
	for _, run := range runs {
		if !run.Rect.Overlaps(sel) {
			continue
		}
		parts = append(parts, run.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
