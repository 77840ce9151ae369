package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/gateway"
	"github.com/user/folio/internal/selection"
)

type pageLoadedMsg struct {
	page          int
	runs          []selection.TextRun
	width, height float64
	err           error
}

type chatOpenedMsg struct {
	res gateway.OpenResult
}

type streamChunkMsg struct {
	content string
	ch      <-chan tea.Msg
}

type streamDoneMsg struct {
	reply chat.Message
	err   error
}

type progressMsg struct {
	stage chat.Stage
	ch    <-chan tea.Msg
}

type analysisDoneMsg struct {
	count int
	err   error
}

type endedMsg struct {
	err error
}

// waitFor delivers the next message from a background job.
func waitFor(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *model) loadPage(page int) tea.Cmd {
	src := m.cfg.Source
	if src == nil || m.width == 0 {
		return nil
	}
	ctx := m.ctx
	return func() tea.Msg {
		w, h, err := src.PageSize(page)
		if err != nil {
			return pageLoadedMsg{page: page, err: err}
		}
		runs, err := src.RunsForPage(ctx, page)
		return pageLoadedMsg{page: page, runs: runs, width: w, height: h, err: err}
	}
}

func (m *model) openChat() tea.Cmd {
	gw, ctx := m.cfg.Gateway, m.ctx
	return func() tea.Msg {
		return chatOpenedMsg{res: gw.Open(ctx, gateway.OpenRequest{})}
	}
}

// forward hands msg to the program unless it has quit and stopped
// reading ch.
func forward(ctx context.Context, ch chan<- tea.Msg, msg tea.Msg) {
	select {
	case ch <- msg:
	case <-ctx.Done():
	}
}

// send streams a reply in the background, forwarding each chunk to the
// program through ch.
func (m *model) send(text string) tea.Cmd {
	m.streaming = true
	m.errMsg = ""
	gw, ctx := m.cfg.Gateway, m.ctx
	ch := make(chan tea.Msg, 16)
	go func() {
		defer close(ch)
		reply, err := gw.Send(ctx, text, func(_, content string) {
			forward(ctx, ch, streamChunkMsg{content: content, ch: ch})
		})
		forward(ctx, ch, streamDoneMsg{reply: reply, err: err})
	}()
	return waitFor(ch)
}

func (m *model) analyze() tea.Cmd {
	if m.analyzing || m.view == nil || m.view.SessionID() == "" {
		return nil
	}
	m.analyzing = true
	m.errMsg = ""
	gw, ctx := m.cfg.Gateway, m.ctx
	ch := make(chan tea.Msg, 8)
	go func() {
		defer close(ch)
		n, err := gw.Analyze(ctx, func(st chat.Stage) {
			forward(ctx, ch, progressMsg{stage: st, ch: ch})
		})
		forward(ctx, ch, analysisDoneMsg{count: n, err: err})
	}()
	return waitFor(ch)
}

func (m *model) endSession() tea.Cmd {
	if m.view == nil || m.view.State() != chat.Active || m.view.SessionID() == "" {
		return nil
	}
	gw, ctx := m.cfg.Gateway, m.ctx
	return func() tea.Msg {
		return endedMsg{err: gw.End(ctx)}
	}
}
