// Package tui is the terminal reader: a PDF page laid out as text on the
// left, selected by dragging with the mouse, and the chat pane on the right.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/gateway"
	"github.com/user/folio/internal/selection"
	"github.com/user/folio/internal/types"
)

// Source provides page geometry and text runs for the open document.
type Source interface {
	selection.RunProvider
	NumPages() int
	PageSize(page int) (width, height float64, err error)
}

// Config wires runtime options into the TUI program.
type Config struct {
	Gateway  *gateway.Gateway
	Document types.Document
	Source   Source
	Logger   *zap.Logger
	// Context bounds background sends and analyses.
	Context context.Context
}

type focus int

const (
	focusPage focus = iota
	focusInput
)

const (
	headerRows    = 1
	footerRows    = 2
	minPageCols   = 20
	minChatWidth  = 30
	pageWidthPart = 0.55
)

type model struct {
	cfg    Config
	ctx    context.Context
	engine *selection.Engine

	width, height int
	page          int
	grid          Grid
	lines         [][]rune
	pageTop       int
	pageErr       error
	pressCell     [2]int

	input    textinput.Model
	viewport viewport.Model
	focus    focus

	view      *chat.Session
	status    string
	errMsg    string
	streaming bool
	analyzing bool
	stage     *chat.Stage
}

// New returns a tea.Model ready to be mounted into a Program.
func New(cfg Config) tea.Model {
	return newModel(cfg)
}

func newModel(cfg Config) *model {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	input := textinput.New()
	input.Placeholder = "Ask about the selected text…"
	input.CharLimit = 2000
	input.Prompt = "› "

	vp := viewport.New(minChatWidth, 10)
	vp.MouseWheelEnabled = true

	m := &model{
		cfg:      cfg,
		ctx:      ctx,
		page:     1,
		input:    input,
		viewport: vp,
		status:   "Drag over the page to select text.",
	}
	m.engine = selection.NewEngine(cfg.Source, m.onSelected, selection.WithLogger(cfg.Logger))
	m.engine.SetDocument(cfg.Document.ID)
	return m
}

func (m *model) onSelected(sel types.TextSelection) {
	m.cfg.Gateway.SetPendingSelection(sel, m.cfg.Document)
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.loadPage(m.page), m.openChat())
}

func (m *model) pageCols() int {
	cols := int(float64(m.width) * pageWidthPart)
	if m.width-cols < minChatWidth {
		cols = m.width - minChatWidth
	}
	if cols < minPageCols {
		cols = minPageCols
	}
	return cols
}

func (m *model) bodyRows() int {
	rows := m.height - headerRows - footerRows
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (m *model) chatWidth() int {
	w := m.width - m.pageCols() - 1
	if w < minChatWidth {
		w = minChatWidth
	}
	return w
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, m.loadPage(m.page)

	case pageLoadedMsg:
		return m, m.handlePageLoaded(msg)

	case chatOpenedMsg:
		m.handleChatOpened(msg)
		return m, nil

	case streamChunkMsg:
		m.refreshTranscript()
		return m, waitFor(msg.ch)

	case streamDoneMsg:
		m.streaming = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		} else {
			m.errMsg = ""
		}
		m.refreshTranscript()
		return m, nil

	case progressMsg:
		stage := msg.stage
		m.stage = &stage
		m.status = fmt.Sprintf("Analyzing: %s (%d%%)", stage.Name, stage.Progress)
		return m, waitFor(msg.ch)

	case analysisDoneMsg:
		m.analyzing = false
		m.stage = nil
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			m.status = "Analysis failed."
		} else {
			m.errMsg = ""
			m.status = fmt.Sprintf("Extracted %d concepts from this conversation.", msg.count)
		}
		return m, nil

	case endedMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		} else {
			m.status = "Session ended. Press a to analyze it."
			m.input.Blur()
			m.focus = focusPage
		}
		m.refreshTranscript()
		return m, nil

	case tea.MouseMsg:
		return m, m.handleMouse(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *model) resize() {
	m.viewport.Width = m.chatWidth()
	m.viewport.Height = m.bodyRows() - 1
	if m.viewport.Height < 1 {
		m.viewport.Height = 1
	}
	m.input.Width = m.chatWidth() - 4
	m.refreshTranscript()
}

func (m *model) handlePageLoaded(msg pageLoadedMsg) tea.Cmd {
	if msg.page != m.page {
		return nil
	}
	if msg.err != nil {
		m.pageErr = msg.err
		m.lines = nil
		return nil
	}
	m.pageErr = nil
	m.grid = NewGrid(msg.width, msg.height, m.pageCols())
	m.lines = m.grid.Render(msg.runs)
	m.pageTop = clamp(m.pageTop, 0, max(0, m.grid.Rows-m.bodyRows()))
	return nil
}

func (m *model) handleChatOpened(msg chatOpenedMsg) {
	m.view = msg.res.View
	if msg.res.Err != nil {
		m.errMsg = msg.res.Err.Error()
		return
	}
	if msg.res.Init.Duplicate {
		m.status = "That passage is already part of this conversation."
	}
	if draft := m.view.TakeDraft(); draft != "" {
		m.input.SetValue(draft)
		m.input.CursorEnd()
		m.focus = focusInput
		m.input.Focus()
	}
	m.refreshTranscript()
}

// cellAt maps a terminal position onto the page grid.
func (m *model) cellAt(x, y int) (col, row int, inside bool) {
	col = x
	row = y - headerRows + m.pageTop
	inside = m.lines != nil && x >= 0 && x < m.grid.Cols && y >= headerRows && y < headerRows+m.bodyRows() && row < m.grid.Rows
	return col, row, inside
}

func (m *model) handleMouse(msg tea.MouseMsg) tea.Cmd {
	col, row, inside := m.cellAt(msg.X, msg.Y)
	switch msg.Type {
	case tea.MouseWheelUp, tea.MouseWheelDown:
		if !inside {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return cmd
		}
		if msg.Type == tea.MouseWheelUp {
			m.scrollPage(-3)
		} else {
			m.scrollPage(3)
		}
		return nil
	}
	if m.lines == nil {
		return nil
	}
	col, row = clamp(col, 0, m.grid.Cols-1), clamp(row, 0, m.grid.Rows-1)
	reach := m.grid.ReachPoint(col, row)

	switch msg.Type {
	case tea.MouseLeft:
		if m.engine.Phase() == selection.Selecting {
			m.engine.PointerMove(reach)
			return nil
		}
		if inside {
			m.pressCell = [2]int{col, row}
			m.engine.PointerDown(m.grid.AnchorPoint(col, row))
			m.focus = focusPage
			m.input.Blur()
		}
	case tea.MouseMotion:
		m.engine.PointerMove(reach)
	case tea.MouseRelease:
		if m.engine.Phase() != selection.Selecting {
			return nil
		}
		// A click without movement spans nothing.
		if m.pressCell == [2]int{col, row} {
			reach = m.grid.AnchorPoint(col, row)
		}
		m.engine.PointerMove(reach)
		if sel, ok := m.engine.PointerUp(m.ctx, reach); ok {
			m.status = fmt.Sprintf("Selected %d characters on page %d. Press c to discuss.", len([]rune(sel.SelectedText)), sel.PageNumber)
		} else {
			m.status = "No text under the selection."
		}
	}
	return nil
}

func (m *model) scrollPage(delta int) {
	limit := max(0, m.grid.Rows-m.bodyRows())
	m.pageTop = clamp(m.pageTop+delta, 0, limit)
}

func (m *model) setPage(page int) tea.Cmd {
	if m.cfg.Source == nil || page < 1 || page > m.cfg.Source.NumPages() || page == m.page {
		return nil
	}
	m.page = page
	m.pageTop = 0
	m.lines = nil
	m.engine.SetPage(page)
	return m.loadPage(page)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	if m.focus == focusInput {
		return m, m.handleInputKey(msg)
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "n", "right", "pgdown":
		return m, m.setPage(m.page + 1)
	case "p", "left", "pgup":
		return m, m.setPage(m.page - 1)
	case "down", "j":
		m.scrollPage(1)
	case "up", "k":
		m.scrollPage(-1)
	case "esc":
		m.engine.Clear()
		m.status = "Selection cleared."
	case "c", "enter":
		return m, m.openChat()
	case "tab", "i":
		m.focus = focusInput
		m.input.Focus()
	case "e":
		return m, m.endSession()
	case "a":
		return m, m.analyze()
	}
	return m, nil
}

func (m *model) handleInputKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyTab:
		m.focus = focusPage
		m.input.Blur()
		return nil
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.streaming {
			return nil
		}
		m.input.Reset()
		return m.send(text)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *model) refreshTranscript() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcript())
	if atBottom || m.streaming {
		m.viewport.GotoBottom()
	}
}
