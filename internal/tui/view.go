package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/selection"
	"github.com/user/folio/internal/types"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	helperStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	highlightStyle = lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230"))
	selectingStyle = lipgloss.NewStyle().Background(lipgloss.Color("238"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78"))
	contextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("180")).Italic(true)
	dividerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

const contextPreviewRunes = 80

func (m *model) View() string {
	if m.width == 0 {
		return "Loading…"
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.pageView(),
		dividerStyle.Render(strings.Repeat("│\n", m.bodyRows()-1)+"│"),
		m.chatView(),
	)
	return strings.Join([]string{m.headerView(), body, m.statusView(), m.helpView()}, "\n")
}

func (m *model) headerView() string {
	pages := 0
	if m.cfg.Source != nil {
		pages = m.cfg.Source.NumPages()
	}
	title := fmt.Sprintf("%s  ·  page %d/%d", m.cfg.Document.Title, m.page, pages)
	if m.view != nil && m.view.Title() != "" {
		title += "  ·  " + m.view.Title()
	}
	return headerStyle.Render(truncate.StringWithTail(title, uint(max(m.width, 1)), "…"))
}

// pageView renders the visible rows of the page with the overlay drawn
// over the cells it covers.
func (m *model) pageView() string {
	cols, rows := m.pageCols(), m.bodyRows()
	blank := strings.Repeat(" ", cols)
	out := make([]string, rows)
	if m.pageErr != nil {
		out[0] = errorStyle.Render(truncate.String(m.pageErr.Error(), uint(cols)))
	}
	frame := m.engine.Frame()
	style := highlightStyle
	if frame.Cursor == selection.CursorCrosshair {
		style = selectingStyle
	}
	for i := range out {
		if out[i] != "" {
			continue
		}
		row := m.pageTop + i
		if m.lines == nil || row >= len(m.lines) {
			out[i] = blank
			continue
		}
		var b strings.Builder
		line := m.lines[row]
		for col := 0; col < cols; col++ {
			r := ' '
			if col < len(line) {
				r = line[col]
			}
			if col < m.grid.Cols && m.grid.Covered(frame.Rects, col, row) {
				b.WriteString(style.Render(string(r)))
			} else {
				b.WriteRune(r)
			}
		}
		out[i] = b.String()
	}
	return strings.Join(out, "\n")
}

func (m *model) chatView() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.viewport.View(), m.input.View())
}

func (m *model) statusView() string {
	if m.errMsg != "" {
		return errorStyle.Render(truncate.StringWithTail(m.errMsg, uint(max(m.width, 1)), "…"))
	}
	return helperStyle.Render(truncate.StringWithTail(m.status, uint(max(m.width, 1)), "…"))
}

func (m *model) helpView() string {
	if m.focus == focusInput {
		return helperStyle.Render("enter send · esc back to page · ctrl+c quit")
	}
	return helperStyle.Render("drag select · c discuss · n/p page · j/k scroll · i type · e end · a analyze · q quit")
}

// transcript renders the highlighted passages and the conversation wrapped
// to the chat pane.
func (m *model) transcript() string {
	if m.view == nil {
		return helperStyle.Render("No conversation yet.")
	}
	width := max(m.viewport.Width-1, 10)
	var b strings.Builder
	for _, c := range m.view.Contexts() {
		b.WriteString(contextStyle.Render(wordwrap.String(describeContext(c), width)))
		b.WriteString("\n")
	}
	if len(m.view.Contexts()) > 0 {
		b.WriteString("\n")
	}
	for _, msg := range m.view.Messages() {
		b.WriteString(senderLabel(msg))
		b.WriteString("\n")
		content := msg.Content
		if msg.Streaming && content == "" {
			content = "…"
		}
		b.WriteString(wordwrap.String(content, width))
		b.WriteString("\n\n")
	}
	if m.view.State() == chat.ReadOnly {
		b.WriteString(helperStyle.Render("This session has ended."))
	}
	return strings.TrimRight(b.String(), "\n")
}

func senderLabel(msg chat.Message) string {
	if msg.Sender == types.SenderUser {
		return userStyle.Render("You")
	}
	return assistantStyle.Render("Assistant")
}

func describeContext(c types.HighlightedContext) string {
	text := []rune(c.SelectedText)
	preview := c.SelectedText
	if len(text) > contextPreviewRunes {
		preview = string(text[:contextPreviewRunes]) + "…"
	}
	return fmt.Sprintf("▌ p.%d “%s”", c.PageNumber, preview)
}
