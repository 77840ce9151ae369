package context

import (
	"fmt"
	"strings"

	"github.com/user/folio/internal/types"
)

const (
	promptPreamble = "You are helping the user understand text selections from their document(s). The selected texts are:"
	promptClosing  = "Please provide helpful explanations and answer questions about this content."
)

// SystemPrompt describes every highlighted context for the model.
func SystemPrompt(contexts []types.HighlightedContext) string {
	descriptions := make([]string, len(contexts))
	for i, c := range contexts {
		descriptions[i] = Describe(c)
	}
	return promptPreamble + "\n\n" + strings.Join(descriptions, "\n\n") + "\n\n" + promptClosing
}

// Describe renders one context as a quoted, attributed passage.
func Describe(c types.HighlightedContext) string {
	return fmt.Sprintf("From \"%s\" (page %d): \"%s\"", c.DocumentTitle, c.PageNumber, c.SelectedText)
}
