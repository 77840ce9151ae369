package chat

import "fmt"

// titleRunes is the number of characters of selected text kept in a title.
const titleRunes = 50

// DeriveTitle names a session after the text that started it.
func DeriveTitle(text string) string {
	r := []rune(text)
	if len(r) <= titleRunes {
		return "Discussion about: " + text
	}
	return "Discussion about: " + string(r[:titleRunes]) + "..."
}

// DraftFor is the input message staged for a newly highlighted passage.
func DraftFor(text string) string {
	return fmt.Sprintf("I'd also like to understand this text: \"%s\"", text)
}
