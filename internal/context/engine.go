// internal/context/engine.go
package context

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/folio/internal/types"
	"github.com/user/folio/pkg/llm"
)

// messageOverhead approximates the per-message framing tokens of the chat format.
const messageOverhead = 4

// Turn is one prior message of a conversation.
type Turn struct {
	Sender  types.SenderType
	Content string
}

// Engine assembles token-budgeted conversations for the LLM.
type Engine struct {
	count     func(string) int
	maxTokens int
	reserve   int
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return NewWithCounter(func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, maxTokens, reserve), nil
}

// NewEstimating creates an engine that approximates tokens as four
// characters each. It is used when no tokenizer can be loaded.
func NewEstimating(maxTokens, reserve int) *Engine {
	return NewWithCounter(EstimateTokens, maxTokens, reserve)
}

// NewWithCounter creates an engine with a custom token counter.
func NewWithCounter(count func(string) int, maxTokens, reserve int) *Engine {
	return &Engine{count: count, maxTokens: maxTokens, reserve: reserve}
}

// EstimateTokens approximates a token count from the rune count.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

func (e *Engine) tokens(msg llm.Message) int {
	return e.count(msg.Content) + messageOverhead
}

// Build assembles the outbound conversation: the system message when any
// contexts exist, the history mapped to roles, and the new user message
// last. When the history does not fit the budget the oldest turns are
// dropped; the system and new user messages are always kept.
func (e *Engine) Build(contexts []types.HighlightedContext, history []Turn, userText string) []llm.Message {
	var head []llm.Message
	if len(contexts) > 0 {
		head = append(head, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(contexts)})
	}
	tail := llm.Message{Role: llm.RoleUser, Content: userText}

	turns := make([]llm.Message, len(history))
	for i, t := range history {
		turns[i] = llm.Message{Role: roleFor(t.Sender), Content: t.Content}
	}

	if e.maxTokens > 0 {
		budget := e.maxTokens - e.reserve - e.tokens(tail)
		for _, m := range head {
			budget -= e.tokens(m)
		}
		start := len(turns)
		for start > 0 {
			cost := e.tokens(turns[start-1])
			if cost > budget {
				break
			}
			budget -= cost
			start--
		}
		turns = turns[start:]
	}

	messages := make([]llm.Message, 0, len(head)+len(turns)+1)
	messages = append(messages, head...)
	messages = append(messages, turns...)
	return append(messages, tail)
}

func roleFor(sender types.SenderType) string {
	if sender == types.SenderUser {
		return llm.RoleUser
	}
	return llm.RoleAssistant
}
