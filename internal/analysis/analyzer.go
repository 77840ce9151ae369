// Package analysis extracts concepts from chat sessions into the knowledge base.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/user/folio/internal/types"
	"github.com/user/folio/pkg/llm"
)

// Store is the persistence the analyzer needs.
type Store interface {
	Get(ctx context.Context, id types.SessionID) (*types.Session, error)
	SetAnalysisStatus(ctx context.Context, id types.SessionID, status types.AnalysisStatus) error
	SaveConcepts(ctx context.Context, id types.SessionID, concepts []types.Concept) error
}

// Completer is the non-streaming half of an llm.Provider.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error)
}

var errNothingToAnalyze = errors.New("session has no messages or highlighted passages")

const extractionPrompt = `You extract the key concepts a reader was studying from a conversation about passages of their documents.
Reply with only a JSON array. Each element is an object with the fields "name" (short concept name), "description" (one or two sentences) and "confidence_score" (a number between 0 and 1).
Return an empty array when the conversation contains no identifiable concepts.`

// LLMAnalyzer asks a language model for the concepts discussed in a session.
type LLMAnalyzer struct {
	store     Store
	completer Completer
	retry     *RetryPolicy
	logger    *zap.Logger
}

func NewLLMAnalyzer(store Store, completer Completer, logger *zap.Logger) *LLMAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMAnalyzer{
		store:     store,
		completer: completer,
		retry:     DefaultRetryPolicy(),
		logger:    logger,
	}
}

// WithRetryPolicy replaces the retry policy and returns the analyzer.
func (a *LLMAnalyzer) WithRetryPolicy(p *RetryPolicy) *LLMAnalyzer {
	a.retry = p
	return a
}

// Analyze extracts and saves concepts for the session. Analysis failures
// are reported in the result with the session marked failed; the error
// return is reserved for failures to record that status.
func (a *LLMAnalyzer) Analyze(ctx context.Context, id types.SessionID) (types.AnalysisResult, error) {
	log := a.logger.With(zap.String("session_id", string(id)))

	if err := a.store.SetAnalysisStatus(ctx, id, types.AnalysisProcessing); err != nil {
		return types.AnalysisResult{Success: false, Error: err.Error()}, nil
	}

	concepts, err := a.extract(ctx, id)
	if err == nil {
		err = a.store.SaveConcepts(ctx, id, concepts)
	}
	if err != nil {
		log.Warn("concept extraction failed", zap.Error(err))
		if serr := a.store.SetAnalysisStatus(ctx, id, types.AnalysisFailed); serr != nil {
			return types.AnalysisResult{Success: false, Error: err.Error()}, fmt.Errorf("mark analysis failed: %w", serr)
		}
		return types.AnalysisResult{Success: false, Error: err.Error()}, nil
	}

	if err := a.store.SetAnalysisStatus(ctx, id, types.AnalysisComplete); err != nil {
		return types.AnalysisResult{Success: false, Error: err.Error()}, fmt.Errorf("mark analysis complete: %w", err)
	}
	log.Info("concepts extracted", zap.Int("count", len(concepts)))
	return types.AnalysisResult{Success: true, ConceptsExtracted: len(concepts)}, nil
}

func (a *LLMAnalyzer) extract(ctx context.Context, id types.SessionID) ([]types.Concept, error) {
	sess, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(sess.Messages) == 0 && len(sess.Contexts) == 0 {
		return nil, errNothingToAnalyze
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: extractionPrompt},
		{Role: llm.RoleUser, Content: Transcript(sess)},
	}

	var concepts []types.Concept
	attempt := 0
	err = a.retry.Execute(ctx, func(ctx context.Context) error {
		attempt++
		resp, err := a.completer.Complete(ctx, messages)
		if err != nil {
			a.logger.Debug("completion failed", zap.String("session_id", string(id)), zap.Int("attempt", attempt), zap.Error(err))
			return fmt.Errorf("complete: %w", err)
		}
		concepts, err = ParseConcepts(resp.Content)
		return err
	})
	return concepts, err
}

// Transcript renders a session's passages and conversation as plain text.
func Transcript(sess *types.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", sess.Title)
	if len(sess.Contexts) > 0 {
		b.WriteString("\nHighlighted passages:\n")
		for _, c := range sess.Contexts {
			fmt.Fprintf(&b, "- From \"%s\" (page %d): \"%s\"\n", c.DocumentTitle, c.PageNumber, c.SelectedText)
		}
	}
	if len(sess.Messages) > 0 {
		b.WriteString("\nConversation:\n")
		for _, m := range sess.Messages {
			fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Content)
		}
	}
	return b.String()
}

// ParseConcepts decodes the model's JSON array, tolerating surrounding
// prose or code fences. Unnamed entries are dropped and confidence is
// clamped to [0, 1].
func ParseConcepts(content string) ([]types.Concept, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON array", errMalformedReply)
	}

	var raw []struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence_score"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedReply, err)
	}

	concepts := make([]types.Concept, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		conf := r.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		concepts = append(concepts, types.Concept{
			Name:        name,
			Description: strings.TrimSpace(r.Description),
			Confidence:  conf,
		})
	}
	return concepts, nil
}
