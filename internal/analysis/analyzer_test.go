package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/folio/internal/state"
	"github.com/user/folio/internal/types"
	"github.com/user/folio/pkg/llm"
)

type completeFunc func(ctx context.Context, messages []llm.Message) (*llm.Response, error)

func (f completeFunc) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return f(ctx, messages)
}

func seededSession(t *testing.T, store *state.FileStore) types.SessionID {
	t.Helper()
	ctx := context.Background()
	id, err := store.Create(ctx, "Discussion about: overfitting")
	require.NoError(t, err)
	_, err = store.AddHighlightedContext(ctx, id, "doc-1", "ML Basics", 12, "Overfitting happens when a model memorizes noise", nil)
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, id, "why does this happen?", types.SenderUser)
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, id, "Because the model has too much capacity.", types.SenderAssistant)
	require.NoError(t, err)
	require.NoError(t, store.End(ctx, id))
	return id
}

func TestLLMAnalyzerSavesConcepts(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	id := seededSession(t, store)

	var prompt []llm.Message
	completer := completeFunc(func(_ context.Context, messages []llm.Message) (*llm.Response, error) {
		prompt = messages
		return &llm.Response{Content: "```json\n[{\"name\":\"Overfitting\",\"description\":\"Memorizing noise\",\"confidence_score\":0.92},{\"name\":\"Model capacity\",\"confidence_score\":1.4}]\n```"}, nil
	})

	res, err := NewLLMAnalyzer(store, completer, nil).Analyze(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ConceptsExtracted)

	require.Len(t, prompt, 2)
	assert.Contains(t, prompt[1].Content, `From "ML Basics" (page 12): "Overfitting happens when a model memorizes noise"`)
	assert.Contains(t, prompt[1].Content, "user: why does this happen?")

	concepts, err := store.ListConcepts(ctx)
	require.NoError(t, err)
	require.Len(t, concepts, 2)
	assert.Equal(t, "Overfitting", concepts[0].Name)
	assert.Equal(t, 1.0, concepts[1].Confidence)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisComplete, sess.AnalysisStatus)
}

func TestLLMAnalyzerMarksFailure(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	id := seededSession(t, store)

	calls := 0
	completer := completeFunc(func(context.Context, []llm.Message) (*llm.Response, error) {
		calls++
		return nil, &llm.StatusError{StatusCode: 401, Message: "unauthorized"}
	})

	res, err := NewLLMAnalyzer(store, completer, nil).WithRetryPolicy(fastPolicy(3)).Analyze(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unauthorized")
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisFailed, sess.AnalysisStatus)
}

func TestLLMAnalyzerRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	id := seededSession(t, store)

	calls := 0
	completer := completeFunc(func(context.Context, []llm.Message) (*llm.Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return &llm.Response{Content: `[{"name":"Overfitting","confidence_score":0.5}]`}, nil
	})

	res, err := NewLLMAnalyzer(store, completer, nil).WithRetryPolicy(fastPolicy(3)).Analyze(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, calls)
}

func TestLLMAnalyzerEmptySession(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	id, err := store.Create(ctx, "empty")
	require.NoError(t, err)

	completer := completeFunc(func(context.Context, []llm.Message) (*llm.Response, error) {
		t.Fatal("completer should not be called")
		return nil, nil
	})
	res, err := NewLLMAnalyzer(store, completer, nil).Analyze(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestLLMAnalyzerUnknownSession(t *testing.T) {
	store := state.NewFileStore(t.TempDir())
	res, err := NewLLMAnalyzer(store, completeFunc(nil), nil).Analyze(context.Background(), types.NewSessionID())
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestParseConcepts(t *testing.T) {
	concepts, err := ParseConcepts(`Here you go: [{"name":" Bias ","description":" d ","confidence_score":-1},{"name":""}] thanks`)
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "Bias", concepts[0].Name)
	assert.Equal(t, "d", concepts[0].Description)
	assert.Equal(t, 0.0, concepts[0].Confidence)

	concepts, err = ParseConcepts("[]")
	require.NoError(t, err)
	assert.Empty(t, concepts)

	_, err = ParseConcepts("no concepts")
	assert.ErrorIs(t, err, errMalformedReply)
}

func TestLLMAnalyzerReasksOnMalformedReply(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	id := seededSession(t, store)

	calls := 0
	completer := completeFunc(func(context.Context, []llm.Message) (*llm.Response, error) {
		calls++
		if calls == 1 {
			return &llm.Response{Content: "Sure! The main idea is overfitting."}, nil
		}
		return &llm.Response{Content: `[{"name":"Overfitting","confidence_score":0.8}]`}, nil
	})

	res, err := NewLLMAnalyzer(store, completer, nil).WithRetryPolicy(fastPolicy(3)).Analyze(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ConceptsExtracted)
	assert.Equal(t, 2, calls)
}
