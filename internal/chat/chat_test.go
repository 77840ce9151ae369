package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/state"
	"github.com/user/folio/internal/types"
	"github.com/user/folio/pkg/llm"
)

// scriptedStreamer replies with fixed chunks and records each conversation.
type scriptedStreamer struct {
	mu     sync.Mutex
	chunks []string
	err    error
	calls  [][]llm.Message
}

func (s *scriptedStreamer) Stream(_ context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	s.mu.Lock()
	s.calls = append(s.calls, messages)
	s.mu.Unlock()

	ch := make(chan llm.Delta, len(s.chunks)+1)
	for _, c := range s.chunks {
		ch <- llm.Delta{Content: c}
	}
	if s.err != nil {
		ch <- llm.Delta{Err: s.err}
	}
	close(ch)
	return ch, nil
}

// gatedStreamer hands control of the stream to the test.
type gatedStreamer struct {
	ch chan llm.Delta
}

func (g *gatedStreamer) Stream(context.Context, []llm.Message) (<-chan llm.Delta, error) {
	return g.ch, nil
}

type fakeAnalyzer struct {
	result types.AnalysisResult
	err    error
	called int
}

func (f *fakeAnalyzer) Analyze(context.Context, types.SessionID) (types.AnalysisResult, error) {
	f.called++
	return f.result, f.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func newView(t *testing.T, store types.SessionStore, streamer llm.Streamer) *Session {
	t.Helper()
	return New(Options{Store: store, Completer: streamer, Sleep: noSleep})
}

func pendingFor(text string, page int, doc types.DocumentID) *Pending {
	return &Pending{
		Selection: types.TextSelection{
			ID:            types.NewSelectionID(),
			DocumentID:    doc,
			PageNumber:    page,
			SelectedText:  text,
			BoundingBoxes: []geom.Rect{{X: 10, Y: 20, Width: 200, Height: 14}},
			CreatedAt:     time.Now(),
		},
		Document: types.Document{ID: doc, Title: "Intro to AI"},
	}
}

func TestDeriveTitle(t *testing.T) {
	fifty := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwx"
	require.Len(t, fifty, 50)

	assert.Equal(t, "Discussion about: "+fifty, DeriveTitle(fifty))
	assert.Equal(t, "Discussion about: "+fifty+"...", DeriveTitle(fifty+"y"))

	// Characters, not bytes.
	wide := ""
	for i := 0; i < 50; i++ {
		wide += "é"
	}
	assert.Equal(t, "Discussion about: "+wide, DeriveTitle(wide))
}

func TestDraftFor(t *testing.T) {
	assert.Equal(t, `I'd also like to understand this text: "Machine learning is a subset of AI"`,
		DraftFor("Machine learning is a subset of AI"))
}

func TestInitializeStartsSessionFromSelection(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	view := newView(t, store, nil)

	text := "Machine learning is a subset of AI"
	res, err := view.Initialize(ctx, pendingFor(text, 3, "doc-1"))
	require.NoError(t, err)

	assert.True(t, res.Consumed)
	assert.False(t, res.Duplicate)
	assert.Equal(t, `I'd also like to understand this text: "Machine learning is a subset of AI"`, res.Draft)
	assert.Equal(t, res.Draft, view.Draft())
	assert.Equal(t, Active, view.State())
	assert.Equal(t, "Discussion about: Machine learning is a subset of AI", view.Title())
	assert.Empty(t, view.Messages(), "the draft is staged, not sent")

	contexts := view.Contexts()
	require.Len(t, contexts, 1)
	assert.Equal(t, types.DocumentID("doc-1"), contexts[0].DocumentID)
	assert.Equal(t, 3, contexts[0].PageNumber)
	assert.Equal(t, text, contexts[0].SelectedText)
	assert.Equal(t, "Intro to AI", contexts[0].DocumentTitle)

	active, err := store.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, view.SessionID(), active.ID)
	require.Len(t, active.Contexts, 1)
	assert.Equal(t, contexts[0].ID, active.Contexts[0].ID)
}

func TestInitializeSuppressesDuplicateTriple(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())

	first := newView(t, store, nil)
	_, err := first.Initialize(ctx, pendingFor("gradient descent", 4, "doc-1"))
	require.NoError(t, err)

	second := newView(t, store, nil)
	res, err := second.Initialize(ctx, pendingFor("gradient descent", 4, "doc-1"))
	require.NoError(t, err)
	assert.True(t, res.Consumed)
	assert.True(t, res.Duplicate)
	assert.Empty(t, res.Draft)
	assert.Empty(t, second.Draft())
	assert.Len(t, second.Contexts(), 1)

	active, err := store.GetActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active.Contexts, 1)
}

func TestInitializeAppendsNewTripleToActiveSession(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())

	first := newView(t, store, nil)
	_, err := first.Initialize(ctx, pendingFor("gradient descent", 4, "doc-1"))
	require.NoError(t, err)

	second := newView(t, store, nil)
	res, err := second.Initialize(ctx, pendingFor("gradient descent", 5, "doc-1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.Draft)
	assert.Equal(t, first.SessionID(), second.SessionID())
	assert.Equal(t, first.Title(), second.Title())
	assert.Len(t, second.Contexts(), 2)
}

func TestInitializeWithoutSessionOrSelection(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	view := newView(t, store, &scriptedStreamer{chunks: []string{"hi"}})

	res, err := view.Initialize(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.Consumed)
	assert.Equal(t, Active, view.State())
	assert.Empty(t, view.SessionID())

	_, err = view.Send(ctx, "hello", nil)
	assert.ErrorIs(t, err, ErrNoSession)

	id, err := view.Start(ctx, DeriveTitle("hello"))
	require.NoError(t, err)
	assert.Equal(t, id, view.SessionID())
	_, err = view.Send(ctx, "hello", nil)
	require.NoError(t, err)
}

func TestSendStreamsAndPersistsReply(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	streamer := &scriptedStreamer{chunks: []string{"Hel", "lo", " world"}}
	view := newView(t, store, streamer)

	_, err := view.Initialize(ctx, pendingFor("Machine learning is a subset of AI", 3, "doc-1"))
	require.NoError(t, err)
	draft := view.TakeDraft()
	assert.Empty(t, view.Draft())

	var live []string
	var placeholders []Message
	reply, err := view.Send(ctx, draft, func(delta, content string) {
		live = append(live, content)
		msgs := view.Messages()
		placeholders = append(placeholders, msgs[len(msgs)-1])
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "Hello", "Hello world"}, live)
	for i, p := range placeholders {
		assert.False(t, p.Ref.IsPersisted())
		assert.True(t, p.Streaming)
		assert.Equal(t, live[i], p.Content)
	}

	assert.Equal(t, "Hello world", reply.Content)
	assert.True(t, reply.Ref.IsPersisted())
	assert.False(t, reply.Streaming)
	assert.True(t, reply.Complete)
	assert.False(t, view.Loading())
	assert.False(t, view.Streaming())

	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.SenderUser, msgs[0].Sender)
	assert.Equal(t, draft, msgs[0].Content)
	assert.Equal(t, reply, msgs[1])

	stored, err := store.Get(ctx, view.SessionID())
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "Hello world", stored.Messages[1].Content)
	id, _ := reply.Ref.MessageID()
	assert.Equal(t, stored.Messages[1].ID, id)

	require.Len(t, streamer.calls, 1)
	conv := streamer.calls[0]
	require.Len(t, conv, 2)
	assert.Equal(t, llm.RoleSystem, conv[0].Role)
	assert.Contains(t, conv[0].Content, `From "Intro to AI" (page 3): "Machine learning is a subset of AI"`)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: draft}, conv[1])
}

func TestSendIncludesHistory(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	streamer := &scriptedStreamer{chunks: []string{"ok"}}
	view := newView(t, store, streamer)
	_, err := view.Initialize(ctx, pendingFor("x", 1, "doc-1"))
	require.NoError(t, err)

	_, err = view.Send(ctx, "first", nil)
	require.NoError(t, err)
	_, err = view.Send(ctx, "second", nil)
	require.NoError(t, err)

	conv := streamer.calls[1]
	require.Len(t, conv, 4)
	assert.Equal(t, "first", conv[1].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "ok"}, conv[2])
	assert.Equal(t, "second", conv[3].Content)
}

func TestSendFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	boom := errors.New("upstream closed")
	view := newView(t, store, &scriptedStreamer{chunks: []string{"par"}, err: boom})
	_, err := view.Initialize(ctx, pendingFor("x", 1, "doc-1"))
	require.NoError(t, err)

	_, err = view.Send(ctx, "question", nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, view.Loading())
	assert.False(t, view.Streaming())

	msgs := view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "question", msgs[0].Content)

	stored, err := store.Get(ctx, view.SessionID())
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, types.SenderUser, stored.Messages[0].Sender)
}

func TestSendRejectsConcurrentSend(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	gate := &gatedStreamer{ch: make(chan llm.Delta)}
	view := newView(t, store, gate)
	_, err := view.Initialize(ctx, pendingFor("x", 1, "doc-1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := view.Send(ctx, "first", nil)
		done <- err
	}()
	gate.ch <- llm.Delta{Content: "partial"}
	require.True(t, view.Loading())

	_, err = view.Send(ctx, "second", nil)
	assert.ErrorIs(t, err, ErrSendInFlight)

	close(gate.ch)
	require.NoError(t, <-done)
	assert.Len(t, view.Messages(), 2)
}

func TestClosedViewDiscardsLateReply(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	gate := &gatedStreamer{ch: make(chan llm.Delta)}
	view := newView(t, store, gate)
	_, err := view.Initialize(ctx, pendingFor("x", 1, "doc-1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	seen := make(chan string, 2)
	go func() {
		_, err := view.Send(ctx, "question", func(_, content string) { seen <- content })
		done <- err
	}()
	gate.ch <- llm.Delta{Content: "Hel"}
	require.Equal(t, "Hel", <-seen)
	view.Close()
	gate.ch <- llm.Delta{Content: "lo"}
	close(gate.ch)
	require.NoError(t, <-done)

	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hel", msgs[1].Content)
	assert.True(t, msgs[1].Streaming)

	stored, err := store.Get(ctx, view.SessionID())
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "Hello", stored.Messages[1].Content)
}

func TestEndMakesViewReadOnly(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	view := newView(t, store, &scriptedStreamer{chunks: []string{"ok"}})
	_, err := view.Initialize(ctx, pendingFor("x", 1, "doc-1"))
	require.NoError(t, err)
	id := view.SessionID()

	require.NoError(t, view.End(ctx))
	assert.Equal(t, ReadOnly, view.State())
	assert.Empty(t, view.Draft())

	_, err = view.Send(ctx, "more", nil)
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, view.End(ctx), ErrReadOnly)

	active, err := store.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	reopened := newView(t, store, &scriptedStreamer{chunks: []string{"ok"}})
	require.NoError(t, reopened.Load(ctx, id))
	assert.Equal(t, ReadOnly, reopened.State())
	assert.Len(t, reopened.Contexts(), 1)
	_, err = reopened.Send(ctx, "more", nil)
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = store.AddMessage(ctx, id, "direct", types.SenderUser)
	assert.ErrorIs(t, err, types.ErrSessionEnded)
}

func TestEndWithoutSession(t *testing.T) {
	view := newView(t, state.NewFileStore(t.TempDir()), nil)
	_, err := view.Initialize(context.Background(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, view.End(context.Background()), ErrNoSession)
}

func TestLoadUnknownSession(t *testing.T) {
	view := newView(t, state.NewFileStore(t.TempDir()), nil)
	err := view.Load(context.Background(), types.NewSessionID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, Error, view.State())
	assert.ErrorIs(t, view.Err(), ErrSessionNotFound)

	_, err = view.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestAnalyzeStages(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())
	analyzer := &fakeAnalyzer{result: types.AnalysisResult{Success: true, ConceptsExtracted: 3}}
	var slept []time.Duration
	view := New(Options{Store: store, Analyzer: analyzer, Sleep: func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}})
	_, err := view.Initialize(ctx, pendingFor("x", 1, "doc-1"))
	require.NoError(t, err)
	require.NoError(t, view.End(ctx))

	var stages []Stage
	n, err := view.Analyze(ctx, func(s Stage) { stages = append(stages, s) })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, analyzer.called)
	assert.Equal(t, []Stage{StageInitializing, StageProcessing, StageExtracting, StageFinalizing, StageComplete}, stages)
	assert.Equal(t, []time.Duration{initializingDelay, extractingDelay}, slept)
}

func TestAnalyzeFailure(t *testing.T) {
	ctx := context.Background()
	store := state.NewFileStore(t.TempDir())

	for name, analyzer := range map[string]*fakeAnalyzer{
		"unsuccessful": {result: types.AnalysisResult{Success: false, Error: "model refused"}},
		"error":        {err: errors.New("timeout")},
	} {
		t.Run(name, func(t *testing.T) {
			view := New(Options{Store: store, Analyzer: analyzer, Sleep: noSleep})
			_, err := view.Initialize(ctx, pendingFor("x", 1, "doc-1"))
			require.NoError(t, err)

			var stages []Stage
			_, err = view.Analyze(ctx, func(s Stage) { stages = append(stages, s) })
			assert.ErrorIs(t, err, ErrAnalysisFailed)
			assert.Equal(t, []Stage{StageInitializing, StageProcessing, StageFailed}, stages)
		})
	}
}

func TestMessageRef(t *testing.T) {
	p := Provisional("client-1")
	assert.False(t, p.IsPersisted())
	_, ok := p.MessageID()
	assert.False(t, ok)

	q := Persisted("server-1")
	id, ok := q.MessageID()
	assert.True(t, ok)
	assert.Equal(t, types.MessageID("server-1"), id)
	assert.NotEqual(t, Provisional("server-1"), q)
}
