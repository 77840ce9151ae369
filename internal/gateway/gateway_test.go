package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/folio/internal/analysis"
	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/notify"
	"github.com/user/folio/internal/state"
	"github.com/user/folio/internal/types"
	"github.com/user/folio/pkg/llm"
)

// fakeProvider streams chunks and answers completions with a fixed reply.
type fakeProvider struct {
	mu       sync.Mutex
	chunks   []string
	complete string
	streams  [][]llm.Message
}

func (f *fakeProvider) Stream(_ context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	f.mu.Lock()
	f.streams = append(f.streams, messages)
	chunks := f.chunks
	f.mu.Unlock()

	ch := make(chan llm.Delta, len(chunks))
	for _, c := range chunks {
		ch <- llm.Delta{Content: c}
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Complete(context.Context, []llm.Message) (*llm.Response, error) {
	return &llm.Response{Content: f.complete}, nil
}

type harness struct {
	gw       *Gateway
	store    *state.FileStore
	provider *fakeProvider

	mu     sync.Mutex
	events []notify.Notification
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    state.NewFileStore(t.TempDir()),
		provider: &fakeProvider{chunks: []string{"Hel", "lo", " world"}},
	}
	reg := notify.NewRegistry()
	reg.Register("", func(_ string, n notify.Notification) {
		h.mu.Lock()
		h.events = append(h.events, n)
		h.mu.Unlock()
	})
	h.gw = New(h.store, chat.Options{
		Completer: h.provider,
		Analyzer:  analysis.NewLLMAnalyzer(h.store, h.provider, nil),
		Sleep:     func(context.Context, time.Duration) error { return nil },
	}, reg, nil)
	h.gw.Start(context.Background())
	t.Cleanup(h.gw.Stop)
	return h
}

func (h *harness) notifications() []notify.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]notify.Notification(nil), h.events...)
}

func selectionOf(text string, page int) types.TextSelection {
	return types.TextSelection{
		ID:            types.NewSelectionID(),
		DocumentID:    "doc-1",
		PageNumber:    page,
		SelectedText:  text,
		BoundingBoxes: []geom.Rect{{X: 10, Y: 20, Width: 100, Height: 12}},
	}
}

var mlBasics = types.Document{ID: "doc-1", Title: "ML Basics"}

func TestEndToEndReadingSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.complete = `[{"name":"Overfitting","description":"Fitting noise","confidence_score":0.9}]`

	sel := selectionOf("Overfitting happens when a model memorizes noise", 12)
	h.gw.SetPendingSelection(sel, mlBasics)

	res := h.gw.Open(ctx, OpenRequest{})
	require.NoError(t, res.Err)
	assert.True(t, res.Init.Consumed)
	assert.Equal(t, `I'd also like to understand this text: "Overfitting happens when a model memorizes noise"`, res.Init.Draft)
	_, pending := h.gw.PendingSelection()
	assert.False(t, pending, "consumed selection is cleared")

	view := res.View
	assert.Equal(t, "Discussion about: Overfitting happens when a model memorizes noise", view.Title())
	require.Len(t, view.Contexts(), 1)

	active, err := h.store.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, view.SessionID(), active.ID)

	var prefixes []string
	reply, err := h.gw.Send(ctx, "why does this happen?", func(_, content string) {
		prefixes = append(prefixes, content)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply.Content)
	assert.Equal(t, []string{"Hel", "Hello", "Hello world"}, prefixes)

	sent := h.provider.streams[0]
	require.Len(t, sent, 2)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[0].Content, `From "ML Basics" (page 12): "Overfitting happens when a model memorizes noise"`)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "why does this happen?"}, sent[1])

	require.NoError(t, h.gw.End(ctx))
	assert.Equal(t, chat.ReadOnly, view.State())
	active, err = h.store.GetActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = view.Send(ctx, "more?", nil)
	assert.ErrorIs(t, err, chat.ErrReadOnly)

	var stages []chat.Stage
	n, err := h.gw.Analyze(ctx, func(s chat.Stage) { stages = append(stages, s) })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, chat.StageComplete, stages[len(stages)-1])

	concepts, err := h.store.ListConcepts(ctx)
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "Overfitting", concepts[0].Name)

	past, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, types.AnalysisComplete, past[0].AnalysisStatus)
}

func TestOpenIsMemoizedPerKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sel := selectionOf("gradient descent", 3)

	first := h.gw.Open(ctx, OpenRequest{Selection: &sel, Document: &mlBasics})
	require.NoError(t, first.Err)
	second := h.gw.Open(ctx, OpenRequest{Selection: &sel, Document: &mlBasics})
	assert.Same(t, first.View, second.View)
	assert.Equal(t, first.Init, second.Init)
	assert.Len(t, second.View.Contexts(), 1)

	other := selectionOf("learning rate", 4)
	third := h.gw.Open(ctx, OpenRequest{Selection: &other, Document: &mlBasics})
	require.NoError(t, third.Err)
	assert.NotSame(t, first.View, third.View)
	assert.Equal(t, first.View.SessionID(), third.View.SessionID(), "active session is resumed")
	assert.Len(t, third.View.Contexts(), 2)
}

func TestSendCreatesSessionLazily(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res := h.gw.Open(ctx, OpenRequest{})
	require.NoError(t, res.Err)
	assert.Empty(t, res.View.SessionID())

	reply, err := h.gw.Send(ctx, "What is a tensor?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply.Content)

	id := res.View.SessionID()
	require.NotEmpty(t, id)
	sess, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Discussion about: What is a tensor?", sess.Title)
	assert.Len(t, sess.Messages, 2)
}

func TestSendOnReadOnlyViewNotifies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id, err := h.store.Create(ctx, "old")
	require.NoError(t, err)
	require.NoError(t, h.store.End(ctx, id))

	res := h.gw.Open(ctx, OpenRequest{SessionID: id, ReadOnly: true})
	require.NoError(t, res.Err)
	assert.Equal(t, chat.ReadOnly, res.View.State())

	_, err = h.gw.Send(ctx, "hi", nil)
	assert.ErrorIs(t, err, chat.ErrReadOnly)

	events := h.notifications()
	require.NotEmpty(t, events)
	assert.Equal(t, notify.VariantDestructive, events[len(events)-1].Variant)
}

func TestOpenUnknownSessionNotifies(t *testing.T) {
	h := newHarness(t)
	res := h.gw.Open(context.Background(), OpenRequest{SessionID: types.NewSessionID(), ReadOnly: true})
	assert.ErrorIs(t, res.Err, chat.ErrSessionNotFound)
	assert.Equal(t, chat.Error, res.View.State())
	require.Len(t, h.notifications(), 1)
	assert.Equal(t, "Failed to load chat session", h.notifications()[0].Description)
}

func TestOpenReplacesAndClosesPreviousView(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id, err := h.store.Create(ctx, "old")
	require.NoError(t, err)
	require.NoError(t, h.store.End(ctx, id))

	live := h.gw.Open(ctx, OpenRequest{})
	require.NoError(t, live.Err)
	past := h.gw.Open(ctx, OpenRequest{SessionID: id, ReadOnly: true})
	require.NoError(t, past.Err)
	assert.Same(t, past.View, h.gw.View())

	focused, err := h.gw.Focus(ctx, id)
	require.NoError(t, err)
	assert.Same(t, past.View, focused)
}

func TestEndAndAnalyzeClearPendingSelection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.complete = `[]`

	sel := selectionOf("bias", 1)
	res := h.gw.Open(ctx, OpenRequest{Selection: &sel, Document: &mlBasics})
	require.NoError(t, res.Err)

	h.gw.SetPendingSelection(selectionOf("variance", 2), mlBasics)
	require.NoError(t, h.gw.End(ctx))
	_, ok := h.gw.PendingSelection()
	assert.False(t, ok)

	h.gw.SetPendingSelection(selectionOf("variance", 2), mlBasics)
	n, err := h.gw.Analyze(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, ok = h.gw.PendingSelection()
	assert.False(t, ok)
}

// slowCreateStore widens the window between the emptiness check and the
// bound id in lazy session creation.
type slowCreateStore struct {
	*state.FileStore
	creates atomic.Int32
}

func (s *slowCreateStore) Create(ctx context.Context, title string) (types.SessionID, error) {
	s.creates.Add(1)
	time.Sleep(50 * time.Millisecond)
	return s.FileStore.Create(ctx, title)
}

func TestConcurrentFirstSendsShareOneSession(t *testing.T) {
	ctx := context.Background()
	store := &slowCreateStore{FileStore: state.NewFileStore(t.TempDir())}
	provider := &fakeProvider{chunks: []string{"Hel", "lo", " world"}}
	gw := New(store, chat.Options{Completer: provider}, notify.NewRegistry(), nil)
	gw.Start(ctx)
	t.Cleanup(gw.Stop)

	res := gw.Open(ctx, OpenRequest{})
	require.NoError(t, res.Err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gw.Send(ctx, "hello", nil)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Equal(t, int32(1), store.creates.Load())
	active, err := store.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, res.View.SessionID(), active.ID)
	assert.Len(t, active.Messages, 4)
}

// pacedProvider emits its chunks with a pause between them and stops when
// the stream's context is done.
type pacedProvider struct {
	fakeProvider
	pause time.Duration
}

func (p *pacedProvider) Stream(ctx context.Context, _ []llm.Message) (<-chan llm.Delta, error) {
	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		for _, c := range p.chunks {
			select {
			case <-time.After(p.pause):
			case <-ctx.Done():
				ch <- llm.Delta{Err: ctx.Err()}
				return
			}
			ch <- llm.Delta{Content: c}
		}
	}()
	return ch, nil
}

func TestSendCompletesAfterCallerGivesUp(t *testing.T) {
	store := state.NewFileStore(t.TempDir())
	provider := &pacedProvider{fakeProvider: fakeProvider{chunks: []string{"Hel", "lo", " world"}}, pause: 30 * time.Millisecond}
	gw := New(store, chat.Options{Completer: provider}, notify.NewRegistry(), nil)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	res := gw.Open(context.Background(), OpenRequest{})
	require.NoError(t, res.Err)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err := gw.Send(ctx, "hello", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	id := res.View.SessionID()
	require.NotEmpty(t, id)
	assert.Eventually(t, func() bool {
		sess, err := store.Get(context.Background(), id)
		return err == nil && len(sess.Messages) == 2 && sess.Messages[1].Content == "Hello world"
	}, 2*time.Second, 20*time.Millisecond)
}
