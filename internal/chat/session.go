// Package chat holds the conversation view over one persisted chat session:
// initialization from a pending selection, streamed sends, ending and
// analysis.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	ctxengine "github.com/user/folio/internal/context"
	"github.com/user/folio/internal/types"
	"github.com/user/folio/pkg/llm"
)

// Analyzer runs concept extraction over a session.
type Analyzer interface {
	Analyze(ctx context.Context, id types.SessionID) (types.AnalysisResult, error)
}

// Options wires a Session to its boundaries. Store is required.
type Options struct {
	Store     types.SessionStore
	Completer llm.Streamer
	Analyzer  Analyzer
	Builder   *ctxengine.Engine
	Clock     func() time.Time
	Logger    *zap.Logger
	// Sleep paces the synthetic analysis stages.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Pending is a selection waiting to be promoted into a conversation.
type Pending struct {
	Selection types.TextSelection
	Document  types.Document
}

// InitResult reports what Initialize did with a pending selection.
type InitResult struct {
	// Consumed is true when a pending selection was handled, including as a duplicate.
	Consumed bool
	// Draft is the staged input message, empty for duplicates.
	Draft     string
	Duplicate bool
}

// Session is one view over a chat session. It is safe for concurrent use.
type Session struct {
	opts Options

	// startMu serializes lazy creation so concurrent first sends share
	// one session.
	startMu sync.Mutex

	mu        sync.Mutex
	state     State
	id        types.SessionID
	title     string
	messages  []Message
	contexts  []types.HighlightedContext
	draft     string
	inFlight  bool
	streaming bool
	closed    bool
	err       error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates an uninitialized view.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Builder == nil {
		opts.Builder = ctxengine.NewEstimating(0, 0)
	}
	return &Session{opts: opts}
}

func (s *Session) logger() *zap.Logger {
	return s.opts.Logger.With(zap.String("session_id", string(s.id)))
}

// hydrate replaces local state with a stored session. Caller must hold mu.
func (s *Session) hydrate(sess *types.Session) {
	s.id = sess.ID
	s.title = sess.Title
	s.messages = make([]Message, len(sess.Messages))
	for i, m := range sess.Messages {
		s.messages[i] = fromStored(m)
	}
	s.contexts = append([]types.HighlightedContext(nil), sess.Contexts...)
}

func (s *Session) reset(state State) {
	s.state = state
	s.id = ""
	s.title = ""
	s.messages = nil
	s.contexts = nil
	s.draft = ""
	s.err = nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.state = Error
	s.err = err
	s.mu.Unlock()
	return err
}

// Load opens an existing session read-only. An unknown id leaves the view
// in the Error state.
func (s *Session) Load(ctx context.Context, id types.SessionID) error {
	s.mu.Lock()
	s.reset(Loading)
	s.mu.Unlock()

	sess, err := s.opts.Store.Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		return s.fail(fmt.Errorf("%w: %s", ErrSessionNotFound, id))
	}
	if err != nil {
		return s.fail(fmt.Errorf("load session: %w", err))
	}

	s.mu.Lock()
	s.hydrate(sess)
	s.state = ReadOnly
	s.mu.Unlock()
	s.logger().Debug("session loaded read-only", zap.Int("messages", len(sess.Messages)))
	return nil
}

// Initialize resumes the active session or starts one from pending. With no
// active session and no pending selection the view is Active and unbound.
func (s *Session) Initialize(ctx context.Context, pending *Pending) (InitResult, error) {
	s.mu.Lock()
	s.reset(Loading)
	s.mu.Unlock()

	active, err := s.opts.Store.GetActive(ctx)
	if err != nil {
		return InitResult{}, s.fail(fmt.Errorf("get active session: %w", err))
	}

	var result InitResult
	switch {
	case active != nil:
		s.mu.Lock()
		s.hydrate(active)
		s.mu.Unlock()
		if pending != nil {
			result, err = s.appendPending(ctx, active.ID, pending)
		}
	case pending != nil:
		result, err = s.startFromPending(ctx, pending)
	}
	if err != nil {
		return InitResult{}, s.fail(err)
	}

	s.mu.Lock()
	s.state = Active
	if result.Draft != "" {
		s.draft = result.Draft
	}
	s.mu.Unlock()
	s.logger().Debug("session initialized",
		zap.Bool("resumed", active != nil),
		zap.Bool("consumed", result.Consumed),
		zap.Bool("duplicate", result.Duplicate),
	)
	return result, nil
}

func (s *Session) appendPending(ctx context.Context, id types.SessionID, p *Pending) (InitResult, error) {
	s.mu.Lock()
	for _, c := range s.contexts {
		if c.SameSource(p.Selection) {
			s.mu.Unlock()
			return InitResult{Consumed: true, Duplicate: true}, nil
		}
	}
	s.mu.Unlock()

	if err := s.addContext(ctx, id, p); err != nil {
		return InitResult{}, err
	}
	return InitResult{Consumed: true, Draft: DraftFor(p.Selection.SelectedText)}, nil
}

func (s *Session) startFromPending(ctx context.Context, p *Pending) (InitResult, error) {
	title := DeriveTitle(p.Selection.SelectedText)
	id, err := s.opts.Store.Create(ctx, title)
	if err != nil {
		return InitResult{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.addContext(ctx, id, p); err != nil {
		return InitResult{}, err
	}
	if err := s.opts.Store.SetActive(ctx, id); err != nil {
		return InitResult{}, fmt.Errorf("set active session: %w", err)
	}

	s.mu.Lock()
	s.id = id
	s.title = title
	s.mu.Unlock()
	return InitResult{Consumed: true, Draft: DraftFor(p.Selection.SelectedText)}, nil
}

// addContext persists the pending selection and appends it locally once
// the store has accepted it.
func (s *Session) addContext(ctx context.Context, id types.SessionID, p *Pending) error {
	hc := types.NewHighlightedContext(p.Selection, p.Document.Title)
	hc.SessionID = id
	ctxID, err := s.opts.Store.AddHighlightedContext(ctx, id, hc.DocumentID, hc.DocumentTitle, hc.PageNumber, hc.SelectedText, hc.TextCoordinates)
	if err != nil {
		return fmt.Errorf("add highlighted context: %w", err)
	}
	hc.ID = ctxID
	hc.CreatedAt = s.opts.Clock()

	s.mu.Lock()
	s.contexts = append(s.contexts, hc)
	s.mu.Unlock()
	return nil
}

// Start creates and binds a fresh session when an Active view has none.
// Callers racing an in-progress Start wait for it and get the same id.
func (s *Session) Start(ctx context.Context, title string) (types.SessionID, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return "", s.stateErr()
	}
	if s.id != "" {
		id := s.id
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	id, err := s.opts.Store.Create(ctx, title)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.title = title
	return id, nil
}

// stateErr maps a non-Active state to its error. Caller must hold mu.
func (s *Session) stateErr() error {
	if s.state == ReadOnly {
		return ErrReadOnly
	}
	return ErrNotReady
}

// End persists the end of the session and makes the view read-only.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Active {
		err := s.stateErr()
		s.mu.Unlock()
		return err
	}
	id := s.id
	s.mu.Unlock()
	if id == "" {
		return ErrNoSession
	}

	if err := s.opts.Store.End(ctx, id); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	s.mu.Lock()
	s.state = ReadOnly
	s.draft = ""
	s.mu.Unlock()
	s.logger().Info("session ended")
	return nil
}

// Close detaches the view. Streams still in flight keep persisting their
// replies but no longer update the view.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the view into the Error state.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) SessionID() types.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Messages returns a copy of the conversation in display order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Session) Contexts() []types.HighlightedContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.HighlightedContext(nil), s.contexts...)
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// TakeDraft returns the staged draft and clears it.
func (s *Session) TakeDraft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draft
	s.draft = ""
	return d
}

// Streaming reports whether an assistant reply is being received.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Loading reports whether a send is in progress.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
