// Package gateway orchestrates the chat view for the reader: which session
// is shown, which selection is waiting to be discussed, and the ordered
// delivery of sends.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/notify"
	"github.com/user/folio/internal/types"
)

// OpenRequest describes the view to show. SessionID with ReadOnly opens a
// past session; otherwise the active session is resumed (or started from
// Selection).
type OpenRequest struct {
	Selection *types.TextSelection
	Document  *types.Document
	ReadOnly  bool
	SessionID types.SessionID
}

// OpenResult is the outcome of the one initialization run for a request key.
type OpenResult struct {
	View *chat.Session
	Init chat.InitResult
	Err  error
}

type openKey struct {
	selection types.SelectionID
	readOnly  bool
	session   types.SessionID
}

// Gateway owns the current chat view and the pending selection slot.
type Gateway struct {
	store    types.Store
	opts     chat.Options
	notifier *notify.Registry
	logger   *zap.Logger
	Queue    *Queue

	mu      sync.Mutex
	view    *chat.Session
	key     openKey
	opened  bool
	result  OpenResult
	pending *chat.Pending
}

// New creates a Gateway. opts is the template for every chat view; its Store
// is replaced by store. Sends run through a Queue allowing maxConcurrent
// parallel sends across sessions.
func New(store types.Store, opts chat.Options, notifier *notify.Registry, logger *zap.Logger, maxConcurrent ...int64) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	opts.Store = store
	if opts.Logger == nil {
		opts.Logger = logger
	}
	g := &Gateway{
		store:    store,
		opts:     opts,
		notifier: notifier,
		logger:   logger,
		Queue:    NewQueue(concurrency, logger),
	}
	g.Queue.SetProcessor(g.processRun)
	return g
}

// Start starts the send queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop stops the queue and waits for in-flight sends.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// Store returns the persistence boundary the gateway writes through.
func (g *Gateway) Store() types.Store {
	return g.store
}

// SetPendingSelection records a selection waiting to become a conversation.
func (g *Gateway) SetPendingSelection(sel types.TextSelection, doc types.Document) {
	g.mu.Lock()
	g.pending = &chat.Pending{Selection: sel, Document: doc}
	g.mu.Unlock()
	g.publish(notify.TopicSelection+"pending", notify.Info("Text selected", fmt.Sprintf("Page %d of %s is ready to discuss.", sel.PageNumber, doc.Title)))
}

// PendingSelection returns the waiting selection, if any.
func (g *Gateway) PendingSelection() (chat.Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return chat.Pending{}, false
	}
	return *g.pending, true
}

func (g *Gateway) clearPending() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
}

// View returns the current chat view, or nil before the first Open.
func (g *Gateway) View() *chat.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.view
}

// Open initializes the view for req. Initialization runs at most once per
// (selection, read-only, session) key: repeating a request returns the
// cached result. Opening a different key replaces and closes the previous
// view, so replies still streaming into it are no longer shown.
func (g *Gateway) Open(ctx context.Context, req OpenRequest) OpenResult {
	g.mu.Lock()
	var pending *chat.Pending
	if req.Selection != nil {
		doc := types.Document{ID: req.Selection.DocumentID}
		if req.Document != nil {
			doc = *req.Document
		}
		pending = &chat.Pending{Selection: *req.Selection, Document: doc}
	} else if g.pending != nil && !req.ReadOnly {
		p := *g.pending
		pending = &p
	}
	key := openKey{readOnly: req.ReadOnly, session: req.SessionID}
	if pending != nil {
		key.selection = pending.Selection.ID
	}
	if g.opened && g.key == key {
		res := g.result
		g.mu.Unlock()
		return res
	}

	prev := g.view
	view := chat.New(g.opts)
	g.view = view
	g.key = key
	g.opened = true
	g.result = OpenResult{View: view}
	g.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	res := OpenResult{View: view}
	if req.ReadOnly && req.SessionID != "" {
		res.Err = view.Load(ctx, req.SessionID)
		if res.Err != nil {
			g.publish(notify.TopicChat+"load", notify.Destructive("Error", "Failed to load chat session"))
		}
	} else {
		res.Init, res.Err = view.Initialize(ctx, pending)
		if res.Err != nil {
			g.publish(notify.TopicChat+"init", notify.Destructive("Error", "Failed to initialize chat session"))
		}
		if res.Init.Consumed {
			g.mu.Lock()
			if g.pending != nil && pending != nil && g.pending.Selection.ID == pending.Selection.ID {
				g.pending = nil
			}
			g.mu.Unlock()
		}
	}

	g.mu.Lock()
	if g.view == view {
		g.result = res
	}
	g.mu.Unlock()

	g.logger.Debug("chat view opened",
		zap.String("session_id", string(view.SessionID())),
		zap.String("state", view.State().String()),
		zap.Bool("consumed", res.Init.Consumed),
	)
	return res
}

// Focus returns a view bound to id: the current view when it already is,
// the resumed active session, or a read-only view of a past session.
func (g *Gateway) Focus(ctx context.Context, id types.SessionID) (*chat.Session, error) {
	if view := g.View(); view != nil && view.SessionID() == id && view.State() != chat.Error {
		return view, nil
	}
	active, err := g.store.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	var res OpenResult
	if active != nil && active.ID == id {
		res = g.Open(ctx, OpenRequest{})
	} else {
		res = g.Open(ctx, OpenRequest{SessionID: id, ReadOnly: true})
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.View, nil
}

// Send delivers text through the current view, creating the session on
// the first message when none is bound yet. Sends are serialized per
// session through the Queue.
func (g *Gateway) Send(ctx context.Context, text string, onChunk chat.ChunkFunc) (chat.Message, error) {
	view := g.View()
	if view == nil {
		res := g.Open(ctx, OpenRequest{})
		if res.Err != nil {
			return chat.Message{}, res.Err
		}
		view = res.View
	}

	if view.State() == chat.Active && view.SessionID() == "" {
		if _, err := view.Start(ctx, chat.DeriveTitle(text)); err != nil {
			g.publish(notify.TopicChat+"send", notify.Destructive("Error", "Failed to create chat session"))
			return chat.Message{}, err
		}
	}
	if view.State() != chat.Active {
		err := chat.ErrReadOnly
		if view.State() != chat.ReadOnly {
			err = chat.ErrNotReady
		}
		g.publish(notify.TopicChat+"send", notify.Error("Error", err))
		return chat.Message{}, err
	}

	run := NewRun(ctx, view, text, onChunk)
	if err := g.Queue.Enqueue(run); err != nil {
		g.publish(notify.TopicChat+"send", notify.Destructive("Error", "Failed to send message"))
		return chat.Message{}, err
	}
	reply, err := run.Wait(ctx)
	if err != nil {
		g.publish(notify.TopicChat+"send", notify.Destructive("Error", "Failed to send message"))
		return chat.Message{}, err
	}
	return reply, nil
}

func (g *Gateway) processRun(run *Run) (chat.Message, error) {
	return run.View.Send(run.Ctx, run.Text, run.OnChunk)
}

// End ends the current session and clears the pending selection. The next
// Open starts from a fresh initialization.
func (g *Gateway) End(ctx context.Context) error {
	view := g.View()
	if view == nil {
		return chat.ErrNoSession
	}
	if err := view.End(ctx); err != nil {
		g.publish(notify.TopicChat+"end", notify.Destructive("Error", "Failed to end chat session"))
		return err
	}
	g.mu.Lock()
	g.pending = nil
	g.opened = false
	g.mu.Unlock()
	g.publish(notify.TopicChat+"end", notify.Info("Session ended", "The chat session has been ended."))
	return nil
}

// Analyze runs concept analysis on the current view's session and clears
// the pending selection.
func (g *Gateway) Analyze(ctx context.Context, onProgress func(chat.Stage)) (int, error) {
	view := g.View()
	if view == nil {
		return 0, chat.ErrNoSession
	}
	g.clearPending()
	n, err := view.Analyze(ctx, onProgress)
	if err != nil {
		g.publish(notify.TopicAnalysis+"failed", notify.Error("Analysis Failed", err))
		return 0, err
	}
	g.publish(notify.TopicAnalysis+"complete", notify.Info("Analysis Complete", fmt.Sprintf("Extracted %d concepts from this conversation.", n)))
	return n, nil
}

func (g *Gateway) publish(topic string, n notify.Notification) {
	g.notifier.Publish(topic, n)
}
