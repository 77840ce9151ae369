package gateway

import (
	"context"
	"time"

	"github.com/user/folio/internal/chat"
	"github.com/user/folio/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one queued send of a user message into a session.
type Run struct {
	ID        types.RunID
	SessionID types.SessionID
	Ctx       context.Context
	View      *chat.Session
	Text      string
	OnChunk   chat.ChunkFunc
	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Reply     chat.Message
	Error     error

	done chan struct{}
}

// NewRun creates a Run in the Queued state sending text through view.
// The run keeps ctx's values but not its cancellation: once queued, a send
// completes and persists its reply even if the caller stops waiting.
func NewRun(ctx context.Context, view *chat.Session, text string, onChunk chat.ChunkFunc) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: view.SessionID(),
		Ctx:       context.WithoutCancel(ctx),
		View:      view,
		Text:      text,
		OnChunk:   onChunk,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (r *Run) start() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

// finish records the outcome and releases anyone waiting on the run.
func (r *Run) finish(reply chat.Message, err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Reply = reply
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusComplete
	}
	if r.done != nil {
		close(r.done)
	}
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (chat.Message, error) {
	select {
	case <-r.done:
		return r.Reply, r.Error
	case <-ctx.Done():
		return chat.Message{}, ctx.Err()
	}
}
