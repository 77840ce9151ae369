package chat

import (
	"errors"
	"time"

	"github.com/user/folio/internal/types"
)

var (
	// ErrNoSession is returned when an operation needs a bound session and none is.
	ErrNoSession = errors.New("no chat session is bound")
	// ErrReadOnly is returned when mutating a view of an ended session.
	ErrReadOnly = errors.New("chat session is read-only")
	// ErrSendInFlight is returned when a send starts while another is streaming.
	ErrSendInFlight = errors.New("a message is already being sent")
	// ErrSessionNotFound is returned by Load when the id does not resolve.
	ErrSessionNotFound = errors.New("chat session not found")
	// ErrNotReady is returned when the view has not been initialized or has failed.
	ErrNotReady = errors.New("chat session is not ready")
	// ErrAnalysisFailed wraps an unsuccessful analysis result.
	ErrAnalysisFailed = errors.New("analysis failed")
)

type State int

const (
	Uninitialized State = iota
	Loading
	Active
	ReadOnly
	Error
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Active:
		return "active"
	case ReadOnly:
		return "read_only"
	case Error:
		return "error"
	default:
		return "uninitialized"
	}
}

// MessageRef identifies a message either by a client-generated id, while
// its content is still being produced, or by the id the store assigned.
type MessageRef struct {
	id        string
	persisted bool
}

func Provisional(clientID string) MessageRef {
	return MessageRef{id: clientID}
}

func Persisted(id types.MessageID) MessageRef {
	return MessageRef{id: string(id), persisted: true}
}

func (r MessageRef) ID() string        { return r.id }
func (r MessageRef) IsPersisted() bool { return r.persisted }

// MessageID returns the store id, or false while the ref is provisional.
func (r MessageRef) MessageID() (types.MessageID, bool) {
	if !r.persisted {
		return "", false
	}
	return types.MessageID(r.id), true
}

func (r MessageRef) String() string {
	if r.persisted {
		return r.id
	}
	return "provisional:" + r.id
}

// Message is a chat message as held by a view.
type Message struct {
	Ref       MessageRef
	SessionID types.SessionID
	Content   string
	Sender    types.SenderType
	CreatedAt time.Time
	Streaming bool
	Complete  bool
}

func fromStored(m types.StoredMessage) Message {
	return Message{
		Ref:       Persisted(m.ID),
		SessionID: m.SessionID,
		Content:   m.Content,
		Sender:    m.Sender,
		CreatedAt: m.CreatedAt,
		Complete:  true,
	}
}
