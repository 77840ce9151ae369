package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	ctxengine "github.com/user/folio/internal/context"
	"github.com/user/folio/internal/types"
	"github.com/user/folio/pkg/llm"
)

// ChunkFunc receives each streamed fragment and the reply accumulated so far.
type ChunkFunc func(delta, content string)

// Send persists text as a user message, streams the assistant reply and
// persists it. The returned message carries the persisted reply. On
// failure the user message stays in place and the placeholder is removed.
func (s *Session) Send(ctx context.Context, text string, onChunk ChunkFunc) (Message, error) {
	s.mu.Lock()
	if s.state != Active {
		err := s.stateErr()
		s.mu.Unlock()
		return Message{}, err
	}
	if s.id == "" {
		s.mu.Unlock()
		return Message{}, ErrNoSession
	}
	if s.inFlight {
		s.mu.Unlock()
		return Message{}, ErrSendInFlight
	}
	if s.opts.Completer == nil {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("send: no completer configured")
	}
	s.inFlight = true
	id := s.id
	history := make([]ctxengine.Turn, len(s.messages))
	for i, m := range s.messages {
		history[i] = ctxengine.Turn{Sender: m.Sender, Content: m.Content}
	}
	contexts := append([]types.HighlightedContext(nil), s.contexts...)
	s.mu.Unlock()

	log := s.logger()

	userID, err := s.opts.Store.AddMessage(ctx, id, text, types.SenderUser)
	if err != nil {
		s.finishSend("")
		return Message{}, fmt.Errorf("persist user message: %w", err)
	}

	now := s.opts.Clock()
	placeholder := Message{
		Ref:       Provisional(string(types.NewMessageID())),
		SessionID: id,
		Sender:    types.SenderAssistant,
		CreatedAt: now,
		Streaming: true,
	}
	s.mu.Lock()
	if !s.closed {
		s.messages = append(s.messages, Message{
			Ref:       Persisted(userID),
			SessionID: id,
			Content:   text,
			Sender:    types.SenderUser,
			CreatedAt: now,
			Complete:  true,
		}, placeholder)
		s.streaming = true
	}
	s.mu.Unlock()

	conversation := s.opts.Builder.Build(contexts, history, text)
	var content string
	full, err := llm.StreamText(ctx, s.opts.Completer, conversation, func(delta string) {
		content += delta
		s.update(placeholder.Ref, func(m *Message) { m.Content = content })
		if onChunk != nil {
			onChunk(delta, content)
		}
	})
	if err != nil {
		s.finishSend(placeholder.Ref.ID())
		log.Warn("assistant stream failed", zap.Error(err))
		return Message{}, fmt.Errorf("stream reply: %w", err)
	}

	assistantID, err := s.opts.Store.AddMessage(ctx, id, full, types.SenderAssistant)
	if err != nil {
		s.finishSend(placeholder.Ref.ID())
		return Message{}, fmt.Errorf("persist assistant message: %w", err)
	}

	reply := placeholder
	reply.Ref = Persisted(assistantID)
	reply.Content = full
	reply.Streaming = false
	reply.Complete = true
	s.update(placeholder.Ref, func(m *Message) { *m = reply })
	s.finishSend("")

	log.Debug("assistant reply persisted",
		zap.String("message_id", string(assistantID)),
		zap.Int("chars", len(full)),
	)
	return reply, nil
}

// update applies fn to the message with ref unless the view was closed.
func (s *Session) update(ref MessageRef, fn func(m *Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.messages {
		if s.messages[i].Ref == ref {
			fn(&s.messages[i])
			return
		}
	}
}

// finishSend clears the in-flight flags and drops the provisional message
// with the given client id, if any.
func (s *Session) finishSend(dropID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.streaming = false
	if dropID == "" || s.closed {
		return
	}
	ref := Provisional(dropID)
	for i := range s.messages {
		if s.messages[i].Ref == ref {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}
