// internal/state/message.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/folio/internal/types"
)

const messagesFile = "messages.jsonl"

func (s *FileStore) messagesPath(id types.SessionID) string {
	return filepath.Join(s.sessionDir(id), messagesFile)
}

// AddMessage appends a message to the session's JSONL log. The first user
// message becomes the session preview.
func (s *FileStore) AddMessage(_ context.Context, id types.SessionID, content string, sender types.SenderType) (types.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := types.StoredMessage{
		ID:        types.NewMessageID(),
		SessionID: id,
		Content:   content,
		Sender:    sender,
		CreatedAt: s.now(),
	}

	err := s.mutate(id, func(sess *types.Session) error {
		if err := writable(sess); err != nil {
			return err
		}
		if err := s.appendMessage(&msg); err != nil {
			return err
		}
		if sess.PreviewText == "" && sender == types.SenderUser {
			sess.PreviewText = preview(content)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (s *FileStore) appendMessage(msg *types.StoredMessage) error {
	path := s.messagesPath(msg.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readMessages returns the session's messages in append order.
func (s *FileStore) readMessages(id types.SessionID) ([]types.StoredMessage, error) {
	f, err := os.Open(s.messagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var messages []types.StoredMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg types.StoredMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return messages, nil
}
