// internal/state/file.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/folio/internal/types"
)

// previewRunes bounds the preview text kept for history listings.
const previewRunes = 100

// FileStore is a JSON-file-backed session store.
// It keeps the session index in sessions/sessions.json, the active pointer in
// sessions/active.json and per-session data under sessions/<sessionID>/.
type FileStore struct {
	root string
	mu   sync.RWMutex
	now  func() time.Time
}

type activePointer struct {
	SessionID types.SessionID `json:"session_id"`
}

// NewFileStore creates a new file-backed store rooted at the given directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, now: time.Now}
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.sessionsDir(), "sessions.json")
}

func (s *FileStore) activePath() string {
	return filepath.Join(s.sessionsDir(), "active.json")
}

func (s *FileStore) sessionDir(id types.SessionID) string {
	return filepath.Join(s.sessionsDir(), string(id))
}

// writeJSON marshals v with indentation and writes it atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// loadIndex reads sessions.json in creation order.
func (s *FileStore) loadIndex() ([]*types.Session, error) {
	var sessions []*types.Session
	if err := readJSON(s.indexPath(), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *FileStore) saveIndex(index []*types.Session) error {
	return writeJSON(s.indexPath(), index)
}

func (s *FileStore) loadActive() (types.SessionID, error) {
	var p activePointer
	if err := readJSON(s.activePath(), &p); err != nil {
		return "", err
	}
	return p.SessionID, nil
}

func (s *FileStore) saveActive(id types.SessionID) error {
	if id == "" {
		if err := os.Remove(s.activePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear active session: %w", err)
		}
		return nil
	}
	return writeJSON(s.activePath(), activePointer{SessionID: id})
}

func find(index []*types.Session, id types.SessionID) *types.Session {
	for _, sess := range index {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// mutate loads the index, applies fn to the session with the given id and
// saves the index. Caller must hold the write lock.
func (s *FileStore) mutate(id types.SessionID, fn func(sess *types.Session) error) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	sess := find(index, id)
	if sess == nil {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.UpdatedAt = s.now()
	return s.saveIndex(index)
}

// GetActive returns the active session with its messages and contexts.
func (s *FileStore) GetActive(ctx context.Context) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.loadActive()
	if err != nil || id == "" {
		return nil, err
	}
	sess, err := s.get(id, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// Create stores a new session and makes it the active one.
func (s *FileStore) Create(_ context.Context, title string) (types.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}

	now := s.now()
	sess := &types.Session{
		ID:             types.NewSessionID(),
		Title:          title,
		AnalysisStatus: types.AnalysisNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	index = append(index, sess)
	if err := s.saveIndex(index); err != nil {
		return "", err
	}

	// Create session directory on demand
	if err := os.MkdirAll(s.sessionDir(sess.ID), 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	if err := s.saveActive(sess.ID); err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (s *FileStore) SetActive(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	sess := find(index, id)
	if sess == nil {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if sess.Ended() {
		return fmt.Errorf("session %s: %w", id, types.ErrSessionEnded)
	}
	return s.saveActive(id)
}

// End marks the session completed and clears the active pointer when it
// refers to this session. Ending twice keeps the first completion time.
func (s *FileStore) End(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.mutate(id, func(sess *types.Session) error {
		if sess.CompletedAt == nil {
			now := s.now()
			sess.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return err
	}

	active, err := s.loadActive()
	if err != nil {
		return err
	}
	if active == id {
		return s.saveActive("")
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id types.SessionID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active, err := s.loadActive()
	if err != nil {
		return nil, err
	}
	return s.get(id, active)
}

// get assembles a full session. Caller must hold the lock.
func (s *FileStore) get(id, active types.SessionID) (*types.Session, error) {
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	found := find(index, id)
	if found == nil {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	sess := *found
	sess.Active = id == active

	if sess.Messages, err = s.readMessages(id); err != nil {
		return nil, err
	}
	if sess.Contexts, err = s.readContexts(id); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *FileStore) Delete(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	kept := index[:0]
	found := false
	for _, sess := range index {
		if sess.ID == id {
			found = true
			continue
		}
		kept = append(kept, sess)
	}
	if !found {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err := s.saveIndex(kept); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}

	active, err := s.loadActive()
	if err != nil {
		return err
	}
	if active == id {
		return s.saveActive("")
	}
	return nil
}

// List returns ended sessions other than the active one, most recently
// updated first.
func (s *FileStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	active, err := s.loadActive()
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(index))
	for _, sess := range index {
		if sess.ID == active || sess.CompletedAt == nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Clear removes all messages and contexts from a session, keeping the
// session itself.
func (s *FileStore) Clear(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(id, func(sess *types.Session) error {
		for _, name := range []string{messagesFile, contextsFile} {
			if err := os.Remove(filepath.Join(s.sessionDir(id), name)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("clear %s: %w", name, err)
			}
		}
		sess.PreviewText = ""
		sess.SourceDocumentCount = 0
		return nil
	})
}

func (s *FileStore) UpdateTitle(_ context.Context, id types.SessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(id, func(sess *types.Session) error {
		sess.Title = title
		return nil
	})
}

func (s *FileStore) SetAnalysisStatus(_ context.Context, id types.SessionID, status types.AnalysisStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(id, func(sess *types.Session) error {
		sess.AnalysisStatus = status
		return nil
	})
}

func preview(content string) string {
	r := []rune(content)
	if len(r) > previewRunes {
		return string(r[:previewRunes])
	}
	return content
}

func writable(sess *types.Session) error {
	if sess.Ended() {
		return fmt.Errorf("session %s: %w", sess.ID, types.ErrSessionEnded)
	}
	return nil
}
