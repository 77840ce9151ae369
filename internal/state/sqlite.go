// internal/state/sqlite.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/folio/internal/geom"
	"github.com/user/folio/internal/types"
)

// SQLiteStore implements types.Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// In-memory databases are per connection.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			preview_text TEXT,
			analysis_status TEXT NOT NULL DEFAULT 'none',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at)`,
		`CREATE TABLE IF NOT EXISTS active_session (
			slot INTEGER PRIMARY KEY CHECK (slot = 1),
			session_id TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			chat_session_id TEXT NOT NULL,
			content TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (chat_session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(chat_session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS highlighted_contexts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			chat_session_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			document_title TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			selected_text TEXT NOT NULL,
			text_coordinates TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (chat_session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_highlighted_contexts_session ON highlighted_contexts(chat_session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS concepts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			chat_session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			confidence_score REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (chat_session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) activeID(ctx context.Context, q querier) (types.SessionID, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT session_id FROM active_session WHERE slot = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return types.SessionID(id), nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) GetActive(ctx context.Context) (*types.Session, error) {
	id, err := s.activeID(ctx, s.db)
	if err != nil || id == "" {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Create inserts a session and points the active slot at it.
func (s *SQLiteStore) Create(ctx context.Context, title string) (types.SessionID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := types.NewSessionID()
	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, title, analysis_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(id), title, string(types.AnalysisNone), now, now); err != nil {
		return "", fmt.Errorf("create chat session: %w", err)
	}
	if err := setActive(ctx, tx, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func setActive(ctx context.Context, tx *sql.Tx, id types.SessionID) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO active_session (slot, session_id) VALUES (1, ?)
		 ON CONFLICT(slot) DO UPDATE SET session_id = excluded.session_id`, string(id))
	if err != nil {
		return fmt.Errorf("set active session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetActive(ctx context.Context, id types.SessionID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkWritable(ctx, tx, id); err != nil {
		return err
	}
	if err := setActive(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// checkWritable returns ErrNotFound or ErrSessionEnded for sessions that
// cannot take new content.
func checkWritable(ctx context.Context, q querier, id types.SessionID) error {
	var completed sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT completed_at FROM chat_sessions WHERE id = ?`, string(id)).Scan(&completed)
	if err == sql.ErrNoRows {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if completed.Valid {
		return fmt.Errorf("session %s: %w", id, types.ErrSessionEnded)
	}
	return nil
}

func (s *SQLiteStore) End(ctx context.Context, id types.SessionID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET completed_at = COALESCE(completed_at, ?), updated_at = ? WHERE id = ?`,
		now, now, string(id))
	if err != nil {
		return fmt.Errorf("end chat session: %w", err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_session WHERE session_id = ?`, string(id)); err != nil {
		return fmt.Errorf("clear active session: %w", err)
	}
	return tx.Commit()
}

func requireAffected(res sql.Result, id types.SessionID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return nil
}

const sessionColumns = `cs.id, cs.title, cs.preview_text, cs.analysis_status, cs.created_at, cs.updated_at, cs.completed_at,
	(SELECT COUNT(DISTINCT document_id) FROM highlighted_contexts hc WHERE hc.chat_session_id = cs.id),
	EXISTS (SELECT 1 FROM active_session a WHERE a.session_id = cs.id)`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var (
		sess      types.Session
		id        string
		preview   sql.NullString
		status    string
		completed sql.NullTime
	)
	if err := row.Scan(&id, &sess.Title, &preview, &status, &sess.CreatedAt, &sess.UpdatedAt, &completed,
		&sess.SourceDocumentCount, &sess.Active); err != nil {
		return nil, err
	}
	sess.ID = types.SessionID(id)
	sess.PreviewText = preview.String
	sess.AnalysisStatus = types.AnalysisStatus(status)
	if completed.Valid {
		t := completed.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id types.SessionID) (*types.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions cs WHERE cs.id = ?`, string(id)))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat session: %w", err)
	}
	if sess.Messages, err = s.messages(ctx, id); err != nil {
		return nil, err
	}
	if sess.Contexts, err = s.contexts(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) messages(ctx context.Context, id types.SessionID) ([]types.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, sender_type, created_at FROM chat_messages WHERE chat_session_id = ? ORDER BY seq ASC`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []types.StoredMessage
	for rows.Next() {
		var msg types.StoredMessage
		var msgID, sender string
		if err := rows.Scan(&msgID, &msg.Content, &sender, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.ID = types.MessageID(msgID)
		msg.SessionID = id
		msg.Sender = types.SenderType(sender)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) contexts(ctx context.Context, id types.SessionID) ([]types.HighlightedContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, document_title, page_number, selected_text, text_coordinates, created_at
		 FROM highlighted_contexts WHERE chat_session_id = ? ORDER BY seq ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query highlighted contexts: %w", err)
	}
	defer rows.Close()

	var contexts []types.HighlightedContext
	for rows.Next() {
		var hc types.HighlightedContext
		var ctxID, docID string
		var coords sql.NullString
		if err := rows.Scan(&ctxID, &docID, &hc.DocumentTitle, &hc.PageNumber, &hc.SelectedText, &coords, &hc.CreatedAt); err != nil {
			return nil, err
		}
		hc.ID = types.ContextID(ctxID)
		hc.SessionID = id
		hc.DocumentID = types.DocumentID(docID)
		if coords.Valid {
			if err := json.Unmarshal([]byte(coords.String), &hc.TextCoordinates); err != nil {
				return nil, fmt.Errorf("unmarshal text coordinates: %w", err)
			}
		}
		contexts = append(contexts, hc)
	}
	return contexts, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id types.SessionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	return requireAffected(res, id)
}

// List returns ended sessions, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions cs
		 WHERE cs.completed_at IS NOT NULL
		   AND cs.id NOT IN (SELECT session_id FROM active_session)
		 ORDER BY cs.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*types.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context, id types.SessionID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET preview_text = NULL, updated_at = ? WHERE id = ?`, s.now(), string(id))
	if err != nil {
		return fmt.Errorf("clear chat session: %w", err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	for _, table := range []string{"chat_messages", "highlighted_contexts"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE chat_session_id = ?`, string(id)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateTitle(ctx context.Context, id types.SessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?`, title, s.now(), string(id))
	if err != nil {
		return fmt.Errorf("update chat session title: %w", err)
	}
	return requireAffected(res, id)
}

func (s *SQLiteStore) SetAnalysisStatus(ctx context.Context, id types.SessionID, status types.AnalysisStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET analysis_status = ?, updated_at = ? WHERE id = ?`, string(status), s.now(), string(id))
	if err != nil {
		return fmt.Errorf("update analysis status: %w", err)
	}
	return requireAffected(res, id)
}

func (s *SQLiteStore) AddHighlightedContext(ctx context.Context, id types.SessionID, documentID types.DocumentID, documentTitle string, pageNumber int, selectedText string, rects []geom.Rect) (types.ContextID, error) {
	coords, err := json.Marshal(rects)
	if err != nil {
		return "", fmt.Errorf("marshal text coordinates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkWritable(ctx, tx, id); err != nil {
		return "", err
	}
	ctxID := types.NewContextID()
	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO highlighted_contexts (id, chat_session_id, document_id, document_title, page_number, selected_text, text_coordinates, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ctxID), string(id), string(documentID), documentTitle, pageNumber, selectedText, string(coords), now); err != nil {
		return "", fmt.Errorf("insert highlighted context: %w", err)
	}
	if err := touch(ctx, tx, id, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return ctxID, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, id types.SessionID, content string, sender types.SenderType) (types.MessageID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkWritable(ctx, tx, id); err != nil {
		return "", err
	}
	msgID := types.NewMessageID()
	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, chat_session_id, content, sender_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(msgID), string(id), content, string(sender), now); err != nil {
		return "", fmt.Errorf("insert chat message: %w", err)
	}
	if sender == types.SenderUser {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_sessions SET preview_text = ? WHERE id = ? AND (preview_text IS NULL OR preview_text = '')`,
			preview(content), string(id)); err != nil {
			return "", fmt.Errorf("update preview: %w", err)
		}
	}
	if err := touch(ctx, tx, id, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return msgID, nil
}

func touch(ctx context.Context, tx *sql.Tx, id types.SessionID, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, now, string(id)); err != nil {
		return fmt.Errorf("touch chat session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveConcepts(ctx context.Context, id types.SessionID, concepts []types.Concept) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM chat_sessions WHERE id = ?`, string(id)).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return err
	}

	now := s.now()
	for _, c := range concepts {
		c = fillConcept(c, id, now)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO concepts (id, chat_session_id, name, description, confidence_score, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			string(c.ID), string(id), c.Name, c.Description, c.Confidence, c.CreatedAt); err != nil {
			return fmt.Errorf("insert concept: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListConcepts(ctx context.Context) ([]types.Concept, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_session_id, name, description, confidence_score, created_at FROM concepts ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	defer rows.Close()

	var concepts []types.Concept
	for rows.Next() {
		var c types.Concept
		var id, sessionID string
		var desc sql.NullString
		if err := rows.Scan(&id, &sessionID, &c.Name, &desc, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ID = types.ConceptID(id)
		c.SessionID = types.SessionID(sessionID)
		c.Description = desc.String
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}
