package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dataanalyst/internal/logging"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is a persisted conversation.
type Session struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	TurnCount int
	History   History
}

// Store persists sessions in a SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// OpenStore creates or opens the session database at path.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.SessionDebug("session store opened at %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		parts_json TEXT,
		PRIMARY KEY (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create starts an empty session.
func (s *Store) Create(ctx context.Context, title string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logging.Session("created session %s (%q)", sess.ID, title)
	return sess, nil
}

// Load returns a session with its full history.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	sess, err := s.header(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, parts_json FROM turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	history := History{}
	for rows.Next() {
		var (
			role, text string
			partsJSON  sql.NullString
		)
		if err := rows.Scan(&role, &text, &partsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn := Turn{Role: Role(role), Text: text}
		if partsJSON.Valid && partsJSON.String != "" {
			if err := json.Unmarshal([]byte(partsJSON.String), &turn.Parts); err != nil {
				return nil, fmt.Errorf("corrupt parts for session %s: %w", id, err)
			}
		}
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sess.History = history
	sess.TurnCount = len(history)
	return sess, nil
}

// Save replaces the stored history of a session in one transaction.
func (s *Store) Save(ctx context.Context, id string, history History) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (session_id, seq, role, text, parts_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, turn := range history {
		var parts sql.NullString
		if turn.IsMultimodal() {
			data, err := json.Marshal(turn.Parts)
			if err != nil {
				return fmt.Errorf("failed to encode parts: %w", err)
			}
			parts = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, id, i, string(turn.Role), turn.Text, parts); err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	logging.SessionDebug("saved %d turns to session %s", len(history), id)
	return nil
}

// List returns all sessions, most recently updated first. History is not
// loaded; TurnCount is.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess             Session
			created, updated int64
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated, &sess.TurnCount); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(0, created).UTC()
		sess.UpdatedAt = time.Unix(0, updated).UTC()
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Delete removes a session and its turns.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Session("deleted session %s", id)
	return nil
}

func (s *Store) header(ctx context.Context, id string) (*Session, error) {
	var (
		sess             = &Session{ID: id}
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT title, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.UpdatedAt = time.Unix(0, updated).UTC()
	return sess, nil
}
