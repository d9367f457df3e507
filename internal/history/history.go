// Package history persists conversation turns in SQLite, keyed by thread id.
// If the database cannot be opened the store degrades to in-memory storage so
// a broken disk never takes chat down; continuity across restarts is lost in
// that mode.
package history

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/chatgate/chatgate/internal/logger"
)

// Store is a thread-keyed conversation store.
type Store struct {
	db *sql.DB

	mu  sync.Mutex
	mem []Message
}

// Open opens (or creates) the SQLite database at the given DSN. On failure it
// logs a warning and returns a memory-only store.
func Open(dsn string) *Store {
	db, err := sql.Open("sqlite", "file:"+dsn+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		logger.L.Warn("sqlite open failed; using in-memory history", "dsn", dsn, "error", err)
		return NewMemory()
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);`); err != nil {
		logger.L.Warn("sqlite schema init failed; using in-memory history", "error", err)
		if cerr := db.Close(); cerr != nil {
			logger.L.Warn("sqlite close after schema failure", "error", cerr)
		}
		return NewMemory()
	}
	logger.L.Info("history store ready", "dsn", dsn)
	return &Store{db: db}
}

// NewMemory returns a store that keeps messages only in process memory.
func NewMemory() *Store {
	return &Store{}
}

// Append persists one message.
func (s *Store) Append(ctx context.Context, msg Message) error {
	if s.db != nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (thread_id, role, content, created_at) VALUES (?,?,?,?);`,
			msg.ThreadID, msg.Role, msg.Content, msg.CreatedAt)
		if err != nil {
			logger.L.Error("failed to store message; keeping in-memory copy only", "thread_id", msg.ThreadID, "error", err)
		} else {
			return nil
		}
	}
	s.mu.Lock()
	s.mem = append(s.mem, msg)
	s.mu.Unlock()
	return nil
}

// List returns all messages of a thread in chronological order.
func (s *Store) List(ctx context.Context, threadID string) ([]Message, error) {
	if s.db != nil {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, thread_id, role, content, created_at FROM messages WHERE thread_id = ? ORDER BY id ASC;`,
			threadID)
		if err == nil {
			defer rows.Close()
			var out []Message
			for rows.Next() {
				var m Message
				if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
					return nil, err
				}
				out = append(out, m)
			}
			return out, rows.Err()
		}
		logger.L.Error("history query failed; falling back to memory", "thread_id", threadID, "error", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.mem {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
