// Package knowledge provides the SQLite-backed financial knowledge
// base and conversation history used to ground advisory prompts.
package knowledge

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// queryLimit bounds how many ranked snippets one query can return.
// Callers apply their own (smaller) caps on top.
const queryLimit = 50

// Store provides access to snippets and conversation turns.
type Store struct {
	db   *sql.DB
	path string
}

// Snippet is a stored knowledge entry, ranked by relevance.
type Snippet struct {
	ID          int64
	Title       string
	Content     string
	Category    string
	Subcategory string
	Tags        string
	Relevance   float64
	CreatedAt   time.Time
}

// Turn is one stored conversation message.
type Turn struct {
	Role      string // user, assistant
	Content   string
	CreatedAt time.Time
}

// Stats holds store counts.
type Stats struct {
	Snippets int
	Turns    int
}

// Open opens (or creates) the knowledge database at the given path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping knowledge db: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	stats := s.Stats()
	slog.Info("knowledge store opened", "path", path, "snippets", stats.Snippets)

	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snippets (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			title           TEXT NOT NULL,
			content         TEXT NOT NULL,
			category        TEXT NOT NULL DEFAULT '',
			subcategory     TEXT NOT NULL DEFAULT '',
			tags            TEXT NOT NULL DEFAULT '',
			relevance_score REAL NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create snippets table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create turns table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, id)`)
	if err != nil {
		return fmt.Errorf("create turns index: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Stats returns table counts.
func (s *Store) Stats() Stats {
	var st Stats
	s.db.QueryRow("SELECT COUNT(*) FROM snippets").Scan(&st.Snippets)
	s.db.QueryRow("SELECT COUNT(*) FROM turns").Scan(&st.Turns)
	return st
}

// --- Snippet Operations ---

// AddSnippet stores a new knowledge entry.
func (s *Store) AddSnippet(ctx context.Context, sn Snippet) (int64, error) {
	now := time.Now().UTC().Format("2006-01-02 15:04:05")

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO snippets (title, content, category, subcategory, tags, relevance_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sn.Title, sn.Content, sn.Category, sn.Subcategory, sn.Tags, sn.Relevance, now,
	)
	if err != nil {
		return 0, fmt.Errorf("add snippet: %w", err)
	}

	id, _ := result.LastInsertId()
	return id, nil
}

// Query returns snippets matching any of the given patterns as a
// substring of title, content, or tags, ordered by relevance score
// descending (ties by insertion order).
func (s *Store) Query(ctx context.Context, patterns []string) ([]Snippet, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	var conditions []string
	var args []interface{}
	for _, p := range patterns {
		like := "%" + p + "%"
		conditions = append(conditions, `(title LIKE ? OR content LIKE ? OR tags LIKE ?)`)
		args = append(args, like, like, like)
	}

	query := `SELECT id, title, content, category, subcategory, tags, relevance_score, created_at
		FROM snippets
		WHERE ` + strings.Join(conditions, " OR ") + `
		ORDER BY relevance_score DESC, id ASC
		LIMIT ` + fmt.Sprintf("%d", queryLimit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snippets: %w", err)
	}
	defer rows.Close()

	return scanSnippets(rows)
}

// SnippetsByIDs fetches full snippets for a list of ids, preserving
// the input order.
func (s *Store) SnippetsByIDs(ctx context.Context, ids []int64) ([]Snippet, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := `SELECT id, title, content, category, subcategory, tags, relevance_score, created_at
		FROM snippets WHERE id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("snippets by ids: %w", err)
	}
	defer rows.Close()

	found, err := scanSnippets(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Snippet, len(found))
	for _, sn := range found {
		byID[sn.ID] = sn
	}
	ordered := make([]Snippet, 0, len(found))
	for _, id := range ids {
		if sn, ok := byID[id]; ok {
			ordered = append(ordered, sn)
		}
	}
	return ordered, nil
}

// SnippetRef is a lightweight reference for embedding sync.
type SnippetRef struct {
	ID          int64
	ContentHash string // MD5 of title+content for staleness detection
}

// AllSnippetRefs returns all snippet ids with content hashes. Used by
// the embedding sync worker to detect un-embedded or stale snippets.
func (s *Store) AllSnippetRefs(ctx context.Context) ([]SnippetRef, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, content FROM snippets")
	if err != nil {
		return nil, fmt.Errorf("snippet refs: %w", err)
	}
	defer rows.Close()

	var refs []SnippetRef
	for rows.Next() {
		var id int64
		var title, content string
		if err := rows.Scan(&id, &title, &content); err != nil {
			return nil, fmt.Errorf("scan snippet ref: %w", err)
		}
		refs = append(refs, SnippetRef{
			ID:          id,
			ContentHash: fmt.Sprintf("%x", md5.Sum([]byte(title+"\n"+content))),
		})
	}
	return refs, rows.Err()
}

// --- Conversation Operations ---

// AppendTurn stores one conversation message.
func (s *Store) AppendTurn(ctx context.Context, conversationID, role, content string) error {
	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, role, content, now,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last limit turns of a conversation, oldest
// of the retained window first.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM turns
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.Role, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// --- Helpers ---

func scanSnippets(rows *sql.Rows) ([]Snippet, error) {
	var snippets []Snippet
	for rows.Next() {
		var sn Snippet
		var createdAt string
		err := rows.Scan(&sn.ID, &sn.Title, &sn.Content, &sn.Category,
			&sn.Subcategory, &sn.Tags, &sn.Relevance, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		sn.CreatedAt = parseTime(createdAt)
		snippets = append(snippets, sn)
	}
	return snippets, rows.Err()
}

// parseTime parses a datetime string from SQLite, handling the formats
// different writers use.
func parseTime(s string) time.Time {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
