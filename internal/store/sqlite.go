// Package store implements the SQLite-backed StorageBackend the
// retrieval core depends on, plus the full CRUD surface the ingestion CLI
// needs beyond the core's three read methods.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/liliang-cn/memo/internal/retrieval"
)

// SQLiteStore is a memories table backed by SQLite, opened in WAL mode for
// concurrent readers.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
	mu        sync.RWMutex
	closed    bool
}

// Open opens (creating if absent) the database at path and ensures the
// memories table exists at the given embedding dimension.
func Open(ctx context.Context, path string, dimension int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=cache_size(-2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	s := &SQLiteStore{db: db, dimension: dimension}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		vector BLOB NOT NULL,
		source_file TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) Dimension() int { return s.dimension }

// Count returns the total number of stored memories.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n)
	return n, err
}

// Exists reports whether a memory with the given id is stored.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE id = ?", id).Scan(&n)
	return n > 0, err
}

// Insert stores a new memory, assigning an id and timestamps if absent.
func (s *SQLiteStore) Insert(ctx context.Context, m *retrieval.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(m.Vector) != s.dimension {
		return retrievalDimErr(len(m.Vector), s.dimension)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = now
	}

	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return err
	}
	vecBytes, err := encodeVector(m.Vector)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, tags, vector, source_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(tagsJSON), vecBytes, m.SourceFile, m.CreatedAt, m.UpdatedAt)
	return err
}

// InsertBatch inserts multiple memories inside one transaction.
func (s *SQLiteStore) InsertBatch(ctx context.Context, memories []*retrieval.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memories (id, content, tags, vector, source_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	for _, m := range memories {
		if len(m.Vector) != s.dimension {
			return retrievalDimErr(len(m.Vector), s.dimension)
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt == 0 {
			m.CreatedAt = now
		}
		if m.UpdatedAt == 0 {
			m.UpdatedAt = now
		}
		tagsJSON, err := json.Marshal(m.Tags)
		if err != nil {
			return err
		}
		vecBytes, err := encodeVector(m.Vector)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.Content, string(tagsJSON), vecBytes, m.SourceFile, m.CreatedAt, m.UpdatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SearchByVector implements retrieval.StorageBackend: approximate nearest
// neighbors by L2 distance converted to similarity as 1 - distance/2,
// descending by score, limited and threshold-filtered.
func (s *SQLiteStore) SearchByVector(ctx context.Context, vector []float32, limit int, threshold float64, tr *retrieval.TimeRange) ([]retrieval.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(vector) != s.dimension {
		return nil, retrievalDimErr(len(vector), s.dimension)
	}

	query, args := "SELECT id, content, tags, vector, updated_at FROM memories", []any{}
	if tr != nil {
		var clauses []string
		if tr.After != nil {
			clauses = append(clauses, "updated_at >= ?")
			args = append(args, *tr.After)
		}
		if tr.Before != nil {
			clauses = append(clauses, "updated_at <= ?")
			args = append(args, *tr.Before)
		}
		for i, c := range clauses {
			if i == 0 {
				query += " WHERE " + c
			} else {
				query += " AND " + c
			}
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		r     retrieval.QueryResult
		score float64
	}
	var candidates []scored

	for rows.Next() {
		var id, content, tagsJSON string
		var vecBytes []byte
		var updatedAt int64
		if err := rows.Scan(&id, &content, &tagsJSON, &vecBytes, &updatedAt); err != nil {
			return nil, err
		}
		vec, err := decodeVector(vecBytes)
		if err != nil {
			continue
		}
		dist := l2Distance(vector, vec)
		score := 1 - dist/2
		if score < threshold {
			continue
		}
		var tags []string
		_ = json.Unmarshal([]byte(tagsJSON), &tags)

		sc := score
		candidates = append(candidates, scored{
			r: retrieval.QueryResult{
				ID: id, Content: content, Tags: tags, UpdatedAt: updatedAt,
				Score: &sc, ScoreType: retrieval.ScoreVector,
			},
			score: score,
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]retrieval.QueryResult, len(candidates))
	for i, c := range candidates {
		out[i] = c.r
	}
	return out, nil
}

// FindMemoryByID returns the full record, including vector and tags, or
// nil if absent.
func (s *SQLiteStore) FindMemoryByID(ctx context.Context, id string) (*retrieval.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m retrieval.Memory
	var tagsJSON string
	var vecBytes []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, content, tags, vector, source_file, created_at, updated_at
		FROM memories WHERE id = ?`, id).
		Scan(&m.ID, &m.Content, &tagsJSON, &vecBytes, &m.SourceFile, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	m.Vector, err = decodeVector(vecBytes)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindByID is an alias kept for the ingestion CLI, which operates on
// plain Memory records the way FindMemoryByID does for the core.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*retrieval.Memory, error) {
	return s.FindMemoryByID(ctx, id)
}

// List returns up to limit memories, newest updated_at first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]retrieval.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, tags, vector, source_file, created_at, updated_at
		FROM memories ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []retrieval.Memory
	for rows.Next() {
		var m retrieval.Memory
		var tagsJSON string
		var vecBytes []byte
		if err := rows.Scan(&m.ID, &m.Content, &tagsJSON, &vecBytes, &m.SourceFile, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
		m.Vector, _ = decodeVector(vecBytes)
		out = append(out, m)
	}
	return out, nil
}

// Update replaces content, tags and vector for an existing memory.
func (s *SQLiteStore) Update(ctx context.Context, m *retrieval.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(m.Vector) != s.dimension {
		return retrievalDimErr(len(m.Vector), s.dimension)
	}
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return err
	}
	vecBytes, err := encodeVector(m.Vector)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC().UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET content = ?, tags = ?, vector = ?, source_file = ?, updated_at = ?
		WHERE id = ?`, m.Content, string(tagsJSON), vecBytes, m.SourceFile, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("memory not found: %s", m.ID)
	}
	return nil
}

// Delete removes a memory by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	return err
}

// Clear removes every memory.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM memories")
	return err
}

func retrievalDimErr(got, want int) error {
	return retrieval.NewError("store", retrieval.KindDimensionMismatch,
		fmt.Errorf("vector dimension mismatch: got %d, want %d", got, want))
}
