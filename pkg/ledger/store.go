package ledger

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// SQLStore persists nodes through database/sql. It works against both
// Postgres and SQLite by selecting the driver's placeholder style at
// construction.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// NewSQLStore wraps an open database handle. driver is the database/sql
// driver name the handle was opened with ("postgres" or "sqlite").
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, postgres: driver == "postgres"}
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS audit_nodes (
	sequence     BIGINT PRIMARY KEY,
	timestamp    TIMESTAMP NOT NULL,
	decision     TEXT NOT NULL,
	prev_hash    TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	node_hash    TEXT NOT NULL UNIQUE
);
`

// Init creates the audit table if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqlSchema)
	return err
}

func (s *SQLStore) placeholders(n int) string {
	if !s.postgres {
		q := "?"
		for i := 1; i < n; i++ {
			q += ", ?"
		}
		return q
	}
	q := "$1"
	for i := 2; i <= n; i++ {
		q += fmt.Sprintf(", $%d", i)
	}
	return q
}

func (s *SQLStore) AppendNode(ctx context.Context, n Node) error {
	payload, err := json.Marshal(n.Decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO audit_nodes (sequence, timestamp, decision, prev_hash, payload_hash, node_hash) VALUES (%s)`,
		s.placeholders(6))
	_, err = s.db.ExecContext(ctx, query,
		n.Sequence, n.Timestamp, string(payload), n.PrevHash, n.PayloadHash, n.NodeHash)
	return err
}

func (s *SQLStore) LoadNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, timestamp, decision, prev_hash, payload_hash, node_hash FROM audit_nodes ORDER BY sequence`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var nodes []Node
	for rows.Next() {
		var n Node
		var payload string
		if err := rows.Scan(&n.Sequence, &n.Timestamp, &payload, &n.PrevHash, &n.PayloadHash, &n.NodeHash); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &n.Decision); err != nil {
			return nil, fmt.Errorf("decode decision at sequence %d: %w", n.Sequence, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// FileStore persists nodes as one JSON document per line. Appends are
// flushed and synced before returning; the file is never rewritten.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens (or creates) a JSONL-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) AppendNode(ctx context.Context, n Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	line, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	return file.Sync()
}

func (f *FileStore) LoadNodes(ctx context.Context) ([]Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var nodes []Node
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var n Node
		if err := json.Unmarshal(scanner.Bytes(), &n); err != nil {
			return nil, fmt.Errorf("decode node at line %d: %w", len(nodes)+1, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, scanner.Err()
}
