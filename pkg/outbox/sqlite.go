package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox_records (
	id         TEXT PRIMARY KEY,
	queue      TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_queue_created ON outbox_records(queue, created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_type ON outbox_records(type);
CREATE TABLE IF NOT EXISTS cache_metadata (
	url        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStore is the durable Store implementation. WAL mode keeps enqueues
// from a request handler and a concurrent drain pass from blocking each
// other.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.Mutex
	lastID int64
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("outbox path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping outbox db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init outbox schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nextID returns the current UnixNano, bumped when the clock did not move
// between two enqueues so IDs stay unique and ordered.
func (s *SQLiteStore) nextID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := now.UnixNano()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

func (s *SQLiteStore) Enqueue(ctx context.Context, queue, recordType string, payload json.RawMessage) (Record, error) {
	if strings.TrimSpace(queue) == "" {
		return Record{}, fmt.Errorf("queue name is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	now := time.Now().UTC()
	rec := Record{
		ID:        s.nextID(now),
		Queue:     queue,
		Type:      recordType,
		Payload:   payload,
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO outbox_records (id, queue, type, payload, created_at)
VALUES (?, ?, ?, ?, ?)
`, rec.ID, rec.Queue, rec.Type, []byte(rec.Payload), rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("enqueue record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, queue string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, queue, type, payload, created_at
FROM outbox_records
WHERE queue = ?
ORDER BY created_at ASC, id ASC
`, queue)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var payload []byte
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Queue, &rec.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutMetadata(ctx context.Context, url string, data json.RawMessage) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("metadata url is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache_metadata (url, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT(url) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
`, url, []byte(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMetadata(ctx context.Context, url string) (json.RawMessage, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM cache_metadata WHERE url = ?`, url).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get metadata: %w", err)
	}
	return json.RawMessage(data), true, nil
}

var _ Store = (*SQLiteStore)(nil)
