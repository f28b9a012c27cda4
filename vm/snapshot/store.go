package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested snapshot doesn't exist.
var ErrNotFound = errors.New("snapshot not found")

var log = commonlog.GetLogger("objimpl.snapshot")

// Store archives encoded snapshots in a SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Summary describes an archived snapshot without decoding it.
type Summary struct {
	ID      string
	HeapID  string
	Label   string
	Created time.Time
	Objects int
	Size    int
}

// Open opens (creating if needed) the snapshot database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id      TEXT PRIMARY KEY,
		heap_id TEXT NOT NULL,
		label   TEXT NOT NULL DEFAULT '',
		created INTEGER NOT NULL,
		objects INTEGER NOT NULL,
		data    BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (st *Store) Close() error {
	if st.db != nil {
		return st.db.Close()
	}
	return nil
}

// Save encodes and stores s, replacing any snapshot with the same ID.
func (st *Store) Save(ctx context.Context, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", s.ID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	_, err = st.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshots (id, heap_id, label, created, objects, data) VALUES (?, ?, ?, ?, ?, ?)",
		s.ID, s.HeapID, s.Label, s.Created, len(s.Objects), data,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", s.ID, err)
	}
	log.Infof("saved snapshot %s (%d objects, %d bytes) to %s", s.ID, len(s.Objects), len(data), st.dbPath)
	return nil
}

// Load retrieves and decodes a snapshot.
func (st *Store) Load(ctx context.Context, id string) (*Snapshot, error) {
	var data []byte
	err := st.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loading snapshot %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying snapshot %s: %w", id, err)
	}
	return Unmarshal(data)
}

// List returns summaries of all snapshots, oldest first.
func (st *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := st.db.QueryContext(ctx,
		"SELECT id, heap_id, label, created, objects, length(data) FROM snapshots ORDER BY created, id")
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var created int64
		if err := rows.Scan(&s.ID, &s.HeapID, &s.Label, &created, &s.Objects, &s.Size); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		s.Created = time.Unix(0, created)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a snapshot.
func (st *Store) Delete(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	res, err := st.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("deleting snapshot %s: %w", id, ErrNotFound)
	}
	return nil
}
