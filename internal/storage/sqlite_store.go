package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	metaLastFile = "last_schedule_file"
	metaLastHash = "last_schedule_hash"
)

// SQLiteStore keeps the state in a SQLite database. Update replaces the
// stored state inside one transaction.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection: the watcher and chat handlers must not see each
	// other's half-applied transactions, and :memory: is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) Snapshot() (*model.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadState(s.db)
}

func (s *SQLiteStore) Update(fn func(*model.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	state, err := loadState(tx)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	if err := writeState(tx, state); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

func loadState(q querier) (*model.State, error) {
	state := model.NewState()

	rows, err := q.Query("SELECT chat_id, grp, notifications FROM chats")
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ChatID, &sub.Group, &sub.Notifications); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		state.Chats[sub.ChatID] = sub
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = q.Query("SELECT grp, schedule FROM baselines")
	if err != nil {
		return nil, fmt.Errorf("querying baselines: %w", err)
	}
	for rows.Next() {
		var group, raw string
		if err := rows.Scan(&group, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning baseline: %w", err)
		}
		var sched model.Schedule
		if err := json.Unmarshal([]byte(raw), &sched); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding baseline for %q: %w", group, err)
		}
		state.Baselines[group] = sched
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = q.Query("SELECT key, value FROM meta WHERE key IN (?, ?)", metaLastFile, metaLastHash)
	if err != nil {
		return nil, fmt.Errorf("querying meta: %w", err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning meta: %w", err)
		}
		v := value
		switch key {
		case metaLastFile:
			state.LastFile = &v
		case metaLastHash:
			state.LastHash = &v
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	return state, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterating rows: %w", err)
	}
	return rows.Close()
}

func writeState(q querier, state *model.State) error {
	if _, err := q.Exec("DELETE FROM chats"); err != nil {
		return fmt.Errorf("clearing chats: %w", err)
	}
	for id, sub := range state.Chats {
		if _, err := q.Exec("INSERT INTO chats (chat_id, grp, notifications) VALUES (?, ?, ?)",
			id, sub.Group, sub.Notifications); err != nil {
			return fmt.Errorf("inserting chat %d: %w", id, err)
		}
	}

	if _, err := q.Exec("DELETE FROM baselines"); err != nil {
		return fmt.Errorf("clearing baselines: %w", err)
	}
	for group, sched := range state.Baselines {
		raw, err := json.Marshal(sched)
		if err != nil {
			return fmt.Errorf("encoding baseline for %q: %w", group, err)
		}
		if _, err := q.Exec("INSERT INTO baselines (grp, schedule) VALUES (?, ?)", group, string(raw)); err != nil {
			return fmt.Errorf("inserting baseline for %q: %w", group, err)
		}
	}

	for key, value := range map[string]*string{metaLastFile: state.LastFile, metaLastHash: state.LastHash} {
		if value == nil {
			if _, err := q.Exec("DELETE FROM meta WHERE key = ?", key); err != nil {
				return fmt.Errorf("clearing %s: %w", key, err)
			}
			continue
		}
		if _, err := q.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, *value); err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}
	return nil
}
