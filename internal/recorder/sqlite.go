package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists refresh history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the service writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS refresh_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			day       TEXT NOT NULL,
			outcome   TEXT NOT NULL,
			detail    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_ts ON refresh_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS day_snapshots (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			day            TEXT NOT NULL,
			granularity    TEXT,
			interval_count INTEGER,
			min_price      REAL,
			max_price      REAL,
			avg_price      REAL,
			published_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshot_ts ON day_snapshots(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshot_day ON day_snapshots(day)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRefresh(evt *RefreshEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO refresh_events (timestamp, day, outcome, detail)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), evt.Day, evt.Outcome, evt.Detail,
	)
	return err
}

func (r *SQLiteRecorder) RecordDay(snap *DaySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var published any
	if snap.PublishedAt != nil {
		published = snap.PublishedAt.Unix()
	}
	_, err := r.db.Exec(`INSERT INTO day_snapshots
		(timestamp, day, granularity, interval_count, min_price, max_price, avg_price, published_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), snap.Day, snap.Granularity, snap.IntervalCount,
		snap.MinPrice, snap.MaxPrice, snap.AvgPrice, published,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
