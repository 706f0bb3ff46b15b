package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// BootRecord is one persisted engine snapshot.
type BootRecord struct {
	ID        string
	Session   string
	Tariff    string
	Timeslot  int
	Record    string
	CreatedAt time.Time
}

// SQLiteStore persists boot records to a SQLite database. Each store
// instance writes under its own session ID so that snapshots from different
// simulation runs stay distinguishable.
type SQLiteStore struct {
	db      *sql.DB
	session string
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS boot_records (
        id TEXT PRIMARY KEY,
        session TEXT,
        tariff TEXT,
        timeslot INTEGER,
        record TEXT,
        created_at INTEGER
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db, session: uuid.NewString()}, nil
}

// Session returns the session ID snapshots are written under.
func (s *SQLiteStore) Session() string {
	return s.session
}

// SaveRecord stores one snapshot. It implements sim.SnapshotStore.
func (s *SQLiteStore) SaveRecord(tariff string, timeslot int, record string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO boot_records (id, session, tariff, timeslot, record, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.session, tariff, timeslot, record, time.Now().Unix())
	return err
}

// Latest returns the most recent snapshot for the tariff across all
// sessions, or sql.ErrNoRows if none exists.
func (s *SQLiteStore) Latest(ctx context.Context, tariff string) (BootRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session, tariff, timeslot, record, created_at FROM boot_records
         WHERE tariff = ? ORDER BY created_at DESC, timeslot DESC LIMIT 1`, tariff)
	return scanRecord(row)
}

// List returns the snapshots of one session ordered by timeslot.
func (s *SQLiteStore) List(ctx context.Context, session string) ([]BootRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session, tariff, timeslot, record, created_at FROM boot_records
         WHERE session = ? ORDER BY timeslot, tariff`, session)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []BootRecord
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Sessions returns all known session IDs, most recent first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session FROM boot_records GROUP BY session ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (BootRecord, error) {
	return scanRow(row)
}

func scanRow(sc scanner) (BootRecord, error) {
	var rec BootRecord
	var created int64
	if err := sc.Scan(&rec.ID, &rec.Session, &rec.Tariff, &rec.Timeslot, &rec.Record, &created); err != nil {
		return BootRecord{}, err
	}
	rec.CreatedAt = time.Unix(created, 0)
	return rec, nil
}
