package store

import (
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DBStore implements the ledger on database/sql. The schema uses types
// accepted by both MySQL and sqlite, so one implementation serves both.
type DBStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed ledger. DSN format is the one accepted
// by github.com/go-sql-driver/mysql, e.g. user:pass@tcp(127.0.0.1:3306)/db.
// parseTime must be enabled for timestamp scanning.
func NewMySQLStore(dsn string) (*DBStore, error) {
	return openDB("mysql", dsn)
}

// NewSQLiteStore opens a sqlite-backed ledger at the given path, for runs
// without a database server.
func NewSQLiteStore(path string) (*DBStore, error) {
	return openDB("sqlite3", path)
}

func openDB(driver, dsn string) (*DBStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &DBStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DBStore) ensureSchema() error {
	schema := `CREATE TABLE IF NOT EXISTS migrations (
  id VARCHAR(36) PRIMARY KEY,
  asana_task_id VARCHAR(100) NOT NULL,
  status VARCHAR(20) NOT NULL,
  story_id VARCHAR(100),
  story_url TEXT,
  error TEXT,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *DBStore) CreateRecord(r *Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = StatusRunning
	}
	_, err := s.db.Exec(
		`INSERT INTO migrations (id, asana_task_id, status, story_id, story_url, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AsanaTaskID, string(r.Status), r.StoryID, r.StoryURL, r.Error, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *DBStore) UpdateRecord(r *Record) error {
	r.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE migrations SET asana_task_id=?, status=?, story_id=?, story_url=?, error=?, updated_at=? WHERE id = ?`,
		r.AsanaTaskID, string(r.Status), r.StoryID, r.StoryURL, r.Error, r.UpdatedAt, r.ID)
	return err
}

func (s *DBStore) GetRecord(id string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT id, asana_task_id, status, story_id, story_url, error, created_at, updated_at FROM migrations WHERE id = ?`, id)
	return scanRecord(row.Scan)
}

func (s *DBStore) ListRecords() ([]*Record, error) {
	rows, err := s.db.Query(
		`SELECT id, asana_task_id, status, story_id, story_url, error, created_at, updated_at FROM migrations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DBStore) Close() error { return s.db.Close() }

func scanRecord(scan func(...any) error) (*Record, error) {
	var (
		r        Record
		storyID  sql.NullString
		storyURL sql.NullString
		errStr   sql.NullString
	)
	if err := scan(&r.ID, &r.AsanaTaskID, (*string)(&r.Status), &storyID, &storyURL, &errStr, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.StoryID = storyID.String
	r.StoryURL = storyURL.String
	r.Error = errStr.String
	return &r, nil
}
