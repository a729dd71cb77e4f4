// Package store is the optional migration ledger: one row per processed
// task, for auditing a run after the fact. The ledger is never consulted for
// idempotency; the moved tag on the source task is the only marker that
// decides whether a task is migrated again.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("record not found")

type Status string

const (
	StatusRunning   Status = "running"
	StatusSkipped   Status = "skipped"
	StatusPreviewed Status = "previewed"
	StatusMigrated  Status = "migrated"
	StatusFailed    Status = "failed"
	// StatusAborted marks a task cancelled because the run stopped, as
	// opposed to a failure of the task itself.
	StatusAborted Status = "aborted"
)

// Record is one task's ledger row.
type Record struct {
	ID          string
	AsanaTaskID string
	Status      Status
	StoryID     string
	StoryURL    string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Store interface {
	CreateRecord(r *Record) (string, error)
	UpdateRecord(r *Record) error
	GetRecord(id string) (*Record, error)
	ListRecords() ([]*Record, error)
	Close() error
}

// Open returns a ledger for the given DSN: "mysql://<dsn>" for MySQL,
// "sqlite://<path>" for a local file, empty for the disabled no-op ledger.
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NopStore{}, nil
	case strings.HasPrefix(dsn, "mysql://"):
		return NewMySQLStore(strings.TrimPrefix(dsn, "mysql://"))
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported ledger dsn %q", dsn)
	}
}

// NopStore is the disabled ledger.
type NopStore struct{}

func (NopStore) CreateRecord(r *Record) (string, error) { return r.ID, nil }
func (NopStore) UpdateRecord(*Record) error             { return nil }
func (NopStore) GetRecord(string) (*Record, error)      { return nil, ErrNotFound }
func (NopStore) ListRecords() ([]*Record, error)        { return nil, nil }
func (NopStore) Close() error                           { return nil }
