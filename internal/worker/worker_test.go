package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"example.com/asana-importer/internal/migrator"
	"example.com/asana-importer/internal/queue"
	"example.com/asana-importer/internal/store"
)

type fakeMigrator struct {
	mu     sync.Mutex
	seen   []string
	failOn string
}

func (f *fakeMigrator) MigrateTask(ctx context.Context, id string) (*migrator.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, id)
	f.mu.Unlock()
	if id == f.failOn {
		return nil, errors.New("boom")
	}
	return &migrator.Result{Status: migrator.StatusMigrated, StoryID: 7, StoryURL: "https://app.clubhouse.io/story/7"}, nil
}

type fakeLedger struct {
	mu   sync.Mutex
	recs map[string]*store.Record
}

func newFakeLedger() *fakeLedger { return &fakeLedger{recs: make(map[string]*store.Record)} }

func (f *fakeLedger) CreateRecord(r *store.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == "" {
		r.ID = "rec-" + r.AsanaTaskID
	}
	cp := *r
	f.recs[r.ID] = &cp
	return r.ID, nil
}

func (f *fakeLedger) UpdateRecord(r *store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.recs[r.ID] = &cp
	return nil
}

func (f *fakeLedger) GetRecord(id string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeLedger) ListRecords() ([]*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Record, 0, len(f.recs))
	for _, r := range f.recs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeLedger) Close() error { return nil }

func TestPoolDrainsQueue(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryClient(16)
	m := &fakeMigrator{}
	ledger := newFakeLedger()

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Publish(ctx, id); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	q.CloseSend()

	if err := New(m, q, ledger, 2).Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(m.seen) != 3 {
		t.Fatalf("expected 3 tasks processed, got %v", m.seen)
	}

	recs, _ := ledger.ListRecords()
	if len(recs) != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Status != store.StatusMigrated || r.StoryID != "7" {
			t.Fatalf("unexpected ledger row: %+v", r)
		}
	}
}

func TestPoolAbortsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryClient(16)
	m := &fakeMigrator{failOn: "2"}
	ledger := newFakeLedger()

	for _, id := range []string{"1", "2", "3"} {
		if err := q.Publish(ctx, id); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	q.CloseSend()

	err := New(m, q, ledger, 1).Run(ctx)
	if err == nil {
		t.Fatalf("expected run failure")
	}
	if !strings.Contains(err.Error(), "task 2") {
		t.Fatalf("unexpected error: %v", err)
	}
	// the failing task is the last one processed on a single worker
	if len(m.seen) != 2 {
		t.Fatalf("run should stop at first failure, saw %v", m.seen)
	}

	rec, err := ledger.GetRecord("rec-2")
	if err != nil {
		t.Fatalf("ledger row for failed task: %v", err)
	}
	if rec.Status != store.StatusFailed || rec.Error == "" {
		t.Fatalf("failure not recorded: %+v", rec)
	}
}

// cancelledMigrator simulates a task torn down by the run's context.
type cancelledMigrator struct{}

func (cancelledMigrator) MigrateTask(ctx context.Context, id string) (*migrator.Result, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("fetch task %s: %w", id, ctx.Err())
}

func TestProcessRecordsAbortedOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ledger := newFakeLedger()
	p := New(cancelledMigrator{}, queue.NewMemoryClient(1), ledger, 1)

	if err := p.process(ctx, "9"); err == nil {
		t.Fatalf("expected cancellation error")
	}

	rec, err := ledger.GetRecord("rec-9")
	if err != nil {
		t.Fatalf("ledger row for aborted task: %v", err)
	}
	if rec.Status != store.StatusAborted {
		t.Fatalf("cancelled task recorded as %s, want %s", rec.Status, store.StatusAborted)
	}
	if rec.Error == "" {
		t.Fatalf("aborted row should keep the cancellation cause")
	}
}
