// Package worker runs the per-task pipeline across a bounded pool of
// goroutines fed from a dispatch queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"example.com/asana-importer/internal/log"
	"example.com/asana-importer/internal/migrator"
	"example.com/asana-importer/internal/queue"
	"example.com/asana-importer/internal/store"
)

// Migrator is the per-task pipeline the pool drives; satisfied by
// *migrator.Orchestrator.
type Migrator interface {
	MigrateTask(ctx context.Context, id string) (*migrator.Result, error)
}

// Pool consumes task ids and processes each one fully in a worker slot.
// Task failures are not isolated: the first one cancels the whole run and
// the partial progress already marked on source tasks is the only thing
// preserved.
type Pool struct {
	m      Migrator
	q      queue.Client
	ledger store.Store
	size   int
}

func New(m Migrator, q queue.Client, ledger store.Store, size int) *Pool {
	return &Pool{m: m, q: q, ledger: ledger, size: size}
}

// Run blocks until every consumer stream is drained or a task fails, and
// returns the first failure.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		once   sync.Once
		runErr error
	)
	fail := func(err error) {
		once.Do(func() {
			runErr = err
			cancel()
		})
	}

	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := p.consume(ctx, idx); err != nil {
				fail(err)
			}
		}(i)
	}
	wg.Wait()
	return runErr
}

func (p *Pool) consume(ctx context.Context, idx int) error {
	msgs, err := p.q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("worker %d: consume: %w", idx, err)
	}
	log.Debug("worker started", "worker", idx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-msgs:
			if !ok {
				log.Debug("worker stopping, queue drained", "worker", idx)
				return nil
			}
			if err := p.process(ctx, id); err != nil {
				return err
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, id string) error {
	rec := &store.Record{AsanaTaskID: id, Status: store.StatusRunning}
	if _, err := p.ledger.CreateRecord(rec); err != nil {
		log.Warn("ledger create failed", "task", id, "error", err)
	}

	res, err := p.m.MigrateTask(ctx, id)
	if err != nil {
		rec.Status = store.StatusFailed
		rec.Error = err.Error()
		// tasks torn down by the run cancelling are not failures of their own
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			rec.Status = store.StatusAborted
			log.Debug("task aborted by run cancellation", "task", id)
		} else {
			log.Error("task failed, stopping run", "task", id, "error", err)
		}
		if uerr := p.ledger.UpdateRecord(rec); uerr != nil {
			log.Warn("ledger update failed", "task", id, "error", uerr)
		}
		return fmt.Errorf("task %s: %w", id, err)
	}

	rec.Status = store.Status(res.Status)
	if res.StoryID != 0 {
		rec.StoryID = fmt.Sprintf("%d", res.StoryID)
	}
	rec.StoryURL = res.StoryURL
	if err := p.ledger.UpdateRecord(rec); err != nil {
		log.Warn("ledger update failed", "task", id, "error", err)
	}
	return nil
}
