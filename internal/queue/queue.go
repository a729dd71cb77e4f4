// Package queue fans task ids out to the worker pool. The default in-memory
// client runs producer and workers in one process; the RabbitMQ client lets
// a run be split across processes.
package queue

import (
	"context"
	"sync"
)

// Client dispatches task ids from one producer to many consumers. Each
// published id is delivered to exactly one consumer.
type Client interface {
	Publish(ctx context.Context, id string) error
	// CloseSend signals that no more ids will be published. In-process
	// consumers drain the backlog and their channels close; for a broker
	// shared with other producers this is a no-op and consumers run until
	// their context is cancelled.
	CloseSend() error
	Consume(ctx context.Context) (<-chan string, error)
	Close() error
}

type memoryClient struct {
	ch   chan string
	once sync.Once
}

// NewMemoryClient returns an in-process Client with the given backlog size.
func NewMemoryClient(buffer int) Client {
	return &memoryClient{ch: make(chan string, buffer)}
}

func (m *memoryClient) Publish(ctx context.Context, id string) error {
	select {
	case m.ch <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memoryClient) CloseSend() error {
	m.once.Do(func() { close(m.ch) })
	return nil
}

func (m *memoryClient) Consume(ctx context.Context) (<-chan string, error) {
	out := make(chan string)
	go func() {
		defer close(out)
		for id := range m.ch {
			select {
			case out <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *memoryClient) Close() error {
	m.once.Do(func() { close(m.ch) })
	return nil
}
