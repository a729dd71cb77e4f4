package queue

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueName returns the broker queue for one source project, so concurrent
// migrations of different projects never share a backlog.
func QueueName(projectID int64) string {
	return fmt.Sprintf("asana-import.%d", projectID)
}

// rabbitClient dispatches task ids through a durable per-project queue,
// letting one producer process and any number of worker processes share a
// run. Deliveries are persistent and acknowledged per task: ids survive a
// broker restart, and a killed worker's in-flight task is requeued.
type rabbitClient struct {
	conn *amqp.Connection
	name string

	mu  sync.Mutex
	pub *amqp.Channel
}

func NewRabbitClient(url, queueName string) (Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := pub.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	return &rabbitClient{conn: conn, name: queueName, pub: pub}, nil
}

// Publish enqueues one task id on the shared publisher channel. AMQP channels
// are not safe for concurrent use, so publishes are serialized.
func (r *rabbitClient) Publish(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pub.PublishWithContext(ctx,
		"", r.name, false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "text/plain",
			Body:         []byte(id),
		},
	)
}

// CloseSend is a no-op: the broker queue outlives the producer process, and
// workers consuming from it run until their context is cancelled.
func (r *rabbitClient) CloseSend() error { return nil }

func (r *rabbitClient) Consume(ctx context.Context) (<-chan string, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	// one unacked delivery per consumer: a slow task must not hoard ids
	// another worker process could be handling
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	msgs, err := ch.Consume(r.name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	out := make(chan string)
	go func() {
		defer ch.Close()
		defer close(out)
		for d := range msgs {
			select {
			case out <- string(d.Body):
				d.Ack(false)
			case <-ctx.Done():
				d.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

func (r *rabbitClient) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
