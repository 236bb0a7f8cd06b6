// Package memory provides an in-process queue implementing the
// imagepipeline Consumer and Forwarder contracts, with explicit
// ack/nack redelivery for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

// Queue is an unbounded in-memory queue. A received message stays in flight
// until acked or nacked; nack puts it back at the front so it redelivers on
// the next Receive, mirroring a zeroed visibility timeout.
type Queue struct {
	mu       sync.Mutex
	pending  []imagepipeline.Message
	inflight map[string]imagepipeline.Message
	batch    int
	seq      int
}

// New creates a queue delivering at most batch messages per Receive.
func New(batch int) *Queue {
	if batch <= 0 {
		batch = 10
	}
	return &Queue{
		inflight: make(map[string]imagepipeline.Message),
		batch:    batch,
	}
}

// Forward enqueues an item.
func (q *Queue) Forward(ctx context.Context, item imagepipeline.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	id := fmt.Sprintf("msg-%d", q.seq)
	q.pending = append(q.pending, imagepipeline.Message{
		ID:            id,
		ReceiptHandle: id,
		Item:          item,
	})
	return nil
}

// Receive returns the next batch without blocking. An empty queue returns an
// empty batch, never an error.
func (q *Queue) Receive(ctx context.Context) ([]imagepipeline.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if n > q.batch {
		n = q.batch
	}
	msgs := make([]imagepipeline.Message, n)
	copy(msgs, q.pending[:n])
	q.pending = q.pending[n:]
	for _, msg := range msgs {
		q.inflight[msg.ReceiptHandle] = msg
	}
	return msgs, nil
}

// Ack removes the message permanently.
func (q *Queue) Ack(ctx context.Context, msg imagepipeline.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, msg.ReceiptHandle)
	return nil
}

// Nack returns the message to the front of the queue.
func (q *Queue) Nack(ctx context.Context, msg imagepipeline.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	inflight, ok := q.inflight[msg.ReceiptHandle]
	if !ok {
		return nil
	}
	delete(q.inflight, msg.ReceiptHandle)
	q.pending = append([]imagepipeline.Message{inflight}, q.pending...)
	return nil
}

// Len reports how many messages are waiting for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Inflight reports how many received messages are neither acked nor nacked.
func (q *Queue) Inflight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
