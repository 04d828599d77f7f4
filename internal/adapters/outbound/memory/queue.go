package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

// Compile-time check that QueueConsumer implements the port
var _ outbound.QueueConsumer = (*QueueConsumer)(nil)

// QueueConsumer is an in-memory implementation of outbound.QueueConsumer.
// Used when no SQS queue is configured; Enqueue feeds it locally.
type QueueConsumer struct {
	mu       sync.Mutex
	pending  []outbound.QueueMessage
	inFlight map[string]struct{}
	nextID   int
	closed   bool
}

// NewQueueConsumer creates a new in-memory queue consumer.
func NewQueueConsumer() *QueueConsumer {
	return &QueueConsumer{
		inFlight: make(map[string]struct{}),
	}
}

// Enqueue adds a message body to the queue.
func (q *QueueConsumer) Enqueue(body string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.nextID++
	id := strconv.Itoa(q.nextID)
	q.pending = append(q.pending, outbound.QueueMessage{
		MessageID:     id,
		ReceiptHandle: "rh-" + id,
		Body:          body,
	})
}

// ReceiveMessages returns up to maxMessages pending messages. Messages stay
// in flight until deleted, mirroring SQS visibility semantics loosely.
func (q *QueueConsumer) ReceiveMessages(ctx context.Context, maxMessages int) ([]outbound.QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if maxMessages < 1 {
		maxMessages = 1
	}
	n := min(maxMessages, len(q.pending))
	out := make([]outbound.QueueMessage, n)
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	for _, msg := range out {
		q.inFlight[msg.ReceiptHandle] = struct{}{}
	}
	return out, nil
}

// DeleteMessage acknowledges a message.
func (q *QueueConsumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, receiptHandle)
	return nil
}

// Close closes the consumer.
func (q *QueueConsumer) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
	return nil
}
