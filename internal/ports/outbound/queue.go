package outbound

import "context"

// QueueMessage represents a message received from the refresh queue.
type QueueMessage struct {
	// MessageID is the unique ID of the message.
	MessageID string

	// ReceiptHandle is needed to delete the message after processing.
	ReceiptHandle string

	// Body is the raw message body (JSON).
	Body string
}

// QueueConsumer consumes refresh-request messages. Feed updates are
// permissionless, so anything able to enqueue a request can trigger an
// adapter refresh; policy changes stay behind the owner capability.
type QueueConsumer interface {
	// ReceiveMessages fetches up to maxMessages from the queue.
	// Returns an empty slice if no messages are available.
	ReceiveMessages(ctx context.Context, maxMessages int) ([]QueueMessage, error)

	// DeleteMessage removes a successfully processed message from the queue.
	DeleteMessage(ctx context.Context, receiptHandle string) error

	// Close closes the consumer and releases resources.
	Close() error
}
