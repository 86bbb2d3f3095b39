// Package queue carries call IDs from ingestion to the worker pool.
// Delivery is at-least-once: processing claims calls atomically, so a
// duplicate delivery is a cheap no-op.
package queue

import "context"

// Queue enqueues call IDs for processing and delivers them to a consumer.
type Queue interface {
	// Enqueue submits a call ID. It blocks only when the backend applies
	// backpressure, and then honors ctx cancellation.
	Enqueue(ctx context.Context, callID string) error

	// Dequeue returns the channel of incoming call IDs. The channel
	// closes when the queue shuts down.
	Dequeue() <-chan string

	Close()
}
