// Package outbox is the durable queue for mutations made while the origin
// was unreachable. Records are written once, survive restarts, and are
// deleted only after confirmed delivery, which gives at-least-once
// semantics. Drain passes are idempotent and safe to run concurrently with
// new enqueues.
package outbox

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Logical queue names.
const (
	QueueContactForms   = "contact-forms"
	QueueBookings       = "bookings"
	QueueAIInteractions = "ai-interactions"
)

// Queues lists every known queue in drain order.
var Queues = []string{QueueContactForms, QueueBookings, QueueAIInteractions}

// UserFacing reports whether successful deliveries from the queue warrant a
// local notification. AI interaction telemetry is silent.
func UserFacing(queue string) bool {
	return queue != QueueAIInteractions
}

// Record is one persisted mutation awaiting delivery. Records are never
// mutated in place.
type Record struct {
	// ID is the creation timestamp in nanoseconds, adjusted to stay
	// strictly monotonic within one store.
	ID string `json:"id"`

	Queue string `json:"queue"`

	// Type is an optional payload classification, populated for AI
	// interactions.
	Type string `json:"type,omitempty"`

	Payload json.RawMessage `json:"data"`

	CreatedAt time.Time `json:"timestamp"`
}

// Store persists outbox records and the auxiliary cache metadata table.
type Store interface {
	// Enqueue persists a new record and returns it once the write is
	// durably committed.
	Enqueue(ctx context.Context, queue, recordType string, payload json.RawMessage) (Record, error)

	// List returns all records of a queue in insertion order.
	List(ctx context.Context, queue string) ([]Record, error)

	// Delete removes a delivered record. Deleting an absent record is a
	// no-op.
	Delete(ctx context.Context, id string) error

	// PutMetadata and GetMetadata access the per-URL cache metadata
	// collection.
	PutMetadata(ctx context.Context, url string, data json.RawMessage) error
	GetMetadata(ctx context.Context, url string) (json.RawMessage, bool, error)

	io.Closer
}
