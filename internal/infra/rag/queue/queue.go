// Package queue implements the Job Queue port (spec component, backing
// asynchronous document processing dispatch), grounded on
// the teacher's Valkey and immediate queue adapters.
package queue

import (
	"context"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

// HandlerQueue supports setting a handler for job delivery, letting the
// Process-Document Worker subscribe without the queue knowing its shape.
type HandlerQueue interface {
	domain.JobQueue
	SetHandler(handler Handler)
}

// Handler executes a dequeued job by name with its decoded payload.
type Handler func(ctx context.Context, name string, payload map[string]any)

// ImmediateQueue calls the handler asynchronously (in a new goroutine) on
// enqueue, for local dev and tests with no Valkey/Redis available.
type ImmediateQueue struct {
	handler Handler
}

// NewImmediateQueue constructs the queue.
func NewImmediateQueue(handler Handler) *ImmediateQueue {
	return &ImmediateQueue{handler: handler}
}

// SetHandler replaces the handler used for queued jobs.
func (q *ImmediateQueue) SetHandler(handler Handler) {
	q.handler = handler
}

// Enqueue invokes the handler asynchronously.
func (q *ImmediateQueue) Enqueue(ctx context.Context, name string, payload any) error {
	typed, ok := payload.(map[string]any)
	if !ok {
		typed = map[string]any{}
	}
	if q.handler == nil {
		return nil
	}
	go q.handler(ctx, name, typed)
	return nil
}

var _ domain.JobQueue = (*ImmediateQueue)(nil)
var _ HandlerQueue = (*ImmediateQueue)(nil)
