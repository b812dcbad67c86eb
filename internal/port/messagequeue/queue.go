// Package messagequeue defines the message queue port (interface) and
// the per-agent subject layout.
package messagequeue

import (
	"context"
	"fmt"
	"time"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/agent"
)

// Handler processes a message received from the queue. delivery is the
// broker's 1-based delivery count for this message, so a handler can
// apply an attempt ceiling without carrying its own counter in the
// payload.
//
// A nil return acknowledges the message. Returning a RetryAfterError
// negatively acknowledges it with the embedded delay, so the broker
// redelivers after the backoff. Any other error negatively acknowledges
// for immediate redelivery.
type Handler func(ctx context.Context, subject string, data []byte, delivery int) error

// RetryAfterError asks the queue to redeliver the message after Delay.
type RetryAfterError struct {
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.Delay)
}

// RetryAfter wraps a redelivery delay as a handler error.
func RetryAfter(d time.Duration) error {
	return &RetryAfterError{Delay: d}
}

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler on the given subject. durable names
	// the consumer so multiple workers can share one queue. The
	// returned function cancels the subscription.
	Subscribe(ctx context.Context, subject, durable string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject layout. One named task subject per agent queue, established at
// startup from the registry, plus a results subject for monitoring.
const (
	subjectTaskPrefix = "agents.tasks."

	// SubjectTaskWildcard matches every agent task subject.
	SubjectTaskWildcard = "agents.tasks.>"

	// SubjectResults carries terminal task results for monitoring.
	SubjectResults = "agents.results"
)

// TaskSubject returns the dispatch subject for an agent definition.
func TaskSubject(def agent.Definition) string {
	return subjectTaskPrefix + def.Queue
}
