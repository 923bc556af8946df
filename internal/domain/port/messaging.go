package port

import (
	"context"
	"fmt"
)

type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg []byte) error
}

type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg []byte) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}

// RetryError is returned by a message handler that wants its delivery
// requeued. Attempt is the ledger's count of runs so far, which the broker
// cannot track for plain requeues.
type RetryError struct {
	Attempt     int
	MaxAttempts int
	Reason      string
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retryable failure (attempt %d/%d): %s", e.Attempt, e.MaxAttempts, e.Reason)
}
