package worker

import (
	"context"

	"agenthub.app/bridge/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// TaskProcessor runs one dequeued task. A returned error means the task may
// be retried.
type TaskProcessor interface {
	Process(ctx context.Context, msg queue.Message) error
}
