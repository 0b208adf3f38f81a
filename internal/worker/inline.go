package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"agenthub.app/bridge/internal/queue"
)

var ErrClosed = errors.New("inline runner closed")

// Inline runs tasks in background goroutines of the current process. It
// stands in for the Redis producer when no stream is configured, so a task
// is lost if the process exits before it finishes.
type Inline struct {
	processor TaskProcessor

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewInline(processor TaskProcessor) *Inline {
	return &Inline{processor: processor}
}

// Enqueue starts the task and returns immediately. The task outlives ctx.
func (i *Inline) Enqueue(ctx context.Context, task queue.Task) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}

	taskType := task.TaskType
	if taskType == "" {
		taskType = queue.TaskTypeSalesbotReply
	}
	msg := queue.Message{
		TaskType: taskType,
		Inbound:  task.Message,
		Attempt:  1,
		TraceID:  task.TraceID,
	}

	bg := context.WithoutCancel(ctx)
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(bg, "panic recovered in inline task", "panic", r)
			}
		}()
		if err := i.processor.Process(bg, msg); err != nil {
			slog.ErrorContext(bg, "inline task failed", "error", err, "lead_id", msg.Inbound.LeadID)
		}
	}()
	return nil
}

// Close rejects new tasks and waits for running ones.
func (i *Inline) Close() error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	i.wg.Wait()
	return nil
}
