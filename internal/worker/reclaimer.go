package worker

import (
	"context"
	"log/slog"
	"time"

	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/internal/queue"
)

// Claimer hands over messages another consumer read but never acknowledged.
type Claimer interface {
	Claim(ctx context.Context, consumer string, minIdle time.Duration, cursor string, count int64) ([]queue.Message, string, error)
}

type ReclaimerConfig struct {
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
	// MaxBatches bounds one sweep so a large backlog cannot starve shutdown.
	MaxBatches int
}

// Reclaimer sweeps the pending list on an interval and feeds stale messages
// back through handle. A message goes stale when its worker died between
// XREADGROUP and XACK.
type Reclaimer struct {
	claimer Claimer
	handle  func(ctx context.Context, msg queue.Message) error
	cfg     ReclaimerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(claimer Claimer, handle func(ctx context.Context, msg queue.Message) error, cfg ReclaimerConfig) *Reclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Reclaimer{
		claimer:   claimer,
		handle:    handle,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run sweeps until ctx ends or Stop is called.
func (r *Reclaimer) Run(ctx context.Context) {
	defer close(r.stoppedCh)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "bridge.worker.reclaimer"})

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"consumer", r.cfg.Consumer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// Sweep walks the pending list once and returns how many messages it
// handed to handle.
func (r *Reclaimer) Sweep(ctx context.Context) int {
	cursor := "0-0"
	handled := 0
	for range r.cfg.MaxBatches {
		msgs, next, err := r.claimer.Claim(ctx, r.cfg.Consumer, r.cfg.MinIdle, cursor, r.cfg.BatchSize)
		if err != nil {
			slog.ErrorContext(ctx, "reclaim sweep failed", "error", err, "cursor", cursor)
			return handled
		}

		for _, msg := range msgs {
			streamID := msg.ID
			msgCtx := logger.WithLogFields(ctx, logger.LogFields{MessageID: &streamID})
			slog.InfoContext(msgCtx, "reclaiming stale message",
				"attempt", msg.Attempt,
				"task_type", msg.TaskType)
			// handle requeues or dead-letters on failure; the error is
			// already logged there.
			_ = r.handle(msgCtx, msg)
			handled++
		}

		if next == "" || next == "0-0" || ctx.Err() != nil {
			break
		}
		cursor = next
	}

	if handled > 0 {
		slog.InfoContext(ctx, "reclaim sweep finished", "reclaimed", handled)
	}
	return handled
}
