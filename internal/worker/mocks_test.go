package worker_test

import (
	"context"
	"sync"
	"time"

	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/pipeline"
	"agenthub.app/bridge/internal/queue"
)

type fakeConsumer struct {
	mu       sync.Mutex
	batches  [][]queue.Message
	readErr  error
	acked    []string
	requeued []string
	dlq      []string
}

func (f *fakeConsumer) Read(context.Context) ([]queue.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeConsumer) Ack(_ context.Context, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msg.ID)
	return nil
}

func (f *fakeConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, msg.ID)
	return nil
}

func (f *fakeConsumer) SendDLQ(_ context.Context, msg queue.Message, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, msg.ID)
	return nil
}

func (f *fakeConsumer) snapshot() (acked, requeued, dlq []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.acked...), append([]string{}, f.requeued...), append([]string{}, f.dlq...)
}

type fakeProcessor struct {
	mu     sync.Mutex
	fn     func(queue.Message) error
	called []queue.Message
}

func (f *fakeProcessor) Process(_ context.Context, msg queue.Message) error {
	f.mu.Lock()
	f.called = append(f.called, msg)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(msg)
	}
	return nil
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.called)
}

type fakeHandler struct {
	result *pipeline.Result
	err    error
	msgs   []inbound.Message
	opts   []pipeline.Options
}

func (f *fakeHandler) Handle(_ context.Context, msg inbound.Message, opts pipeline.Options) (*pipeline.Result, error) {
	f.msgs = append(f.msgs, msg)
	f.opts = append(f.opts, opts)
	return f.result, f.err
}

type claimPage struct {
	msgs []queue.Message
	next string
	err  error
}

type fakeClaimer struct {
	mu      sync.Mutex
	pages   []claimPage
	cursors []string
	idle    []time.Duration
}

func (f *fakeClaimer) Claim(_ context.Context, _ string, minIdle time.Duration, cursor string, _ int64) ([]queue.Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	f.idle = append(f.idle, minIdle)
	if len(f.pages) == 0 {
		return nil, "0-0", nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page.msgs, page.next, page.err
}

func (f *fakeClaimer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cursors)
}
