package pipeline_test

import (
	"context"
	"sync"
	"time"

	"agenthub.app/bridge/common/llm"
	"agenthub.app/bridge/internal/delivery"
	"agenthub.app/bridge/internal/model"
)

// fakeThreads answers every run with a completed status unless runStatus says
// otherwise.
type fakeThreads struct {
	mu        sync.Mutex
	runStatus string
	reply     string
	delay     time.Duration

	threadsCreated int
	runs           int
	messages       []string
}

func (f *fakeThreads) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadsCreated++
	return "thread_1", nil
}

func (f *fakeThreads) AddUserMessage(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeThreads) CreateRun(context.Context, string, string) (*llm.Run, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &llm.Run{ID: "run_1", Status: llm.RunQueued}, nil
}

func (f *fakeThreads) GetRun(context.Context, string, string) (*llm.Run, error) {
	status := f.runStatus
	if status == "" {
		status = llm.RunCompleted
	}
	return &llm.Run{ID: "run_1", Status: status, LastError: "server_error"}, nil
}

func (f *fakeThreads) CancelRun(context.Context, string, string) error { return nil }

func (f *fakeThreads) LatestAssistantText(context.Context, string, string) (string, error) {
	return f.reply, nil
}

func (f *fakeThreads) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeDeliverer struct {
	mu      sync.Mutex
	err     error
	targets []delivery.Target
	sent    []delivery.Outgoing
}

func (f *fakeDeliverer) Deliver(_ context.Context, t delivery.Target, out delivery.Outgoing) (*delivery.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, t)
	f.sent = append(f.sent, out)
	if f.err != nil {
		return &delivery.Receipt{}, f.err
	}
	return &delivery.Receipt{Mechanism: delivery.MechanismNote}, nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeLookup struct {
	text  string
	calls int
}

func (f *fakeLookup) AwaitLatestMessage(_ context.Context, _ int64, _ int, _ time.Duration, accept func(string) bool) (string, error) {
	f.calls++
	if accept != nil && !accept(f.text) {
		return "", nil
	}
	return f.text, nil
}

type memoryTranscripts struct {
	mu      sync.Mutex
	entries []model.TranscriptEntry
}

func (m *memoryTranscripts) Backend() string { return "memory" }

func (m *memoryTranscripts) Append(_ context.Context, entries ...model.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memoryTranscripts) ForConversation(_ context.Context, key string, _ int) ([]model.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TranscriptEntry
	for _, e := range m.entries {
		if e.ConversationKey == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryTranscripts) ForLead(_ context.Context, leadID int64, _ int) ([]model.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TranscriptEntry
	for _, e := range m.entries {
		if e.LeadID != nil && *e.LeadID == leadID {
			out = append(out, e)
		}
	}
	return out, nil
}
