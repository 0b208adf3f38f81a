package handler_test

import (
	"context"
	"sync"

	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/kommo"
	"agenthub.app/bridge/internal/model"
	"agenthub.app/bridge/internal/pipeline"
)

type mockTurns struct {
	mu       sync.Mutex
	handleFn func(ctx context.Context, msg inbound.Message, opts pipeline.Options) (*pipeline.Result, error)
	messages []inbound.Message
	options  []pipeline.Options
}

func (m *mockTurns) Handle(ctx context.Context, msg inbound.Message, opts pipeline.Options) (*pipeline.Result, error) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.options = append(m.options, opts)
	m.mu.Unlock()
	if m.handleFn != nil {
		return m.handleFn(ctx, msg, opts)
	}
	return &pipeline.Result{Status: pipeline.StatusSuccess, Reply: "hola", Key: "kommo:lead:1"}, nil
}

type mockKommo struct {
	upsertFn func(ctx context.Context, in kommo.LeadInput) (*kommo.UpsertResult, error)
	noteFn   func(ctx context.Context, leadID int64, text string) error
	attachFn func(ctx context.Context, in kommo.TranscriptInput) (*kommo.TranscriptResult, error)
}

func (m *mockKommo) UpsertLead(ctx context.Context, in kommo.LeadInput) (*kommo.UpsertResult, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, in)
	}
	return &kommo.UpsertResult{}, nil
}

func (m *mockKommo) AddLeadNote(ctx context.Context, leadID int64, text string) error {
	if m.noteFn != nil {
		return m.noteFn(ctx, leadID, text)
	}
	return nil
}

func (m *mockKommo) AttachTranscript(ctx context.Context, in kommo.TranscriptInput) (*kommo.TranscriptResult, error) {
	if m.attachFn != nil {
		return m.attachFn(ctx, in)
	}
	return &kommo.TranscriptResult{Chunks: 1}, nil
}

type mockTranscripts struct {
	entries []model.TranscriptEntry
	err     error
}

func (m *mockTranscripts) Backend() string { return "memory" }

func (m *mockTranscripts) Append(_ context.Context, entries ...model.TranscriptEntry) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockTranscripts) ForConversation(context.Context, string, int) ([]model.TranscriptEntry, error) {
	return m.entries, m.err
}

func (m *mockTranscripts) ForLead(context.Context, int64, int) ([]model.TranscriptEntry, error) {
	return m.entries, m.err
}
