// Package service assembles the bridge's components from configuration.
// The HTTP server and the Salesbot worker build the same pipeline here.
package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub.app/bridge/common/llm"
	"agenthub.app/bridge/common/retry"
	"agenthub.app/bridge/core/config"
	"agenthub.app/bridge/core/db"
	"agenthub.app/bridge/internal/assistant"
	"agenthub.app/bridge/internal/delivery"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/kommo"
	"agenthub.app/bridge/internal/pipeline"
	"agenthub.app/bridge/internal/session"
	"agenthub.app/bridge/internal/store"
)

const (
	sessionKeyPrefix    = "bridge:"
	transcriptKeyPrefix = "bridge:transcript:"
	transcriptMaxLen    = 400
)

type ServicesConfig struct {
	Config config.Config
	// DB and Redis are optional. Without Redis sessions live in process
	// memory; without either, transcripts are not kept.
	DB    *db.DB
	Redis *redis.Client
}

type Services struct {
	cfg         config.Config
	kommo       *kommo.Client
	amojo       *kommo.AmojoClient
	sessions    *session.Store
	transcripts store.TranscriptStore
	invoker     assistant.Invoker
	deliverer   *delivery.Deliverer
	pipeline    *pipeline.Pipeline
}

func NewServices(sc ServicesConfig) (*Services, error) {
	cfg := sc.Config
	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay}

	s := &Services{cfg: cfg}

	s.kommo = kommo.NewClient(retry.NewHTTPClient(policy, cfg.Kommo.RequestTimeout), kommo.Config{
		BaseURL:     cfg.Kommo.BaseURL,
		Subdomain:   cfg.Kommo.Subdomain,
		AccessToken: cfg.Kommo.AccessToken,
	})
	s.amojo = kommo.NewAmojoClient(retry.NewHTTPClient(policy, cfg.Kommo.RequestTimeout), kommo.AmojoConfig{
		BaseURL:       cfg.Amojo.BaseURL,
		ScopeID:       cfg.Amojo.ScopeID,
		ChannelSecret: cfg.Amojo.ChannelSecret,
		SenderID:      cfg.Amojo.SenderID,
		SenderName:    cfg.Amojo.SenderName,
	})

	kv, err := newKV(sc.Redis, cfg.Session.MemoryCacheSize)
	if err != nil {
		return nil, err
	}
	s.sessions = session.NewStore(kv, session.StoreConfig{
		SessionTTL:   cfg.Session.SessionTTL,
		ProcessedTTL: cfg.Session.ProcessedTTL,
		SystemPrompt: cfg.OpenAI.SystemPrompt,
	})

	storeOpts := store.Options{
		DB:         sc.DB,
		Prefix:     transcriptKeyPrefix,
		MaxEntries: transcriptMaxLen,
		TTL:        cfg.Session.SessionTTL,
	}
	if sc.Redis != nil {
		storeOpts.Redis = sc.Redis
	}
	s.transcripts = store.NewTranscriptStore(storeOpts)

	s.invoker, err = s.newInvoker(policy)
	if err != nil {
		return nil, err
	}

	// A nil *AmojoClient inside the interface would defeat the deliverer's
	// nil check.
	var amojo delivery.Amojo
	if cfg.Amojo.Enabled() {
		amojo = s.amojo
	}
	s.deliverer = delivery.New(s.kommo, amojo, delivery.Config{
		SalesbotHandler: cfg.Kommo.SalesbotHandler,
		AuditNotes:      cfg.Kommo.AuditNotes,
	})

	var lookup pipeline.MessageLookup
	if cfg.Kommo.Enabled() {
		lookup = s.kommo
	}

	s.pipeline = pipeline.New(pipeline.Deps{
		Filter: inbound.NewFilter(cfg.Session.DefaultInbound, cfg.Session.OutboundAuthorTypes),
		Gate: session.NewGate(s.sessions, session.GateConfig{
			HistoryPairs:       cfg.Session.HistoryPairs,
			LockTTL:            cfg.Session.LockTTL,
			DuplicateWindow:    cfg.Session.DuplicateWindow,
			ReplyThrottle:      cfg.Session.ReplyThrottle,
			ProcessingDeadline: cfg.Session.ProcessingDeadline,
		}),
		Invoker:     s.invoker,
		Deliverer:   s.deliverer,
		Transcripts: s.transcripts,
		Lookup:      lookup,
	}, pipeline.Config{
		FallbackReply:  cfg.Assistant.FallbackReply,
		EmptyReply:     cfg.Assistant.EmptyReply,
		InvokeTimeout:  cfg.Assistant.InvokeTimeout,
		LookupAttempts: cfg.Kommo.LookupAttempts,
		LookupInterval: cfg.Kommo.LookupInterval,
	})

	slog.Info("services initialized",
		"assistant", s.invoker.Name(),
		"sessions", sessionBackend(sc.Redis),
		"transcripts", s.transcripts.Backend(),
		"kommo", cfg.Kommo.Enabled(),
		"amojo", cfg.Amojo.Enabled())

	return s, nil
}

func (s *Services) Pipeline() *pipeline.Pipeline { return s.pipeline }

func (s *Services) Kommo() *kommo.Client { return s.kommo }

func (s *Services) Transcripts() store.TranscriptStore { return s.transcripts }

func newKV(client *redis.Client, cacheSize int) (session.KV, error) {
	if client != nil {
		return session.NewRedisKV(client, sessionKeyPrefix), nil
	}
	kv, err := session.NewMemoryKV(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating memory session store: %w", err)
	}
	return kv, nil
}

func sessionBackend(client *redis.Client) string {
	if client != nil {
		return "redis"
	}
	return "memory"
}

// newInvoker builds the assistant backend for the configured mode. "auto"
// chains every configured backend: REST service, then Assistants threads,
// then Chat Completions.
func (s *Services) newInvoker(policy retry.Policy) (assistant.Invoker, error) {
	cfg := s.cfg
	mode := cfg.Assistant.Mode

	var invokers []assistant.Invoker

	if (mode == "auto" || mode == "backend") && cfg.Backend.Enabled() {
		client := retry.NewHTTPClient(policy, cfg.Backend.Timeout)
		invokers = append(invokers, assistant.NewBackendInvoker(client, cfg.Backend.BaseURL, cfg.Backend.APIKey))
	}

	llmCfg := llm.Config{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL, Model: cfg.OpenAI.Model}

	if (mode == "auto" || mode == "threads") && cfg.OpenAI.ThreadsEnabled() {
		client, err := llm.NewThreadsClient(llmCfg)
		if err != nil {
			return nil, fmt.Errorf("creating threads client: %w", err)
		}
		invokers = append(invokers, assistant.NewThreadsInvoker(client, s.sessions, assistant.ThreadsConfig{
			AssistantID:  cfg.OpenAI.AssistantID,
			PollInterval: cfg.Assistant.PollInterval,
			PollAttempts: cfg.Assistant.PollAttempts,
			Retry:        policy,
		}))
	}

	if (mode == "auto" || mode == "chat") && cfg.OpenAI.Enabled() {
		client, err := llm.NewChatClient(llmCfg)
		if err != nil {
			return nil, fmt.Errorf("creating chat client: %w", err)
		}
		invokers = append(invokers, assistant.NewChatInvoker(client, assistant.ChatConfig{
			SystemPrompt: cfg.OpenAI.SystemPrompt,
			Temperature:  cfg.OpenAI.Temperature,
			Retry:        policy,
		}))
	}

	if len(invokers) == 0 {
		if mode != "auto" {
			return nil, fmt.Errorf("assistant mode %q is not configured", mode)
		}
		slog.Warn("no assistant backend configured, every turn will get the fallback reply")
	}
	if len(invokers) == 1 {
		return invokers[0], nil
	}
	return assistant.NewChain(invokers...), nil
}

// TurnBudget bounds one whole turn including delivery. The HTTP server
// derives its write timeout from it.
func (s *Services) TurnBudget() time.Duration {
	return s.cfg.Assistant.InvokeTimeout + 15*time.Second
}
