package worker

import (
	"context"
	"fmt"
	"log/slog"

	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/pipeline"
	"agenthub.app/bridge/internal/queue"
)

// TurnHandler is satisfied by *pipeline.Pipeline.
type TurnHandler interface {
	Handle(ctx context.Context, msg inbound.Message, opts pipeline.Options) (*pipeline.Result, error)
}

// SalesbotProcessor finishes a widget_request that was acknowledged before
// the assistant answered. The reply goes back through the Salesbot
// continuation or the request's return_url.
type SalesbotProcessor struct {
	handler TurnHandler
}

func NewSalesbotProcessor(handler TurnHandler) *SalesbotProcessor {
	return &SalesbotProcessor{handler: handler}
}

func (p *SalesbotProcessor) Process(ctx context.Context, msg queue.Message) error {
	if msg.TaskType != queue.TaskTypeSalesbotReply {
		return fmt.Errorf("unsupported task type %q", msg.TaskType)
	}

	res, err := p.handler.Handle(ctx, msg.Inbound, pipeline.Options{
		Channel: "salesbot",
		TraceID: msg.TraceID,
		Deliver: true,
	})
	if err != nil {
		// Only infrastructure errors reach here; nothing was delivered yet.
		return err
	}

	// A failed delivery is final: the turn is closed and a retry would be
	// ignored as a duplicate anyway.
	slog.InfoContext(ctx, "salesbot task finished",
		"status", res.Status,
		"reason", res.Reason,
		"delivered", res.Delivered,
		"mechanism", res.Mechanism)
	return nil
}
