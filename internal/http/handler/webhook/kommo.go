package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/internal/http/dto"
	"agenthub.app/bridge/internal/http/middleware"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/pipeline"
)

// Reasons for webhooks rejected before the pipeline runs.
const (
	ReasonUnreadableBody = "unreadable_body"
	ReasonInvalidPayload = "invalid_payload"
)

// maxBodyBytes caps a webhook body. Kommo payloads are a few KiB.
const maxBodyBytes = 1 << 20

// TurnHandler is satisfied by *pipeline.Pipeline.
type TurnHandler interface {
	Handle(ctx context.Context, msg inbound.Message, opts pipeline.Options) (*pipeline.Result, error)
}

// KommoWebhookHandler answers Kommo's "incoming message" and lead webhooks.
// Kommo retries anything that is not a 2xx, so every outcome is a 200 and
// the body carries the status.
type KommoWebhookHandler struct {
	turns TurnHandler
}

func NewKommoWebhookHandler(turns TurnHandler) *KommoWebhookHandler {
	return &KommoWebhookHandler{turns: turns}
}

func (h *KommoWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Channel:   logger.Ptr("webhook"),
		Component: "bridge.http.webhook",
	})

	msg, ok := readMessage(ctx, c)
	if !ok {
		return
	}

	res, err := h.turns.Handle(ctx, msg, pipeline.Options{
		Channel: "webhook",
		TraceID: middleware.TraceID(c),
		Deliver: true,
	})
	if err != nil {
		slog.ErrorContext(ctx, "kommo webhook turn failed", "error", err)
	}
	c.JSON(http.StatusOK, dto.ToTurnResponse(res))
}

// readMessage parses the request into a canonical message. On failure it
// writes the ignored response itself.
func readMessage(ctx context.Context, c *gin.Context) (inbound.Message, bool) {
	body, err := readBody(c)
	if err != nil {
		slog.WarnContext(ctx, "failed to read webhook body", "error", err)
		c.JSON(http.StatusOK, dto.TurnResponse{Status: string(pipeline.StatusIgnored), Reason: ReasonUnreadableBody})
		return inbound.Message{}, false
	}

	payload, err := inbound.Parse(c.GetHeader("Content-Type"), body, c.Request.URL.Query())
	if err != nil {
		slog.WarnContext(ctx, "malformed webhook body",
			"error", err,
			"body", logger.Truncate(string(body), 500))
		c.JSON(http.StatusOK, dto.TurnResponse{Status: string(pipeline.StatusIgnored), Reason: ReasonInvalidPayload})
		return inbound.Message{}, false
	}

	msg := inbound.Extract(payload)
	slog.DebugContext(ctx, "webhook received",
		"keys", payload.Keys(),
		"lead_id", msg.LeadID,
		"message_id", msg.MessageID,
		"author_type", msg.AuthorType)
	return msg, true
}

func readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	return io.ReadAll(c.Request.Body)
}
