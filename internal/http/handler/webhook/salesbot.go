package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/internal/http/dto"
	"agenthub.app/bridge/internal/http/middleware"
	"agenthub.app/bridge/internal/kommo"
	"agenthub.app/bridge/internal/pipeline"
	"agenthub.app/bridge/internal/queue"
)

const missingInputReply = "Sin mensaje o lead_id"

// Enqueuer is satisfied by queue.Producer and the in-process runner.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// SalesbotHandler serves the Salesbot widget_request step. Kommo gives the
// widget only a couple of seconds, so requests that can be answered later
// (return_url or bot continuation) are acknowledged at once and finished
// by a worker. Plain requests are answered inline.
type SalesbotHandler struct {
	turns TurnHandler
	tasks Enqueuer
}

func NewSalesbotHandler(turns TurnHandler, tasks Enqueuer) *SalesbotHandler {
	return &SalesbotHandler{turns: turns, tasks: tasks}
}

func (h *SalesbotHandler) HandleEvent(c *gin.Context) {
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Channel:   logger.Ptr("salesbot"),
		Component: "bridge.http.salesbot",
	})

	msg, ok := readMessage(ctx, c)
	if !ok {
		return
	}
	traceID := middleware.TraceID(c)
	deferred := msg.IsWidgetRequest() || msg.CanContinueSalesbot()

	if msg.Text == "" && msg.LeadID == "" {
		if deferred {
			c.Status(http.StatusOK)
			return
		}
		c.JSON(http.StatusOK, dto.TurnResponse{Status: string(pipeline.StatusFail), Reply: missingInputReply})
		return
	}

	if deferred {
		if err := h.tasks.Enqueue(ctx, queue.Task{
			TaskType: queue.TaskTypeSalesbotReply,
			Message:  msg,
			TraceID:  traceID,
		}); err != nil {
			// The widget already timed out on Kommo's side if we answer late,
			// so the ack goes out either way.
			slog.ErrorContext(ctx, "failed to enqueue salesbot task", "error", err, "lead_id", msg.LeadID)
		} else {
			slog.InfoContext(ctx, "salesbot task enqueued", "lead_id", msg.LeadID)
		}
		c.Status(http.StatusOK)
		return
	}

	res, err := h.turns.Handle(ctx, msg, pipeline.Options{Channel: "salesbot", TraceID: traceID})
	if err != nil {
		slog.ErrorContext(ctx, "salesbot turn failed", "error", err)
	}
	c.JSON(http.StatusOK, dto.ToTurnResponse(res))
}

// EchoHandler answers a Salesbot widget with the text it was sent. Used to
// check the Salesbot wiring without spending assistant runs.
type EchoHandler struct{}

func NewEchoHandler() *EchoHandler {
	return &EchoHandler{}
}

func (h *EchoHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	msg, ok := readMessage(ctx, c)
	if !ok {
		return
	}

	value := strings.TrimSpace(msg.Text)
	if value == "" {
		value = "👋 ECHO: sin 'message'"
	}
	reply := "ECHO ▶ " + logger.Truncate(value, 120)

	c.JSON(http.StatusOK, kommo.NewSalesbotPayload(kommo.HandlerShow, kommo.StatusSuccess, reply))
}
