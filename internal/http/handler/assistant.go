package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/internal/delivery"
	"agenthub.app/bridge/internal/http/dto"
	"agenthub.app/bridge/internal/http/middleware"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/pipeline"
)

const defaultAPIChannel = "api"

// TurnHandler is satisfied by *pipeline.Pipeline.
type TurnHandler interface {
	Handle(ctx context.Context, msg inbound.Message, opts pipeline.Options) (*pipeline.Result, error)
}

// AssistantHandler exposes the assistant to non-CRM callers such as a web
// chat widget. Conversations are keyed by sessionId, or by the lead when a
// leadId is given, in which case the reply is also posted as a lead note.
type AssistantHandler struct {
	turns TurnHandler
}

func NewAssistantHandler(turns TurnHandler) *AssistantHandler {
	return &AssistantHandler{turns: turns}
}

type assistantTurn struct {
	sessionID string
	leadID    int64
	text      string
	channel   string
}

func (t assistantTurn) valid() bool {
	return t.text != "" && (t.sessionID != "" || t.leadID > 0)
}

func (h *AssistantHandler) Send(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.AssistantSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body"})
		return
	}

	turn := assistantTurn{
		sessionID: strings.TrimSpace(req.SessionID),
		leadID:    parseLeadID(req.LeadID),
		text:      strings.TrimSpace(req.Text),
		channel:   strings.TrimSpace(req.Channel),
	}
	if !turn.valid() {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "text and sessionId or leadId required"})
		return
	}
	if turn.channel == "" {
		turn.channel = defaultAPIChannel
	}

	res, err := h.run(ctx, middleware.TraceID(c), turn)

	resp := dto.AssistantSendResponse{
		OK:       res.Status == pipeline.StatusSuccess,
		Status:   string(res.Status),
		Reason:   res.Reason,
		ThreadID: res.ThreadID,
		Text:     res.Reply,
		Key:      res.Key,
		Channel:  turn.channel,
	}
	if turn.leadID > 0 {
		resp.LeadID = &turn.leadID
	}

	if err != nil {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Stream answers over server-sent events: a started frame, the reply frame
// and a final done frame. Errors end the stream with {error, done}.
func (h *AssistantHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	turn := assistantTurn{
		sessionID: strings.TrimSpace(c.Query("sessionId")),
		leadID:    parseLeadID(json.Number(c.Query("leadId"))),
		text:      strings.TrimSpace(c.Query("text")),
		channel:   strings.TrimSpace(c.DefaultQuery("channel", defaultAPIChannel)),
	}

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	if !turn.valid() {
		sseWrite(c.Writer, "", dto.StreamEvent{Error: "text and sessionId or leadId required", Done: true})
		return
	}

	sseWrite(c.Writer, "", dto.StreamEvent{Status: "started"})

	res, err := h.run(ctx, middleware.TraceID(c), turn)
	switch {
	case err != nil:
		sseWrite(c.Writer, "", dto.StreamEvent{Error: res.Reason, Done: true})
		return
	case res.Status == pipeline.StatusIgnored:
		sseWrite(c.Writer, "", dto.StreamEvent{Status: string(res.Status), Error: res.Reason, Done: true})
		return
	}

	sseWrite(c.Writer, "", dto.StreamEvent{Status: string(res.Status), Text: res.Reply, ThreadID: res.ThreadID})
	sseWrite(c.Writer, "", dto.StreamEvent{Done: true})
}

func (h *AssistantHandler) run(ctx context.Context, traceID string, turn assistantTurn) (*pipeline.Result, error) {
	msg := inbound.Message{Text: turn.text, Direction: "incoming"}
	opts := pipeline.Options{Channel: turn.channel, TraceID: traceID}

	if turn.leadID > 0 {
		msg.LeadID = strconv.FormatInt(turn.leadID, 10)
		opts.Deliver = true
		opts.Target = &delivery.Target{LeadID: turn.leadID}
	} else {
		opts.Key = "api:" + turn.sessionID
	}

	res, err := h.turns.Handle(ctx, msg, opts)
	if err != nil {
		slog.ErrorContext(ctx, "assistant turn failed", "error", err, "key", opts.Key)
	}
	if res == nil {
		res = &pipeline.Result{Status: pipeline.StatusFail, Reason: pipeline.ReasonSessionError}
	}
	return res, err
}
