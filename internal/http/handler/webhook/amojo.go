package webhook

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/internal/delivery"
	"agenthub.app/bridge/internal/http/dto"
	"agenthub.app/bridge/internal/http/middleware"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/kommo"
	"agenthub.app/bridge/internal/pipeline"
)

const amojoSignatureHeader = "X-Signature"

// AmojoWebhookHandler receives messages from a custom amoJo chat channel.
// The body is signed with the channel secret; replies go back into the same
// conversation.
type AmojoWebhookHandler struct {
	turns         TurnHandler
	channelSecret string
	senderID      string
}

func NewAmojoWebhookHandler(turns TurnHandler, channelSecret, senderID string) *AmojoWebhookHandler {
	return &AmojoWebhookHandler{turns: turns, channelSecret: channelSecret, senderID: senderID}
}

func (h *AmojoWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Channel:   logger.Ptr("amojo"),
		Component: "bridge.http.amojo",
	})

	body, err := readBody(c)
	if err != nil {
		slog.WarnContext(ctx, "failed to read amojo webhook body", "error", err)
		c.JSON(http.StatusOK, dto.TurnResponse{Status: string(pipeline.StatusIgnored), Reason: ReasonUnreadableBody})
		return
	}

	if !kommo.VerifySignature(h.channelSecret, body, c.GetHeader(amojoSignatureHeader)) {
		slog.WarnContext(ctx, "amojo webhook signature mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	wh, err := kommo.ParseChatsWebhook(body)
	if err != nil {
		slog.WarnContext(ctx, "malformed amojo webhook", "error", err)
		c.JSON(http.StatusOK, dto.TurnResponse{Status: string(pipeline.StatusIgnored), Reason: ReasonInvalidPayload})
		return
	}

	if !wh.IsFromClient(h.senderID) {
		c.JSON(http.StatusOK, dto.TurnResponse{Status: string(pipeline.StatusIgnored), Reason: inbound.ReasonOutboundAuthor})
		return
	}

	conversationID := wh.ConversationID()
	msg := inbound.Message{
		ChatID:    conversationID,
		MessageID: wh.Message.Message.ID,
		Text:      wh.Message.Message.Text,
		Direction: "incoming",
	}

	res, err := h.turns.Handle(ctx, msg, pipeline.Options{
		Channel: "amojo",
		TraceID: middleware.TraceID(c),
		Deliver: true,
		Target: &delivery.Target{
			AmojoConversationID: conversationID,
			AmojoReceiverID:     wh.Message.Sender.ID,
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "amojo turn failed", "error", err)
	}
	c.JSON(http.StatusOK, dto.ToTurnResponse(res))
}
