package router

import (
	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/internal/http/handler/webhook"
)

// AmojoRouter needs no secret middleware: amoJo signs every body.
func AmojoRouter(rg *gin.RouterGroup, h *webhook.AmojoWebhookHandler) {
	rg.POST("/webhook", h.HandleEvent)
}
