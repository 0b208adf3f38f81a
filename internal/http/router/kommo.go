package router

import (
	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/internal/http/handler"
	"agenthub.app/bridge/internal/http/handler/webhook"
	"agenthub.app/bridge/internal/http/middleware"
)

// KommoWebhookRouter registers the endpoints Kommo calls. The secret may
// travel as a path segment because Kommo's webhook settings cannot add
// headers.
func KommoWebhookRouter(rg *gin.RouterGroup, services Services, cfg RouterConfig) {
	hooks := rg.Group("", middleware.OptionalSecret(cfg.WebhookSecret, webhookSecretHeader))

	kommoWebhook := webhook.NewKommoWebhookHandler(services.Turns)
	hooks.POST("/webhook", kommoWebhook.HandleEvent)
	hooks.POST("/webhook/:secret", kommoWebhook.HandleEvent)

	salesbot := webhook.NewSalesbotHandler(services.Turns, services.Tasks)
	hooks.POST("/salesbot", salesbot.HandleEvent)
	hooks.POST("/salesbot/:secret", salesbot.HandleEvent)

	echo := webhook.NewEchoHandler()
	hooks.POST("/echo", echo.HandleEvent)
}

func KommoActionRouter(rg *gin.RouterGroup, h *handler.KommoHandler, bridgeSecret string) {
	actions := rg.Group("", middleware.RequireSecret(bridgeSecret, bridgeSecretHeader))
	actions.POST("", h.Action)
	actions.POST("/upsert", h.Upsert)
	actions.POST("/add-note", h.AddNote)
	actions.POST("/attach-transcript", h.AttachTranscript)
}
