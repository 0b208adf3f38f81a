package router

import (
	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/internal/http/handler"
	"agenthub.app/bridge/internal/http/handler/webhook"
	"agenthub.app/bridge/internal/store"
)

const (
	webhookSecretHeader = "X-Webhook-Secret"
	bridgeSecretHeader  = "X-Bridge-Secret"
	apiSecretHeader     = "X-Api-Secret"
)

// Services are the collaborators the HTTP layer drives.
type Services struct {
	Turns       webhook.TurnHandler
	Tasks       webhook.Enqueuer
	Kommo       handler.KommoActions
	Transcripts store.TranscriptStore
}

type RouterConfig struct {
	WebhookSecret      string
	BridgeSecret       string
	APISecret          string
	AmojoChannelSecret string
	AmojoSenderID      string
	NoteChunkSize      int
}

func SetupRoutes(router *gin.Engine, services Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		KommoWebhookRouter(api.Group("/kommo"), services, cfg)

		kommoHandler := handler.NewKommoHandler(services.Kommo, services.Transcripts, cfg.NoteChunkSize)
		KommoActionRouter(api.Group("/kommo"), kommoHandler, cfg.BridgeSecret)

		assistantHandler := handler.NewAssistantHandler(services.Turns)
		AssistantRouter(api.Group("/assistant"), assistantHandler, cfg.APISecret)

		amojoHandler := webhook.NewAmojoWebhookHandler(services.Turns, cfg.AmojoChannelSecret, cfg.AmojoSenderID)
		AmojoRouter(api.Group("/amojo"), amojoHandler)
	}
}
