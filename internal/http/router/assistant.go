package router

import (
	"github.com/gin-gonic/gin"

	"agenthub.app/bridge/internal/http/handler"
	"agenthub.app/bridge/internal/http/middleware"
)

func AssistantRouter(rg *gin.RouterGroup, h *handler.AssistantHandler, apiSecret string) {
	rg.Use(middleware.OptionalSecret(apiSecret, apiSecretHeader))
	rg.POST("/send", h.Send)
	rg.GET("/stream", h.Stream)
}
