package main

import (
	"voiceconnect/internal/httpapi"
	"voiceconnect/internal/telephony"
	"voiceconnect/internal/transport"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, webhooks telephony.WebhookHandler, hub *transport.Hub, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Websocket signaling endpoint. Authentication happens in-band with the
	// mandatory first frame.
	r.GET("/ws", hub.HandleWS)

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	r.POST("/webhooks/twilio/status", webhooks.HandleStatus)
	r.POST("/webhooks/twilio/twiml/:call_id", webhooks.HandleTwiML)

	// AUTH routes (token issuance).
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/calls/history", h.GetCallHistory)
		v1.POST("/calls/gateway", h.CreateGatewayCall)

		v1.GET("/messages/recent", h.GetRecentMessages)

		v1.GET("/voices", h.ListVoices)
		v1.POST("/tts/inject", h.InjectTTS)

		v1.GET("/reports/calls/summary", h.GetCallsSummary)
	}
}
