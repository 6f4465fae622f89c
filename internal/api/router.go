package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/gateway"
	"github.com/victorivanov/backchannel/internal/redis"
)

// Dependencies holds all handler instances and middleware for route wiring.
type Dependencies struct {
	Channels  *ChannelHandler
	Messages  *MessageHandler
	Reactions *ReactionHandler
	Typing    *TypingHandler
	Receipts  *ReceiptHandler
	Users     *UserHandler
	Gateway   *gateway.Manager

	TokenService *auth.TokenService
	// Redis enables rate limiting when set.
	Redis *redis.Client
}

// SetupRouter registers all API routes on the Echo instance.
func SetupRouter(e *echo.Echo, deps *Dependencies) {
	e.Use(MetricsMiddleware())

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket gateway
	if deps.Gateway != nil {
		e.GET("/gateway", deps.Gateway.HandleWebSocket)
	}

	v1 := e.Group("/api/v1")

	// Protected routes: JWT auth plus the general rate limit
	middleware := []echo.MiddlewareFunc{deps.TokenService.Middleware()}
	limit := func(RateRule) []echo.MiddlewareFunc { return nil }
	if deps.Redis != nil {
		middleware = append(middleware, RateLimitMiddleware(deps.Redis, RuleAPI))
		limit = func(r RateRule) []echo.MiddlewareFunc {
			return []echo.MiddlewareFunc{RateLimitMiddleware(deps.Redis, r)}
		}
	}
	protected := v1.Group("", middleware...)

	// Users
	protected.GET("/users/@me", deps.Users.GetMe)
	protected.PUT("/users/@me/presence", deps.Users.UpdatePresence)
	protected.GET("/users/:id", deps.Users.GetUser)

	// Channels
	protected.GET("/channels", deps.Channels.ListChannels)
	protected.GET("/channels/:id", deps.Channels.GetChannel)

	// Messages
	protected.POST("/channels/:id/messages", deps.Messages.SendMessage, limit(RuleSend)...)
	protected.GET("/channels/:id/messages", deps.Messages.GetMessages)
	protected.PATCH("/channels/:id/messages/:message_id", deps.Messages.EditMessage)
	protected.DELETE("/channels/:id/messages/:message_id", deps.Messages.DeleteMessage)
	protected.GET("/messages/:id", deps.Messages.GetMessage)

	// Reactions
	protected.GET("/channels/:id/reactions", deps.Reactions.ListChannelReactions)
	protected.GET("/reactions/palette", deps.Reactions.Palette)
	protected.PUT("/messages/:id/reactions/:emoji/@me", deps.Reactions.AddReaction)
	protected.DELETE("/messages/:id/reactions/:emoji/@me", deps.Reactions.RemoveReaction)

	// Typing
	protected.GET("/channels/:id/typing", deps.Typing.ListTyping)
	protected.PUT("/channels/:id/typing", deps.Typing.StartTyping, limit(RuleTyping)...)
	protected.DELETE("/channels/:id/typing", deps.Typing.StopTyping, limit(RuleTyping)...)

	// Read receipts
	protected.POST("/receipts", deps.Receipts.MarkRead)
}
