package handler

import (
	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/middleware"
	"mind-namo-go/internal/model"
	"mind-namo-go/pkg/token"
)

// Handlers 汇总所有需要注册的处理器。
type Handlers struct {
	Health       *HealthHandler
	Conversation *ConversationHandler
	Search       *SearchHandler
	Upload       *UploadHandler
	Whiteboard   *WhiteboardHandler
	Relay        *RelayHandler
}

// RegisterRoutes 注册 HTTP API 和 WebSocket 路由。
func RegisterRoutes(r *gin.Engine, jwtManager *token.JWTManager, h Handlers) {
	r.GET("/health", h.Health.Health)

	// WebSocket 通过路径中的令牌认证
	r.GET("/relay/:token", h.Relay.Handle)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		conversations := apiV1.Group("/conversations")
		{
			// 只有用户可以发起会话
			conversations.POST("", middleware.RequireRole(model.RoleUser), h.Conversation.CreateConversation)
			conversations.GET("", h.Conversation.GetConversations)
			conversations.GET("/:id/messages", h.Conversation.GetMessages)
			conversations.GET("/:id/search", h.Search.SearchMessages)
		}

		uploads := apiV1.Group("/uploads")
		{
			uploads.POST("", h.Upload.Upload)
			uploads.GET("", h.Upload.ListUploads)
			uploads.GET("/supported-types", h.Upload.GetSupportedFileTypes)
		}

		apiV1.POST("/appointments/:id/whiteboard", h.Whiteboard.Export)
	}
}
