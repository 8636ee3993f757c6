package handler

import (
	"github.com/gin-gonic/gin"
	"mind-namo-go/internal/service"
)

// ConversationHandler 处理与会话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// CreateConversationRequest 是创建会话的请求体。
type CreateConversationRequest struct {
	ExpertID string `json:"expertId" binding:"required"`
}

// CreateConversation 为当前用户和指定专家找到或创建会话。
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	actor, exists := party(c)
	if !exists {
		return
	}
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	conv, err := h.service.CreateConversation(c.Request.Context(), actor, req.ExpertID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, conv)
}

// GetConversations 返回当前参与方的会话列表。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	actor, exists := party(c)
	if !exists {
		return
	}
	convs, err := h.service.ListConversations(c.Request.Context(), actor)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, convs)
}

// GetMessages 返回会话的完整历史，按创建时间升序。
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	actor, exists := party(c)
	if !exists {
		return
	}
	msgs, err := h.service.History(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, msgs)
}
