// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/repository"
	"mind-namo-go/pkg/log"
)

// ConversationService 定义了会话列表与历史相关的业务逻辑。
type ConversationService interface {
	CreateConversation(ctx context.Context, actor model.Party, expertID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, actor model.Party) ([]model.Conversation, error)
	History(ctx context.Context, actor model.Party, conversationID string) ([]model.Message, error)
	OpenConversation(ctx context.Context, actor model.Party, conversationID string) (*model.Conversation, error)
	CloseConversation(ctx context.Context, actor model.Party, conversationID string) error
}

type conversationService struct {
	convs    repository.ConversationRepository
	messages repository.MessageRepository
	presence repository.PresenceRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(convs repository.ConversationRepository, messages repository.MessageRepository, presence repository.PresenceRepository) ConversationService {
	return &conversationService{convs: convs, messages: messages, presence: presence}
}

// CreateConversation 由用户发起与专家的会话，已存在时返回已有会话。
func (s *conversationService) CreateConversation(ctx context.Context, actor model.Party, expertID string) (*model.Conversation, error) {
	if actor.Role != model.RoleUser {
		return nil, newError(CodeForbidden, "only users can start a conversation")
	}
	expertID = strings.TrimSpace(expertID)
	if expertID == "" || expertID == actor.ID {
		return nil, newError(CodeInvalidInput, "expertId is required")
	}
	conv, created, err := s.convs.FindOrCreate(ctx, actor.ID, expertID)
	if err != nil {
		return nil, internalError("failed to create conversation", err)
	}
	if created {
		log.Infof("[ConversationService] 新建会话 %s: user=%s expert=%s", conv.ID, actor.ID, expertID)
	}
	return conv, nil
}

// ListConversations 返回参与方的会话列表，按最后消息时间倒序。
func (s *conversationService) ListConversations(ctx context.Context, actor model.Party) ([]model.Conversation, error) {
	convs, err := s.convs.ListForParty(ctx, actor.ID, actor.Role)
	if err != nil {
		return nil, internalError("failed to list conversations", err)
	}
	return convs, nil
}

// History 返回会话的完整消息历史。
func (s *conversationService) History(ctx context.Context, actor model.Party, conversationID string) ([]model.Message, error) {
	conv, err := loadConversation(ctx, s.convs, actor, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, internalError("failed to load history", err)
	}
	return msgs, nil
}

// OpenConversation 在参与方加入会话房间时调用：校验归属并记录其正在查看该会话。
func (s *conversationService) OpenConversation(ctx context.Context, actor model.Party, conversationID string) (*model.Conversation, error) {
	conv, err := loadConversation(ctx, s.convs, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.presence.Open(ctx, actor.ID, conv.ID); err != nil {
		log.Warnf("[ConversationService] 记录在线状态失败: party=%s conversation=%s err=%v", actor.ID, conv.ID, err)
	}
	return conv, nil
}

// CloseConversation 在参与方离开会话房间或断开连接时调用。
func (s *conversationService) CloseConversation(ctx context.Context, actor model.Party, conversationID string) error {
	return s.presence.Close(ctx, actor.ID, conversationID)
}

// loadConversation 读取会话并校验 actor 以其角色属于该会话。
func loadConversation(ctx context.Context, convs repository.ConversationRepository, actor model.Party, conversationID string) (*model.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, newError(CodeInvalidInput, "conversationId is required")
	}
	conv, err := convs.FindByIDForParty(ctx, conversationID, actor.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "conversation not found")
		}
		return nil, internalError("failed to load conversation", err)
	}
	if partyRole(conv, actor.ID) != actor.Role {
		return nil, newError(CodeForbidden, "role does not match conversation")
	}
	return conv, nil
}

// partyRole 返回 partyID 在会话中的角色。
func partyRole(conv *model.Conversation, partyID string) model.Role {
	if conv.UserID == partyID {
		return model.RoleUser
	}
	return model.RoleExpert
}
