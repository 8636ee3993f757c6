// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"mind-namo-go/internal/model"
)

// ConversationRepository 定义了会话记录的操作接口。
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, userID, expertID string) (*model.Conversation, bool, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	FindByIDForParty(ctx context.Context, id, partyID string) (*model.Conversation, error)
	ListForParty(ctx context.Context, partyID string, role model.Role) ([]model.Conversation, error)
	ApplyNewMessage(ctx context.Context, msg *model.Message, preview string, incrementFor *model.Role) (*model.Conversation, error)
	ResetUnread(ctx context.Context, id string, role model.Role) (*model.Conversation, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// FindOrCreate 返回 (user, expert) 对应的会话，不存在时创建。第二个返回值表示是否新建。
func (r *conversationRepository) FindOrCreate(ctx context.Context, userID, expertID string) (*model.Conversation, bool, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("user_id = ? AND expert_id = ?", userID, expertID).First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	conv = model.Conversation{ID: uuid.NewString(), UserID: userID, ExpertID: expertID}
	if createErr := r.db.WithContext(ctx).Create(&conv).Error; createErr != nil {
		// 并发创建时唯一索引冲突，重新读取已存在的记录
		if err := r.db.WithContext(ctx).Where("user_id = ? AND expert_id = ?", userID, expertID).First(&conv).Error; err != nil {
			return nil, false, fmt.Errorf("failed to find or create conversation: %w", createErr)
		}
		return &conv, false, nil
	}
	return &conv, true, nil
}

// FindByID 根据 ID 查找会话。
func (r *conversationRepository) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindByIDForParty 查找属于 partyID 的会话，不属于时返回 gorm.ErrRecordNotFound。
func (r *conversationRepository) FindByIDForParty(ctx context.Context, id, partyID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).
		Where("id = ? AND (user_id = ? OR expert_id = ?)", id, partyID, partyID).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListForParty 返回参与方的所有会话，按最后消息时间倒序。
func (r *conversationRepository) ListForParty(ctx context.Context, partyID string, role model.Role) ([]model.Conversation, error) {
	column := "user_id"
	if role == model.RoleExpert {
		column = "expert_id"
	}
	var convs []model.Conversation
	if err := r.db.WithContext(ctx).Where(column+" = ?", partyID).Find(&convs).Error; err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].SortKey().After(convs[j].SortKey())
	})
	return convs, nil
}

// ApplyNewMessage 用新消息更新会话摘要；incrementFor 非空时对该角色的未读数加一。
func (r *conversationRepository) ApplyNewMessage(ctx context.Context, msg *model.Message, preview string, incrementFor *model.Role) (*model.Conversation, error) {
	updates := map[string]interface{}{
		"last_message":        preview,
		"last_message_at":     msg.CreatedAt,
		"last_message_sender": msg.Sender,
	}
	if incrementFor != nil {
		col := unreadColumn(*incrementFor)
		updates[col] = gorm.Expr(col + " + 1")
	}
	err := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", msg.ConversationID).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation summary: %w", err)
	}
	return r.FindByID(ctx, msg.ConversationID)
}

// ResetUnread 将指定角色的未读数清零。
func (r *conversationRepository) ResetUnread(ctx context.Context, id string, role model.Role) (*model.Conversation, error) {
	err := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		UpdateColumn(unreadColumn(role), 0).Error
	if err != nil {
		return nil, fmt.Errorf("failed to reset unread count: %w", err)
	}
	return r.FindByID(ctx, id)
}

func unreadColumn(role model.Role) string {
	if role == model.RoleExpert {
		return "expert_unread_count"
	}
	return "user_unread_count"
}
