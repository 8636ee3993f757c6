package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"mind-namo-go/internal/model"
)

// MessageRepository 定义了消息的持久化操作。
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (bool, error)
	FindByID(ctx context.Context, id string) (*model.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create 保存一条消息并把发送者记为已读。
// 如果 ClientID 已存在（客户端重发），msg 被替换为已保存的记录，返回 false。
func (r *messageRepository) Create(ctx context.Context, msg *model.Message) (bool, error) {
	if msg.ClientID != nil {
		var existing model.Message
		err := r.db.WithContext(ctx).Where("client_id = ?", *msg.ClientID).First(&existing).Error
		if err == nil {
			if existing.ConversationID != msg.ConversationID || existing.Sender != msg.Sender {
				return false, fmt.Errorf("client id %s already used", *msg.ClientID)
			}
			if err := r.loadReads(ctx, []*model.Message{&existing}); err != nil {
				return false, err
			}
			*msg = existing
			return false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Create(&model.MessageRead{MessageID: msg.ID, ReaderID: msg.Sender}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}
	msg.ReadBy = []string{msg.Sender}
	return true, nil
}

// FindByID 根据 ID 查找消息（含已读列表）。
func (r *messageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if err := r.loadReads(ctx, []*model.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByConversation 按创建时间升序返回会话中的全部消息，附带已读列表和回复摘要。
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	ptrs := make([]*model.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	if err := r.loadReads(ctx, ptrs); err != nil {
		return nil, err
	}
	if err := r.loadReplies(ctx, ptrs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead 把 readerID 追加到会话中所有非其发送的消息的已读列表，重复调用无副作用。
func (r *messageRepository) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND sender <> ?", conversationID, readerID).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	reads := make([]model.MessageRead, 0, len(ids))
	for _, id := range ids {
		reads = append(reads, model.MessageRead{MessageID: id, ReaderID: readerID})
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&reads, 200)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete 删除消息及其已读记录。引用它的回复保留悬空的 reply_to。
func (r *messageRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&model.MessageRead{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *messageRepository) loadReads(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	var reads []model.MessageRead
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("read_at ASC").
		Find(&reads).Error
	if err != nil {
		return fmt.Errorf("failed to load read receipts: %w", err)
	}
	byMessage := make(map[string][]string, len(msgs))
	for _, rd := range reads {
		byMessage[rd.MessageID] = append(byMessage[rd.MessageID], rd.ReaderID)
	}
	for _, m := range msgs {
		m.ReadBy = byMessage[m.ID]
		if m.ReadBy == nil {
			m.ReadBy = []string{}
		}
	}
	return nil
}

func (r *messageRepository) loadReplies(ctx context.Context, msgs []*model.Message) error {
	var targets []string
	for _, m := range msgs {
		if m.ReplyTo != nil {
			targets = append(targets, *m.ReplyTo)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	var found []model.Message
	if err := r.db.WithContext(ctx).Where("id IN ?", targets).Find(&found).Error; err != nil {
		return fmt.Errorf("failed to load reply targets: %w", err)
	}
	byID := make(map[string]*model.Message, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}
	for _, m := range msgs {
		if m.ReplyTo == nil {
			continue
		}
		target, ok := byID[*m.ReplyTo]
		if !ok {
			m.Reply = &model.ReplyPreview{ID: *m.ReplyTo, Deleted: true}
			continue
		}
		m.Reply = &model.ReplyPreview{
			ID:          target.ID,
			SenderRole:  target.SenderRole,
			ContentType: target.ContentType,
			Content:     target.Content,
		}
	}
	return nil
}
