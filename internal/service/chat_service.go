package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/repository"
	"mind-namo-go/pkg/log"
	"mind-namo-go/pkg/tasks"
)

// TaskPublisher 把异步任务投递到消息队列。
type TaskPublisher interface {
	Publish(ctx context.Context, task tasks.Task) error
}

// SendCommand 是 sendMessage 事件的载荷。
type SendCommand struct {
	ConversationID string  `json:"conversationId"`
	ClientID       string  `json:"clientId,omitempty"`
	Sender         string  `json:"sender,omitempty"`
	SenderModel    string  `json:"senderModel,omitempty"`
	Content        string  `json:"content"`
	ContentType    string  `json:"contentType"`
	ReplyTo        *string `json:"replyTo,omitempty"`
}

// SendResult 是发送成功后需要广播的内容。
type SendResult struct {
	Message      *model.Message
	Conversation *model.Conversation
	// Duplicate 为 true 表示这是一次重发，消息此前已保存，会话摘要未再次更新。
	Duplicate bool
}

// ReadResult 是标记已读后需要广播的内容。
type ReadResult struct {
	Conversation *model.Conversation
	ReaderID     string
	Marked       int64
}

// ChatService 定义了消息收发相关的业务逻辑。
type ChatService interface {
	SendMessage(ctx context.Context, actor model.Party, cmd SendCommand) (*SendResult, error)
	MarkAsRead(ctx context.Context, actor model.Party, conversationID, userID string) (*ReadResult, error)
	DeleteMessage(ctx context.Context, actor model.Party, conversationID, messageID string) (*model.Message, error)
}

type chatService struct {
	convs     repository.ConversationRepository
	messages  repository.MessageRepository
	presence  repository.PresenceRepository
	publisher TaskPublisher
	now       func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。publisher 可以为 nil。
func NewChatService(convs repository.ConversationRepository, messages repository.MessageRepository, presence repository.PresenceRepository, publisher TaskPublisher) ChatService {
	return &chatService{
		convs:     convs,
		messages:  messages,
		presence:  presence,
		publisher: publisher,
		now:       time.Now,
	}
}

// SendMessage 保存一条消息并更新会话摘要。
// 发送者身份来自认证信息，载荷中的 sender/senderModel 只用于校验。
func (s *chatService) SendMessage(ctx context.Context, actor model.Party, cmd SendCommand) (*SendResult, error) {
	if cmd.Sender != "" && cmd.Sender != actor.ID {
		return nil, newError(CodeForbidden, "sender does not match authenticated party")
	}
	if cmd.SenderModel != "" && model.Role(cmd.SenderModel) != actor.Role {
		return nil, newError(CodeForbidden, "senderModel does not match authenticated party")
	}
	conv, err := loadConversation(ctx, s.convs, actor, cmd.ConversationID)
	if err != nil {
		return nil, err
	}

	kind, err := model.ParseContentKind(cmd.ContentType)
	if err != nil {
		return nil, &AppError{Code: CodeInvalidInput, Message: "unsupported content type", Err: err}
	}
	content, err := model.NewContent(kind, cmd.Content)
	if err == nil {
		err = model.ValidateContent(content)
	}
	if err != nil {
		return nil, &AppError{Code: CodeInvalidInput, Message: "invalid message content", Err: err}
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         actor.ID,
		SenderRole:     actor.Role,
		ContentType:    content.Kind(),
		Content:        content.Raw(),
		CreatedAt:      s.now().UTC(),
	}
	if cmd.ClientID != "" {
		clientID := cmd.ClientID
		msg.ClientID = &clientID
	}
	if cmd.ReplyTo != nil && *cmd.ReplyTo != "" {
		target, err := s.messages.FindByID(ctx, *cmd.ReplyTo)
		if err != nil || target.ConversationID != conv.ID {
			return nil, newError(CodeInvalidInput, "reply target not found in conversation")
		}
		replyTo := target.ID
		msg.ReplyTo = &replyTo
		msg.Reply = &model.ReplyPreview{
			ID:          target.ID,
			SenderRole:  target.SenderRole,
			ContentType: target.ContentType,
			Content:     target.Content,
		}
	}

	created, err := s.messages.Create(ctx, msg)
	if err != nil {
		return nil, internalError("failed to save message", err)
	}
	if !created {
		log.Infof("[ChatService] 重复发送已去重: clientId=%s message=%s", cmd.ClientID, msg.ID)
		return &SendResult{Message: msg, Conversation: conv, Duplicate: true}, nil
	}

	// 对方正在查看该会话时不增加未读数，由其客户端立即回执已读
	counterpart, counterpartRole := conv.Counterpart(actor.ID)
	var incrementFor *model.Role
	open, err := s.presence.IsOpen(ctx, counterpart, conv.ID)
	if err != nil {
		log.Warnf("[ChatService] 读取在线状态失败, 按未打开处理: %v", err)
	}
	if !open {
		incrementFor = &counterpartRole
	}

	updated, err := s.convs.ApplyNewMessage(ctx, msg, model.PreviewText(content, false), incrementFor)
	if err != nil {
		return nil, internalError("failed to update conversation", err)
	}

	if kind == model.KindText {
		s.publish(ctx, tasks.NewMessageIndexed(tasks.MessagePayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Sender:         msg.Sender,
			SenderRole:     string(msg.SenderRole),
			ContentType:    string(msg.ContentType),
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		}))
	}
	return &SendResult{Message: msg, Conversation: updated}, nil
}

// MarkAsRead 把 actor 记为会话中对方消息的读者并清零其未读数，重复调用无副作用。
func (s *chatService) MarkAsRead(ctx context.Context, actor model.Party, conversationID, userID string) (*ReadResult, error) {
	if userID != "" && userID != actor.ID {
		return nil, newError(CodeForbidden, "userId does not match authenticated party")
	}
	conv, err := loadConversation(ctx, s.convs, actor, conversationID)
	if err != nil {
		return nil, err
	}
	marked, err := s.messages.MarkRead(ctx, conv.ID, actor.ID)
	if err != nil {
		return nil, internalError("failed to mark messages read", err)
	}
	if conv.UnreadFor(actor.Role) != 0 {
		if conv, err = s.convs.ResetUnread(ctx, conv.ID, actor.Role); err != nil {
			return nil, internalError("failed to reset unread count", err)
		}
	}
	return &ReadResult{Conversation: conv, ReaderID: actor.ID, Marked: marked}, nil
}

// DeleteMessage 删除一条消息。发送者本人或会话中的专家可以删除。
func (s *chatService) DeleteMessage(ctx context.Context, actor model.Party, conversationID, messageID string) (*model.Message, error) {
	conv, err := loadConversation(ctx, s.convs, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(messageID) == "" {
		return nil, newError(CodeInvalidInput, "messageId is required")
	}
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "message not found")
		}
		return nil, internalError("failed to load message", err)
	}
	if msg.ConversationID != conv.ID {
		return nil, newError(CodeNotFound, "message not found")
	}
	if msg.Sender != actor.ID && !(actor.Role == model.RoleExpert && conv.ExpertID == actor.ID) {
		return nil, newError(CodeForbidden, "only the sender or the expert can delete a message")
	}
	if err := s.messages.Delete(ctx, msg.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "message not found")
		}
		return nil, internalError("failed to delete message", err)
	}

	s.publish(ctx, tasks.NewMessageDeleted(tasks.DeletedPayload{MessageID: msg.ID, ConversationID: conv.ID}))
	return msg, nil
}

// publish 投递失败只记录日志，不影响主流程。
func (s *chatService) publish(ctx context.Context, task tasks.Task) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Errorf("[ChatService] 投递任务失败: type=%s id=%s err=%v", task.Type, task.ID, err)
	}
}
