// Package pipeline 定义了聊天任务的异步处理流程：维护消息搜索索引和发送白板通知。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"mind-namo-go/internal/model"
	"mind-namo-go/pkg/log"
	"mind-namo-go/pkg/tasks"
)

// MessageIndex 是消息搜索索引。
type MessageIndex interface {
	IndexMessage(ctx context.Context, doc model.MessageDocument) error
	DeleteMessage(ctx context.Context, messageID string) error
}

// Notifier 把导出的白板通知给预约的用户。
type Notifier interface {
	WhiteboardReady(ctx context.Context, p tasks.WhiteboardPayload) error
}

// Processor 封装了任务处理的所有依赖和逻辑。
type Processor struct {
	index    MessageIndex
	notifier Notifier
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(index MessageIndex, notifier Notifier) *Processor {
	return &Processor{index: index, notifier: notifier}
}

// Process 按任务类型分发。
func (p *Processor) Process(ctx context.Context, task tasks.Task) error {
	switch task.Type {
	case tasks.TypeMessageIndexed:
		if task.Message == nil {
			return errors.New("message.indexed task without payload")
		}
		m := task.Message
		log.Debugf("[Processor] 索引消息 %s (conversation %s)", m.MessageID, m.ConversationID)
		if err := p.index.IndexMessage(ctx, model.MessageDocument{
			MessageID:      m.MessageID,
			ConversationID: m.ConversationID,
			Sender:         m.Sender,
			SenderRole:     m.SenderRole,
			TextContent:    m.Content,
			CreatedAt:      m.CreatedAt,
		}); err != nil {
			return fmt.Errorf("index message %s: %w", m.MessageID, err)
		}
		return nil

	case tasks.TypeMessageDeleted:
		if task.Deleted == nil {
			return errors.New("message.deleted task without payload")
		}
		if err := p.index.DeleteMessage(ctx, task.Deleted.MessageID); err != nil {
			return fmt.Errorf("unindex message %s: %w", task.Deleted.MessageID, err)
		}
		return nil

	case tasks.TypeWhiteboardReady:
		if task.Whiteboard == nil {
			return errors.New("whiteboard.ready task without payload")
		}
		return p.notifier.WhiteboardReady(ctx, *task.Whiteboard)

	default:
		// 未知类型直接丢弃，避免旧版本消费者阻塞队列
		log.Warnf("[Processor] 忽略未知任务类型: %s (id %s)", task.Type, task.ID)
		return nil
	}
}

// LogNotifier 只把通知写进日志。
type LogNotifier struct{}

func (LogNotifier) WhiteboardReady(_ context.Context, p tasks.WhiteboardPayload) error {
	log.Infow("[Notifier] 白板已导出",
		"appointment", p.AppointmentID,
		"user", p.UserName,
		"email", p.UserEmail,
		"expert", p.ExpertName,
		"url", p.URL,
	)
	return nil
}
