package chatclient

import (
	"sync"

	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/pkg/log"
)

// ReadTracker 决定一条入站消息是立即回执已读还是累加未读数。
type ReadTracker struct {
	self model.Party
	list *List

	mu   sync.Mutex
	ch   protocol.Channel
	open string
	// read 记录自上次回执以来没有新的对方消息的会话
	read map[string]bool
}

// NewReadTracker 创建一个已读跟踪器。
func NewReadTracker(ch protocol.Channel, self model.Party, list *List) *ReadTracker {
	return &ReadTracker{ch: ch, self: self, list: list, read: make(map[string]bool)}
}

// Rebind 让后续回执经新的连接发出。
func (r *ReadTracker) Rebind(ch protocol.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ch = ch
}

// SetOpen 记录当前打开的会话，空字符串表示没有打开的会话。
// 打开会话时总是重新回执一次，以覆盖离线期间收到的消息。
func (r *ReadTracker) SetOpen(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = conversationID
	delete(r.read, conversationID)
}

// Observe 处理一条入站消息，返回是否发出了已读回执。
func (r *ReadTracker) Observe(msg *model.Message) bool {
	if msg == nil || msg.Sender == r.self.ID {
		return false
	}
	r.mu.Lock()
	r.read[msg.ConversationID] = false
	open := r.open == msg.ConversationID
	r.mu.Unlock()
	if !open {
		r.list.IncrementUnread(msg.ConversationID)
		return false
	}
	return r.MarkRead(msg.ConversationID)
}

// MarkRead 发出 markAsRead 并清零本地未读数。已经回执过且没有新消息时不重复发送。
func (r *ReadTracker) MarkRead(conversationID string) bool {
	r.mu.Lock()
	if r.read[conversationID] {
		r.mu.Unlock()
		return false
	}
	r.read[conversationID] = true
	ch := r.ch
	r.mu.Unlock()

	r.list.MarkOpened(conversationID)
	err := ch.Emit(protocol.EventMarkAsRead, protocol.MarkAsRead{ConversationID: conversationID, UserID: r.self.ID})
	if err != nil {
		log.Warnf("[Chat] 发送已读回执失败, conversation: %s, error: %v", conversationID, err)
		r.mu.Lock()
		r.read[conversationID] = false
		r.mu.Unlock()
		return false
	}
	return true
}
