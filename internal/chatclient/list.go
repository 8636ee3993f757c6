// Package chatclient 实现了聊天客户端的会话协议、会话列表同步和已读跟踪。
package chatclient

import (
	"sort"
	"sync"

	"mind-namo-go/internal/model"
)

// List 维护按最后消息时间倒序排列的会话摘要列表。
type List struct {
	mu    sync.Mutex
	role  model.Role
	items []model.ConversationSummary
}

// NewList 创建一个空列表，role 是查看者的角色，决定读哪一个未读计数。
func NewList(role model.Role) *List {
	return &List{role: role}
}

// Replace 用服务端返回的会话替换整个列表。
func (l *List) Replace(convs []model.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		l.items = append(l.items, model.ConversationSummary{Conversation: c})
	}
	l.sortLocked()
}

// ApplyUpdate 合并一次部分更新并重新排序。列表中没有的会话会被插入。
func (l *List) ApplyUpdate(u model.ConversationUpdate) {
	if u.ConversationID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(u.ConversationID)
	if i < 0 {
		item := model.ConversationSummary{Conversation: model.Conversation{ID: u.ConversationID}}
		if u.LastMessageAt != nil {
			item.CreatedAt = *u.LastMessageAt
		}
		l.items = append(l.items, item)
		i = len(l.items) - 1
	}
	it := &l.items[i]
	if u.LastMessage != nil {
		v := *u.LastMessage
		it.LastMessage = &v
	}
	if u.LastMessageAt != nil {
		v := *u.LastMessageAt
		it.LastMessageAt = &v
	}
	if u.LastMessageSender != nil {
		v := *u.LastMessageSender
		it.LastMessageSender = &v
	}
	if u.LastMessageStatus != nil {
		it.LastMessageStatus = *u.LastMessageStatus
	}
	if u.UserUnreadCount != nil {
		it.UserUnreadCount = *u.UserUnreadCount
	}
	if u.ExpertUnreadCount != nil {
		it.ExpertUnreadCount = *u.ExpertUnreadCount
	}
	l.sortLocked()
}

// MarkOpened 立即把查看者在该会话上的未读数清零，不等待服务端确认。
func (l *List) MarkOpened(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexLocked(conversationID); i >= 0 {
		l.setUnreadLocked(i, 0)
	}
}

// IncrementUnread 把查看者在该会话上的未读数加一。
func (l *List) IncrementUnread(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(conversationID)
	if i < 0 {
		l.items = append(l.items, model.ConversationSummary{Conversation: model.Conversation{ID: conversationID}})
		i = len(l.items) - 1
	}
	l.setUnreadLocked(i, l.items[i].UnreadFor(l.role)+1)
}

// Unread 返回查看者在该会话上的未读数。
func (l *List) Unread(conversationID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexLocked(conversationID); i >= 0 {
		return l.items[i].UnreadFor(l.role)
	}
	return 0
}

// Get 返回某个会话的摘要。
func (l *List) Get(conversationID string) (model.ConversationSummary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexLocked(conversationID); i >= 0 {
		return l.items[i], true
	}
	return model.ConversationSummary{}, false
}

// Items 返回当前列表的副本。
func (l *List) Items() []model.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.ConversationSummary, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) setUnreadLocked(i, n int) {
	if l.role == model.RoleExpert {
		l.items[i].ExpertUnreadCount = n
	} else {
		l.items[i].UserUnreadCount = n
	}
}

func (l *List) indexLocked(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

// sortLocked 稳定排序，时间相同的会话保持原有相对顺序。
func (l *List) sortLocked() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.items[i].SortKey().After(l.items[j].SortKey())
	})
}
