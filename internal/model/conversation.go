// Package model 包含了应用的数据模型定义。
package model

import "time"

// Role 标识参与方的角色。
type Role string

const (
	RoleUser   Role = "User"
	RoleExpert Role = "Expert"
)

// Valid 判断角色是否为已知取值。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleExpert
}

// Conversation 代表一个用户与一个专家之间的持久会话。
// 每个 (user, expert) 组合最多存在一个会话。
type Conversation struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"_id"`
	UserID            string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_user_expert" json:"userId"`
	ExpertID          string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_user_expert;index" json:"expertId"`
	LastMessage       *string    `gorm:"type:text" json:"lastMessage"`
	LastMessageAt     *time.Time `gorm:"index" json:"lastMessageAt"`
	LastMessageSender *string    `gorm:"type:varchar(64)" json:"lastMessageSender"`
	UserUnreadCount   int        `gorm:"not null;default:0" json:"userUnreadCount"`
	ExpertUnreadCount int        `gorm:"not null;default:0" json:"expertUnreadCount"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// HasParty 判断参与方是否属于该会话。
func (c *Conversation) HasParty(partyID string) bool {
	return c.UserID == partyID || c.ExpertID == partyID
}

// Counterpart 返回会话中另一方的 ID 和角色。
func (c *Conversation) Counterpart(partyID string) (string, Role) {
	if partyID == c.UserID {
		return c.ExpertID, RoleExpert
	}
	return c.UserID, RoleUser
}

// UnreadFor 返回指定角色的未读数。
func (c *Conversation) UnreadFor(role Role) int {
	if role == RoleExpert {
		return c.ExpertUnreadCount
	}
	return c.UserUnreadCount
}

// SortKey 返回会话列表排序使用的时间：没有消息时使用创建时间。
func (c *Conversation) SortKey() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// ConversationUpdate 是对会话摘要的部分更新，nil 字段表示不修改。
type ConversationUpdate struct {
	ConversationID    string     `json:"conversationId"`
	LastMessage       *string    `json:"lastMessage,omitempty"`
	LastMessageAt     *time.Time `json:"lastMessageAt,omitempty"`
	LastMessageSender *string    `json:"lastMessageSender,omitempty"`
	LastMessageStatus *string    `json:"lastMessageStatus,omitempty"`
	UserUnreadCount   *int       `json:"userUnreadCount,omitempty"`
	ExpertUnreadCount *int       `json:"expertUnreadCount,omitempty"`
}

// SummaryUpdate 把完整的会话记录转换为部分更新。
func SummaryUpdate(c *Conversation) ConversationUpdate {
	user, expert := c.UserUnreadCount, c.ExpertUnreadCount
	return ConversationUpdate{
		ConversationID:    c.ID,
		LastMessage:       c.LastMessage,
		LastMessageAt:     c.LastMessageAt,
		LastMessageSender: c.LastMessageSender,
		UserUnreadCount:   &user,
		ExpertUnreadCount: &expert,
	}
}

// ConversationSummary 是客户端会话列表中的一项。
type ConversationSummary struct {
	Conversation
	LastMessageStatus string `json:"lastMessageStatus,omitempty"`
}
