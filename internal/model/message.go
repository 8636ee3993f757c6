package model

import "time"

// MessageStatus 是仅存在于客户端的发送状态。
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message 是会话中的一条消息。
type Message struct {
	ID             string      `gorm:"type:varchar(36);primaryKey" json:"_id"`
	ClientID       *string     `gorm:"type:varchar(64);uniqueIndex" json:"clientId,omitempty"`
	ConversationID string      `gorm:"type:varchar(36);not null;index:idx_conv_created" json:"conversationId"`
	Sender         string      `gorm:"type:varchar(64);not null" json:"sender"`
	SenderRole     Role        `gorm:"type:varchar(16);not null" json:"senderModel"`
	ContentType    ContentKind `gorm:"type:varchar(16);not null" json:"contentType"`
	Content        string      `gorm:"type:text;not null" json:"content"`
	ReplyTo        *string     `gorm:"type:varchar(36)" json:"replyTo"`
	CreatedAt      time.Time   `gorm:"index:idx_conv_created" json:"createdAt"`

	ReadBy []string      `gorm:"-" json:"readBy"`
	Reply  *ReplyPreview `gorm:"-" json:"reply,omitempty"`
	Status MessageStatus `gorm:"-" json:"status,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

// Body 返回消息的强类型内容。
func (m *Message) Body() (Content, error) {
	return NewContent(m.ContentType, m.Content)
}

// HasReader 判断 readerID 是否已读过该消息。
func (m *Message) HasReader(readerID string) bool {
	for _, r := range m.ReadBy {
		if r == readerID {
			return true
		}
	}
	return false
}

// MessageRead 记录某个参与方已读某条消息，只增不减。
type MessageRead struct {
	MessageID string    `gorm:"type:varchar(36);primaryKey" json:"messageId"`
	ReaderID  string    `gorm:"type:varchar(64);primaryKey" json:"readerId"`
	ReadAt    time.Time `gorm:"autoCreateTime" json:"readAt"`
}

func (MessageRead) TableName() string {
	return "message_reads"
}

// ReplyPreview 是被回复消息的摘要。被回复的消息已删除时 Deleted 为 true。
type ReplyPreview struct {
	ID          string      `json:"_id"`
	Deleted     bool        `json:"deleted,omitempty"`
	SenderRole  Role        `json:"senderModel,omitempty"`
	ContentType ContentKind `json:"contentType,omitempty"`
	Content     string      `json:"content,omitempty"`
}

// DeletedReplyText 是被回复消息不存在时显示的占位文案。
const DeletedReplyText = "This message was deleted"

// Label 返回回复引用的显示文案。
func (r *ReplyPreview) Label() string {
	if r == nil || r.Deleted {
		return DeletedReplyText
	}
	body, err := NewContent(r.ContentType, r.Content)
	if err != nil {
		return DeletedReplyText
	}
	return PreviewText(body, false)
}
