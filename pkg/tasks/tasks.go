// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

// 任务类型
const (
	TypeMessageIndexed  = "message.indexed"
	TypeMessageDeleted  = "message.deleted"
	TypeWhiteboardReady = "whiteboard.ready"
)

// Task is the envelope of every job on the chat task topic.
// Exactly one of the payload fields is set, according to Type.
type Task struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Message    *MessagePayload    `json:"message,omitempty"`
	Deleted    *DeletedPayload    `json:"deleted,omitempty"`
	Whiteboard *WhiteboardPayload `json:"whiteboard,omitempty"`
}

// Key returns the partition key so that tasks of one conversation or appointment stay ordered.
func (t Task) Key() string {
	switch {
	case t.Message != nil:
		return t.Message.ConversationID
	case t.Deleted != nil:
		return t.Deleted.ConversationID
	case t.Whiteboard != nil:
		return t.Whiteboard.AppointmentID
	}
	return t.ID
}

// MessagePayload carries a newly stored message for the search index.
type MessagePayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	SenderRole     string    `json:"sender_role"`
	ContentType    string    `json:"content_type"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeletedPayload identifies a removed message.
type DeletedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// WhiteboardPayload announces an exported whiteboard to the session's user.
type WhiteboardPayload struct {
	AppointmentID string `json:"appointment_id"`
	UserName      string `json:"user_name"`
	UserEmail     string `json:"user_email"`
	ExpertName    string `json:"expert_name"`
	URL           string `json:"url"`
}

// NewMessageIndexed builds a message.indexed task.
func NewMessageIndexed(p MessagePayload) Task {
	return Task{ID: uuid.NewString(), Type: TypeMessageIndexed, Message: &p}
}

// NewMessageDeleted builds a message.deleted task.
func NewMessageDeleted(p DeletedPayload) Task {
	return Task{ID: uuid.NewString(), Type: TypeMessageDeleted, Deleted: &p}
}

// NewWhiteboardReady builds a whiteboard.ready task.
func NewWhiteboardReady(p WhiteboardPayload) Task {
	return Task{ID: uuid.NewString(), Type: TypeWhiteboardReady, Whiteboard: &p}
}
