package model

import "time"

// MessageDocument 是存储在 Elasticsearch 中的消息文档，仅索引文本内容。
type MessageDocument struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	SenderRole     string    `json:"sender_role"`
	TextContent    string    `json:"text_content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageSearchHit 定义了返回给前端的搜索结果结构。
type MessageSearchHit struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	SenderRole     string    `json:"senderModel"`
	TextContent    string    `json:"textContent"`
	CreatedAt      time.Time `json:"createdAt"`
	Score          float64   `json:"score"`
}
