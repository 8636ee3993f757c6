// Package protocol 定义了实时中继通道上的事件名、信封格式和载荷结构。
// 服务端中继和客户端状态机共用这些定义。
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// 聊天事件
const (
	EventJoinRoom            = "joinRoom"
	EventLeaveRoom           = "leaveRoom"
	EventSendMessage         = "sendMessage"
	EventReceiveMessage      = "receiveMessage"
	EventMarkAsRead          = "markAsRead"
	EventMessagesRead        = "messagesRead"
	EventDeleteMessage       = "deleteMessage"
	EventMessageDeleted      = "messageDeleted"
	EventConversationUpdated = "conversationUpdated"
	EventError               = "error"
)

// 视频信令与白板事件
const (
	EventJoinVideo        = "join-video"
	EventClientReady      = "client-ready"
	EventLeaveVideo       = "leave-video"
	EventUserConnected    = "user-connected"
	EventUserDisconnected = "user-disconnected"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventWBDraw           = "wb-draw"
	EventWBClear          = "wb-clear"
	EventWBRequestState   = "wb-request-state"
	EventWBSendState      = "wb-send-state"
)

// Envelope 是通道上的一帧：{"event": "...", "data": ...}。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope 把载荷编码进信封。payload 为 nil 时 data 省略。
func NewEnvelope(event string, payload interface{}) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("encode %s payload: %w", event, err)
	}
	env.Data = data
	return env, nil
}

// Handler 处理一个事件的载荷。
type Handler func(data json.RawMessage)

// Channel 是一条双向事件通道。On 返回的函数用于取消订阅。
// 实现必须按到达顺序逐个调用处理函数。
type Channel interface {
	Emit(event string, payload interface{}) error
	On(event string, h Handler) (off func())
}

// ErrEmptyID 表示载荷中缺少必需的 ID。
var ErrEmptyID = errors.New("missing id")

// DecodeID 解析形如 "abc" 或 {"roomId": "abc"} / {"conversationId": "abc"} 的载荷。
func DecodeID(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", ErrEmptyID
	}
	var id string
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", err
		}
	} else {
		var obj struct {
			RoomID         string `json:"roomId"`
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", err
		}
		id = obj.RoomID
		if id == "" {
			id = obj.ConversationID
		}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyID
	}
	return id, nil
}
