package protocol

import (
	"fmt"
	"math"
	"regexp"
)

// SendMessage 是 sendMessage 的载荷。clientId 由客户端生成，服务端原样回传以便对账。
type SendMessage struct {
	ConversationID string  `json:"conversationId"`
	ClientID       string  `json:"clientId,omitempty"`
	Sender         string  `json:"sender,omitempty"`
	SenderModel    string  `json:"senderModel,omitempty"`
	Content        string  `json:"content"`
	ContentType    string  `json:"contentType"`
	ReplyTo        *string `json:"replyTo,omitempty"`
}

// MarkAsRead 是 markAsRead 的载荷。
type MarkAsRead struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessagesRead 是 messagesRead 的载荷。
type MessagesRead struct {
	ConversationID string `json:"conversationId"`
	ReadByUserID   string `json:"readByUserId"`
}

// DeleteMessage 是 deleteMessage 的载荷。
type DeleteMessage struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// MessageDeleted 是 messageDeleted 的载荷。
type MessageDeleted struct {
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId"`
}

// error 事件的错误码。
const (
	CodeInvalidInput = "invalid_input"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeRoomFull     = "room-full"
	CodeInternal     = "internal"
)

// Permanent 判断错误码是否表示重发也不会成功。
func Permanent(code string) bool {
	switch code {
	case CodeInvalidInput, CodeForbidden, CodeNotFound, CodeRoomFull:
		return true
	}
	return false
}

// Error 是 error 事件的载荷，对应触发它的事件。
type Error struct {
	Event    string `json:"event"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	ClientID string `json:"clientId,omitempty"`
}

// UserConnected 通知房间内另一方已加入。Initiator 为 true 的一方负责发起 offer。
type UserConnected struct {
	RoomID    string `json:"roomId"`
	PeerID    string `json:"peerId"`
	Initiator bool   `json:"initiator"`
}

// UserDisconnected 通知房间内另一方已离开。
type UserDisconnected struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

// SessionDescription 对应 WebRTC 的 RTCSessionDescriptionInit。
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Negotiation 是 offer / answer 的载荷。
type Negotiation struct {
	RoomID string             `json:"roomId"`
	SDP    SessionDescription `json:"sdp"`
}

// ICECandidateInit 对应 WebRTC 的 RTCIceCandidateInit。
type ICECandidateInit struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ICECandidate 是 ice-candidate 的载荷。
type ICECandidate struct {
	RoomID    string           `json:"roomId"`
	Candidate ICECandidateInit `json:"candidate"`
}

// 白板笔画默认值。橡皮擦用背景色加粗笔画实现。
const (
	BackgroundColor = "#ffffff"
	DefaultColor    = "#000000"
	DefaultWidth    = 2.0
	EraserWidth     = 20.0
	MaxStrokeWidth  = 100.0
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Draw 是 wb-draw 的载荷，坐标是画布宽高的比例 (0..1)。
type Draw struct {
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	RoomID string  `json:"roomId"`
}

// Normalize 填充缺省颜色和宽度，并校验坐标范围。
func (d *Draw) Normalize() error {
	for _, v := range []float64{d.X0, d.Y0, d.X1, d.Y1} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("coordinate %v out of range [0,1]", v)
		}
	}
	if d.Color == "" {
		d.Color = DefaultColor
	}
	if !hexColor.MatchString(d.Color) {
		return fmt.Errorf("invalid color %q", d.Color)
	}
	if d.Width == 0 {
		d.Width = DefaultWidth
	}
	if math.IsNaN(d.Width) || d.Width < 0 || d.Width > MaxStrokeWidth {
		return fmt.Errorf("invalid stroke width %v", d.Width)
	}
	return nil
}

// Scale 把归一化坐标换算为 w x h 画布上的像素坐标。
func (d Draw) Scale(w, h float64) (x0, y0, x1, y1 float64) {
	return d.X0 * w, d.Y0 * h, d.X1 * w, d.Y1 * h
}

// StateRequest 是 wb-request-state 的载荷。RequesterID 由中继填入请求方的会话 ID。
type StateRequest struct {
	RoomID      string `json:"roomId"`
	RequesterID string `json:"requesterId,omitempty"`
}

// StateSnapshot 是 wb-send-state 的载荷，Image 为 PNG data URL，只单播给 RequesterID。
type StateSnapshot struct {
	RoomID      string `json:"roomId"`
	Image       string `json:"image"`
	RequesterID string `json:"requesterId"`
}
