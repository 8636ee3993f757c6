package relay

import (
	"context"
	"encoding/json"

	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/internal/service"
)

func (s *Server) onJoinRoom(ctx context.Context, c *Client, data json.RawMessage) {
	convID, err := protocol.DecodeID(data)
	if err != nil {
		s.fail(c, protocol.EventJoinRoom, protocol.CodeInvalidInput, "conversationId is required", "")
		return
	}
	if c.conversations[convID] {
		return
	}
	if _, err := s.convs.OpenConversation(ctx, c.Party, convID); err != nil {
		s.failWith(c, protocol.EventJoinRoom, err, "")
		return
	}
	c.conversations[convID] = true
	s.hub.Subscribe(c, ConversationTopic(convID))
}

func (s *Server) onLeaveRoom(ctx context.Context, c *Client, data json.RawMessage) {
	convID, err := protocol.DecodeID(data)
	if err != nil {
		s.fail(c, protocol.EventLeaveRoom, protocol.CodeInvalidInput, "conversationId is required", "")
		return
	}
	if !c.conversations[convID] {
		return
	}
	delete(c.conversations, convID)
	s.hub.Unsubscribe(c, ConversationTopic(convID))
	if err := s.convs.CloseConversation(ctx, c.Party, convID); err != nil {
		s.failWith(c, protocol.EventLeaveRoom, err, "")
	}
}

func (s *Server) onSendMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var p protocol.SendMessage
	if err := decode(data, &p); err != nil {
		s.fail(c, protocol.EventSendMessage, protocol.CodeInvalidInput, "malformed sendMessage payload", "")
		return
	}
	res, err := s.chat.SendMessage(ctx, c.Party, service.SendCommand{
		ConversationID: p.ConversationID,
		ClientID:       p.ClientID,
		Sender:         p.Sender,
		SenderModel:    p.SenderModel,
		Content:        p.Content,
		ContentType:    p.ContentType,
		ReplyTo:        p.ReplyTo,
	})
	if err != nil {
		s.failWith(c, protocol.EventSendMessage, err, p.ClientID)
		return
	}
	if res.Duplicate {
		// 重发的消息只回给发送方，用于补上丢失的确认
		s.publish(ctx, SessionTopic(c.ID), "", protocol.EventReceiveMessage, res.Message)
		return
	}
	s.publish(ctx, ConversationTopic(res.Conversation.ID), "", protocol.EventReceiveMessage, res.Message)
	if !s.hub.Subscribed(c, ConversationTopic(res.Conversation.ID)) {
		s.publish(ctx, SessionTopic(c.ID), "", protocol.EventReceiveMessage, res.Message)
	}
	s.broadcastSummary(ctx, res.Conversation)
}

func (s *Server) onMarkAsRead(ctx context.Context, c *Client, data json.RawMessage) {
	var p protocol.MarkAsRead
	if err := decode(data, &p); err != nil {
		s.fail(c, protocol.EventMarkAsRead, protocol.CodeInvalidInput, "malformed markAsRead payload", "")
		return
	}
	res, err := s.chat.MarkAsRead(ctx, c.Party, p.ConversationID, p.UserID)
	if err != nil {
		s.failWith(c, protocol.EventMarkAsRead, err, "")
		return
	}
	if res.Marked > 0 {
		s.publish(ctx, ConversationTopic(res.Conversation.ID), "", protocol.EventMessagesRead,
			protocol.MessagesRead{ConversationID: res.Conversation.ID, ReadByUserID: res.ReaderID})
	}
	s.publish(ctx, PartyTopic(res.ReaderID), "", protocol.EventConversationUpdated, model.SummaryUpdate(res.Conversation))
}

func (s *Server) onDeleteMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var p protocol.DeleteMessage
	if err := decode(data, &p); err != nil {
		s.fail(c, protocol.EventDeleteMessage, protocol.CodeInvalidInput, "malformed deleteMessage payload", "")
		return
	}
	msg, err := s.chat.DeleteMessage(ctx, c.Party, p.ConversationID, p.MessageID)
	if err != nil {
		s.failWith(c, protocol.EventDeleteMessage, err, "")
		return
	}
	s.publish(ctx, ConversationTopic(msg.ConversationID), "", protocol.EventMessageDeleted,
		protocol.MessageDeleted{ConversationID: msg.ConversationID, MessageID: msg.ID})
}

// broadcastSummary 把最新的会话摘要发给双方的所有连接。
func (s *Server) broadcastSummary(ctx context.Context, conv *model.Conversation) {
	update := model.SummaryUpdate(conv)
	s.publish(ctx, PartyTopic(conv.UserID), "", protocol.EventConversationUpdated, update)
	s.publish(ctx, PartyTopic(conv.ExpertID), "", protocol.EventConversationUpdated, update)
}
