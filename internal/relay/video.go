package relay

import (
	"context"
	"encoding/json"
	"errors"

	"mind-namo-go/internal/protocol"
	"mind-namo-go/internal/signaling"
	"mind-namo-go/pkg/log"
)

func (s *Server) authorizeRoom(ctx context.Context, c *Client, event string, data json.RawMessage) (string, bool) {
	roomID, err := protocol.DecodeID(data)
	if err != nil {
		s.fail(c, event, protocol.CodeInvalidInput, "roomId is required", "")
		return "", false
	}
	if err := s.authz.AuthorizeRoom(ctx, c.Party, roomID); err != nil {
		s.failWith(c, event, err, "")
		return "", false
	}
	return roomID, true
}

func (s *Server) onJoinVideo(ctx context.Context, c *Client, data json.RawMessage) {
	roomID, ok := s.authorizeRoom(ctx, c, protocol.EventJoinVideo, data)
	if !ok {
		return
	}
	if err := s.rooms.Join(roomID, c.ID, c.Party.ID); err != nil {
		s.roomError(c, protocol.EventJoinVideo, err)
		return
	}
	log.Infof("[Signaling] 会话 %s 加入房间 %s", c.ID, roomID)
}

// onClientReady 标记就绪；两人都就绪时通知双方，会话 ID 较小的一方发起 offer。
func (s *Server) onClientReady(ctx context.Context, c *Client, data json.RawMessage) {
	roomID, ok := s.authorizeRoom(ctx, c, protocol.EventClientReady, data)
	if !ok {
		return
	}
	pairing, err := s.rooms.Ready(roomID, c.ID, c.Party.ID)
	if err != nil {
		s.roomError(c, protocol.EventClientReady, err)
		return
	}
	if pairing == nil {
		return
	}
	a, b := pairing.Members[0], pairing.Members[1]
	for _, pair := range [][2]signaling.Member{{a, b}, {b, a}} {
		self, peer := pair[0], pair[1]
		s.publish(ctx, SessionTopic(self.SessionID), "", protocol.EventUserConnected, protocol.UserConnected{
			RoomID:    roomID,
			PeerID:    peer.SessionID,
			Initiator: self.SessionID == pairing.Initiator,
		})
	}
	log.Infof("[Signaling] 房间 %s 配对完成, initiator: %s", roomID, pairing.Initiator)
}

func (s *Server) onLeaveVideo(ctx context.Context, c *Client, data json.RawMessage) {
	roomID, err := protocol.DecodeID(data)
	if err != nil {
		s.fail(c, protocol.EventLeaveVideo, protocol.CodeInvalidInput, "roomId is required", "")
		return
	}
	s.leaveRoom(ctx, c, roomID)
}

func (s *Server) leaveRoom(ctx context.Context, c *Client, roomID string) {
	remaining, err := s.rooms.Leave(roomID, c.ID)
	if err != nil {
		return
	}
	for _, m := range remaining {
		s.publish(ctx, SessionTopic(m.SessionID), "", protocol.EventUserDisconnected,
			protocol.UserDisconnected{RoomID: roomID, PeerID: c.ID})
	}
	log.Infof("[Signaling] 会话 %s 离开房间 %s", c.ID, roomID)
}

func (s *Server) roomError(c *Client, event string, err error) {
	switch {
	case errors.Is(err, signaling.ErrRoomFull):
		s.fail(c, event, protocol.CodeRoomFull, "room is full", "")
	case errors.Is(err, signaling.ErrNotInRoom):
		s.fail(c, event, protocol.CodeForbidden, "not in room", "")
	default:
		s.fail(c, event, protocol.CodeInternal, err.Error(), "")
	}
}

// toPeers 把载荷原样转发给房间中的其他成员。
func (s *Server) toPeers(ctx context.Context, c *Client, event, roomID string, payload interface{}) {
	peers, err := s.rooms.Peers(roomID, c.ID)
	if err != nil {
		s.roomError(c, event, err)
		return
	}
	for _, p := range peers {
		s.publish(ctx, SessionTopic(p.SessionID), "", event, payload)
	}
}

func (s *Server) onNegotiation(ctx context.Context, c *Client, event string, data json.RawMessage) {
	var p protocol.Negotiation
	if err := decode(data, &p); err != nil || p.RoomID == "" || p.SDP.SDP == "" {
		s.fail(c, event, protocol.CodeInvalidInput, "malformed "+event+" payload", "")
		return
	}
	s.toPeers(ctx, c, event, p.RoomID, p)
}

func (s *Server) onICECandidate(ctx context.Context, c *Client, data json.RawMessage) {
	var p protocol.ICECandidate
	if err := decode(data, &p); err != nil || p.RoomID == "" {
		s.fail(c, protocol.EventICECandidate, protocol.CodeInvalidInput, "malformed ice-candidate payload", "")
		return
	}
	s.toPeers(ctx, c, protocol.EventICECandidate, p.RoomID, p)
}

func (s *Server) onDraw(ctx context.Context, c *Client, data json.RawMessage) {
	var d protocol.Draw
	if err := decode(data, &d); err != nil || d.RoomID == "" {
		s.fail(c, protocol.EventWBDraw, protocol.CodeInvalidInput, "malformed wb-draw payload", "")
		return
	}
	if err := d.Normalize(); err != nil {
		s.fail(c, protocol.EventWBDraw, protocol.CodeInvalidInput, err.Error(), "")
		return
	}
	if _, ok := s.rooms.Member(d.RoomID, c.ID); !ok {
		s.roomError(c, protocol.EventWBDraw, signaling.ErrNotInRoom)
		return
	}
	s.rooms.AppendStroke(d.RoomID, d)
	s.toPeers(ctx, c, protocol.EventWBDraw, d.RoomID, d)
}

func (s *Server) onClear(ctx context.Context, c *Client, data json.RawMessage) {
	roomID, err := protocol.DecodeID(data)
	if err != nil {
		s.fail(c, protocol.EventWBClear, protocol.CodeInvalidInput, "roomId is required", "")
		return
	}
	if _, ok := s.rooms.Member(roomID, c.ID); !ok {
		s.roomError(c, protocol.EventWBClear, signaling.ErrNotInRoom)
		return
	}
	s.rooms.ClearStrokes(roomID)
	s.toPeers(ctx, c, protocol.EventWBClear, roomID, roomID)
}

// onRequestState 以请求方的会话 ID 填入 requesterId 后转发给对方。
func (s *Server) onRequestState(ctx context.Context, c *Client, data json.RawMessage) {
	var p protocol.StateRequest
	if err := decode(data, &p); err != nil {
		id, idErr := protocol.DecodeID(data)
		if idErr != nil {
			s.fail(c, protocol.EventWBRequestState, protocol.CodeInvalidInput, "roomId is required", "")
			return
		}
		p.RoomID = id
	}
	if p.RoomID == "" {
		s.fail(c, protocol.EventWBRequestState, protocol.CodeInvalidInput, "roomId is required", "")
		return
	}
	p.RequesterID = c.ID
	s.toPeers(ctx, c, protocol.EventWBRequestState, p.RoomID, p)
}

// onSendState 把快照单播给请求方，请求方必须在同一房间。
func (s *Server) onSendState(ctx context.Context, c *Client, data json.RawMessage) {
	var p protocol.StateSnapshot
	if err := decode(data, &p); err != nil || p.RoomID == "" || p.RequesterID == "" {
		s.fail(c, protocol.EventWBSendState, protocol.CodeInvalidInput, "malformed wb-send-state payload", "")
		return
	}
	if _, ok := s.rooms.Member(p.RoomID, c.ID); !ok {
		s.roomError(c, protocol.EventWBSendState, signaling.ErrNotInRoom)
		return
	}
	if _, ok := s.rooms.Member(p.RoomID, p.RequesterID); !ok || p.RequesterID == c.ID {
		s.fail(c, protocol.EventWBSendState, protocol.CodeNotFound, "requester is not in room", "")
		return
	}
	s.publish(ctx, SessionTopic(p.RequesterID), "", protocol.EventWBSendState, p)
}
