package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"mind-namo-go/internal/config"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/internal/service"
	"mind-namo-go/internal/signaling"
	"mind-namo-go/pkg/log"
)

// eventTimeout 限制单个事件调用业务层的时间。
const eventTimeout = 10 * time.Second

// RoomAuthorizer 校验参与方能否进入某个视频房间（房间号即预约 ID）。
type RoomAuthorizer interface {
	AuthorizeRoom(ctx context.Context, actor model.Party, roomID string) error
}

// Server 把 WebSocket 连接接入 Hub，并把入站事件分发给聊天和信令处理逻辑。
type Server struct {
	cfg   config.RelayConfig
	hub   *Hub
	bus   Bus
	rooms *signaling.Rooms
	convs service.ConversationService
	chat  service.ChatService
	authz RoomAuthorizer
}

// NewServer 创建一个中继服务。
func NewServer(cfg config.RelayConfig, hub *Hub, bus Bus, rooms *signaling.Rooms, convs service.ConversationService, chat service.ChatService, authz RoomAuthorizer) *Server {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	return &Server{cfg: cfg, hub: hub, bus: bus, rooms: rooms, convs: convs, chat: chat, authz: authz}
}

// Start 启动总线转发，收到的投递交给本地 Hub。
func (s *Server) Start(ctx context.Context) error {
	return s.bus.Start(ctx, func(d Delivery) { s.hub.Deliver(d) })
}

// ServeConn 接管一条已升级的连接，直到连接关闭才返回。
func (s *Server) ServeConn(ctx context.Context, conn *websocket.Conn, party model.Party) {
	c := newClient(uuid.NewString(), party, conn, s.cfg.SendBuffer)
	s.hub.Register(c)
	log.Infof("[Relay] 连接已建立, session: %s, party: %s (%s)", c.ID, party.ID, party.Role)

	go c.writePump(s.cfg.WriteWait, s.cfg.PongWait)
	c.readPump(s.cfg.MaxMessageBytes, s.cfg.PongWait, func(c *Client, env protocol.Envelope) {
		s.dispatch(ctx, c, env)
	})

	s.disconnect(c)
	log.Infof("[Relay] 连接已关闭, session: %s", c.ID)
}

func (s *Server) dispatch(ctx context.Context, c *Client, env protocol.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	switch env.Event {
	case protocol.EventJoinRoom:
		s.onJoinRoom(ctx, c, env.Data)
	case protocol.EventLeaveRoom:
		s.onLeaveRoom(ctx, c, env.Data)
	case protocol.EventSendMessage:
		s.onSendMessage(ctx, c, env.Data)
	case protocol.EventMarkAsRead:
		s.onMarkAsRead(ctx, c, env.Data)
	case protocol.EventDeleteMessage:
		s.onDeleteMessage(ctx, c, env.Data)
	case protocol.EventJoinVideo:
		s.onJoinVideo(ctx, c, env.Data)
	case protocol.EventClientReady:
		s.onClientReady(ctx, c, env.Data)
	case protocol.EventLeaveVideo:
		s.onLeaveVideo(ctx, c, env.Data)
	case protocol.EventOffer, protocol.EventAnswer:
		s.onNegotiation(ctx, c, env.Event, env.Data)
	case protocol.EventICECandidate:
		s.onICECandidate(ctx, c, env.Data)
	case protocol.EventWBDraw:
		s.onDraw(ctx, c, env.Data)
	case protocol.EventWBClear:
		s.onClear(ctx, c, env.Data)
	case protocol.EventWBRequestState:
		s.onRequestState(ctx, c, env.Data)
	case protocol.EventWBSendState:
		s.onSendState(ctx, c, env.Data)
	default:
		s.fail(c, env.Event, protocol.CodeInvalidInput, "unknown event", "")
	}
}

// disconnect 清理连接留下的会话在线状态和视频房间。
func (s *Server) disconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	for convID := range c.conversations {
		if err := s.convs.CloseConversation(ctx, c.Party, convID); err != nil {
			log.Warnf("[Relay] 清理在线状态失败, session: %s, conversation: %s, error: %v", c.ID, convID, err)
		}
	}
	for _, roomID := range s.rooms.RoomsOf(c.ID) {
		s.leaveRoom(ctx, c, roomID)
	}
	s.hub.Remove(c)
	c.Close()
}

// publish 通过总线投递一个事件。
func (s *Server) publish(ctx context.Context, target, exclude, event string, payload interface{}) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		log.Errorf("[Relay] 编码 %s 失败: %v", event, err)
		return
	}
	if err := s.bus.Publish(ctx, Delivery{Target: target, Exclude: exclude, Envelope: env}); err != nil {
		log.Errorf("[Relay] 投递 %s 到 %s 失败: %v", event, target, err)
	}
}

// fail 只向触发事件的连接回复 error。
func (s *Server) fail(c *Client, event, code, message, clientID string) {
	if err := c.Emit(protocol.EventError, protocol.Error{Event: event, Code: code, Message: message, ClientID: clientID}); err != nil {
		c.log.Warnf("[Relay] 回复错误失败: %v", err)
	}
}

// failWith 把业务层错误转换为 error 事件。
func (s *Server) failWith(c *Client, event string, err error, clientID string) {
	code := service.ErrorCode(err)
	if code == protocol.CodeInternal {
		c.log.Errorf("[Relay] 处理 %s 失败: %v", event, err)
	}
	s.fail(c, event, code, service.ErrorMessage(err), clientID)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return protocol.ErrEmptyID
	}
	return json.Unmarshal(data, v)
}
