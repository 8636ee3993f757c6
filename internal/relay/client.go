package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/pkg/log"
)

// Client 是一条已认证的 WebSocket 连接。
type Client struct {
	ID    string
	Party model.Party

	conn   *websocket.Conn
	log    *log.Logger
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	topics map[string]bool // 由 Hub 的锁保护

	// 以下字段只在该连接的读协程中访问
	conversations map[string]bool
}

func newClient(id string, party model.Party, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:            id,
		Party:         party,
		conn:          conn,
		log:           log.With("session", id, "party", party.ID),
		send:          make(chan []byte, buffer),
		done:          make(chan struct{}),
		topics:        make(map[string]bool),
		conversations: make(map[string]bool),
	}
}

// enqueue 非阻塞地放入发送缓冲，缓冲已满或连接已关闭时返回 false。
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Emit 直接向本连接发送一个事件，不经过总线。
func (c *Client) Emit(event string, payload interface{}) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		return websocket.ErrCloseSent
	}
	return nil
}

// Close 关闭连接，可重复调用。
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Done 在连接关闭后返回。
func (c *Client) Done() <-chan struct{} { return c.done }

// readPump 逐帧读取并按顺序交给 dispatch，读错误时返回。
func (c *Client) readPump(maxBytes int64, pongWait time.Duration, dispatch func(*Client, protocol.Envelope)) {
	if maxBytes > 0 {
		c.conn.SetReadLimit(maxBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnf("[Relay] 读取连接失败: %v", err)
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			_ = c.Emit(protocol.EventError, protocol.Error{Code: protocol.CodeInvalidInput, Message: "malformed frame"})
			continue
		}
		dispatch(c, env)
	}
}

// writePump 把发送缓冲写到连接上，并定期发送 ping。
func (c *Client) writePump(writeWait, pongWait time.Duration) {
	ticker := time.NewTicker(pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warnf("[Relay] 写入连接失败: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debugf("[Relay] 发送 ping 失败: %v", err)
				return
			}
		}
	}
}
