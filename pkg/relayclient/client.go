// Package relayclient 是中继服务的 WebSocket 客户端，实现 protocol.Channel。
package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/pkg/log"
)

// Conn 是一条到中继的连接。入站事件在读协程中按到达顺序逐个交给处理函数。
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]map[int]protocol.Handler
	nextID   int

	done chan struct{}
	err  error
}

// Dial 连接中继地址，例如 ws://host/relay/<token>。
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c := &Conn{
		ws:       ws,
		handlers: make(map[string]map[int]protocol.Handler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Backoff 是重连的退避参数，每次失败后等待时间翻倍，不超过 Max。
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff 返回默认的重连退避。
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second}
}

// Redial 反复调用 Dial 直到成功或 ctx 结束。
func Redial(ctx context.Context, url string, header http.Header, b Backoff) (*Conn, error) {
	if b.Initial <= 0 {
		b = DefaultBackoff()
	}
	delay := b.Initial
	for attempt := 1; ; attempt++ {
		c, err := Dial(ctx, url, header)
		if err == nil {
			if attempt > 1 {
				log.Infof("[RelayClient] 重连成功, attempt: %d", attempt)
			}
			return c, nil
		}
		log.Warnf("[RelayClient] 重连失败, attempt: %d, retry in: %s, error: %v", attempt, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}

func (c *Conn) Emit(event string, payload interface{}) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

func (c *Conn) On(event string, h protocol.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]protocol.Handler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[event][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// Done 在连接断开后关闭。
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err 返回导致连接断开的错误，连接仍存活时为 nil。
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close 发送关闭帧并断开连接。
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		var env protocol.Envelope
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warnf("[RelayClient] 无法解析帧: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.handlers[env.Event]))
	for id := range c.handlers[env.Event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]protocol.Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, c.handlers[env.Event][id])
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(env.Data)
	}
}
