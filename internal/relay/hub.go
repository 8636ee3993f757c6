// Package relay 实现了 WebSocket 实时中继：连接管理、按主题投递、聊天事件和视频信令转发。
package relay

import (
	"encoding/json"
	"strings"
	"sync"

	"mind-namo-go/internal/protocol"
	"mind-namo-go/pkg/log"
)

// ConversationTopic 返回会话房间的投递目标。
func ConversationTopic(conversationID string) string { return "conversation:" + conversationID }

// PartyTopic 返回某个参与方所有连接的投递目标。
func PartyTopic(partyID string) string { return "party:" + partyID }

// SessionTopic 返回单个连接的投递目标。
func SessionTopic(sessionID string) string { return "session:" + sessionID }

// Delivery 是一次投递：把信封发给订阅了 Target 的所有连接，Exclude 指定的连接除外。
type Delivery struct {
	Target   string            `json:"target"`
	Exclude  string            `json:"exclude,omitempty"`
	Envelope protocol.Envelope `json:"envelope"`
}

// Hub 维护本实例上的连接及其订阅的主题。
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]bool
}

// NewHub 创建一个空的 Hub。
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Client]bool)}
}

// Register 登记连接并订阅其会话主题和参与方主题。
func (h *Hub) Register(c *Client) {
	h.Subscribe(c, SessionTopic(c.ID))
	h.Subscribe(c, PartyTopic(c.Party.ID))
}

// Subscribe 让连接订阅一个主题。
func (h *Hub) Subscribe(c *Client, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]bool)
		h.topics[topic] = subs
	}
	subs[c] = true
	c.topics[topic] = true
}

// Unsubscribe 取消连接对一个主题的订阅。
func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c, topic)
}

func (h *Hub) unsubscribeLocked(c *Client, topic string) {
	delete(c.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribed 判断连接是否订阅了主题。
func (h *Hub) Subscribed(c *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.topics[topic]
}

// Remove 取消连接的全部订阅。
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range c.topics {
		h.unsubscribeLocked(c, topic)
	}
}

// Deliver 把信封投递给本实例上订阅了目标主题的连接，返回成功入队的连接数。
// 发送缓冲已满的连接被视为过慢，直接断开。
func (h *Hub) Deliver(d Delivery) int {
	frame, err := json.Marshal(d.Envelope)
	if err != nil {
		log.Errorf("[Relay] 编码 %s 失败: %v", d.Envelope.Event, err)
		return 0
	}
	h.mu.RLock()
	subs := h.topics[d.Target]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		if d.Exclude != "" && c.ID == d.Exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.enqueue(frame) {
			n++
			continue
		}
		c.log.Warnf("[Relay] 发送缓冲已满，断开")
		h.Remove(c)
		c.Close()
	}
	return n
}
