package whiteboard

import (
	"encoding/json"
	"fmt"
	"sync"

	"mind-namo-go/internal/protocol"
	"mind-namo-go/pkg/log"
)

// Board 是一方参与者本地持有的白板，通过房间通道与另一方同步。
type Board struct {
	mu     sync.Mutex
	ch     protocol.Channel
	roomID string
	canvas *Canvas
	offs   []func()
}

// NewBoard 创建白板并订阅房间内的白板事件。
func NewBoard(ch protocol.Channel, roomID string, w, h int) *Board {
	b := &Board{ch: ch, roomID: roomID, canvas: NewCanvas(w, h)}
	b.offs = []func(){
		ch.On(protocol.EventWBDraw, b.onDraw),
		ch.On(protocol.EventWBClear, b.onClear),
		ch.On(protocol.EventWBRequestState, b.onRequestState),
		ch.On(protocol.EventWBSendState, b.onSendState),
	}
	return b
}

// Canvas 返回本地画布。
func (b *Board) Canvas() *Canvas {
	return b.canvas
}

// Draw 在本地画一笔并广播给房间。
func (b *Board) Draw(d protocol.Draw) error {
	d.RoomID = b.roomID
	if err := d.Normalize(); err != nil {
		return err
	}
	b.canvas.Draw(d)
	return b.ch.Emit(protocol.EventWBDraw, d)
}

// Erase 用背景色的粗笔画擦除一段。
func (b *Board) Erase(x0, y0, x1, y1 float64) error {
	return b.Draw(protocol.Draw{X0: x0, Y0: y0, X1: x1, Y1: y1, Color: protocol.BackgroundColor, Width: protocol.EraserWidth})
}

// Clear 清空本地画布并广播。
func (b *Board) Clear() error {
	b.canvas.Clear()
	return b.ch.Emit(protocol.EventWBClear, b.roomID)
}

// RequestState 向另一方请求当前画布。对方没有回应时画布保持原样。
func (b *Board) RequestState() error {
	return b.ch.Emit(protocol.EventWBRequestState, protocol.StateRequest{RoomID: b.roomID})
}

// Close 取消所有订阅，可重复调用。
func (b *Board) Close() {
	b.mu.Lock()
	offs := b.offs
	b.offs = nil
	b.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// inRoom 判断入站事件是否属于本白板的房间，同一连接可能同时在多个房间。
func (b *Board) inRoom(event, roomID string) bool {
	if roomID != b.roomID {
		log.Debugf("[Whiteboard] 忽略其他房间的 %s, roomId: %s, board: %s", event, roomID, b.roomID)
		return false
	}
	return true
}

func (b *Board) onDraw(data json.RawMessage) {
	var d protocol.Draw
	if err := json.Unmarshal(data, &d); err != nil {
		log.Warnf("[Whiteboard] 无法解析笔画: %v", err)
		return
	}
	if !b.inRoom(protocol.EventWBDraw, d.RoomID) {
		return
	}
	if err := d.Normalize(); err != nil {
		log.Warnf("[Whiteboard] 忽略非法笔画: %v", err)
		return
	}
	b.canvas.Draw(d)
}

func (b *Board) onClear(data json.RawMessage) {
	roomID, err := protocol.DecodeID(data)
	if err != nil || !b.inRoom(protocol.EventWBClear, roomID) {
		return
	}
	b.canvas.Clear()
}

func (b *Board) onRequestState(data json.RawMessage) {
	var req protocol.StateRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RequesterID == "" {
		return
	}
	if !b.inRoom(protocol.EventWBRequestState, req.RoomID) {
		return
	}
	image, err := b.canvas.DataURL()
	if err != nil {
		log.Errorf("[Whiteboard] 序列化画布失败: %v", err)
		return
	}
	snap := protocol.StateSnapshot{RoomID: b.roomID, Image: image, RequesterID: req.RequesterID}
	if err := b.ch.Emit(protocol.EventWBSendState, snap); err != nil {
		log.Warnf("[Whiteboard] 发送画布状态失败: %v", err)
	}
}

func (b *Board) onSendState(data json.RawMessage) {
	var snap protocol.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil || !b.inRoom(protocol.EventWBSendState, snap.RoomID) {
		return
	}
	img, err := DecodeDataURL(snap.Image)
	if err != nil {
		log.Warnf("[Whiteboard] 无法应用画布状态: %v", err)
		return
	}
	b.canvas.Paint(img)
}

// Snapshot 返回当前画布的 PNG 数据。
func (b *Board) Snapshot() ([]byte, error) {
	data, err := b.canvas.EncodePNG()
	if err != nil {
		return nil, fmt.Errorf("snapshot whiteboard: %w", err)
	}
	return data, nil
}
