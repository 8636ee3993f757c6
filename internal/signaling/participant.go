package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"mind-namo-go/internal/protocol"
	"mind-namo-go/pkg/log"
)

// State 是参与者在协商过程中的状态。
type State int

const (
	StateIdle State = iota
	StateJoining
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MediaStream 是本地采集的音视频流。
type MediaStream interface {
	// Stop 停止流中的所有轨道，可重复调用。
	Stop()
}

// MediaSource 申请摄像头和麦克风。
type MediaSource func(ctx context.Context) (MediaStream, error)

// PeerConnection 是 WebRTC 引擎提供的对等连接。
type PeerConnection interface {
	AddStream(stream MediaStream) error
	CreateOffer(ctx context.Context) (protocol.SessionDescription, error)
	CreateAnswer(ctx context.Context) (protocol.SessionDescription, error)
	SetLocalDescription(ctx context.Context, sd protocol.SessionDescription) error
	SetRemoteDescription(ctx context.Context, sd protocol.SessionDescription) error
	AddICECandidate(ctx context.Context, c protocol.ICECandidateInit) error
	OnICECandidate(func(protocol.ICECandidateInit))
	OnTrack(func())
	Close() error
}

// ErrMediaUnavailable 表示无法取得音视频设备，协商流程中止。
var ErrMediaUnavailable = errors.New("camera or microphone unavailable")

// Participant 驱动一方参与者完成房间加入、SDP 交换和 ICE 候选交换。
// 事件处理函数由通道按顺序调用。
type Participant struct {
	ch      protocol.Channel
	roomID  string
	pc      PeerConnection
	acquire MediaSource

	mu        sync.Mutex
	ctx       context.Context
	state     State
	stream    MediaStream
	remoteSet bool
	ice       ICEQueue
	offs      []func()

	// OnStateChange 在状态变化后调用（不持有内部锁）。
	OnStateChange func(State)
}

// NewParticipant 创建一个处于 Idle 状态的参与者。
func NewParticipant(ch protocol.Channel, roomID string, pc PeerConnection, acquire MediaSource) *Participant {
	return &Participant{ch: ch, roomID: roomID, pc: pc, acquire: acquire, state: StateIdle}
}

// State 返回当前状态。
func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PendingCandidates 返回排队中的 ICE 候选数。
func (p *Participant) PendingCandidates() int {
	return p.ice.Len()
}

func (p *Participant) setState(s State) {
	p.mu.Lock()
	if p.state == s || p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = s
	cb := p.OnStateChange
	p.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Join 采集本地媒体、订阅房间事件并宣告就绪。设备不可用时返回 ErrMediaUnavailable，参与者进入 Closed。
func (p *Participant) Join(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		st := p.state
		p.mu.Unlock()
		return fmt.Errorf("join from state %s", st)
	}
	p.ctx = ctx
	p.state = StateJoining
	p.mu.Unlock()

	stream, err := p.acquire(ctx)
	if err != nil {
		p.Close()
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()
	if err := p.pc.AddStream(stream); err != nil {
		p.Close()
		return fmt.Errorf("attach local media: %w", err)
	}

	p.pc.OnICECandidate(func(c protocol.ICECandidateInit) {
		if err := p.ch.Emit(protocol.EventICECandidate, protocol.ICECandidate{RoomID: p.roomID, Candidate: c}); err != nil {
			log.Warnf("[Signaling] 发送 ICE 候选失败: %v", err)
		}
	})
	p.pc.OnTrack(func() { p.setState(StateConnected) })

	p.mu.Lock()
	p.offs = []func(){
		p.ch.On(protocol.EventUserConnected, p.onUserConnected),
		p.ch.On(protocol.EventOffer, p.onOffer),
		p.ch.On(protocol.EventAnswer, p.onAnswer),
		p.ch.On(protocol.EventICECandidate, p.onICECandidate),
		p.ch.On(protocol.EventUserDisconnected, p.onUserDisconnected),
	}
	p.mu.Unlock()

	if err := p.ch.Emit(protocol.EventJoinVideo, p.roomID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if err := p.ch.Emit(protocol.EventClientReady, p.roomID); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}
	if cb := p.OnStateChange; cb != nil {
		cb(StateJoining)
	}
	return nil
}

func (p *Participant) onUserConnected(data json.RawMessage) {
	var msg protocol.UserConnected
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnf("[Signaling] 无法解析 user-connected: %v", err)
		return
	}
	if !msg.Initiator || p.State() != StateJoining {
		return
	}
	ctx := p.context()
	offer, err := p.pc.CreateOffer(ctx)
	if err != nil {
		log.Errorf("[Signaling] 创建 offer 失败: %v", err)
		return
	}
	if err := p.pc.SetLocalDescription(ctx, offer); err != nil {
		log.Errorf("[Signaling] 设置本地 offer 失败: %v", err)
		return
	}
	if err := p.ch.Emit(protocol.EventOffer, protocol.Negotiation{RoomID: p.roomID, SDP: offer}); err != nil {
		log.Errorf("[Signaling] 发送 offer 失败: %v", err)
		return
	}
	p.setState(StateOffering)
}

func (p *Participant) onOffer(data json.RawMessage) {
	var msg protocol.Negotiation
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnf("[Signaling] 无法解析 offer: %v", err)
		return
	}
	if p.State() != StateJoining {
		// 只有等待中的非发起方应答
		log.Warnf("[Signaling] 状态 %s 下忽略 offer", p.State())
		return
	}
	ctx := p.context()
	if err := p.applyRemote(ctx, msg.SDP); err != nil {
		log.Errorf("[Signaling] 设置远端 offer 失败: %v", err)
		return
	}
	answer, err := p.pc.CreateAnswer(ctx)
	if err != nil {
		log.Errorf("[Signaling] 创建 answer 失败: %v", err)
		return
	}
	if err := p.pc.SetLocalDescription(ctx, answer); err != nil {
		log.Errorf("[Signaling] 设置本地 answer 失败: %v", err)
		return
	}
	if err := p.ch.Emit(protocol.EventAnswer, protocol.Negotiation{RoomID: p.roomID, SDP: answer}); err != nil {
		log.Errorf("[Signaling] 发送 answer 失败: %v", err)
		return
	}
	p.setState(StateAnswering)
}

func (p *Participant) onAnswer(data json.RawMessage) {
	var msg protocol.Negotiation
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnf("[Signaling] 无法解析 answer: %v", err)
		return
	}
	if p.State() != StateOffering {
		log.Warnf("[Signaling] 状态 %s 下忽略 answer", p.State())
		return
	}
	if err := p.applyRemote(p.context(), msg.SDP); err != nil {
		log.Errorf("[Signaling] 设置远端 answer 失败: %v", err)
	}
}

// applyRemote 设置远端描述后按顺序应用排队的候选。
func (p *Participant) applyRemote(ctx context.Context, sd protocol.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(ctx, sd); err != nil {
		return err
	}
	p.mu.Lock()
	p.remoteSet = true
	p.mu.Unlock()
	for _, c := range p.ice.Drain() {
		if err := p.pc.AddICECandidate(ctx, c); err != nil {
			log.Warnf("[Signaling] 应用排队的 ICE 候选失败: %v", err)
		}
	}
	return nil
}

func (p *Participant) onICECandidate(data json.RawMessage) {
	var msg protocol.ICECandidate
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnf("[Signaling] 无法解析 ICE 候选: %v", err)
		return
	}
	p.mu.Lock()
	closed := p.state == StateClosed
	remoteSet := p.remoteSet
	p.mu.Unlock()
	if closed {
		return
	}
	if !remoteSet {
		p.ice.Push(msg.Candidate)
		return
	}
	if err := p.pc.AddICECandidate(p.context(), msg.Candidate); err != nil {
		log.Warnf("[Signaling] 应用 ICE 候选失败: %v", err)
	}
}

func (p *Participant) onUserDisconnected(json.RawMessage) {
	log.Infof("[Signaling] 房间 %s 的对方已断开", p.roomID)
	p.Close()
}

func (p *Participant) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

// Close 停止本地媒体、关闭对等连接并离开房间。可重复调用。
func (p *Participant) Close() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	joined := p.offs != nil
	p.state = StateClosed
	stream := p.stream
	p.stream = nil
	offs := p.offs
	p.offs = nil
	cb := p.OnStateChange
	p.mu.Unlock()

	for _, off := range offs {
		off()
	}
	p.ice.Drain()
	if stream != nil {
		stream.Stop()
	}
	if err := p.pc.Close(); err != nil {
		log.Warnf("[Signaling] 关闭对等连接失败: %v", err)
	}
	if joined {
		if err := p.ch.Emit(protocol.EventLeaveVideo, p.roomID); err != nil {
			log.Warnf("[Signaling] 离开房间失败: %v", err)
		}
	}
	if cb != nil {
		cb(StateClosed)
	}
}
