package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/internal/protocol/protocoltest"
)

func TestRoomsPairWithDeterministicInitiator(t *testing.T) {
	rooms := NewRooms()
	require.NoError(t, rooms.Join("appt-1", "sid-b", "u1"))
	pair, err := rooms.Ready("appt-1", "sid-b", "u1")
	require.NoError(t, err)
	assert.Nil(t, pair, "只有一人时不配对")

	pair, err = rooms.Ready("appt-1", "sid-a", "e1")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "sid-a", pair.Initiator, "会话 ID 较小的一方发起")

	// 重复就绪不再重复配对
	again, _ := rooms.Ready("appt-1", "sid-a", "e1")
	assert.Nil(t, again)

	assert.ErrorIs(t, rooms.Join("appt-1", "sid-c", "x"), ErrRoomFull)
	_, err = rooms.Ready("appt-1", "sid-c", "x")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestRoomsLeaveDestroysEmptyRoom(t *testing.T) {
	rooms := NewRooms()
	_, _ = rooms.Ready("appt-1", "sid-a", "u1")
	_, _ = rooms.Ready("appt-1", "sid-b", "e1")
	rooms.AppendStroke("appt-1", protocol.Draw{X1: 1, Y1: 1, Color: "#000000", Width: 2})

	peers, err := rooms.Peers("appt-1", "sid-a")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "sid-b", peers[0].SessionID)
	_, err = rooms.Peers("appt-1", "sid-z")
	assert.ErrorIs(t, err, ErrNotInRoom)
	assert.Equal(t, []string{"appt-1"}, rooms.RoomsOf("sid-a"))

	left, err := rooms.Leave("appt-1", "sid-a")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "sid-b", left[0].SessionID)

	strokes, ok := rooms.Strokes("appt-1")
	assert.True(t, ok)
	assert.Len(t, strokes, 1, "房间存在期间保留笔画")
	rooms.ClearStrokes("appt-1")
	strokes, _ = rooms.Strokes("appt-1")
	assert.Empty(t, strokes)

	left, _ = rooms.Leave("appt-1", "sid-b")
	assert.Empty(t, left)
	_, ok = rooms.Strokes("appt-1")
	assert.False(t, ok, "空房间应被销毁")
	_, err = rooms.Leave("appt-1", "sid-b")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestICEQueueIsFIFO(t *testing.T) {
	var q ICEQueue
	q.Push(protocol.ICECandidateInit{Candidate: "a"})
	q.Push(protocol.ICECandidateInit{Candidate: "b"})
	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Candidate)
	assert.Equal(t, "b", got[1].Candidate)
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain())
}

type fakeStream struct {
	mu    sync.Mutex
	stops int
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

type fakePeer struct {
	mu          sync.Mutex
	calls       []string
	applied     []string
	remote      *protocol.SessionDescription
	local       *protocol.SessionDescription
	closes      int
	onICE       func(protocol.ICECandidateInit)
	onTrack     func()
	failOffer   bool
	remoteError error
}

func (f *fakePeer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePeer) AddStream(MediaStream) error { f.record("addStream"); return nil }

func (f *fakePeer) CreateOffer(context.Context) (protocol.SessionDescription, error) {
	f.record("createOffer")
	if f.failOffer {
		return protocol.SessionDescription{}, errors.New("boom")
	}
	return protocol.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (f *fakePeer) CreateAnswer(context.Context) (protocol.SessionDescription, error) {
	f.record("createAnswer")
	return protocol.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (f *fakePeer) SetLocalDescription(_ context.Context, sd protocol.SessionDescription) error {
	f.record("setLocal:" + sd.Type)
	f.mu.Lock()
	f.local = &sd
	f.mu.Unlock()
	return nil
}

func (f *fakePeer) SetRemoteDescription(_ context.Context, sd protocol.SessionDescription) error {
	f.record("setRemote:" + sd.Type)
	if f.remoteError != nil {
		return f.remoteError
	}
	f.mu.Lock()
	f.remote = &sd
	f.mu.Unlock()
	return nil
}

func (f *fakePeer) AddICECandidate(_ context.Context, c protocol.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, c.Candidate)
	return nil
}

func (f *fakePeer) OnICECandidate(cb func(protocol.ICECandidateInit)) { f.onICE = cb }
func (f *fakePeer) OnTrack(cb func())                                 { f.onTrack = cb }

func (f *fakePeer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func newParticipant(t *testing.T) (*Participant, *protocoltest.Recorder, *fakePeer, *fakeStream) {
	t.Helper()
	ch := protocoltest.NewRecorder()
	pc := &fakePeer{}
	stream := &fakeStream{}
	p := NewParticipant(ch, "appt-1", pc, func(context.Context) (MediaStream, error) { return stream, nil })
	require.NoError(t, p.Join(context.Background()))
	return p, ch, pc, stream
}

func TestParticipantJoinAnnouncesReadiness(t *testing.T) {
	p, ch, _, _ := newParticipant(t)
	assert.Equal(t, StateJoining, p.State())
	events := ch.Emitted()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventJoinVideo, events[0].Event)
	assert.Equal(t, protocol.EventClientReady, events[1].Event)
	var roomID string
	require.NoError(t, events[1].Decode(&roomID))
	assert.Equal(t, "appt-1", roomID)
}

func TestInitiatorOffersAndAppliesQueuedCandidates(t *testing.T) {
	p, ch, pc, _ := newParticipant(t)

	// 非发起方通知不触发 offer
	ch.Deliver(protocol.EventUserConnected, protocol.UserConnected{RoomID: "appt-1", PeerID: "sid-b", Initiator: false})
	assert.Empty(t, ch.Events(protocol.EventOffer))
	assert.Equal(t, StateJoining, p.State())

	ch.Deliver(protocol.EventUserConnected, protocol.UserConnected{RoomID: "appt-1", PeerID: "sid-b", Initiator: true})
	assert.Equal(t, StateOffering, p.State())
	offers := ch.Events(protocol.EventOffer)
	require.Len(t, offers, 1)
	var offer protocol.Negotiation
	require.NoError(t, offers[0].Decode(&offer))
	assert.Equal(t, "appt-1", offer.RoomID)
	assert.Equal(t, "offer", offer.SDP.Type)

	// answer 之前到达的候选进入队列
	ch.Deliver(protocol.EventICECandidate, protocol.ICECandidate{RoomID: "appt-1", Candidate: protocol.ICECandidateInit{Candidate: "c1"}})
	ch.Deliver(protocol.EventICECandidate, protocol.ICECandidate{RoomID: "appt-1", Candidate: protocol.ICECandidateInit{Candidate: "c2"}})
	assert.Equal(t, 2, p.PendingCandidates())
	assert.Empty(t, pc.applied)

	ch.Deliver(protocol.EventAnswer, protocol.Negotiation{RoomID: "appt-1", SDP: protocol.SessionDescription{Type: "answer", SDP: "v=0"}})
	assert.Zero(t, p.PendingCandidates())
	assert.Equal(t, []string{"c1", "c2"}, pc.applied)

	ch.Deliver(protocol.EventICECandidate, protocol.ICECandidate{RoomID: "appt-1", Candidate: protocol.ICECandidateInit{Candidate: "c3"}})
	assert.Equal(t, []string{"c1", "c2", "c3"}, pc.applied, "远端描述就绪后候选立即生效")
	assert.Zero(t, p.PendingCandidates())

	pc.onTrack()
	assert.Equal(t, StateConnected, p.State())
}

func TestResponderAnswersOffer(t *testing.T) {
	p, ch, pc, _ := newParticipant(t)
	ch.Deliver(protocol.EventICECandidate, protocol.ICECandidate{RoomID: "appt-1", Candidate: protocol.ICECandidateInit{Candidate: "early"}})

	ch.Deliver(protocol.EventOffer, protocol.Negotiation{RoomID: "appt-1", SDP: protocol.SessionDescription{Type: "offer", SDP: "v=0"}})
	assert.Equal(t, StateAnswering, p.State())
	assert.Len(t, ch.Events(protocol.EventAnswer), 1)
	assert.Equal(t, []string{"early"}, pc.applied)

	// 本地 ICE 候选被转发到房间
	pc.onICE(protocol.ICECandidateInit{Candidate: "local-1"})
	sent := ch.Events(protocol.EventICECandidate)
	require.Len(t, sent, 1)
	var c protocol.ICECandidate
	require.NoError(t, sent[0].Decode(&c))
	assert.Equal(t, "appt-1", c.RoomID)
	assert.Equal(t, "local-1", c.Candidate.Candidate)
}

func TestNegotiationFailureIsNotRetried(t *testing.T) {
	ch := protocoltest.NewRecorder()
	pc := &fakePeer{failOffer: true}
	p := NewParticipant(ch, "appt-1", pc, func(context.Context) (MediaStream, error) { return &fakeStream{}, nil })
	require.NoError(t, p.Join(context.Background()))
	ch.Deliver(protocol.EventUserConnected, protocol.UserConnected{RoomID: "appt-1", PeerID: "sid-b", Initiator: true})
	assert.Equal(t, StateJoining, p.State())
	assert.Empty(t, ch.Events(protocol.EventOffer))
}

func TestMediaFailureAbortsJoin(t *testing.T) {
	ch := protocoltest.NewRecorder()
	pc := &fakePeer{}
	p := NewParticipant(ch, "appt-1", pc, func(context.Context) (MediaStream, error) {
		return nil, errors.New("permission denied")
	})
	assert.ErrorIs(t, p.Join(context.Background()), ErrMediaUnavailable)
	assert.Equal(t, StateClosed, p.State())
	assert.Empty(t, ch.Emitted(), "没有媒体时不发出任何事件")
}

func TestCloseIsIdempotent(t *testing.T) {
	p, ch, pc, stream := newParticipant(t)
	var states []State
	p.OnStateChange = func(s State) { states = append(states, s) }

	p.Close()
	p.Close()
	assert.Equal(t, StateClosed, p.State())
	assert.Equal(t, 1, stream.stops)
	assert.Equal(t, 1, pc.closes)
	assert.Len(t, ch.Events(protocol.EventLeaveVideo), 1)
	assert.Zero(t, ch.Subscribers(protocol.EventOffer))
	assert.Equal(t, []State{StateClosed}, states)
}

func TestRemoteDisconnectCloses(t *testing.T) {
	p, ch, pc, _ := newParticipant(t)
	ch.Deliver(protocol.EventUserDisconnected, protocol.UserDisconnected{RoomID: "appt-1", PeerID: "sid-b"})
	assert.Equal(t, StateClosed, p.State())
	assert.Equal(t, 1, pc.closes)
}
