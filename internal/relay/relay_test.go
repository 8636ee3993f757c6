package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"mind-namo-go/internal/config"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/internal/repository"
	"mind-namo-go/internal/service"
	"mind-namo-go/internal/signaling"
	"mind-namo-go/pkg/relayclient"
)

var (
	alice = model.Party{ID: "u-alice", Name: "Alice", Role: model.RoleUser}
	bob   = model.Party{ID: "e-bob", Name: "Dr. Bob", Role: model.RoleExpert}
	eve   = model.Party{ID: "u-eve", Name: "Eve", Role: model.RoleUser}
)

const testRoom = "appt-1"

// roomAuthz 只允许 alice 和 bob 进入 testRoom。
type roomAuthz struct{}

func (roomAuthz) AuthorizeRoom(_ context.Context, actor model.Party, roomID string) error {
	if roomID == testRoom && (actor.ID == alice.ID || actor.ID == bob.ID) {
		return nil
	}
	return &service.AppError{Code: service.CodeForbidden, Message: "not a participant of this appointment"}
}

type testEnv struct {
	url  string
	conv *model.Conversation
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Conversation{}, &model.Message{}, &model.MessageRead{}))
	sqlDB, _ := db.DB()

	convs := repository.NewConversationRepository(db)
	messages := repository.NewMessageRepository(db)
	presence := repository.NewMemoryPresenceRepository()
	convSvc := service.NewConversationService(convs, messages, presence)
	chatSvc := service.NewChatService(convs, messages, presence, nil)

	conv, err := convSvc.CreateConversation(context.Background(), alice, bob.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(config.RelayConfig{SendBuffer: 64}, NewHub(), NewLocalBus(), signaling.NewRooms(), convSvc, chatSvc, roomAuthz{})
	require.NoError(t, s.Start(ctx))

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := r.URL.Query()
		s.ServeConn(ctx, conn, model.Party{ID: q.Get("id"), Role: model.Role(q.Get("role"))})
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = sqlDB.Close()
	})
	return &testEnv{url: "ws" + strings.TrimPrefix(srv.URL, "http"), conv: conv}
}

// peer 是一条测试连接，按事件名收集入站载荷。
type peer struct {
	t      *testing.T
	conn   *relayclient.Conn
	events map[string]chan json.RawMessage
}

var watched = []string{
	protocol.EventReceiveMessage, protocol.EventMessagesRead, protocol.EventMessageDeleted,
	protocol.EventConversationUpdated, protocol.EventError,
	protocol.EventUserConnected, protocol.EventUserDisconnected,
	protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate,
	protocol.EventWBDraw, protocol.EventWBClear, protocol.EventWBRequestState, protocol.EventWBSendState,
}

func (e *testEnv) dial(t *testing.T, party model.Party) *peer {
	t.Helper()
	q := url.Values{"id": {party.ID}, "role": {string(party.Role)}}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := relayclient.Dial(ctx, e.url+"/?"+q.Encode(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	p := &peer{t: t, conn: conn, events: make(map[string]chan json.RawMessage)}
	for _, ev := range watched {
		ch := make(chan json.RawMessage, 32)
		p.events[ev] = ch
		conn.On(ev, func(data json.RawMessage) { ch <- data })
	}
	return p
}

func (p *peer) emit(event string, payload interface{}) {
	p.t.Helper()
	require.NoError(p.t, p.conn.Emit(event, payload), "emit %s", event)
}

// expect 等待下一个 event 事件并解码到 v。
func (p *peer) expect(event string, v interface{}) {
	p.t.Helper()
	select {
	case data := <-p.events[event]:
		if v != nil {
			require.NoError(p.t, json.Unmarshal(data, v), "decode %s", event)
		}
	case <-time.After(3 * time.Second):
		p.t.Fatalf("timed out waiting for %s", event)
	}
}

// join 打开会话，并等待已读回执带来的摘要更新以确认加入已生效。
func (p *peer) join(convID string) {
	p.t.Helper()
	p.emit(protocol.EventJoinRoom, convID)
	p.emit(protocol.EventMarkAsRead, protocol.MarkAsRead{ConversationID: convID})
	p.expect(protocol.EventConversationUpdated, nil)
}

func TestChatRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	a := e.dial(t, alice)
	b := e.dial(t, bob)
	a.join(e.conv.ID)
	b.join(e.conv.ID)

	send := protocol.SendMessage{
		ConversationID: e.conv.ID,
		ClientID:       "c-1",
		Content:        "Hello doctor",
		ContentType:    "text",
	}
	a.emit(protocol.EventSendMessage, send)

	var mine, theirs model.Message
	a.expect(protocol.EventReceiveMessage, &mine)
	b.expect(protocol.EventReceiveMessage, &theirs)
	require.NotNil(t, mine.ClientID, "回显丢失 clientId")
	assert.Equal(t, "c-1", *mine.ClientID)
	assert.Equal(t, mine.ID, theirs.ID)
	assert.Equal(t, "Hello doctor", theirs.Content)
	assert.Equal(t, alice.ID, theirs.Sender)
	assert.Equal(t, []string{alice.ID}, mine.ReadBy, "发送方是唯一的已读者")

	var summary model.ConversationUpdate
	b.expect(protocol.EventConversationUpdated, &summary)
	require.NotNil(t, summary.ExpertUnreadCount)
	assert.Zero(t, *summary.ExpertUnreadCount, "专家正打开会话，未读保持 0")
	a.expect(protocol.EventConversationUpdated, nil)

	// 重发只回给发送方
	a.emit(protocol.EventSendMessage, send)
	var again model.Message
	a.expect(protocol.EventReceiveMessage, &again)
	assert.Equal(t, mine.ID, again.ID, "重复发送不能产生新消息")

	b.emit(protocol.EventMarkAsRead, protocol.MarkAsRead{ConversationID: e.conv.ID, UserID: bob.ID})
	var read protocol.MessagesRead
	a.expect(protocol.EventMessagesRead, &read)
	assert.Equal(t, e.conv.ID, read.ConversationID)
	assert.Equal(t, bob.ID, read.ReadByUserID)

	a.emit(protocol.EventDeleteMessage, protocol.DeleteMessage{ConversationID: e.conv.ID, MessageID: mine.ID})
	var deleted protocol.MessageDeleted
	b.expect(protocol.EventMessageDeleted, &deleted)
	assert.Equal(t, mine.ID, deleted.MessageID)
	select {
	case <-b.events[protocol.EventReceiveMessage]:
		t.Fatal("counterpart received the duplicate send")
	default:
	}
}

func TestSendMessageErrorCarriesClientID(t *testing.T) {
	e := newTestEnv(t)
	x := e.dial(t, eve)

	x.emit(protocol.EventSendMessage, protocol.SendMessage{
		ConversationID: e.conv.ID,
		ClientID:       "c-eve",
		Content:        "let me in",
		ContentType:    "text",
	})
	var failure protocol.Error
	x.expect(protocol.EventError, &failure)
	assert.Equal(t, "c-eve", failure.ClientID)
	assert.Equal(t, protocol.EventSendMessage, failure.Event)
	assert.True(t, protocol.Permanent(failure.Code), "陌生人访问应为永久失败, got %q", failure.Code)

	x.emit("no-such-event", nil)
	x.expect(protocol.EventError, &failure)
	assert.Equal(t, protocol.CodeInvalidInput, failure.Code)
}

func TestVideoPairingAndRelay(t *testing.T) {
	e := newTestEnv(t)
	a := e.dial(t, alice)
	b := e.dial(t, bob)

	x := e.dial(t, eve)
	x.emit(protocol.EventJoinVideo, testRoom)
	var denied protocol.Error
	x.expect(protocol.EventError, &denied)
	assert.Equal(t, protocol.CodeForbidden, denied.Code)

	for _, p := range []*peer{a, b} {
		p.emit(protocol.EventJoinVideo, map[string]string{"roomId": testRoom})
		p.emit(protocol.EventClientReady, testRoom)
	}
	var ua, ub protocol.UserConnected
	a.expect(protocol.EventUserConnected, &ua)
	b.expect(protocol.EventUserConnected, &ub)
	require.NotEqual(t, ua.Initiator, ub.Initiator, "只能有一方发起")
	assert.Equal(t, testRoom, ua.RoomID)
	require.NotEmpty(t, ua.PeerID)
	require.NotEmpty(t, ub.PeerID)
	assert.NotEqual(t, ua.PeerID, ub.PeerID)
	// 会话 ID 较小的一方发起
	assert.Equal(t, ub.PeerID < ua.PeerID, ua.Initiator)
	aSession, bSession := ub.PeerID, ua.PeerID

	initiator, responder := a, b
	if ub.Initiator {
		initiator, responder = b, a
	}
	initiator.emit(protocol.EventOffer, protocol.Negotiation{
		RoomID: testRoom,
		SDP:    protocol.SessionDescription{Type: "offer", SDP: "v=0"},
	})
	var offer protocol.Negotiation
	responder.expect(protocol.EventOffer, &offer)
	assert.Equal(t, protocol.SessionDescription{Type: "offer", SDP: "v=0"}, offer.SDP)
	responder.emit(protocol.EventICECandidate, protocol.ICECandidate{
		RoomID:    testRoom,
		Candidate: protocol.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 9 typ host"},
	})
	var cand protocol.ICECandidate
	initiator.expect(protocol.EventICECandidate, &cand)
	assert.True(t, strings.HasPrefix(cand.Candidate.Candidate, "candidate:1"), cand.Candidate.Candidate)

	// 同一参与方的第三条连接
	a2 := e.dial(t, alice)
	a2.emit(protocol.EventJoinVideo, testRoom)
	var full protocol.Error
	a2.expect(protocol.EventError, &full)
	assert.Equal(t, protocol.CodeRoomFull, full.Code)

	a.emit(protocol.EventWBDraw, protocol.Draw{X0: 0.1, Y0: 0.1, X1: 0.5, Y1: 0.5, RoomID: testRoom})
	var stroke protocol.Draw
	b.expect(protocol.EventWBDraw, &stroke)
	assert.Equal(t, protocol.DefaultColor, stroke.Color, "笔画应被规范化")
	assert.Equal(t, protocol.DefaultWidth, stroke.Width)
	a.emit(protocol.EventWBDraw, protocol.Draw{X0: 2, RoomID: testRoom})
	var bad protocol.Error
	a.expect(protocol.EventError, &bad)
	assert.Equal(t, protocol.CodeInvalidInput, bad.Code)

	b.emit(protocol.EventWBRequestState, protocol.StateRequest{RoomID: testRoom, RequesterID: "spoofed"})
	var req protocol.StateRequest
	a.expect(protocol.EventWBRequestState, &req)
	assert.Equal(t, bSession, req.RequesterID, "requesterId 由服务端填写")
	a.emit(protocol.EventWBSendState, protocol.StateSnapshot{RoomID: testRoom, Image: "data:image/png;base64,AAAA", RequesterID: req.RequesterID})
	var snap protocol.StateSnapshot
	b.expect(protocol.EventWBSendState, &snap)
	assert.Equal(t, "data:image/png;base64,AAAA", snap.Image)

	require.NoError(t, a.conn.Close())
	var gone protocol.UserDisconnected
	b.expect(protocol.EventUserDisconnected, &gone)
	assert.Equal(t, testRoom, gone.RoomID)
	assert.Equal(t, aSession, gone.PeerID)
}

func TestHubDropsSlowConsumer(t *testing.T) {
	h := NewHub()
	c := newClient("s-1", alice, nil, 1)
	h.Register(c)

	env, err := protocol.NewEnvelope(protocol.EventConversationUpdated, map[string]string{"conversationId": "c"})
	require.NoError(t, err)
	d := Delivery{Target: PartyTopic(alice.ID), Envelope: env}
	assert.Equal(t, 1, h.Deliver(d))
	assert.Zero(t, h.Deliver(d), "缓冲区已满时不再接收")
	select {
	case <-c.Done():
	default:
		t.Fatal("slow consumer was not closed")
	}
	assert.False(t, h.Subscribed(c, PartyTopic(alice.ID)))
	assert.False(t, h.Subscribed(c, SessionTopic(c.ID)))
}

func TestHubExcludeAndTopics(t *testing.T) {
	h := NewHub()
	c1 := newClient("s-1", alice, nil, 4)
	c2 := newClient("s-2", bob, nil, 4)
	h.Register(c1)
	h.Register(c2)
	h.Subscribe(c1, ConversationTopic("conv"))
	h.Subscribe(c2, ConversationTopic("conv"))

	env, _ := protocol.NewEnvelope(protocol.EventMessageDeleted, protocol.MessageDeleted{MessageID: "m"})
	assert.Equal(t, 1, h.Deliver(Delivery{Target: ConversationTopic("conv"), Exclude: "s-1", Envelope: env}))
	assert.Len(t, c1.send, 0)
	assert.Len(t, c2.send, 1)
	h.Unsubscribe(c2, ConversationTopic("conv"))
	assert.Equal(t, 1, h.Deliver(Delivery{Target: ConversationTopic("conv"), Envelope: env}), "c1 仍在订阅")
}
