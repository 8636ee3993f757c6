package chatclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/internal/protocol/protocoltest"
)

var (
	alice = model.Party{ID: "u-alice", Name: "Alice", Role: model.RoleUser}
	bob   = model.Party{ID: "e-bob", Name: "Bob", Role: model.RoleExpert}
	t0    = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire 触发当前所有未停止的定时器，返回触发个数。
func (c *fakeClock) fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fired = true
		t.f()
	}
	return len(due)
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	return out
}

type fakeHistory struct {
	msgs   map[string][]model.Message
	err    error
	during func()
}

func (h *fakeHistory) History(_ context.Context, conversationID string) ([]model.Message, error) {
	if h.during != nil {
		h.during()
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.msgs[conversationID], nil
}

type fakeUploader struct {
	err   error
	calls int
	names []string
}

func (u *fakeUploader) Upload(_ context.Context, fileName string, _ []byte) (string, error) {
	u.calls++
	u.names = append(u.names, fileName)
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example.com/" + fileName, nil
}

type harness struct {
	ch       *protocoltest.Recorder
	clock    *fakeClock
	history  *fakeHistory
	uploader *fakeUploader
	session  *Session
}

func newHarness(t *testing.T, self model.Party) *harness {
	t.Helper()
	h := &harness{
		ch:       protocoltest.NewRecorder(),
		clock:    &fakeClock{now: t0},
		history:  &fakeHistory{msgs: map[string][]model.Message{}},
		uploader: &fakeUploader{},
	}
	h.session = NewSession(Config{
		Channel:  h.ch,
		Self:     self,
		History:  h.history,
		Uploader: h.uploader,
		Retry:    RetryPolicy{Initial: time.Second, Max: 4 * time.Second, MaxAttempts: 3},
		Clock:    h.clock,
	})
	return h
}

func (h *harness) open(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.session.Open(context.Background(), id))
}

func (h *harness) sent(t *testing.T) []protocol.SendMessage {
	t.Helper()
	var out []protocol.SendMessage
	for _, e := range h.ch.Events(protocol.EventSendMessage) {
		var p protocol.SendMessage
		require.NoError(t, e.Decode(&p))
		out = append(out, p)
	}
	return out
}

func (h *harness) deleted(t *testing.T) []protocol.DeleteMessage {
	t.Helper()
	var out []protocol.DeleteMessage
	for _, e := range h.ch.Events(protocol.EventDeleteMessage) {
		var p protocol.DeleteMessage
		require.NoError(t, e.Decode(&p))
		out = append(out, p)
	}
	return out
}

func echo(p protocol.SendMessage, id string, at time.Time) model.Message {
	cid := p.ClientID
	return model.Message{
		ID:             id,
		ClientID:       &cid,
		ConversationID: p.ConversationID,
		Sender:         p.Sender,
		SenderRole:     model.Role(p.SenderModel),
		ContentType:    model.ContentKind(p.ContentType),
		Content:        p.Content,
		CreatedAt:      at,
		ReadBy:         []string{p.Sender},
	}
}

func TestSendThenEchoLeavesExactlyOneConfirmedMessage(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")

	msg, err := h.session.Send(model.TextContent{Text: "hello"}, nil)
	require.NoError(t, err)
	msgs := h.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StatusSending, msgs[0].Status)

	item, _ := h.session.List().Get("c1")
	assert.Equal(t, "sending", item.LastMessageStatus)
	assert.Equal(t, "hello", *item.LastMessage)

	sent := h.sent(t)
	require.Len(t, sent, 1)
	assert.Equal(t, *msg.ClientID, sent[0].ClientID)
	assert.Equal(t, alice.ID, sent[0].Sender)
	assert.Equal(t, "User", sent[0].SenderModel)

	h.ch.Deliver(protocol.EventReceiveMessage, echo(sent[0], "m1", t0.Add(time.Minute)))
	msgs = h.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, model.StatusSent, msgs[0].Status)
	item, _ = h.session.List().Get("c1")
	assert.Equal(t, "sent", item.LastMessageStatus)
	assert.Zero(t, h.clock.fire(), "确认后重发定时器应停止")

	// 重复回显只替换，不会新增
	h.ch.Deliver(protocol.EventReceiveMessage, echo(sent[0], "m1", t0.Add(time.Minute)))
	assert.Len(t, h.session.Messages(), 1)
}

func TestEchoWithoutClientIDReplacesOldestSending(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	_, _ = h.session.Send(model.TextContent{Text: "first"}, nil)
	_, _ = h.session.Send(model.TextContent{Text: "second"}, nil)

	sent := h.sent(t)
	e := echo(sent[0], "m1", t0)
	e.ClientID = nil
	h.ch.Deliver(protocol.EventReceiveMessage, e)

	msgs := h.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, model.StatusSent, msgs[0].Status)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, model.StatusSending, msgs[1].Status)
}

func TestDeleteWhileSendingSuppressesLateEcho(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")

	msg, err := h.session.Send(model.TextContent{Text: "oops"}, nil)
	require.NoError(t, err)
	require.NoError(t, h.session.Delete(msg.ID))
	assert.Empty(t, h.session.Messages())
	assert.Empty(t, h.deleted(t), "服务端还没有 ID，不能立即发删除")
	assert.Zero(t, h.clock.fire(), "删除后不应再重发")

	h.ch.Deliver(protocol.EventReceiveMessage, echo(h.sent(t)[0], "m1", t0))
	assert.Empty(t, h.session.Messages(), "已删除的消息不能被回显带回来")
	dels := h.deleted(t)
	require.Len(t, dels, 1)
	assert.Equal(t, "m1", dels[0].MessageID)
	assert.Equal(t, "c1", dels[0].ConversationID)
}

func TestDeleteWhileSendingSuppressesEchoInHistory(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	msg, _ := h.session.Send(model.TextContent{Text: "oops"}, nil)
	require.NoError(t, h.session.Delete(msg.ID))

	// 回显没有送达，重新打开时出现在历史中
	h.history.msgs["c1"] = []model.Message{echo(h.sent(t)[0], "m1", t0)}
	h.open(t, "c2")
	h.open(t, "c1")

	assert.Empty(t, h.session.Messages())
	dels := h.deleted(t)
	require.Len(t, dels, 1)
	assert.Equal(t, "m1", dels[0].MessageID)
}

func TestDeleteFailedUploadNeedsNoServerDelete(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	h.uploader.err = errors.New("storage down")
	msg, err := h.session.SendAttachment(context.Background(), model.KindImage, "cat.png", []byte("png"), "blob:local-1")
	require.Error(t, err)

	require.NoError(t, h.session.Delete(msg.ID))
	assert.Empty(t, h.session.Messages())
	assert.Empty(t, h.sent(t))
	assert.Empty(t, h.deleted(t))
}

func TestUnconfirmedSendRetriesWithBackoffThenFails(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	msg, _ := h.session.Send(model.TextContent{Text: "are you there?"}, nil)

	h.clock.fire()
	h.clock.fire()
	require.Len(t, h.sent(t), 3)
	for _, p := range h.sent(t) {
		assert.Equal(t, *msg.ClientID, p.ClientID, "重发必须复用 clientId")
	}
	assert.Equal(t, model.StatusSending, h.session.Messages()[0].Status)

	h.clock.fire()
	assert.Equal(t, model.StatusFailed, h.session.Messages()[0].Status)
	item, _ := h.session.List().Get("c1")
	assert.Equal(t, "failed", item.LastMessageStatus)
	assert.Zero(t, h.clock.fire(), "失败的消息不会自动重发")
	assert.Len(t, h.sent(t), 3)

	require.NoError(t, h.session.Retry(context.Background(), *msg.ClientID))
	assert.Equal(t, model.StatusSending, h.session.Messages()[0].Status)
	assert.Len(t, h.sent(t), 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, time.Second}, h.clock.delays())
	assert.ErrorIs(t, h.session.Retry(context.Background(), *msg.ClientID), ErrUnknownMessage)
}

func TestRejectedSendFailsImmediately(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	msg, _ := h.session.Send(model.TextContent{Text: "hi"}, nil)

	h.ch.Deliver(protocol.EventError, protocol.Error{Event: protocol.EventSendMessage, Code: protocol.CodeInternal, ClientID: *msg.ClientID})
	assert.Equal(t, model.StatusSending, h.session.Messages()[0].Status, "临时错误继续重发")
	h.ch.Deliver(protocol.EventError, protocol.Error{Event: protocol.EventSendMessage, Code: protocol.CodeForbidden, ClientID: *msg.ClientID})
	assert.Equal(t, model.StatusFailed, h.session.Messages()[0].Status)
	assert.Zero(t, h.clock.fire())
}

func TestOpenSwitchesSubscriptions(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	h.open(t, "c2")

	var order []string
	for _, e := range h.ch.Emitted() {
		var id string
		if e.Event == protocol.EventMarkAsRead {
			var p protocol.MarkAsRead
			_ = e.Decode(&p)
			id = p.ConversationID
		} else {
			_ = e.Decode(&id)
		}
		order = append(order, e.Event+":"+id)
	}
	assert.Equal(t, []string{"joinRoom:c1", "markAsRead:c1", "leaveRoom:c1", "joinRoom:c2", "markAsRead:c2"}, order)
	assert.Equal(t, 1, h.ch.Subscribers(protocol.EventReceiveMessage))

	// 其他会话的消息只影响列表
	h.ch.Deliver(protocol.EventReceiveMessage, model.Message{ID: "x1", ConversationID: "c1", Sender: bob.ID, SenderRole: model.RoleExpert, ContentType: model.KindText, Content: "ping", CreatedAt: t0})
	assert.Empty(t, h.session.Messages())
	assert.Equal(t, 1, h.session.List().Unread("c1"))

	h.session.Close()
	assert.Zero(t, h.ch.Subscribers(protocol.EventReceiveMessage))
	assert.Zero(t, h.ch.Subscribers(protocol.EventConversationUpdated))
}

func TestHistoryReplacesStateButKeepsLiveMessages(t *testing.T) {
	h := newHarness(t, alice)
	h.history.msgs["c1"] = []model.Message{
		{ID: "m1", ConversationID: "c1", Sender: bob.ID, SenderRole: model.RoleExpert, ContentType: model.KindText, Content: "one", CreatedAt: t0},
		{ID: "m2", ConversationID: "c1", Sender: alice.ID, SenderRole: model.RoleUser, ContentType: model.KindText, Content: "two", CreatedAt: t0.Add(time.Minute)},
	}
	live := model.Message{ID: "m3", ConversationID: "c1", Sender: bob.ID, SenderRole: model.RoleExpert, ContentType: model.KindText, Content: "three", CreatedAt: t0.Add(2 * time.Minute)}
	var pendingDuringFetch bool
	h.history.during = func() {
		pendingDuringFetch = h.session.Pending()
		h.ch.Deliver(protocol.EventReceiveMessage, live)
		h.ch.Deliver(protocol.EventReceiveMessage, h.history.msgs["c1"][0])
	}
	h.open(t, "c1")

	assert.True(t, pendingDuringFetch, "加载历史期间应处于 pending")
	assert.False(t, h.session.Pending())
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(h.session.Messages()))
	assert.Zero(t, h.session.List().Unread("c1"))
}

func TestHistoryErrorClearsPending(t *testing.T) {
	h := newHarness(t, alice)
	h.history.err = errors.New("boom")
	assert.Error(t, h.session.Open(context.Background(), "c1"))
	assert.False(t, h.session.Pending())
}

func TestInboundFromCounterpartIsReadImmediatelyWhenOpen(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	marks := len(h.ch.Events(protocol.EventMarkAsRead))

	h.ch.Deliver(protocol.EventReceiveMessage, model.Message{ID: "m1", ConversationID: "c1", Sender: bob.ID, SenderRole: model.RoleExpert, ContentType: model.KindText, Content: "hi", CreatedAt: t0})
	assert.Len(t, h.ch.Events(protocol.EventMarkAsRead), marks+1)
	assert.Zero(t, h.session.List().Unread("c1"))
	assert.Equal(t, []string{"m1"}, ids(h.session.Messages()))
}

func TestReadReceiptIsIdempotent(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	_, _ = h.session.Send(model.TextContent{Text: "a"}, nil)
	h.ch.Deliver(protocol.EventReceiveMessage, echo(h.sent(t)[0], "m1", t0))
	h.ch.Deliver(protocol.EventReceiveMessage, model.Message{ID: "m2", ConversationID: "c1", Sender: bob.ID, SenderRole: model.RoleExpert, ContentType: model.KindText, Content: "b", CreatedAt: t0, ReadBy: []string{bob.ID}})

	receipt := protocol.MessagesRead{ConversationID: "c1", ReadByUserID: bob.ID}
	h.ch.Deliver(protocol.EventMessagesRead, receipt)
	h.ch.Deliver(protocol.EventMessagesRead, receipt)
	h.ch.Deliver(protocol.EventMessagesRead, protocol.MessagesRead{ConversationID: "other", ReadByUserID: "zed"})

	msgs := h.session.Messages()
	assert.Equal(t, []string{alice.ID, bob.ID}, msgs[0].ReadBy)
	assert.Equal(t, []string{bob.ID}, msgs[1].ReadBy)
}

func TestDeleteAndDeletedReplyPlaceholder(t *testing.T) {
	h := newHarness(t, alice)
	h.history.msgs["c1"] = []model.Message{
		{ID: "m1", ConversationID: "c1", Sender: alice.ID, SenderRole: model.RoleUser, ContentType: model.KindText, Content: "q", CreatedAt: t0},
		{ID: "m2", ConversationID: "c1", Sender: bob.ID, SenderRole: model.RoleExpert, ContentType: model.KindText, Content: "a", CreatedAt: t0.Add(time.Minute)},
		{ID: "m3", ConversationID: "c1", Sender: alice.ID, SenderRole: model.RoleUser, ContentType: model.KindText, Content: "re", ReplyTo: strPtr("m1"), CreatedAt: t0.Add(2 * time.Minute)},
	}
	h.open(t, "c1")

	assert.ErrorIs(t, h.session.Delete("m2"), ErrNotAllowed)
	assert.ErrorIs(t, h.session.Delete("nope"), ErrUnknownMessage)
	require.NoError(t, h.session.Delete("m1"))
	assert.Len(t, h.deleted(t), 1)

	msgs := h.session.Messages()
	assert.Equal(t, []string{"m2", "m3"}, ids(msgs))
	assert.Equal(t, model.DeletedReplyText, msgs[1].Reply.Label(), "被回复的消息删除后显示占位")

	h.ch.Deliver(protocol.EventMessageDeleted, protocol.MessageDeleted{MessageID: "m2"})
	assert.Equal(t, []string{"m3"}, ids(h.session.Messages()))
}

func TestExpertMayDeleteCounterpartMessage(t *testing.T) {
	h := newHarness(t, bob)
	h.history.msgs["c1"] = []model.Message{
		{ID: "m1", ConversationID: "c1", Sender: alice.ID, SenderRole: model.RoleUser, ContentType: model.KindText, Content: "q", CreatedAt: t0},
	}
	h.open(t, "c1")
	require.NoError(t, h.session.Delete("m1"))
	assert.Empty(t, h.session.Messages())
}

func TestSendAttachmentUploadsBeforePublishing(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	h.uploader.err = errors.New("storage down")

	msg, err := h.session.SendAttachment(context.Background(), model.KindImage, "cat.png", []byte("png"), "blob:local-1")
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Empty(t, h.sent(t), "上传失败不能发布")
	item, _ := h.session.List().Get("c1")
	assert.Equal(t, "failed", item.LastMessageStatus)

	h.uploader.err = nil
	require.NoError(t, h.session.Retry(context.Background(), *msg.ClientID))
	assert.Equal(t, 2, h.uploader.calls, "重发会重新上传")
	sent := h.sent(t)
	require.Len(t, sent, 1)
	assert.Equal(t, "https://cdn.example.com/cat.png", sent[0].Content)
	assert.Equal(t, "image", sent[0].ContentType)
	got := h.session.Messages()[0]
	assert.Equal(t, sent[0].Content, got.Content)
	assert.Equal(t, model.StatusSending, got.Status)
}

func TestSendRequiresOpenConversation(t *testing.T) {
	h := newHarness(t, alice)
	_, err := h.session.Send(model.TextContent{Text: "x"}, nil)
	assert.ErrorIs(t, err, ErrNoConversation)
	h.open(t, "c1")
	_, err = h.session.Send(model.TextContent{Text: "   "}, nil)
	assert.Error(t, err, "空白文本应被拒绝")
}

func TestListApplyUpdateKeepsDescendingOrder(t *testing.T) {
	l := NewList(model.RoleExpert)
	at := func(m int) *time.Time { v := t0.Add(time.Duration(m) * time.Minute); return &v }
	l.Replace([]model.Conversation{
		{ID: "a", CreatedAt: t0, LastMessageAt: at(1)},
		{ID: "b", CreatedAt: t0.Add(5 * time.Minute)},
		{ID: "c", CreatedAt: t0, LastMessageAt: at(3), ExpertUnreadCount: 2},
	})
	assertOrder(t, l, "b", "c", "a")

	text := "new"
	l.ApplyUpdate(model.ConversationUpdate{ConversationID: "a", LastMessage: &text, LastMessageAt: at(10)})
	assertOrder(t, l, "a", "b", "c")

	l.ApplyUpdate(model.ConversationUpdate{ConversationID: "z", LastMessageAt: at(20)})
	assertOrder(t, l, "z", "a", "b", "c")

	// 时间相同时保持原有顺序
	l.ApplyUpdate(model.ConversationUpdate{ConversationID: "c", LastMessageAt: at(10)})
	assertOrder(t, l, "z", "a", "c", "b")

	assert.Equal(t, 2, l.Unread("c"), "部分更新不应清掉未读数")
	l.MarkOpened("c")
	assert.Zero(t, l.Unread("c"))
	item, _ := l.Get("a")
	assert.Equal(t, "new", *item.LastMessage)
}

func assertOrder(t *testing.T, l *List, want ...string) {
	t.Helper()
	items := l.Items()
	got := make([]string, len(items))
	for i := range items {
		got[i] = items[i].ID
	}
	assert.Equal(t, want, got)
}

func TestGroupByDayAndSender(t *testing.T) {
	msgs := []model.Message{
		{ID: "1", SenderRole: model.RoleUser, CreatedAt: t0},
		{ID: "2", SenderRole: model.RoleUser, CreatedAt: t0.Add(time.Minute)},
		{ID: "3", SenderRole: model.RoleExpert, CreatedAt: t0.Add(2 * time.Minute)},
		{ID: "4", SenderRole: model.RoleExpert, CreatedAt: t0.Add(24 * time.Hour)},
	}
	days := Group(msgs, time.UTC)
	require.Len(t, days, 2)
	require.Len(t, days[0].Messages, 3)
	require.Len(t, days[1].Messages, 1)

	d := days[0].Messages
	assert.True(t, d[0].FirstInGroup)
	assert.False(t, d[0].LastInGroup)
	assert.False(t, d[1].FirstInGroup)
	assert.True(t, d[1].LastInGroup)
	assert.True(t, d[2].FirstInGroup)
	assert.True(t, d[2].LastInGroup)
	assert.True(t, days[1].Messages[0].FirstInGroup, "新的一天开始新的分组")
}

func TestRetryPolicyDelayIsCapped(t *testing.T) {
	p := RetryPolicy{Initial: time.Second, Max: 5 * time.Second, MaxAttempts: 10}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, p.Delay(i+1), "Delay(%d)", i+1)
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ID
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestReconnectRejoinsAndResendsOnNewChannel(t *testing.T) {
	h := newHarness(t, alice)
	h.open(t, "c1")
	_, err := h.session.Send(model.TextContent{Text: "still there?"}, nil)
	require.NoError(t, err)

	// 断线期间专家发来的消息只能从历史补齐
	h.history.msgs["c1"] = []model.Message{{
		ID: "m0", ConversationID: "c1", Sender: bob.ID, SenderRole: model.RoleExpert,
		ContentType: model.KindText, Content: "yes", CreatedAt: t0, ReadBy: []string{bob.ID},
	}}
	next := protocoltest.NewRecorder()
	require.NoError(t, h.session.Reconnect(context.Background(), next))

	assert.Zero(t, h.ch.Subscribers(protocol.EventReceiveMessage), "旧连接上的订阅应全部退订")
	assert.Zero(t, h.ch.Subscribers(protocol.EventConversationUpdated))
	assert.Equal(t, 1, next.Subscribers(protocol.EventReceiveMessage))
	assert.Equal(t, 1, next.Subscribers(protocol.EventConversationUpdated))

	joins := next.Events(protocol.EventJoinRoom)
	require.Len(t, joins, 1)
	var room string
	require.NoError(t, joins[0].Decode(&room))
	assert.Equal(t, "c1", room)
	assert.Len(t, next.Events(protocol.EventMarkAsRead), 1, "重新加入后补发已读回执")

	msgs := h.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m0", msgs[0].ID)
	assert.Equal(t, model.StatusSending, msgs[1].Status, "未确认的发送保留在本地")

	// 重发走新连接，回显后确认
	assert.Equal(t, 1, h.clock.fire())
	resent := next.Events(protocol.EventSendMessage)
	require.Len(t, resent, 1)
	var p protocol.SendMessage
	require.NoError(t, resent[0].Decode(&p))
	assert.Equal(t, h.sent(t)[0].ClientID, p.ClientID)

	next.Deliver(protocol.EventReceiveMessage, echo(p, "m1", t0.Add(time.Minute)))
	assert.Equal(t, []string{"m0", "m1"}, ids(h.session.Messages()))
	assert.Zero(t, h.clock.fire(), "确认后不再重发")
}

func TestReconnectWithoutOpenConversationOnlyResubscribes(t *testing.T) {
	h := newHarness(t, alice)
	next := protocoltest.NewRecorder()
	require.NoError(t, h.session.Reconnect(context.Background(), next))
	assert.Empty(t, next.Emitted())
	assert.Equal(t, 1, next.Subscribers(protocol.EventError))
	assert.Zero(t, h.ch.Subscribers(protocol.EventError))
}
