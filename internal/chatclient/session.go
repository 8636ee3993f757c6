package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"mind-namo-go/internal/model"
	"mind-namo-go/internal/protocol"
	"mind-namo-go/pkg/log"

	"github.com/google/uuid"
)

var (
	// ErrNoConversation 表示当前没有打开的会话。
	ErrNoConversation = errors.New("no conversation is open")
	// ErrNotAllowed 表示无权删除该消息。
	ErrNotAllowed = errors.New("only the sender or the expert can delete this message")
	// ErrUnknownMessage 表示本地没有这条消息。
	ErrUnknownMessage = errors.New("message not found")
)

// HistoryFetcher 拉取会话的完整历史，按创建时间升序。
type HistoryFetcher interface {
	History(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Uploader 把附件上传到带外存储并返回持久 URL。
type Uploader interface {
	Upload(ctx context.Context, fileName string, data []byte) (string, error)
}

// Config 是创建 Session 所需的依赖。
type Config struct {
	Channel  protocol.Channel
	Self     model.Party
	History  HistoryFetcher
	Uploader Uploader
	List     *List
	Retry    RetryPolicy
	Clock    Clock
}

type attachment struct {
	fileName string
	data     []byte
}

// outgoing 是一条尚未被服务端确认的发送。
type outgoing struct {
	payload  protocol.SendMessage
	attempts int
	timer    Timer
	failed   bool
	upload   *attachment
}

// Session 管理当前打开的一个会话：乐观发送、确认对账、已读回执和删除。
type Session struct {
	ch       protocol.Channel
	self     model.Party
	history  HistoryFetcher
	uploader Uploader
	list     *List
	reads    *ReadTracker
	policy   RetryPolicy
	clock    Clock

	mu       sync.Mutex
	convID   string
	pending  bool
	messages []model.Message
	outbox   map[string]*outgoing
	offs     []func()
	global   []func()

	// tombstones 是已在本地删除、但发送可能已被服务端接受的 clientId。
	tombstones map[string]bool

	// OnChange 在本地状态变化后调用，调用时不持有内部锁。
	OnChange func()
}

// NewSession 创建会话协议实例并订阅会话列表更新和错误事件。
func NewSession(cfg Config) *Session {
	if cfg.List == nil {
		cfg.List = NewList(cfg.Self.Role)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	s := &Session{
		ch:         cfg.Channel,
		self:       cfg.Self,
		history:    cfg.History,
		uploader:   cfg.Uploader,
		list:       cfg.List,
		reads:      NewReadTracker(cfg.Channel, cfg.Self, cfg.List),
		policy:     cfg.Retry,
		clock:      cfg.Clock,
		outbox:     make(map[string]*outgoing),
		tombstones: make(map[string]bool),
	}
	s.global = []func(){
		s.ch.On(protocol.EventConversationUpdated, s.onConversationUpdated),
		s.ch.On(protocol.EventError, s.onError),
	}
	return s
}

// List 返回会话列表同步器。
func (s *Session) List() *List { return s.list }

// ConversationID 返回当前打开的会话。
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Pending 表示历史记录是否仍在加载。
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Messages 返回本地消息列表的副本。
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = cloneMessage(m)
	}
	return out
}

func (s *Session) notify() {
	if cb := s.OnChange; cb != nil {
		cb()
	}
}

// Open 切换到 conversationID：先退订并离开上一个会话，再订阅、加入、回执已读，最后拉取历史。
// 历史返回前收到的实时消息如果历史中没有，会保留在末尾。
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	s.mu.Lock()
	same := s.convID == conversationID
	s.teardownLocked(!same)
	if same {
		s.messages = s.unconfirmedLocked()
	} else {
		s.messages = nil
	}
	s.convID = conversationID
	s.pending = true
	s.offs = []func(){
		s.ch.On(protocol.EventReceiveMessage, s.onReceiveMessage),
		s.ch.On(protocol.EventMessagesRead, s.onMessagesRead),
		s.ch.On(protocol.EventMessageDeleted, s.onMessageDeleted),
	}
	if err := s.ch.Emit(protocol.EventJoinRoom, conversationID); err != nil {
		log.Warnf("[Chat] 加入会话房间失败, conversation: %s, error: %v", conversationID, err)
	}
	s.mu.Unlock()

	s.reads.SetOpen(conversationID)
	s.reads.MarkRead(conversationID)
	s.notify()

	history, err := s.history.History(ctx, conversationID)

	s.mu.Lock()
	if s.convID != conversationID {
		// 拉取期间已切换到其他会话
		s.mu.Unlock()
		return nil
	}
	s.pending = false
	if err != nil {
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("load history for %s: %w", conversationID, err)
	}
	s.messages = s.mergeHistoryLocked(history)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Close 退订当前会话的事件并离开房间。
func (s *Session) Close() {
	s.mu.Lock()
	s.teardownLocked(true)
	s.convID = ""
	s.messages = nil
	s.pending = false
	global := s.global
	s.global = nil
	s.mu.Unlock()
	for _, off := range global {
		off()
	}
	s.reads.SetOpen("")
}

// Reconnect 把会话迁移到新的连接：重新订阅全局事件，再重新打开当前会话补齐断线期间的消息。
// 未确认的发送留在发件箱里，按原来的重试计划经新连接重发。
func (s *Session) Reconnect(ctx context.Context, ch protocol.Channel) error {
	s.mu.Lock()
	s.teardownLocked(false)
	old := s.global
	s.ch = ch
	s.global = []func(){
		ch.On(protocol.EventConversationUpdated, s.onConversationUpdated),
		ch.On(protocol.EventError, s.onError),
	}
	convID := s.convID
	s.mu.Unlock()
	for _, off := range old {
		off()
	}
	s.reads.Rebind(ch)
	if convID == "" {
		return nil
	}
	return s.Open(ctx, convID)
}

// teardownLocked 退订当前会话的处理函数；leave 为 true 时离开房间并放弃未确认的发送。
func (s *Session) teardownLocked(leave bool) {
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
	if !leave || s.convID == "" {
		return
	}
	if err := s.ch.Emit(protocol.EventLeaveRoom, s.convID); err != nil {
		log.Warnf("[Chat] 离开会话房间失败, conversation: %s, error: %v", s.convID, err)
	}
	for cid, o := range s.outbox {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(s.outbox, cid)
	}
}

func (s *Session) unconfirmedLocked() []model.Message {
	var out []model.Message
	for _, m := range s.messages {
		if m.Status == model.StatusSending || m.Status == model.StatusFailed {
			out = append(out, m)
		}
	}
	return out
}

// mergeHistoryLocked 以历史为准，追加历史中没有的本地消息（实时到达的或尚未确认的）。
func (s *Session) mergeHistoryLocked(history []model.Message) []model.Message {
	out := make([]model.Message, 0, len(history)+len(s.messages))
	ids := make(map[string]bool, len(history))
	for _, m := range history {
		m.Status = model.StatusSent
		if s.buryLocked(m) {
			continue
		}
		out = append(out, m)
		ids[m.ID] = true
		if m.ClientID != nil {
			ids[*m.ClientID] = true
			s.confirmLocked(*m.ClientID)
		}
	}
	for _, m := range s.messages {
		if ids[m.ID] || (m.ClientID != nil && ids[*m.ClientID]) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Send 乐观地追加一条消息并发出 sendMessage。未确认时按重发策略重发。
func (s *Session) Send(content model.Content, replyTo *string) (model.Message, error) {
	if err := model.ValidateContent(content); err != nil {
		return model.Message{}, err
	}
	s.mu.Lock()
	if s.convID == "" {
		s.mu.Unlock()
		return model.Message{}, ErrNoConversation
	}
	msg := s.appendOptimisticLocked(content, replyTo)
	cid := *msg.ClientID
	o := &outgoing{payload: s.payloadFor(msg)}
	s.outbox[cid] = o
	s.publishLocked(cid, o)
	s.mu.Unlock()

	s.list.ApplyUpdate(previewUpdate(msg))
	s.notify()
	return msg, nil
}

// SendAttachment 先显示引用本地数据的乐观消息，上传完成后再用远端 URL 发出。
// 上传失败时消息变为 failed，可以 Retry。
func (s *Session) SendAttachment(ctx context.Context, kind model.ContentKind, fileName string, data []byte, localRef string) (model.Message, error) {
	content, err := model.NewContent(kind, localRef)
	if err != nil {
		return model.Message{}, err
	}
	if _, ok := content.(model.TextContent); ok {
		return model.Message{}, fmt.Errorf("text is not an attachment")
	}
	s.mu.Lock()
	if s.convID == "" {
		s.mu.Unlock()
		return model.Message{}, ErrNoConversation
	}
	msg := s.appendOptimisticLocked(content, nil)
	cid := *msg.ClientID
	s.outbox[cid] = &outgoing{payload: s.payloadFor(msg), upload: &attachment{fileName: fileName, data: data}}
	s.mu.Unlock()

	s.list.ApplyUpdate(previewUpdate(msg))
	s.notify()
	return s.uploadAndPublish(ctx, cid)
}

func (s *Session) uploadAndPublish(ctx context.Context, cid string) (model.Message, error) {
	s.mu.Lock()
	o, ok := s.outbox[cid]
	if !ok || o.upload == nil {
		s.mu.Unlock()
		return model.Message{}, ErrUnknownMessage
	}
	up := *o.upload
	s.mu.Unlock()

	var url string
	err := fmt.Errorf("no uploader configured")
	if s.uploader != nil {
		url, err = s.uploader.Upload(ctx, up.fileName, up.data)
	}

	s.mu.Lock()
	o, ok = s.outbox[cid]
	if !ok {
		// 上传期间被删除或切换了会话
		s.mu.Unlock()
		return model.Message{}, ErrUnknownMessage
	}
	if err != nil {
		msg := s.failLocked(cid)
		s.mu.Unlock()
		s.list.ApplyUpdate(statusUpdate(msg, string(model.StatusFailed)))
		s.notify()
		return msg, fmt.Errorf("upload attachment: %w", err)
	}
	o.upload = nil
	o.payload.Content = url
	var msg model.Message
	if i := s.indexByClientIDLocked(cid); i >= 0 {
		s.messages[i].Content = url
		msg = cloneMessage(s.messages[i])
	}
	s.publishLocked(cid, o)
	s.mu.Unlock()
	s.notify()
	return msg, nil
}

// Retry 手动重发一条 failed 消息。
func (s *Session) Retry(ctx context.Context, clientID string) error {
	s.mu.Lock()
	o, ok := s.outbox[clientID]
	if !ok || !o.failed {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	o.failed = false
	o.attempts = 0
	var msg model.Message
	if i := s.indexByClientIDLocked(clientID); i >= 0 {
		s.messages[i].Status = model.StatusSending
		msg = cloneMessage(s.messages[i])
	}
	if o.upload != nil {
		s.mu.Unlock()
		s.notify()
		_, err := s.uploadAndPublish(ctx, clientID)
		return err
	}
	s.publishLocked(clientID, o)
	s.mu.Unlock()
	s.list.ApplyUpdate(statusUpdate(msg, string(model.StatusSending)))
	s.notify()
	return nil
}

func (s *Session) appendOptimisticLocked(content model.Content, replyTo *string) model.Message {
	cid := uuid.New().String()
	msg := model.Message{
		ID:             cid,
		ClientID:       &cid,
		ConversationID: s.convID,
		Sender:         s.self.ID,
		SenderRole:     s.self.Role,
		ContentType:    content.Kind(),
		Content:        content.Raw(),
		ReplyTo:        replyTo,
		CreatedAt:      s.clock.Now(),
		ReadBy:         []string{s.self.ID},
		Status:         model.StatusSending,
	}
	if replyTo != nil {
		if i := s.indexByIDLocked(*replyTo); i >= 0 {
			target := s.messages[i]
			msg.Reply = &model.ReplyPreview{ID: target.ID, SenderRole: target.SenderRole, ContentType: target.ContentType, Content: target.Content}
		}
	}
	s.messages = append(s.messages, msg)
	return cloneMessage(msg)
}

func (s *Session) payloadFor(msg model.Message) protocol.SendMessage {
	return protocol.SendMessage{
		ConversationID: msg.ConversationID,
		ClientID:       *msg.ClientID,
		Sender:         msg.Sender,
		SenderModel:    string(msg.SenderRole),
		Content:        msg.Content,
		ContentType:    string(msg.ContentType),
		ReplyTo:        msg.ReplyTo,
	}
}

// publishLocked 发送一次并安排下一次检查。
func (s *Session) publishLocked(cid string, o *outgoing) {
	o.attempts++
	if err := s.ch.Emit(protocol.EventSendMessage, o.payload); err != nil {
		log.Warnf("[Chat] 发送消息失败, clientId: %s, attempt: %d, error: %v", cid, o.attempts, err)
	}
	o.timer = s.clock.AfterFunc(s.policy.Delay(o.attempts), func() { s.onRetryDue(cid) })
}

func (s *Session) onRetryDue(cid string) {
	s.mu.Lock()
	o, ok := s.outbox[cid]
	if !ok || o.failed {
		s.mu.Unlock()
		return
	}
	if o.attempts >= s.policy.attempts() {
		log.Warnf("[Chat] 消息 %d 次发送均未确认, clientId: %s", o.attempts, cid)
		msg := s.failLocked(cid)
		s.mu.Unlock()
		s.list.ApplyUpdate(statusUpdate(msg, string(model.StatusFailed)))
		s.notify()
		return
	}
	log.Infof("[Chat] 重发未确认的消息, clientId: %s, attempt: %d", cid, o.attempts+1)
	s.publishLocked(cid, o)
	s.mu.Unlock()
}

// failLocked 把发送标记为 failed，保留 outbox 项以便手动重发。
func (s *Session) failLocked(cid string) model.Message {
	o := s.outbox[cid]
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.failed = true
	if i := s.indexByClientIDLocked(cid); i >= 0 {
		s.messages[i].Status = model.StatusFailed
		return cloneMessage(s.messages[i])
	}
	return model.Message{}
}

func (s *Session) confirmLocked(cid string) {
	if o, ok := s.outbox[cid]; ok {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(s.outbox, cid)
	}
}

// HandleInboundMessage 处理 receiveMessage。自己发出的消息按 clientId 替换对应的乐观消息，
// 回显缺少 clientId 时替换最早的 sending 消息；其他消息追加到末尾。
func (s *Session) HandleInboundMessage(msg model.Message) {
	msg.Status = model.StatusSent
	s.mu.Lock()
	if s.buryLocked(msg) {
		s.mu.Unlock()
		return
	}
	if msg.ConversationID == s.convID {
		s.applyInboundLocked(msg)
	}
	s.mu.Unlock()

	s.list.ApplyUpdate(previewUpdate(msg))
	s.reads.Observe(&msg)
	s.notify()
}

// buryLocked 处理本地已删除的发送的回显：不显示，并用服务端 ID 补发删除。
func (s *Session) buryLocked(msg model.Message) bool {
	if msg.Sender != s.self.ID || msg.ClientID == nil || !s.tombstones[*msg.ClientID] {
		return false
	}
	delete(s.tombstones, *msg.ClientID)
	log.Infof("[Chat] 已删除的消息被服务端确认，补发删除, clientId: %s, id: %s", *msg.ClientID, msg.ID)
	if err := s.ch.Emit(protocol.EventDeleteMessage, protocol.DeleteMessage{ConversationID: msg.ConversationID, MessageID: msg.ID}); err != nil {
		log.Warnf("[Chat] 补发删除失败, id: %s, error: %v", msg.ID, err)
	}
	return true
}

func (s *Session) applyInboundLocked(msg model.Message) {
	if msg.Sender == s.self.ID {
		if i := s.reconcileIndexLocked(msg); i >= 0 {
			if local := s.messages[i].ClientID; local != nil {
				s.confirmLocked(*local)
			}
			if msg.Reply == nil {
				msg.Reply = s.messages[i].Reply
			}
			s.messages[i] = msg
			return
		}
	}
	if i := s.indexByIDLocked(msg.ID); i >= 0 {
		s.messages[i] = msg
		return
	}
	if msg.ReplyTo != nil && msg.Reply == nil {
		if i := s.indexByIDLocked(*msg.ReplyTo); i >= 0 {
			t := s.messages[i]
			msg.Reply = &model.ReplyPreview{ID: t.ID, SenderRole: t.SenderRole, ContentType: t.ContentType, Content: t.Content}
		} else {
			msg.Reply = &model.ReplyPreview{ID: *msg.ReplyTo, Deleted: true}
		}
	}
	s.messages = append(s.messages, msg)
}

func (s *Session) reconcileIndexLocked(msg model.Message) int {
	if msg.ClientID != nil && *msg.ClientID != "" {
		for i, m := range s.messages {
			if m.Status != model.StatusSent && m.ClientID != nil && *m.ClientID == *msg.ClientID {
				return i
			}
		}
		return -1
	}
	for i, m := range s.messages {
		if m.Status == model.StatusSending {
			return i
		}
	}
	return -1
}

// HandleReadReceipt 处理 messagesRead：把 readerID 加入自己发出的每条消息的 readBy。
func (s *Session) HandleReadReceipt(conversationID, readerID string) {
	s.mu.Lock()
	if conversationID != s.convID || readerID == "" {
		s.mu.Unlock()
		return
	}
	changed := false
	for i := range s.messages {
		m := &s.messages[i]
		if m.Sender != s.self.ID || m.HasReader(readerID) {
			continue
		}
		m.ReadBy = append(append([]string(nil), m.ReadBy...), readerID)
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// HandleMessageDeleted 处理 messageDeleted：无条件移除该消息，引用它的回复显示占位文案。
func (s *Session) HandleMessageDeleted(messageID string) {
	s.mu.Lock()
	removed := s.removeLocked(messageID)
	s.mu.Unlock()
	if removed {
		s.notify()
	}
}

// Delete 删除一条消息。只有发送者本人或专家可以删除，本地立即移除。
// 尚未确认但已发出的消息记为墓碑，回显到达时再向服务端删除。
func (s *Session) Delete(messageID string) error {
	s.mu.Lock()
	i := s.indexByIDLocked(messageID)
	if i < 0 {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	m := s.messages[i]
	if m.Sender != s.self.ID && s.self.Role != model.RoleExpert {
		s.mu.Unlock()
		return ErrNotAllowed
	}
	var err error
	if m.Status == model.StatusSent {
		err = s.ch.Emit(protocol.EventDeleteMessage, protocol.DeleteMessage{ConversationID: s.convID, MessageID: messageID})
	} else if m.ClientID != nil {
		if o, ok := s.outbox[*m.ClientID]; ok && o.attempts > 0 {
			s.tombstones[*m.ClientID] = true
		}
	}
	s.removeLocked(messageID)
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return fmt.Errorf("publish delete: %w", err)
	}
	return nil
}

func (s *Session) removeLocked(messageID string) bool {
	i := s.indexByIDLocked(messageID)
	if i < 0 {
		return false
	}
	if cid := s.messages[i].ClientID; cid != nil {
		s.confirmLocked(*cid)
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	for j := range s.messages {
		if r := s.messages[j].ReplyTo; r != nil && *r == messageID {
			s.messages[j].Reply = &model.ReplyPreview{ID: messageID, Deleted: true}
		}
	}
	return true
}

func (s *Session) indexByIDLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) indexByClientIDLocked(cid string) int {
	for i := range s.messages {
		if c := s.messages[i].ClientID; c != nil && *c == cid {
			return i
		}
	}
	return -1
}

func (s *Session) onReceiveMessage(data json.RawMessage) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnf("[Chat] 无法解析 receiveMessage: %v", err)
		return
	}
	s.HandleInboundMessage(msg)
}

func (s *Session) onMessagesRead(data json.RawMessage) {
	var p protocol.MessagesRead
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warnf("[Chat] 无法解析 messagesRead: %v", err)
		return
	}
	s.HandleReadReceipt(p.ConversationID, p.ReadByUserID)
}

func (s *Session) onMessageDeleted(data json.RawMessage) {
	var p protocol.MessageDeleted
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warnf("[Chat] 无法解析 messageDeleted: %v", err)
		return
	}
	s.HandleMessageDeleted(p.MessageID)
}

func (s *Session) onConversationUpdated(data json.RawMessage) {
	var u model.ConversationUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		log.Warnf("[Chat] 无法解析 conversationUpdated: %v", err)
		return
	}
	s.list.ApplyUpdate(u)
	s.notify()
}

// onError 处理服务端拒绝。无法通过重发解决的错误立即把对应消息标记为 failed。
func (s *Session) onError(data json.RawMessage) {
	var e protocol.Error
	if err := json.Unmarshal(data, &e); err != nil {
		log.Warnf("[Chat] 无法解析 error 事件: %v", err)
		return
	}
	log.Warnf("[Chat] 服务端返回错误, event: %s, code: %s, message: %s", e.Event, e.Code, e.Message)
	if e.ClientID == "" || !protocol.Permanent(e.Code) {
		return
	}
	s.mu.Lock()
	o, ok := s.outbox[e.ClientID]
	if !ok || o.failed {
		s.mu.Unlock()
		return
	}
	msg := s.failLocked(e.ClientID)
	s.mu.Unlock()
	s.list.ApplyUpdate(statusUpdate(msg, string(model.StatusFailed)))
	s.notify()
}

func cloneMessage(m model.Message) model.Message {
	m.ReadBy = append([]string(nil), m.ReadBy...)
	return m
}

// previewUpdate 根据消息生成会话列表的预览更新。
func previewUpdate(msg model.Message) model.ConversationUpdate {
	status := string(msg.Status)
	if status == "" {
		status = string(model.StatusSent)
	}
	preview := msg.Content
	if body, err := msg.Body(); err == nil {
		preview = model.PreviewText(body, msg.Status == model.StatusSending)
	}
	at := msg.CreatedAt
	sender := msg.Sender
	return model.ConversationUpdate{
		ConversationID:    msg.ConversationID,
		LastMessage:       &preview,
		LastMessageAt:     &at,
		LastMessageSender: &sender,
		LastMessageStatus: &status,
	}
}

func statusUpdate(msg model.Message, status string) model.ConversationUpdate {
	return model.ConversationUpdate{ConversationID: msg.ConversationID, LastMessageStatus: &status}
}
