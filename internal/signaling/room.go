// Package signaling 实现了视频会话房间（服务端）和参与者协商状态机（客户端）。
package signaling

import (
	"errors"
	"sort"
	"sync"

	"mind-namo-go/internal/protocol"
)

// MaxParticipants 是一个房间的人数上限。
const MaxParticipants = 2

// maxStrokes 限制单个房间保留的笔画数。
const maxStrokes = 50000

var (
	// ErrRoomFull 表示房间已满。
	ErrRoomFull = errors.New("room full")
	// ErrNotInRoom 表示会话不在该房间内。
	ErrNotInRoom = errors.New("not in room")
)

// Member 是房间中的一个连接会话。
type Member struct {
	SessionID string
	PartyID   string
	Ready     bool
}

// Pairing 是两个成员都就绪后需要通知的配对信息。Initiator 是会话 ID 较小的一方。
type Pairing struct {
	Members   [MaxParticipants]Member
	Initiator string
}

type room struct {
	members   []Member
	announced bool
	strokes   []protocol.Draw
}

func (r *room) index(sessionID string) int {
	for i, m := range r.members {
		if m.SessionID == sessionID {
			return i
		}
	}
	return -1
}

// Rooms 管理本进程内的所有视频房间。房间在第一个成员加入时创建，最后一个成员离开时销毁。
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewRooms 创建一个空的房间表。
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*room)}
}

// Join 把会话加入房间。重复加入无副作用。
func (rs *Rooms) Join(roomID, sessionID, partyID string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	_, err := rs.joinLocked(roomID, sessionID, partyID)
	return err
}

func (rs *Rooms) joinLocked(roomID, sessionID, partyID string) (*room, error) {
	r := rs.rooms[roomID]
	if r == nil {
		r = &room{}
		rs.rooms[roomID] = r
	}
	if r.index(sessionID) >= 0 {
		return r, nil
	}
	if len(r.members) >= MaxParticipants {
		return nil, ErrRoomFull
	}
	r.members = append(r.members, Member{SessionID: sessionID, PartyID: partyID})
	return r, nil
}

// Ready 标记会话就绪（必要时先加入）。两个成员都就绪且尚未通知过时返回配对信息。
func (rs *Rooms) Ready(roomID, sessionID, partyID string) (*Pairing, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, err := rs.joinLocked(roomID, sessionID, partyID)
	if err != nil {
		return nil, err
	}
	r.members[r.index(sessionID)].Ready = true
	if r.announced || len(r.members) < MaxParticipants {
		return nil, nil
	}
	for _, m := range r.members {
		if !m.Ready {
			return nil, nil
		}
	}
	r.announced = true
	p := &Pairing{}
	copy(p.Members[:], r.members)
	ids := []string{r.members[0].SessionID, r.members[1].SessionID}
	sort.Strings(ids)
	p.Initiator = ids[0]
	return p, nil
}

// Leave 把会话移出房间，返回留下的成员。房间空了会被销毁。
func (rs *Rooms) Leave(roomID, sessionID string) ([]Member, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r := rs.rooms[roomID]
	if r == nil {
		return nil, ErrNotInRoom
	}
	i := r.index(sessionID)
	if i < 0 {
		return nil, ErrNotInRoom
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	// 剩下的人等待新的对方，重新就绪后再次配对
	r.announced = false
	if len(r.members) == 0 {
		delete(rs.rooms, roomID)
		return nil, nil
	}
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out, nil
}

// RoomsOf 返回会话所在的所有房间 ID，用于断线清理。
func (rs *Rooms) RoomsOf(sessionID string) []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var ids []string
	for id, r := range rs.rooms {
		if r.index(sessionID) >= 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Peers 返回房间中除 sessionID 以外的成员。sessionID 不在房间内时返回 ErrNotInRoom。
func (rs *Rooms) Peers(roomID, sessionID string) ([]Member, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r := rs.rooms[roomID]
	if r == nil || r.index(sessionID) < 0 {
		return nil, ErrNotInRoom
	}
	var out []Member
	for _, m := range r.members {
		if m.SessionID != sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Member 查找房间中的某个会话。
func (rs *Rooms) Member(roomID, sessionID string) (Member, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r := rs.rooms[roomID]
	if r == nil {
		return Member{}, false
	}
	i := r.index(sessionID)
	if i < 0 {
		return Member{}, false
	}
	return r.members[i], true
}

// AppendStroke 记录一笔，用于服务端导出时重放。
func (rs *Rooms) AppendStroke(roomID string, d protocol.Draw) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r := rs.rooms[roomID]
	if r == nil || len(r.strokes) >= maxStrokes {
		return
	}
	r.strokes = append(r.strokes, d)
}

// ClearStrokes 清空房间的笔画记录。
func (rs *Rooms) ClearStrokes(roomID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r := rs.rooms[roomID]; r != nil {
		r.strokes = nil
	}
}

// Strokes 返回自上次清空以来的笔画；房间不存在时 ok 为 false。
func (rs *Rooms) Strokes(roomID string) ([]protocol.Draw, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r := rs.rooms[roomID]
	if r == nil {
		return nil, false
	}
	out := make([]protocol.Draw, len(r.strokes))
	copy(out, r.strokes)
	return out, true
}
