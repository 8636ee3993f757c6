// Package protocoltest 提供了用于测试的内存事件通道。
package protocoltest

import (
	"encoding/json"
	"sort"
	"sync"

	"mind-namo-go/internal/protocol"
)

// Emitted 是一次 Emit 调用的记录。
type Emitted struct {
	Event string
	Data  json.RawMessage
}

// Decode 把载荷解码到 v。
func (e Emitted) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Recorder 是记录所有发出事件的 protocol.Channel，入站事件通过 Deliver 同步投递。
type Recorder struct {
	mu       sync.Mutex
	emitted  []Emitted
	handlers map[string]map[int]protocol.Handler
	nextID   int
	// EmitErr 非空时 Emit 返回该错误且不记录。
	EmitErr error
}

// NewRecorder 创建一个 Recorder。
func NewRecorder() *Recorder {
	return &Recorder{handlers: make(map[string]map[int]protocol.Handler)}
}

func (r *Recorder) Emit(event string, payload interface{}) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.EmitErr != nil {
		return r.EmitErr
	}
	r.emitted = append(r.emitted, Emitted{Event: env.Event, Data: env.Data})
	return nil
}

func (r *Recorder) On(event string, h protocol.Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[int]protocol.Handler)
	}
	id := r.nextID
	r.nextID++
	r.handlers[event][id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[event], id)
	}
}

// Deliver 把一个入站事件同步交给当前订阅的处理函数，返回被调用的处理函数个数。
func (r *Recorder) Deliver(event string, payload interface{}) int {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	ids := make([]int, 0, len(r.handlers[event]))
	for id := range r.handlers[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]protocol.Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, r.handlers[event][id])
	}
	r.mu.Unlock()
	for _, h := range hs {
		h(env.Data)
	}
	return len(hs)
}

// Subscribers 返回某个事件当前的订阅数。
func (r *Recorder) Subscribers(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

// Emitted 返回迄今为止发出的全部事件。
func (r *Recorder) Emitted() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emitted, len(r.emitted))
	copy(out, r.emitted)
	return out
}

// Events 返回指定事件名的发出记录。
func (r *Recorder) Events(event string) []Emitted {
	var out []Emitted
	for _, e := range r.Emitted() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Reset 清空发出记录。
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = nil
}
