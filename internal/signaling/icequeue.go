package signaling

import (
	"sync"

	"mind-namo-go/internal/protocol"
)

// ICEQueue 缓存远端描述设置之前到达的候选，按到达顺序排出。
type ICEQueue struct {
	mu    sync.Mutex
	items []protocol.ICECandidateInit
}

// Push 追加一个候选。
func (q *ICEQueue) Push(c protocol.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// Drain 取出并清空全部候选。
func (q *ICEQueue) Drain() []protocol.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len 返回当前排队的候选数。
func (q *ICEQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
