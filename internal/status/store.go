package status

import (
	"log"
	"sync"
	"time"
)

// Event 是一条操作员可见的带时间戳日志。事件只追加，从不修改或删除，
// 其顺序就是批改过程的审计记录。
type Event struct {
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

type Store struct {
	mu     sync.RWMutex
	events []Event
}

func NewStore() *Store {
	return &Store{}
}

// Append 追加一条事件并同步输出到进程日志。
func (s *Store) Append(message string) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := Event{
		Seq:     len(s.events) + 1,
		Time:    time.Now(),
		Message: message,
	}
	s.events = append(s.events, ev)
	log.Printf("[%s] %s", ev.Time.Format("15:04:05"), ev.Message)
	return ev
}

// Since 返回序号大于 seq 的所有事件的副本。
func (s *Store) Since(seq int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seq < 0 {
		seq = 0
	}
	if seq >= len(s.events) {
		return []Event{}
	}
	out := make([]Event, len(s.events)-seq)
	copy(out, s.events[seq:])
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
