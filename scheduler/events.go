package scheduler

import (
	"sync"
	"time"
)

// EventType 生命周期事件类型.
type EventType string

// 生命周期事件.
const (
	EventSubmitted EventType = "job.submitted"
	EventStarted   EventType = "job.started"
	EventCompleted EventType = "job.completed"
	EventFailed    EventType = "job.failed"
	EventCancelled EventType = "job.cancelled"
	EventAbandoned EventType = "job.abandoned"
)

// Event 任务生命周期事件.
type Event struct {
	Type  EventType
	JobID int64
	Name  string
	Due   time.Time
	Time  time.Time

	// Lag 实际开始时间与到期时间的差值，仅 started 及之后的事件有效.
	Lag time.Duration
	// Duration 执行耗时，仅 completed/failed 有效.
	Duration time.Duration
	// Err failed/cancelled/abandoned 事件的原因.
	Err error
}

// eventBus 内存事件广播.
//
// Publish 不阻塞：订阅者缓冲区满时丢弃事件.
type eventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	seq    uint64
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[uint64]chan Event)}
}

func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// subscribe 注册订阅者，返回事件 channel 和取消订阅函数.
// 总线关闭后返回已关闭的 channel.
func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// close 关闭所有订阅 channel，之后的事件被丢弃.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
