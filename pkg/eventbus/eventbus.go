package eventbus

import (
	"context"
	"sync"

	"HibiscusSOS/pkg/logger"

	"go.uber.org/zap"
)

// EventType 事件类型标识
type EventType string

// Event 领域事件，载荷为具体结构体而非 map
type Event interface {
	Type() EventType
}

// Handler 事件处理函数
// 处理失败只记录日志，不传播、不自动重试；丢失事件只会降级副作用，
// 状态机的正确性从不依赖总线投递
type Handler func(ctx context.Context, evt Event)

// Sequenced 带顺序键的事件。同键事件按发布顺序依次处理，
// 不同键之间仍然并发
type Sequenced interface {
	Event
	SequenceKey() string
}

// Bus 进程内发布/订阅总线，显式构造、按依赖注入，启动时完成订阅注册
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wg       sync.WaitGroup

	seqMu sync.Mutex
	seq   map[string]chan struct{}
}

// New 创建事件总线
func New() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		seq:      make(map[string]chan struct{}),
	}
}

// Subscribe 注册事件处理器
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish 发布事件。对发布方即发即忘；
// 同一事件的处理器在一个 goroutine 里按注册顺序依次执行。
// 实现 Sequenced 的事件额外保证：同键事件的处理链按发布顺序串行，
// 后一条要等前一条的全部处理器跑完才开始
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	hs := b.handlers[evt.Type()]
	b.mu.RUnlock()

	if len(hs) == 0 {
		return
	}

	var key string
	var prev, done chan struct{}
	if s, ok := evt.(Sequenced); ok {
		if key = s.SequenceKey(); key != "" {
			done = make(chan struct{})
			b.seqMu.Lock()
			prev = b.seq[key]
			b.seq[key] = done
			b.seqMu.Unlock()
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if prev != nil {
			<-prev
		}
		for _, h := range hs {
			b.invoke(ctx, h, evt)
		}
		if done != nil {
			close(done)
			b.seqMu.Lock()
			if b.seq[key] == done {
				delete(b.seq, key)
			}
			b.seqMu.Unlock()
		}
	}()
}

// invoke 执行单个处理器，panic 只影响该处理器
func (b *Bus) invoke(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("事件处理器 panic",
				zap.String("event", string(evt.Type())),
				zap.Any("panic", r))
		}
	}()
	h(ctx, evt)
}

// Wait 等待所有已发布事件处理完成（测试与优雅关闭用）
func (b *Bus) Wait() {
	b.wg.Wait()
}
