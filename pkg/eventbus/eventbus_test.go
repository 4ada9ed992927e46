package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testEvent struct {
	kind EventType
	n    int
}

func (e testEvent) Type() EventType { return e.kind }

type keyedEvent struct {
	kind EventType
	key  string
	n    int
}

func (e keyedEvent) Type() EventType     { return e.kind }
func (e keyedEvent) SequenceKey() string { return e.key }

func TestPublishSubscribe(t *testing.T) {
	bus := New()

	var got atomic.Int64
	bus.Subscribe("test.event", func(ctx context.Context, evt Event) {
		got.Add(int64(evt.(testEvent).n))
	})

	bus.Publish(context.Background(), testEvent{kind: "test.event", n: 3})
	bus.Publish(context.Background(), testEvent{kind: "test.event", n: 4})
	bus.Wait()

	assert.Equal(t, int64(7), got.Load())
}

func TestPublishNoSubscribers(t *testing.T) {
	bus := New()
	// 没有订阅者时发布不应阻塞或出错
	bus.Publish(context.Background(), testEvent{kind: "nobody.listens"})
	bus.Wait()
}

func TestHandlerOrderWithinEvent(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe("ordered", func(ctx context.Context, evt Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	bus.Publish(context.Background(), testEvent{kind: "ordered"})
	bus.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSequencedEventsKeepPublishOrder(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var order []int
	bus.Subscribe("keyed", func(ctx context.Context, evt Event) {
		e := evt.(keyedEvent)
		// 第一条故意跑得慢，如果后发布的事件能超车就会先入列
		if e.n == 0 {
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, e.n)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), keyedEvent{kind: "keyed", key: "case-1", n: i})
	}
	bus.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSequencedDifferentKeysRunConcurrently(t *testing.T) {
	bus := New()

	started := make(chan string, 2)
	release := make(chan struct{})
	bus.Subscribe("keyed", func(ctx context.Context, evt Event) {
		started <- evt.(keyedEvent).key
		<-release
	})

	bus.Publish(context.Background(), keyedEvent{kind: "keyed", key: "case-a"})
	bus.Publish(context.Background(), keyedEvent{kind: "keyed", key: "case-b"})

	// 两个键互不阻塞，处理器应当同时在跑
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("不同键的事件被串行化了")
		}
	}
	close(release)
	bus.Wait()
}

func TestHandlerPanicDoesNotPropagate(t *testing.T) {
	bus := New()

	var called atomic.Bool
	bus.Subscribe("boom", func(ctx context.Context, evt Event) {
		panic("handler exploded")
	})
	bus.Subscribe("boom", func(ctx context.Context, evt Event) {
		called.Store(true)
	})

	// panic 的处理器不影响发布方，也不影响后续处理器
	bus.Publish(context.Background(), testEvent{kind: "boom"})
	bus.Wait()

	assert.True(t, called.Load())
}

func TestSubscribeDifferentTypes(t *testing.T) {
	bus := New()

	var a, b atomic.Int64
	bus.Subscribe("type.a", func(ctx context.Context, evt Event) { a.Add(1) })
	bus.Subscribe("type.b", func(ctx context.Context, evt Event) { b.Add(1) })

	bus.Publish(context.Background(), testEvent{kind: "type.a"})
	bus.Wait()

	assert.Equal(t, int64(1), a.Load())
	assert.Equal(t, int64(0), b.Load())
}
