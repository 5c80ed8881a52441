package biz

import (
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// EntityKind 领域事件关联的实体类型
type EntityKind string

const (
	EntityKindOrder        EntityKind = "order"
	EntityKindPayment      EntityKind = "payment"
	EntityKindSubscription EntityKind = "subscription"
	EntityKindCoupon       EntityKind = "coupon"
)

// DomainEvent 状态转换领域事件
// 终态转换 (paid/cancelled/expired/failed) 和续费提醒都会发布事件,
// 通知/报表等订阅方在核心之外消费
type DomainEvent struct {
	EntityKind EntityKind
	EntityID   string
	OldStatus  string
	NewStatus  string
	Reason     string
	OccurredAt time.Time
}

// EventBus 领域事件总线
// 有界缓冲, 总线满时丢弃并告警, 事件投递不能阻塞计费主流程
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan DomainEvent
	bufSize     int
	closed      bool
	log         *log.Helper
}

// NewEventBus 创建事件总线
func NewEventBus(logger log.Logger) *EventBus {
	return &EventBus{
		bufSize: 256,
		log:     log.NewHelper(logger),
	}
}

// Subscribe 订阅领域事件, 返回只读通道
func (b *EventBus) Subscribe() <-chan DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan DomainEvent, b.bufSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish 发布领域事件
func (b *EventBus) Publish(ev DomainEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.log.Warnf("event bus subscriber full, dropping event: kind=%s id=%s %s->%s",
				ev.EntityKind, ev.EntityID, ev.OldStatus, ev.NewStatus)
		}
	}
}

// Close 关闭事件总线, 关闭后发布为 no-op
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
