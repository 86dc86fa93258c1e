// Package bus 提供进程内 topic pub/sub, 把会话快照扇出给展示层订阅者。
//
// 发布方: conversation.Controller 每次状态变化发布 session.{id}.snapshot / notice。
// 订阅方: dashboard 的 /api/events (SSE) 与 /ws, 按会话过滤推送。
package bus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/multi-agent/agent-console/pkg/logger"
)

// ========================================
// 消息类型
// ========================================

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`    // session_snapshot / turn_notice
	Payload   json.RawMessage `json:"payload"` // 具体数据
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// 消息类型常量。
const (
	MsgSessionSnapshot = "session_snapshot" // 完整会话快照
	MsgTurnNotice      = "turn_notice"      // 轮次提示 (额度耗尽/流失败/停止)
)

// Topic 模式常量。
const (
	// TopicSessionPrefix 会话消息前缀: session.{id}.{subtopic}。
	TopicSessionPrefix = "session."
	// TopicSystem 系统消息。
	TopicSystem = "system"
	// TopicAll 广播 (所有订阅者收到)。
	TopicAll = "*"
)

// SessionTopic 返回会话子 topic: session.{id}.{sub}; sub 为空时返回 session.{id}。
func SessionTopic(sessionID, sub string) string {
	if sub == "" {
		return TopicSessionPrefix + sessionID
	}
	return TopicSessionPrefix + sessionID + "." + sub
}

// ========================================
// Subscriber
// ========================================

// Subscriber 订阅者。
type Subscriber struct {
	ID     string       // 唯一标识
	Filter string       // topic 前缀过滤 ("session.s1" / "*" / "system")
	Ch     chan Message // 消息通道
}

const subscriberBuffer = 64

// ========================================
// MessageBus: topic pub/sub
// ========================================

// MessageBus 进程内消息总线。
//
// 支持 topic 前缀匹配和广播:
//   - 订阅 "session.s1" → 收到 session.s1.snapshot, session.s1.notice 等
//   - 订阅 "*" → 收到所有消息
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // key = subscriber ID
	seq         int64
	dropped     int64
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]*Subscriber),
	}
}

// Publish 发布消息到匹配的订阅者。
//
// seq 递增和 fan-out 在同一把锁下执行, 保证消息到达顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	for _, sub := range b.subscribers {
		if matchTopic(sub.Filter, msg.Topic) {
			select {
			case sub.Ch <- msg:
			default:
				// 通道满, 丢弃 (避免阻塞发布者); 快照是全量的, 下一条会覆盖
				b.dropped++
			}
		}
	}
	b.mu.Unlock()
}

// PublishJSON 序列化 payload 后发布。序列化失败只记日志。
func (b *MessageBus) PublishJSON(topic, typ string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("bus: marshal payload failed", logger.FieldTopic, topic, logger.FieldError, err)
		return
	}
	b.Publish(Message{Topic: topic, Type: typ, Payload: raw})
}

// Subscribe 订阅消息。filter 为 topic 前缀 ("session.s1" / "*" / "system")。
// 同 ID 重复订阅会关闭旧通道。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[id]; ok {
		close(old.Ch)
	}
	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan Message, subscriberBuffer),
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe 取消订阅。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 返回当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Dropped 返回因订阅者通道满而丢弃的消息数。
func (b *MessageBus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// ========================================
// Topic 匹配
// ========================================

// matchTopic 检查 topic 是否匹配 filter。
//
// 规则:
//   - filter "*" 匹配所有 topic
//   - filter "session.s1" 匹配 "session.s1", "session.s1.snapshot"
//   - filter "system" 匹配 "system", "system.health"
func matchTopic(filter, topic string) bool {
	if filter == TopicAll {
		return true
	}
	if topic == filter {
		return true
	}
	if len(topic) > len(filter) && topic[:len(filter)] == filter && topic[len(filter)] == '.' {
		return true
	}
	return false
}
