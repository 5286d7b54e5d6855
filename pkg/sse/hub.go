package sse

import (
	"context"
	"sync"
)

// Hub fans status messages out to SSE subscribers by topic (the task name).
//
// Subscribe, unsubscribe and publish are funnelled through channels into the
// single Run goroutine, which is the only writer of topics.
type Hub struct {
	// topic -> 订阅者 channel. channel 由 handler 创建和持有, hub 只负责发送
	topics map[string]map[chan []byte]bool

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage
	// Run 退出时关闭
	done chan struct{}

	mu sync.Mutex
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

// NewHub returns a hub whose publish channel buffers short bursts (100).
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]bool),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 100),
		done:        make(chan struct{}),
	}
}

// Run serves the hub until ctx is done:
//
//	hub := sse.NewHub()
//	go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.subscribe:
			h.mu.Lock()
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]bool)
				h.topics[s.topic] = subs
			}
			subs[s.ch] = true
			h.mu.Unlock()
		case s := <-h.unsubscribe:
			h.mu.Lock()
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
			h.mu.Unlock()
		case tm := <-h.publish:
			h.mu.Lock()
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
					// 读得慢的直接丢弃
				}
			}
			h.mu.Unlock()
		}
	}
}

// PublishTopic queues msg for every subscriber of topic. It never blocks the
// pipeline: when the buffer is full the message is dropped.
func (h *Hub) PublishTopic(topic string, msg []byte) {
	select {
	case h.publish <- topicMessage{topic: topic, msg: msg}:
	default:
	}
}

// Subscribe registers ch for topic. The caller should pass a buffered channel
// and Unsubscribe when done; the hub never closes it.
func (h *Hub) Subscribe(ch chan []byte, topic string) {
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
	}
}

func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	select {
	case h.unsubscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Subscribers reports how many channels listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
