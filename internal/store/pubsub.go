package store

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 100

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages until closed. Slow readers lose messages
// once the buffer is full.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

type hubSubscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newHubSubscription(channels []string) *hubSubscription {
	set := make(map[string]bool, len(channels))
	for _, ch := range channels {
		set[ch] = true
	}
	return &hubSubscription{
		channels: set,
		msgChan:  make(chan *Message, subscriptionBuffer),
		closeCh:  make(chan struct{}),
	}
}

func (s *hubSubscription) Channel() <-chan *Message { return s.msgChan }

func (s *hubSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
		close(s.msgChan)
	}
	return nil
}

func (s *hubSubscription) send(msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || !s.channels[msg.Channel] {
		return
	}
	select {
	case s.msgChan <- msg:
	default:
	}
}

// PubSubHub is the in-process stand-in for Redis pub/sub.
type PubSubHub struct {
	subscribers map[string][]*hubSubscription
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{subscribers: make(map[string][]*hubSubscription)}
}

func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) Subscription {
	sub := newHubSubscription(channels)

	h.mu.Lock()
	for _, ch := range channels {
		h.subscribers[ch] = append(h.subscribers[ch], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.closeCh:
		}
		h.remove(sub, channels)
	}()

	return sub
}

func (h *PubSubHub) remove(sub *hubSubscription, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		subs := h.subscribers[ch]
		for i, s := range subs {
			if s == sub {
				h.subscribers[ch] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subscribers[ch]) == 0 {
			delete(h.subscribers, ch)
		}
	}
}

// Subscribers reports how many live subscriptions a channel has.
func (h *PubSubHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}

func (h *PubSubHub) Publish(channel, payload string) {
	h.mu.RLock()
	subs := append([]*hubSubscription(nil), h.subscribers[channel]...)
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	for _, sub := range subs {
		sub.send(msg)
	}
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan *Message
	once sync.Once
	done chan struct{}
}

func newRedisSubscription(ctx context.Context, ps *redis.PubSub) *redisSubscription {
	s := &redisSubscription{
		ps:   ps,
		out:  make(chan *Message, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go s.forward(ctx)
	return s
}

func (s *redisSubscription) forward(ctx context.Context) {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- &Message{Channel: msg.Channel, Payload: msg.Payload}:
			default:
			}
		}
	}
}

func (s *redisSubscription) Channel() <-chan *Message { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
