package ws

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/store"
)

// Topics a client may subscribe to. Scoped forms narrow the stream:
// "events:<kind>", "position:<id>" and "prices:<symbol>".
const (
	TopicEvents   = "events"
	TopicPrices   = "prices"
	TopicPosition = "position"
)

var defaultTopics = []string{TopicEvents, TopicPrices}

// topicsFor lists every topic a pub/sub message belongs to.
func topicsFor(msg *store.Message) []string {
	switch msg.Channel {
	case store.ChannelEvents:
		var rec events.Record
		if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
			return []string{TopicEvents}
		}
		topics := []string{TopicEvents, TopicEvents + ":" + string(rec.Kind)}
		if id, ok := rec.PositionID(); ok {
			topics = append(topics, fmt.Sprintf("%s:%d", TopicPosition, id))
		}
		return topics
	case store.ChannelPrices:
		var probe struct {
			Symbol string `json:"symbol"`
		}
		topics := []string{TopicPrices}
		if err := json.Unmarshal([]byte(msg.Payload), &probe); err == nil && probe.Symbol != "" {
			topics = append(topics, TopicPrices+":"+strings.ToLower(probe.Symbol))
		}
		return topics
	default:
		return nil
	}
}

// eventType names the SSE event or WebSocket message type for a channel.
func eventType(channel string) string {
	switch channel {
	case store.ChannelEvents:
		return "protocol_event"
	case store.ChannelPrices:
		return "price_update"
	default:
		return "update"
	}
}

func normalizeTopics(topics []string) map[string]bool {
	out := make(map[string]bool, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out[t] = true
		}
	}
	return out
}

func matches(subscribed map[string]bool, topics []string) bool {
	for _, t := range topics {
		if subscribed[strings.ToLower(t)] {
			return true
		}
	}
	return false
}
