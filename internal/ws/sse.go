package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/metrics"
	"github.com/argenta/argenta-backend/internal/store"
)

const heartbeatInterval = 30 * time.Second

type SSEHandler struct {
	cache     *store.Cache
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	heartbeat time.Duration
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger, m *metrics.Metrics) *SSEHandler {
	return &SSEHandler{
		cache:     cache,
		logger:    logger,
		metrics:   m,
		heartbeat: heartbeatInterval,
	}
}

// HandleSSE streams events and prices matching the "topics" query
// parameter, a comma-separated list such as "events,position:3".
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topics := parseTopics(r)
	if len(topics) == 0 {
		topics = defaultTopics
	}
	subscribed := normalizeTopics(topics)
	connID := uuid.NewString()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.cache.Subscribe(ctx, store.ChannelEvents, store.ChannelPrices)
	defer sub.Close()

	h.metrics.IncrementConnections(ctx)
	defer h.metrics.DecrementConnections(context.Background())
	h.logger.Debugw("SSE connection established", "conn_id", connID, "topics", topics)

	h.sendEvent(w, flusher, "connected", connID, map[string]interface{}{
		"topics":   topics,
		"inMemory": h.cache.IsInMemoryMode(),
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected", "conn_id", connID)
			return

		case <-heartbeat.C:
			h.sendEvent(w, flusher, "heartbeat", "ping", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})

		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			msgTopics := topicsFor(msg)
			if !matches(subscribed, msgTopics) {
				continue
			}
			h.sendEvent(w, flusher, eventType(msg.Channel), msgTopics[len(msgTopics)-1], json.RawMessage(msg.Payload))
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, id string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorw("Failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", dataBytes)
	flusher.Flush()
}

func parseTopics(r *http.Request) []string {
	param := r.URL.Query().Get("topics")
	if param == "" {
		return nil
	}
	return strings.Split(param, ",")
}
