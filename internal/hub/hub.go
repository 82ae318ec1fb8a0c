// Package hub implements the broadcast fan-out for time-sensitive updates.
//
// Delivery is at-most-once: publishing never blocks on subscriber delivery,
// and a slow or disconnected subscriber simply misses messages published
// while its buffer was full. There is no replay.
package hub

import (
	"sync"
	"time"

	"github.com/clusterdeck/clusterdeck/internal/logging"
	"github.com/clusterdeck/clusterdeck/internal/metrics"
)

// Topic names a hub channel
type Topic string

const (
	// TopicTelemetry carries new log/event updates
	TopicTelemetry Topic = "telemetry"
	// TopicAudit carries new audit-log/cluster-event records
	TopicAudit Topic = "audit"
	// TopicWorkflow carries remediation/deploy progress
	TopicWorkflow Topic = "workflow"
)

// Message is one published hub payload
type Message struct {
	Topic     Topic       `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// WorkflowProgress reports remediation/deploy progress on the workflow topic.
// Stages are ordered plan, build, ship, rollout, complete.
type WorkflowProgress struct {
	ID         string    `json:"id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkflowStages lists the ordered remediation/deploy stages
var WorkflowStages = []string{"plan", "build", "ship", "rollout", "complete"}

type subscriber struct {
	clientID      string
	connectionIDs map[string]bool
	ch            chan Message
}

// Hub fans out published messages to all registered subscribers.
// Subscribers register with an opaque client id plus the connection ids they
// care about; fan-out is currently global, but the registration is preserved
// so per-connection filtering can be added without protocol changes.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// New creates a hub with the given per-subscriber channel buffer
func New(bufferSize int, m *metrics.Metrics) *Hub {
	if bufferSize < 1 {
		bufferSize = 16
	}
	return &Hub{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      logging.GetLogger("hub"),
		metrics:     m,
	}
}

// Subscribe registers a client and returns its receive channel. A second
// subscription with the same client id replaces the first and closes its
// channel.
func (h *Hub) Subscribe(clientID string, connectionIDs []string) <-chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.subscribers[clientID]; ok {
		close(prev.ch)
	}

	connSet := make(map[string]bool, len(connectionIDs))
	for _, id := range connectionIDs {
		connSet[id] = true
	}
	sub := &subscriber{
		clientID:      clientID,
		connectionIDs: connSet,
		ch:            make(chan Message, h.bufferSize),
	}
	h.subscribers[clientID] = sub

	h.logger.DebugWithFields("subscriber registered",
		logging.Field("client_id", clientID),
		logging.Field("connections", len(connectionIDs)),
	)
	return sub.ch
}

// Unsubscribe removes a client and closes its channel. Unknown ids are a
// no-op.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[clientID]; ok {
		close(sub.ch)
		delete(h.subscribers, clientID)
	}
}

// Publish delivers the payload to every current subscriber without
// blocking. Messages to subscribers with a full buffer are dropped.
func (h *Hub) Publish(topic Topic, payload interface{}) {
	msg := Message{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.metrics.ObserveHubPublish(string(topic))
	for _, sub := range h.subscribers {
		select {
		case sub.ch <- msg:
		default:
			h.metrics.ObserveHubDrop(string(topic))
			h.logger.DebugWithFields("dropped message for slow subscriber",
				logging.Field("client_id", sub.clientID),
				logging.Field("topic", string(topic)),
			)
		}
	}
}

// SubscriberCount returns the number of registered subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
