package interfaces

import (
	"context"
	"time"
)

// MessageType identifies a bus topic
type MessageType string

// Message topic constants. These strings are the stable wire contract within
// the process; plugins key their subscriptions on them.
const (
	// Plugin -> service control topics
	MessagePublishRegister      MessageType = "publish:register"
	MessagePublishQueue         MessageType = "publish:queue"
	MessagePublishDirect        MessageType = "publish:direct"
	MessagePublishRemove        MessageType = "publish:remove"
	MessagePublishReorder       MessageType = "publish:reorder"
	MessagePublishList          MessageType = "publish:list"
	MessagePublishReportSuccess MessageType = "publish:report:success"
	MessagePublishReportFailure MessageType = "publish:report:failure"

	// Service -> plugin topics
	MessagePublishExecute      MessageType = "publish:execute"
	MessagePublishQueued       MessageType = "publish:queued"
	MessagePublishCompleted    MessageType = "publish:completed"
	MessagePublishFailed       MessageType = "publish:failed"
	MessagePublishListResponse MessageType = "publish:list:response"

	// System topics
	MessageSystemPluginsReady   MessageType = "system:plugins:ready"
	MessageSyncInitialCompleted MessageType = "sync:initial:completed"

	// Job lifecycle topics
	MessageJobStarted   MessageType = "job:started"
	MessageJobProgress  MessageType = "job:progress"
	MessageJobCompleted MessageType = "job:completed"
	MessageJobFailed    MessageType = "job:failed"

	// Batch lifecycle topics
	MessageBatchProgress  MessageType = "batch:progress"
	MessageBatchCompleted MessageType = "batch:completed"
	MessageBatchFailed    MessageType = "batch:failed"

	// Entity change topics
	MessageEntityCreated MessageType = "entity:created"
	MessageEntityUpdated MessageType = "entity:updated"
	MessageEntityDeleted MessageType = "entity:deleted"
)

// Message is a transient in-process message
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	Payload       any         `json:"payload,omitempty"`
	Source        string      `json:"source,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	TargetPlugin  string      `json:"target_plugin,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Broadcast     bool        `json:"broadcast,omitempty"`
}

// Response is the result of a Send. Noop marks a non-broadcast send that
// found no subscriber.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Noop    bool   `json:"noop,omitempty"`
}

// MessageHandler processes one message. A nil response with a nil error is
// treated as success.
type MessageHandler func(ctx context.Context, msg Message) (*Response, error)

// MessageBus is the in-process typed topic bus.
//
// Non-broadcast sends deliver to the first subscriber in subscription order
// and return its response. Broadcast sends deliver to all subscribers
// concurrently and return once every handler has resolved. Per (topic,
// subscriber) pair, deliveries are serialized. Handler errors are caught and
// returned as {success:false, error}; the bus itself never retries.
type MessageBus interface {
	// Send dispatches a message and returns the response. Never nil.
	Send(ctx context.Context, msg Message) *Response

	// Subscribe registers a handler for a topic and returns an idempotent
	// unsubscribe function.
	Subscribe(topic MessageType, handler MessageHandler) (func(), error)

	// Close drops all subscriptions
	Close() error
}
