package gateway

import (
	"encoding/json"
	"time"

	"github.com/projecthub/internal/model"
)

// EventType is the closed catalog of wire events. Untyped payloads are
// converted into the matching typed payload at the transport boundary;
// anything outside the catalog is a malformed event.
type EventType string

const (
	// Client -> server
	EventConversationJoin  EventType = "conversation:join"
	EventConversationLeave EventType = "conversation:leave"
	EventMessageSend       EventType = "message:send"
	EventMessageRead       EventType = "message:read"
	EventTypingStart       EventType = "typing:start"
	EventTypingStop        EventType = "typing:stop"
	EventProjectJoin       EventType = "project:join"
	EventPing              EventType = "ping"

	// Server -> client
	EventMessageNew          EventType = "message:new"
	EventMessageSent         EventType = "message:sent"
	EventUserStatus          EventType = "user:status"
	EventProjectNotification EventType = "project:notification"
	EventPong                EventType = "pong"
	EventError               EventType = "error"

	// Relay-only inbound, accepted from the privileged connection.
	EventRelayMessage      EventType = "server:broadcast:message"
	EventRelayNotification EventType = "server:broadcast:notification"
	EventRelayUserStatus   EventType = "server:broadcast:user-status"
)

// IncomingMessage is the wire envelope received from a connection. Payload
// stays raw until the event type selects the struct to decode it into.
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutgoingMessage is the wire envelope sent to a connection.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// JoinPayload is shared by conversation:join and conversation:leave.
// "type" inside the payload is the conversation kind, not the event name.
type JoinPayload struct {
	ConversationID string                 `json:"conversationId"`
	Kind           model.ConversationKind `json:"type"`
}

// SendPayload carries message:send. MessageID is client-generated so the
// sender's optimistic local copy and the persisted record share an id.
type SendPayload struct {
	ConversationID string                 `json:"conversationId"`
	Kind           model.ConversationKind `json:"type"`
	Content        string                 `json:"content"`
	MessageID      string                 `json:"messageId"`
	Timestamp      time.Time              `json:"timestamp"`
}

// ReadPayload carries message:read from a client.
type ReadPayload struct {
	MessageID      string                 `json:"messageId"`
	ConversationID string                 `json:"conversationId"`
	Kind           model.ConversationKind `json:"type"`
}

// TypingPayload is shared by typing:start and typing:stop in both directions.
type TypingPayload struct {
	ConversationID string                 `json:"conversationId"`
	Kind           model.ConversationKind `json:"type,omitempty"`
	UserID         string                 `json:"userId,omitempty"`
	UserEmail      string                 `json:"userEmail,omitempty"`
}

// ProjectJoinPayload carries project:join.
type ProjectJoinPayload struct {
	ProjectID string `json:"projectId"`
}

// MessageNewPayload is the message projection broadcast to a room.
type MessageNewPayload struct {
	model.Message
	SenderEmail string `json:"senderEmail,omitempty"`
}

// MessageSentPayload is the delivery ack returned to the sender.
type MessageSentPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
}

// MessageReadPayload is broadcast when a user marks a message read.
type MessageReadPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	Timestamp      time.Time `json:"timestamp"`
}

// UserStatusPayload is broadcast for online/offline transitions.
type UserStatusPayload struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ProjectNotificationPayload delivers a system notification to project members.
type ProjectNotificationPayload struct {
	ProjectID    string          `json:"projectId"`
	Notification json.RawMessage `json:"notification"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PongPayload answers a ping.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a handler failure to the originating connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RelayMessagePayload is the relay's room-broadcast instruction.
type RelayMessagePayload struct {
	Room          string          `json:"room"`
	Event         EventType       `json:"event"`
	Data          json.RawMessage `json:"data"`
	ExcludeUserID string          `json:"excludeUserId,omitempty"`
}

// RelayNotificationPayload targets either a project room or an explicit
// user list, resolved through the registry to live connections.
type RelayNotificationPayload struct {
	ProjectID    string          `json:"projectId"`
	Notification json.RawMessage `json:"notification"`
	TargetUsers  []string        `json:"targetUsers,omitempty"`
}

// RelayUserStatusPayload propagates a user status change into project rooms.
type RelayUserStatusPayload struct {
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	ProjectIDs []string  `json:"projectIds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
