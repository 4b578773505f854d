package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Message is the single authoritative record of a chat message. It is
// immutable once persisted (soft-delete only); any broadcast payload is a
// transient projection of it.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Kind           ConversationKind `json:"kind"`
	SenderID       string           `json:"sender_id"`
	Content        string           `json:"content"`
	Type           MessageType      `json:"type"`
	Status         MessageStatus    `json:"status"`
	ReplyToID      *string          `json:"reply_to_id,omitempty"`
	IsDeleted      bool             `json:"is_deleted"`
	CreatedAt      time.Time        `json:"created_at"`
	Sender         *UserPublic      `json:"sender,omitempty"`
}
