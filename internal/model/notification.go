package model

import "time"

// Notification is a persisted system notification. Its unread state feeds
// the `system` channel of the unread aggregator.
type Notification struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// UnreadChannel names an independent unread counter domain.
type UnreadChannel string

const (
	// ChannelSystem counts unread system notifications.
	ChannelSystem UnreadChannel = "system"
	// ChannelIM counts unread chat messages across both conversation kinds.
	ChannelIM UnreadChannel = "im"
)

// UnreadCounts is the server-recomputed read model polled by clients.
// Client-side increments are provisional and must converge to these values.
type UnreadCounts struct {
	System         int       `json:"system"`
	IM             int       `json:"im"`
	LastComputedAt time.Time `json:"last_computed_at"`
}
