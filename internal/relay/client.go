// Package relay gives stateless request handlers a way to inject events into
// gateway rooms. It keeps exactly one privileged outbound WebSocket to the
// gateway; every broadcast is fire-and-forget. Durability belongs to the
// write path, so a broadcast attempted while the connection is down is a
// logged no-op, never an error to the caller.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/projecthub/internal/gateway"
	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/model"
)

const (
	sendBufSize    = 256
	writeWait      = 10 * time.Second
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// Client is the long-lived privileged gateway connection.
type Client struct {
	url    string
	secret string

	connected atomic.Bool
	send      chan gateway.IncomingMessage

	wg sync.WaitGroup
}

func New(gatewayURL, secret string) *Client {
	return &Client{
		url:    gatewayURL,
		secret: secret,
		send:   make(chan gateway.IncomingMessage, sendBufSize),
	}
}

// Run maintains the outbound connection until ctx is cancelled, redialing
// with exponential backoff on drop.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("relay dial %s failed, retry in %v: %v", c.url, backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = initialBackoff
		logger.Infof("relay connected to %s", c.url)
		c.connected.Store(true)
		c.serve(ctx, conn)
		c.connected.Store(false)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("relay connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.secret)
	header.Set("X-Server-Client", "true")
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// serve runs the write loop and a control-frame reader until either fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		// The gateway only ever sends error events and control frames to the
		// relay; read to keep the connection alive and log what arrives.
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			logger.Infof("relay inbound: %s", raw)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case <-readDone:
			return
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Errorf("relay write: %v", err)
				return
			}
		}
	}
}

// emit enqueues a broadcast if the connection is up, otherwise drops it.
func (c *Client) emit(msg gateway.IncomingMessage) {
	if !c.connected.Load() {
		logger.Infof("relay down, skipping %s broadcast (poll reconciliation covers the gap)", msg.Type)
		return
	}
	select {
	case c.send <- msg:
	default:
		logger.Errorf("relay send buffer full, dropping %s broadcast", msg.Type)
	}
}

// Connected reports whether the outbound connection is currently up.
func (c *Client) Connected() bool { return c.connected.Load() }

// BroadcastMessage fans a message event out to its conversation room.
// excludeUserID keeps the sender from receiving an echo of a message it
// already holds an optimistic local copy of.
func (c *Client) BroadcastMessage(kind model.ConversationKind, conversationID string, event gateway.EventType, data any, excludeUserID string) {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Errorf("relay marshal %s: %v", event, err)
		return
	}
	payload, err := json.Marshal(gateway.RelayMessagePayload{
		Room:          gateway.RoomName(kind, conversationID),
		Event:         event,
		Data:          raw,
		ExcludeUserID: excludeUserID,
	})
	if err != nil {
		logger.Errorf("relay marshal envelope: %v", err)
		return
	}
	c.emit(gateway.IncomingMessage{Type: gateway.EventRelayMessage, Payload: payload})
}

// BroadcastMessageRead propagates a read mark into the conversation room.
func (c *Client) BroadcastMessageRead(kind model.ConversationKind, conversationID, messageID, readBy string) {
	c.BroadcastMessage(kind, conversationID, gateway.EventMessageRead, gateway.MessageReadPayload{
		MessageID:      messageID,
		ConversationID: conversationID,
		ReadBy:         readBy,
		Timestamp:      time.Now().UTC(),
	}, readBy)
}

// BroadcastProjectNotification targets the project room, or an explicit user
// list when targetUsers is non-empty. Users without a live connection are
// skipped by the gateway; the DB-backed unread count reaches them on the
// next poll.
func (c *Client) BroadcastProjectNotification(projectID string, notification any, targetUsers []string) {
	raw, err := json.Marshal(notification)
	if err != nil {
		logger.Errorf("relay marshal notification: %v", err)
		return
	}
	payload, err := json.Marshal(gateway.RelayNotificationPayload{
		ProjectID:    projectID,
		Notification: raw,
		TargetUsers:  targetUsers,
	})
	if err != nil {
		logger.Errorf("relay marshal envelope: %v", err)
		return
	}
	c.emit(gateway.IncomingMessage{Type: gateway.EventRelayNotification, Payload: payload})
}

// BroadcastUserStatus propagates an online/offline transition into the
// user's project rooms.
func (c *Client) BroadcastUserStatus(userID, status string, projectIDs []string) {
	payload, err := json.Marshal(gateway.RelayUserStatusPayload{
		UserID:     userID,
		Status:     status,
		ProjectIDs: projectIDs,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		logger.Errorf("relay marshal envelope: %v", err)
		return
	}
	c.emit(gateway.IncomingMessage{Type: gateway.EventRelayUserStatus, Payload: payload})
}
