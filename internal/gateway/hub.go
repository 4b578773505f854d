package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/model"
)

// MessageStore persists chat messages and read marks. Durability lives here;
// everything the hub broadcasts afterwards is best-effort.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	MarkRead(ctx context.Context, messageID, conversationID, userID string, at time.Time) error
}

// Directory resolves user projections for outgoing payloads.
type Directory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// PresenceStore mirrors registry presence for other services. If nil, no
// mirror is kept; the registry alone answers presence for this process.
type PresenceStore interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

// Hub owns the registry and runs the gateway event loop. Registry mutation
// is reached only through hub handlers; the relay and HTTP handlers interact
// with it through events, never shared memory.
type Hub struct {
	registry   *Registry
	router     *Router
	messages   MessageStore
	directory  Directory
	presence   PresenceStore
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(registry *Registry, router *Router, messages MessageStore, directory Directory, presence PresenceStore) *Hub {
	return &Hub{
		registry:   registry,
		router:     router,
		messages:   messages,
		directory:  directory,
		presence:   presence,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	clients := h.registry.AllClients("")
	for _, c := range clients {
		h.registry.Remove(c)
	}
	// Close connections outside any lock (network I/O).
	for _, c := range clients {
		c.Close()
	}
	for _, c := range clients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	accepted, firstConn := h.registry.Add(c)
	if !accepted {
		logger.Errorf("ws connection limit reached, rejecting user=%s", c.userID)
		c.Close()
		return
	}
	close(c.registered)
	if c.privileged {
		logger.Infof("ws relay connection established conn=%s", c.connID)
		return
	}
	if firstConn {
		h.markPresence(c.userID, true)
		h.broadcastAll(c.userID, OutgoingMessage{Type: EventUserStatus, Payload: UserStatusPayload{
			UserID:    c.userID,
			Status:    "online",
			Timestamp: time.Now().UTC(),
		}})
	}
}

func (h *Hub) removeClient(c *Client) {
	known, lastConn := h.registry.Remove(c)
	if !known {
		return
	}
	// Network I/O outside the lock.
	c.Close()

	if lastConn {
		h.markPresence(c.userID, false)
		h.broadcastAll(c.userID, OutgoingMessage{Type: EventUserStatus, Payload: UserStatusPayload{
			UserID:    c.userID,
			Status:    "offline",
			Timestamp: time.Now().UTC(),
		}})
	}
}

func (h *Hub) markPresence(userID string, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if online {
		err = h.presence.MarkOnline(ctx, userID)
	} else {
		err = h.presence.MarkOffline(ctx, userID)
	}
	if err != nil {
		logger.Errorf("ws presence mirror user=%s online=%v: %v", userID, online, err)
	}
}

// HandleMessage dispatches an incoming WebSocket event. A failing handler is
// isolated: the error is logged and reported to the originating connection
// only, never allowed to take down the hub or touch other connections.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws handler panic user=%s event=%s: %v", c.userID, msg.Type, r)
			h.sendToClient(c, errorMessage("internal error"))
		}
	}()

	if c.privileged {
		switch msg.Type {
		case EventRelayMessage:
			h.handleRelayMessage(c, msg)
		case EventRelayNotification:
			h.handleRelayNotification(c, msg)
		case EventRelayUserStatus:
			h.handleRelayUserStatus(c, msg)
		default:
			// Privileged connections may only emit relay events.
			h.sendToClient(c, errorMessage("event not allowed on relay connection"))
		}
		return
	}

	switch msg.Type {
	case EventConversationJoin:
		h.handleJoin(ctx, c, msg)
	case EventConversationLeave:
		h.handleLeave(c, msg)
	case EventMessageSend:
		h.handleSend(ctx, c, msg)
	case EventMessageRead:
		h.handleRead(ctx, c, msg)
	case EventTypingStart, EventTypingStop:
		h.handleTyping(ctx, c, msg)
	case EventProjectJoin:
		h.handleProjectJoin(ctx, c, msg)
	case EventPing:
		h.sendToClient(c, OutgoingMessage{Type: EventPong, Payload: PongPayload{Timestamp: time.Now().UTC()}})
	default:
		h.sendToClient(c, errorMessage("unknown event type"))
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, msg IncomingMessage) {
	var p JoinPayload
	if !h.decode(c, msg, &p) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	room, err := h.router.ResolveRoom(ctx, p.Kind, p.ConversationID, c.userID)
	switch {
	case err == nil:
	case isAccessDenied(err):
		// Join refused; the connection stays open.
		h.sendToClient(c, errorMessage("access denied"))
		return
	default:
		logger.Errorf("ws join conversation=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendToClient(c, errorMessage("internal error"))
		return
	}
	h.registry.Join(c, room)
}

func (h *Hub) handleLeave(c *Client, msg IncomingMessage) {
	var p JoinPayload
	if !h.decode(c, msg, &p) {
		return
	}
	if !p.Kind.Valid() || p.ConversationID == "" {
		h.sendToClient(c, errorMessage("conversationId and type required"))
		return
	}
	h.registry.Leave(c, RoomName(p.Kind, p.ConversationID))
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	var p SendPayload
	if !h.decode(c, msg, &p) {
		return
	}
	if p.ConversationID == "" || p.Content == "" {
		h.sendToClient(c, errorMessage("conversationId and content required"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	room, err := h.router.ResolveRoom(ctx, p.Kind, p.ConversationID, c.userID)
	switch {
	case err == nil:
	case isAccessDenied(err):
		h.sendToClient(c, errorMessage("access denied"))
		return
	default:
		logger.Errorf("ws send access conversation=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendToClient(c, errorMessage("internal error"))
		return
	}

	id := p.MessageID
	if id == "" {
		id = uuid.New().String()
	}
	created := p.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	m := &model.Message{
		ID:             id,
		ConversationID: p.ConversationID,
		Kind:           p.Kind,
		SenderID:       c.userID,
		Content:        p.Content,
		Type:           model.MessageTypeText,
		Status:         model.MessageStatusSent,
		CreatedAt:      created,
	}
	if err := h.messages.Create(ctx, m); err != nil {
		logger.Errorf("ws save message conversation=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendToClient(c, errorMessage("failed to save message"))
		return
	}

	out := MessageNewPayload{Message: *m}
	if sender, err := h.directory.GetByID(ctx, c.userID); err == nil {
		pub := sender.ToPublic()
		out.Sender = &pub
		out.SenderEmail = sender.Email
	} else {
		logger.Errorf("ws get sender user=%s: %v", c.userID, err)
	}

	// The sender keeps its optimistic local copy; exclude it from the echo
	// and ack with message:sent instead.
	h.sendToRoom(room, OutgoingMessage{Type: EventMessageNew, Payload: out}, c.userID)
	h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, Payload: MessageSentPayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Timestamp:      m.CreatedAt,
		Status:         "delivered",
	}})
}

func (h *Hub) handleRead(ctx context.Context, c *Client, msg IncomingMessage) {
	var p ReadPayload
	if !h.decode(c, msg, &p) {
		return
	}
	if p.MessageID == "" || p.ConversationID == "" {
		h.sendToClient(c, errorMessage("messageId and conversationId required"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := h.messages.MarkRead(ctx, p.MessageID, p.ConversationID, c.userID, now); err != nil {
		logger.Errorf("ws mark read message=%s user=%s: %v", p.MessageID, c.userID, err)
		h.sendToClient(c, errorMessage("failed to mark read"))
		return
	}

	h.sendToRoom(RoomName(p.Kind, p.ConversationID), OutgoingMessage{Type: EventMessageRead, Payload: MessageReadPayload{
		MessageID:      p.MessageID,
		ConversationID: p.ConversationID,
		ReadBy:         c.userID,
		Timestamp:      now,
	}}, c.userID)
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	var p TypingPayload
	if !h.decode(c, msg, &p) {
		return
	}
	if p.ConversationID == "" {
		return
	}

	out := TypingPayload{ConversationID: p.ConversationID, UserID: c.userID}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if u, err := h.directory.GetByID(ctx, c.userID); err == nil {
		out.UserEmail = u.Email
	}

	h.sendToRoom(RoomName(p.Kind, p.ConversationID), OutgoingMessage{Type: msg.Type, Payload: out}, c.userID)
}

func (h *Hub) handleProjectJoin(ctx context.Context, c *Client, msg IncomingMessage) {
	var p ProjectJoinPayload
	if !h.decode(c, msg, &p) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	room, err := h.router.ResolveProjectRoom(ctx, p.ProjectID, c.userID)
	switch {
	case err == nil:
	case isAccessDenied(err):
		h.sendToClient(c, errorMessage("access denied"))
		return
	default:
		logger.Errorf("ws project join project=%s user=%s: %v", p.ProjectID, c.userID, err)
		h.sendToClient(c, errorMessage("internal error"))
		return
	}
	h.registry.Join(c, room)
}

func (h *Hub) handleRelayMessage(c *Client, msg IncomingMessage) {
	var p RelayMessagePayload
	if !h.decode(c, msg, &p) {
		return
	}
	if p.Room == "" || p.Event == "" {
		h.sendToClient(c, errorMessage("room and event required"))
		return
	}
	h.sendToRoom(p.Room, OutgoingMessage{Type: p.Event, Payload: p.Data}, p.ExcludeUserID)
}

func (h *Hub) handleRelayNotification(c *Client, msg IncomingMessage) {
	var p RelayNotificationPayload
	if !h.decode(c, msg, &p) {
		return
	}
	out := OutgoingMessage{Type: EventProjectNotification, Payload: ProjectNotificationPayload{
		ProjectID:    p.ProjectID,
		Notification: p.Notification,
		Timestamp:    time.Now().UTC(),
	}}
	if len(p.TargetUsers) > 0 {
		// Explicit user list: users with no live connection are silently
		// skipped; they pick the notification up via the unread poll.
		for _, uid := range p.TargetUsers {
			h.sendToUser(uid, out)
		}
		return
	}
	h.sendToRoom(ProjectRoom(p.ProjectID), out, "")
}

func (h *Hub) handleRelayUserStatus(c *Client, msg IncomingMessage) {
	var p RelayUserStatusPayload
	if !h.decode(c, msg, &p) {
		return
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	out := OutgoingMessage{Type: EventUserStatus, Payload: UserStatusPayload{
		UserID:    p.UserID,
		Status:    p.Status,
		Timestamp: ts,
	}}
	if len(p.ProjectIDs) == 0 {
		h.broadcastAll(p.UserID, out)
		return
	}
	for _, pid := range p.ProjectIDs {
		h.sendToRoom(ProjectRoom(pid), out, p.UserID)
	}
}

// decode converts a raw payload into its typed struct, reporting malformed
// events to the origin and dropping them.
func (h *Hub) decode(c *Client, msg IncomingMessage, into any) bool {
	if err := decodePayload(msg, into); err != nil {
		logger.Errorf("ws malformed %s payload user=%s: %v", msg.Type, c.userID, err)
		h.sendToClient(c, errorMessage("malformed payload"))
		return false
	}
	return true
}

func (h *Hub) sendToRoom(room string, msg OutgoingMessage, excludeUserID string) {
	for _, c := range h.registry.RoomClients(room, excludeUserID) {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	for _, c := range h.registry.UserClients(userID) {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) broadcastAll(excludeUserID string, msg OutgoingMessage) {
	for _, c := range h.registry.AllClients(excludeUserID) {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ConnectionCount reports live connections for the health endpoint.
func (h *Hub) ConnectionCount() int { return h.registry.Count() }

// OnlineUsers reports user ids with at least one live connection.
func (h *Hub) OnlineUsers() []string { return h.registry.OnlineUsers() }

func errorMessage(text string) OutgoingMessage {
	return OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: text}}
}
