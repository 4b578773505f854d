package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/projecthub/internal/gateway"
	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/middleware"
	"github.com/projecthub/internal/model"
	"github.com/projecthub/internal/presence"
	"github.com/projecthub/internal/push"
	"github.com/projecthub/internal/relay"
	"github.com/projecthub/internal/repository"
)

// MessageHandler is the write path: it persists first, then injects the
// event through the relay. Persistence failures are hard errors; relay
// delivery is best-effort and never fails the request.
type MessageHandler struct {
	msgRepo  *repository.MessageRepository
	convRepo *repository.ConversationRepository
	userRepo *repository.UserRepository
	relay    *relay.Client
	presence presence.Store
	push     *push.Client
}

func NewMessageHandler(msgRepo *repository.MessageRepository, convRepo *repository.ConversationRepository, userRepo *repository.UserRepository, rc *relay.Client, ps presence.Store, pc *push.Client) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, convRepo: convRepo, userRepo: userRepo, relay: rc, presence: ps, push: pc}
}

type sendMessageRequest struct {
	Kind      model.ConversationKind `json:"type"`
	Content   string                 `json:"content"`
	Type      model.MessageType      `json:"messageType,omitempty"`
	MessageID string                 `json:"messageId,omitempty"`
	ReplyToID string                 `json:"replyToId,omitempty"`
}

// Send handles POST /api/conversations/{conversationId}/messages.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("msg.Send", time.Now())()
	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "conversationId")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if conversationID == "" || req.Content == "" || !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "conversationId, type and content required")
		return
	}

	ok, err := h.convRepo.CanAccessConversation(r.Context(), req.Kind, conversationID, userID)
	if err != nil {
		logger.Errorf("send access conversation=%s user=%s: %v", conversationID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	var replyToID *string
	if req.ReplyToID != "" {
		replyToID = &req.ReplyToID
	}
	id := req.MessageID
	if id == "" {
		id = uuid.New().String()
	}
	m := &model.Message{
		ID:             id,
		ConversationID: conversationID,
		Kind:           req.Kind,
		SenderID:       userID,
		Content:        req.Content,
		Type:           msgType,
		Status:         model.MessageStatusSent,
		ReplyToID:      replyToID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.msgRepo.Create(r.Context(), m); err != nil {
		logger.Errorf("send persist conversation=%s user=%s: %v", conversationID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	out := gateway.MessageNewPayload{Message: *m}
	if sender, err := h.userRepo.GetByID(r.Context(), userID); err == nil {
		pub := sender.ToPublic()
		out.Sender = &pub
		out.SenderEmail = sender.Email
	}

	// The sender already holds an optimistic local copy; exclude it from the
	// room fan-out. If the relay is down this is a logged no-op.
	h.relay.BroadcastMessage(req.Kind, conversationID, gateway.EventMessageNew, out, userID)

	if req.Kind == model.KindPrivate {
		h.pushOfflinePeer(conversationID, userID, out)
	}

	writeJSON(w, http.StatusCreated, m)
}

// pushOfflinePeer sends a Web Push to the other private participant when
// they have no live connection. Project chats are too noisy to push.
func (h *MessageHandler) pushOfflinePeer(conversationID, senderID string, out gateway.MessageNewPayload) {
	if h.push == nil || h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go func() {
		defer cancel()
		uids, err := h.convRepo.ParticipantIDs(ctx, conversationID)
		if err != nil {
			logger.Errorf("push participants conversation=%s: %v", conversationID, err)
			return
		}
		title := "New message"
		if out.Sender != nil && out.Sender.Name != "" {
			title = out.Sender.Name
		}
		data := map[string]string{"conversation_id": conversationID, "type": string(model.KindPrivate)}
		for _, uid := range uids {
			if uid == senderID {
				continue
			}
			online, err := h.presence.IsOnline(ctx, uid)
			if err != nil {
				logger.Errorf("push presence user=%s: %v", uid, err)
				continue
			}
			if !online {
				h.push.Notify(ctx, uid, title, out.Message.Content, data)
			}
		}
	}()
}

type markReadRequest struct {
	Kind model.ConversationKind `json:"type"`
}

// MarkRead handles POST /api/conversations/{conversationId}/messages/{messageId}/read.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "conversationId")
	messageID := chi.URLParam(r, "messageId")

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if conversationID == "" || messageID == "" || !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "conversationId, messageId and type required")
		return
	}

	ok, err := h.convRepo.CanAccessConversation(r.Context(), req.Kind, conversationID, userID)
	if err != nil {
		logger.Errorf("read access conversation=%s user=%s: %v", conversationID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	if err := h.msgRepo.MarkRead(r.Context(), messageID, conversationID, userID, time.Now().UTC()); err != nil {
		logger.Errorf("mark read message=%s user=%s: %v", messageID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	h.relay.BroadcastMessageRead(req.Kind, conversationID, messageID, userID)
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/conversations/{conversationId}/messages/{messageId}.
// Messages are immutable; this only hides the record (soft delete) and only
// for the original sender.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "messageId required")
		return
	}

	m, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Errorf("delete load message=%s user=%s: %v", messageID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if m.SenderID != userID {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	if err := h.msgRepo.SoftDelete(r.Context(), messageID); err != nil {
		logger.Errorf("delete message=%s user=%s: %v", messageID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
