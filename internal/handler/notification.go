package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/middleware"
	"github.com/projecthub/internal/model"
	"github.com/projecthub/internal/presence"
	"github.com/projecthub/internal/push"
	"github.com/projecthub/internal/relay"
	"github.com/projecthub/internal/repository"
)

// NotificationHandler persists a system notification, relays it to live
// connections, and falls back to Web Push for targets that are offline.
type NotificationHandler struct {
	notifRepo *repository.NotificationRepository
	convRepo  *repository.ConversationRepository
	relay     *relay.Client
	presence  presence.Store
	push      *push.Client
}

func NewNotificationHandler(notifRepo *repository.NotificationRepository, convRepo *repository.ConversationRepository, rc *relay.Client, ps presence.Store, pc *push.Client) *NotificationHandler {
	return &NotificationHandler{notifRepo: notifRepo, convRepo: convRepo, relay: rc, presence: ps, push: pc}
}

type notifyRequest struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	TargetUsers []string `json:"targetUsers,omitempty"`
}

// Notify handles POST /api/projects/{projectId}/notifications.
func (h *NotificationHandler) Notify(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("notif.Notify", time.Now())()
	userID := middleware.GetUserID(r.Context())
	projectID := chi.URLParam(r, "projectId")

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if projectID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "projectId and title required")
		return
	}

	ok, err := h.convRepo.IsProjectMember(r.Context(), projectID, userID)
	if err != nil {
		logger.Errorf("notify membership project=%s user=%s: %v", projectID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	now := time.Now().UTC()
	// Targeted notifications persist one row per target so each target's
	// unread count converges independently.
	var created []model.Notification
	if len(req.TargetUsers) > 0 {
		for _, uid := range req.TargetUsers {
			created = append(created, model.Notification{
				ID:        uuid.New().String(),
				ProjectID: projectID,
				UserID:    uid,
				Title:     req.Title,
				Body:      req.Body,
				CreatedAt: now,
			})
		}
	} else {
		created = append(created, model.Notification{
			ID:        uuid.New().String(),
			ProjectID: projectID,
			Title:     req.Title,
			Body:      req.Body,
			CreatedAt: now,
		})
	}
	for i := range created {
		if err := h.notifRepo.Create(r.Context(), &created[i]); err != nil {
			logger.Errorf("notify persist project=%s: %v", projectID, err)
			writeError(w, http.StatusInternalServerError, "failed to save notification")
			return
		}
	}

	// Real-time delivery is best-effort from here on; the unread poll covers
	// anything the relay or push misses.
	h.relay.BroadcastProjectNotification(projectID, map[string]string{
		"title": req.Title,
		"body":  req.Body,
	}, req.TargetUsers)

	h.pushOffline(projectID, req.Title, req.Body, req.TargetUsers)

	writeJSON(w, http.StatusCreated, map[string]any{"notifications": created})
}

// MarkRead handles POST /api/notifications/{notificationId}/read. Marking is
// idempotent; the next unread poll reflects it.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	notificationID := chi.URLParam(r, "notificationId")
	if notificationID == "" {
		writeError(w, http.StatusBadRequest, "notificationId required")
		return
	}
	if err := h.notifRepo.MarkRead(r.Context(), notificationID, userID, time.Now().UTC()); err != nil {
		logger.Errorf("notification mark read id=%s user=%s: %v", notificationID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pushOffline sends a Web Push to every target without a live connection.
func (h *NotificationHandler) pushOffline(projectID, title, body string, targets []string) {
	if h.push == nil || h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go func() {
		defer cancel()
		uids := targets
		if len(uids) == 0 {
			var err error
			uids, err = h.convRepo.ProjectMemberIDs(ctx, projectID)
			if err != nil {
				logger.Errorf("notify push members project=%s: %v", projectID, err)
				return
			}
		}
		data := map[string]string{"project_id": projectID}
		for _, uid := range uids {
			online, err := h.presence.IsOnline(ctx, uid)
			if err != nil {
				logger.Errorf("notify presence user=%s: %v", uid, err)
				continue
			}
			if !online {
				h.push.Notify(ctx, uid, title, body, data)
			}
		}
	}()
}
