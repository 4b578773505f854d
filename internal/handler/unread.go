package handler

import (
	"net/http"
	"time"

	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/middleware"
	"github.com/projecthub/internal/model"
	"github.com/projecthub/internal/repository"
)

// UnreadHandler serves the read model the client aggregator polls. Values
// are always recomputed from persisted read state; nothing push-derived is
// ever returned.
type UnreadHandler struct {
	msgRepo   *repository.MessageRepository
	notifRepo *repository.NotificationRepository
}

func NewUnreadHandler(msgRepo *repository.MessageRepository, notifRepo *repository.NotificationRepository) *UnreadHandler {
	return &UnreadHandler{msgRepo: msgRepo, notifRepo: notifRepo}
}

// Get handles GET /api/unread-count.
func (h *UnreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("unread.Get", time.Now())()
	userID := middleware.GetUserID(r.Context())

	im, err := h.msgRepo.UnreadIMCount(r.Context(), userID)
	if err != nil {
		logger.Errorf("unread im user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	system, err := h.notifRepo.UnreadSystemCount(r.Context(), userID)
	if err != nil {
		logger.Errorf("unread system user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, model.UnreadCounts{
		System:         system,
		IM:             im,
		LastComputedAt: time.Now().UTC(),
	})
}
