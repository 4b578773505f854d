package handler

import (
	"encoding/json"
	"net/http"

	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/middleware"
	"github.com/projecthub/internal/relay"
	"github.com/projecthub/internal/repository"
)

// UserHandler covers the self-service user surface. Status updates persist
// the flag and announce the transition in every project room the user
// belongs to.
type UserHandler struct {
	userRepo *repository.UserRepository
	relay    *relay.Client
}

func NewUserHandler(userRepo *repository.UserRepository, rc *relay.Client) *UserHandler {
	return &UserHandler{userRepo: userRepo, relay: rc}
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles POST /api/users/me/status.
func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Status != "online" && req.Status != "offline" {
		writeError(w, http.StatusBadRequest, "status must be online or offline")
		return
	}

	if err := h.userRepo.SetOnline(r.Context(), userID, req.Status == "online"); err != nil {
		logger.Errorf("status update user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	projectIDs, err := h.userRepo.ProjectIDs(r.Context(), userID)
	if err != nil {
		// The flag is persisted; skipping the announcement is recoverable
		// because live connections learn the status from the gateway anyway.
		logger.Errorf("status projects user=%s: %v", userID, err)
	} else {
		h.relay.BroadcastUserStatus(userID, req.Status, projectIDs)
	}

	w.WriteHeader(http.StatusNoContent)
}
