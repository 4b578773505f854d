package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/projecthub/internal/model"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrUnknownKind  = errors.New("unknown conversation kind")
)

// AccessChecker is the external permission/membership authority, consumed as
// an opaque boolean. Membership is evaluated at join time and never cached
// inside the gateway, so a revoked member loses the ability to (re)join even
// though an already-open socket is not evicted mid-session.
type AccessChecker interface {
	// CanAccessConversation reports whether the user may join the
	// conversation: a private conversation's two persisted participants, or
	// the owning project's current members for a project chat.
	CanAccessConversation(ctx context.Context, kind model.ConversationKind, conversationID, userID string) (bool, error)
	// IsProjectMember reports current membership in a project.
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
}

// RoomName derives the canonical room for a conversation. Room names are
// purely structural strings; nothing about them is persisted.
func RoomName(kind model.ConversationKind, conversationID string) string {
	return fmt.Sprintf("%s:%s", kind, conversationID)
}

// ProjectRoom derives the coarse project-level room for notices.
func ProjectRoom(projectID string) string {
	return "project:" + projectID
}

// Router maps a (kind, conversationId) pair to a canonical room name and
// decides whether a given user may join it.
type Router struct {
	access AccessChecker
}

func NewRouter(access AccessChecker) *Router {
	return &Router{access: access}
}

// ResolveRoom returns the room name, or ErrAccessDenied / ErrUnknownKind.
func (rt *Router) ResolveRoom(ctx context.Context, kind model.ConversationKind, conversationID, userID string) (string, error) {
	if !kind.Valid() || conversationID == "" {
		return "", ErrUnknownKind
	}
	ok, err := rt.access.CanAccessConversation(ctx, kind, conversationID, userID)
	if err != nil {
		return "", fmt.Errorf("router: access check %s/%s: %w", kind, conversationID, err)
	}
	if !ok {
		return "", ErrAccessDenied
	}
	return RoomName(kind, conversationID), nil
}

// ResolveProjectRoom returns the project notice room after a membership check.
func (rt *Router) ResolveProjectRoom(ctx context.Context, projectID, userID string) (string, error) {
	if projectID == "" {
		return "", ErrUnknownKind
	}
	ok, err := rt.access.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return "", fmt.Errorf("router: membership check %s: %w", projectID, err)
	}
	if !ok {
		return "", ErrAccessDenied
	}
	return ProjectRoom(projectID), nil
}
