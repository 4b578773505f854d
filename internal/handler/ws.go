package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/projecthub/internal/auth"
	"github.com/projecthub/internal/gateway"
	"github.com/projecthub/internal/logger"
)

// WSHandler runs the connection handshake: bearer-token verification for
// ordinary users, or the fixed shared secret for the privileged relay.
type WSHandler struct {
	hub            *gateway.Hub
	verifier       *auth.Verifier
	relaySecret    string
	allowedOrigins string
}

func NewWSHandler(hub *gateway.Hub, verifier *auth.Verifier, relaySecret, allowedOrigins string) *WSHandler {
	return &WSHandler{
		hub:            hub,
		verifier:       verifier,
		relaySecret:    relaySecret,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// token pulls the bearer token from the Authorization header or, for browser
// WebSocket handshakes that cannot set headers, from the query string.
func token(r *http.Request) string {
	if hdr := r.Header.Get("Authorization"); strings.HasPrefix(hdr, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(hdr, "Bearer "))
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return r.URL.Query().Get("auth.token")
}

// isServerClient reports whether the handshake claims to be the relay.
func isServerClient(r *http.Request) bool {
	return r.Header.Get("X-Server-Client") == "true" || r.URL.Query().Get("serverClient") == "true"
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var (
		userID     string
		privileged bool
	)
	presented := token(r)
	if isServerClient(r) {
		// Privileged relay: fixed shared secret, no user-identity check,
		// excluded from presence.
		if !auth.VerifyRelaySecret(h.relaySecret, presented) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		privileged = true
		userID = "relay"
	} else {
		identity, err := h.verifier.Verify(presented)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = identity.UserID
		if identity.Anonymous {
			logger.Infof("ws accepting anonymous connection user=%s (permissive-dev)", userID)
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := gateway.NewClient(h.hub, conn, userID, uuid.New().String(), privileged)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
