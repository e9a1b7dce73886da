package gateway

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for relay clients
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          TokenVerifier
}

// NewWebSocketHandler creates a new WebSocket handler. A nil verifier admits
// every client with an unrestricted grant.
func NewWebSocketHandler(cm *ConnectionManager, verifier TokenVerifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
	}
}

// HandleConnection authenticates the client and upgrades the connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	grant, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, grant); err != nil {
		// The upgrader has already written an HTTP error response.
		log.Error().
			Err(err).
			Str("client_id", grant.ClientID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

func (h *WebSocketHandler) authenticate(w http.ResponseWriter, r *http.Request) (Grant, bool) {
	if h.verifier == nil {
		clientID := r.URL.Query().Get("client_id")
		if clientID == "" {
			// For development, allow anonymous connections
			clientID = "anonymous-" + uuid.New().String()[:8]
		}
		return Grant{ClientID: clientID}, true
	}

	token := bearerToken(r)
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return Grant{}, false
	}

	grant, err := h.verifier.VerifyToken(token)
	if err != nil {
		log.Warn().Err(err).Msg("rejected WebSocket connection")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return Grant{}, false
	}
	return grant, true
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
}
