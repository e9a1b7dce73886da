package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

// ServerPublishName is the event name of messages published through POST /publish.
const ServerPublishName = "update-from-server"

// PublishRequest is the body of POST /publish. Either Text or Data is required;
// Text is wrapped as {"text": ...}.
type PublishRequest struct {
	Channel string          `json:"channel" validate:"omitempty,max=255"`
	Name    string          `json:"name" validate:"omitempty,max=255"`
	Text    string          `json:"text" validate:"required_without=Data,max=4096"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PublishResponse is returned once a message has been accepted.
type PublishResponse struct {
	Channel string `json:"channel"`
	Name    string `json:"name"`
}

// TokenRequest is the optional body of POST /token.
type TokenRequest struct {
	ClientID string `json:"client_id" validate:"omitempty,max=128"`
}

// TokenResponse carries an issued capability token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PublishHandler exposes the server-side publish entry point and token
// issuance over HTTP.
type PublishHandler struct {
	bus            *pubsub.Bus
	issuer         pubsub.TokenIssuer
	validate       *validator.Validate
	defaultChannel string
}

// NewPublishHandler creates a handler that publishes to defaultChannel when a
// request does not name one. issuer may be nil.
func NewPublishHandler(bus *pubsub.Bus, issuer pubsub.TokenIssuer, defaultChannel string) *PublishHandler {
	return &PublishHandler{
		bus:            bus,
		issuer:         issuer,
		validate:       validator.New(),
		defaultChannel: defaultChannel,
	}
}

// HandlePublish handles POST /publish
func (h *PublishHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	channel, name, payload, err := h.resolve(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.bus.AcceptExternalPublish(r.Context(), channel, name, payload); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pubsub.ErrTransportUnavailable) {
			status = http.StatusServiceUnavailable
		}
		log.Error().Err(err).Str("channel", channel).Msg("external publish failed")
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusAccepted, PublishResponse{Channel: channel, Name: name})
}

func (h *PublishHandler) resolve(req PublishRequest) (string, string, json.RawMessage, error) {
	channel := req.Channel
	if channel == "" {
		channel = h.defaultChannel
	}
	name := req.Name
	if name == "" {
		name = ServerPublishName
	}

	payload := req.Data
	if len(payload) == 0 || string(payload) == "null" {
		var err error
		payload, err = json.Marshal(pubsub.StatusPayload{Text: req.Text})
		if err != nil {
			return "", "", nil, err
		}
	}
	return channel, name, payload, nil
}

// HandleToken handles POST /token
func (h *PublishHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.issuer == nil {
		http.Error(w, "token issuance is not configured", http.StatusNotImplemented)
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	token, expiresAt, err := h.issuer.IssueToken(ctx, req.ClientID)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue token")
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// RegisterRoutes registers the publish and token routes with an HTTP mux
func (h *PublishHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/publish", h.HandlePublish)
	mux.HandleFunc("/token", h.HandleToken)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
