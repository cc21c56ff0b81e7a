package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/internal/relay"
)

type Handler struct {
	config  *config.Config
	manager *relay.Manager
	log     zerolog.Logger
}

type updateRequest struct {
	AppName     string `json:"appName"`
	PackageName string `json:"packageName"`
	DisplayName string `json:"displayName"`
	ClientID    string `json:"clientId"`
}

func NewHandler(cfg *config.Config, manager *relay.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		config:  cfg,
		manager: manager,
		log:     logger.With().Str("component", "relay-handler").Logger(),
	}
}

func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/update-presence", h.handleUpdatePresence)
	mux.HandleFunc("/clear-presence", h.handleClearPresence)
	mux.HandleFunc("/test-presence", h.handleTestPresence)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var clientID interface{}
	if id := h.manager.CurrentClientID(); id != "" {
		clientID = id
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"discordConnected": h.manager.Connected(),
		"currentClientId":  clientID,
		"ip":               h.config.Relay.Host,
		"port":             h.config.Relay.Port,
	})
}

func (h *Handler) handleUpdatePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "invalid JSON body",
		})
		return
	}

	// An unknown foreground state clears whatever is showing instead of
	// publishing a bogus update.
	if req.DisplayName == "" || req.DisplayName == "null" ||
		req.PackageName == "unknown" || req.PackageName == "null" {
		if err := h.manager.ClearActivity(r.Context()); err != nil && err != relay.ErrNotConnected {
			h.log.Warn().Err(err).Msg("clear on unknown state failed")
		}
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Cleared activity",
		})
		return
	}

	// Every application must carry its own identity credential; there
	// is no fallback identity.
	if req.ClientID == "" {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "CLIENT_ID required for this application",
		})
		return
	}

	if err := h.manager.EnsureSession(r.Context(), req.ClientID); err != nil {
		h.log.Warn().Err(err).Str("client_id", req.ClientID).Msg("session setup failed")
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": fmt.Sprintf("presence session unavailable: %v", err),
		})
		return
	}

	if err := h.manager.SetActivity(r.Context(), req.DisplayName, time.Now().Unix()); err != nil {
		h.log.Error().Err(err).Str("app", req.DisplayName).Msg("set activity failed")
		h.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": fmt.Sprintf("failed to set activity: %v", err),
		})
		return
	}

	h.log.Debug().Str("app", req.DisplayName).Str("package", req.PackageName).Msg("presence updated")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Presence updated",
	})
}

func (h *Handler) handleClearPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.manager.EverConnected() {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "never connected to the presence service",
		})
		return
	}

	if err := h.manager.ClearActivity(r.Context()); err != nil && err != relay.ErrNotConnected {
		h.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": fmt.Sprintf("failed to clear activity: %v", err),
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Cleared activity",
	})
}

func (h *Handler) handleTestPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.manager.Connected() {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "not connected to the presence service",
		})
		return
	}

	if err := h.manager.SetActivity(r.Context(), "Connection test successful", time.Now().Unix()); err != nil {
		h.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": fmt.Sprintf("failed to set test activity: %v", err),
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Test presence set",
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out; nothing left to do but log.
		h.log.Error().Err(err).Msg("error encoding JSON response")
	}
}
