package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tunedeck/tunedeck/credentials"
	"github.com/tunedeck/tunedeck/engine"
	"github.com/tunedeck/tunedeck/errors"
	"github.com/tunedeck/tunedeck/models"
)

const (
	// UserIDHeader carries the caller identity set by the fronting
	// auth layer.
	UserIDHeader = "X-User-ID"

	MaxUserIDLength       = 100
	MaxPlaylistNameLength = 200
	MaxTrackURIs          = 500
)

// Handler serves the dashboard's playlist API.
type Handler struct {
	logger *logrus.Logger
	engine *engine.Engine
	creds  *credentials.Manager
}

func New(logger *logrus.Logger, eng *engine.Engine, creds *credentials.Manager) *Handler {
	return &Handler{
		logger: logger,
		engine: eng,
		creds:  creds,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if code := errors.GetErrorCode(err); code != "" {
		resp.Code = code
	}
	h.writeJSON(w, status, resp)
}

// userID extracts and validates the caller identity. An empty or
// oversized id gets a 401 and returns "".
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if id == "" || len(id) > MaxUserIDLength {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid user identity", nil)
		return ""
	}
	return id
}

// handleFailure maps engine errors onto HTTP statuses: unlinked
// accounts are 401, validation problems 400, everything else 500.
func (h *Handler) handleFailure(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.IsNotConnected(err):
		h.writeError(w, http.StatusUnauthorized, "streaming account not connected", err)
	case errors.IsCategory(err, errors.CategoryValidation):
		h.writeError(w, http.StatusBadRequest, err.Error(), err)
	default:
		h.logger.WithError(err).WithField("userId", sanitizeUserID(userID)).Error("Request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// GetSuggestions handles GET /api/me/playlists/suggestions.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	force := strings.EqualFold(r.URL.Query().Get("force"), "true")
	result, err := h.engine.GetSuggestions(r.Context(), userID, force)
	if err != nil {
		h.handleFailure(w, userID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Regenerate handles POST /api/me/playlists/regenerate.
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	result, err := h.engine.Regenerate(r.Context(), userID)
	if err != nil {
		h.handleFailure(w, userID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type preferencesResponse struct {
	Preferences     models.Preferences `json:"preferences"`
	AvailableGenres []string           `json:"availableGenres"`
}

// GetPreferences handles GET /api/me/playlists/preferences.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	prefs, available, err := h.engine.GetPreferences(r.Context(), userID)
	if err != nil {
		h.handleFailure(w, userID, err)
		return
	}
	if available == nil {
		available = []string{}
	}
	h.writeJSON(w, http.StatusOK, preferencesResponse{Preferences: prefs, AvailableGenres: available})
}

// PutPreferences handles PUT /api/me/playlists/preferences.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	var update models.PreferencesUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body", errors.ErrInvalidInput)
		return
	}

	prefs, err := h.engine.SetPreferences(r.Context(), userID, update)
	if err != nil {
		h.handleFailure(w, userID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"preferences": prefs,
		"message":     "Preferences saved",
	})
}

// AvailableGenres handles GET /api/me/playlists/genres.
func (h *Handler) AvailableGenres(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	genres, err := h.engine.AvailableGenres(r.Context(), userID)
	if err != nil {
		h.handleFailure(w, userID, err)
		return
	}
	if genres == nil {
		genres = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"genres": genres,
		"count":  len(genres),
	})
}

type savePlaylistRequest struct {
	PlaylistName string   `json:"playlistName"`
	Description  string   `json:"description"`
	TrackURIs    []string `json:"trackUris"`
}

// SavePlaylist handles POST /api/me/playlists/save.
func (h *Handler) SavePlaylist(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	var req savePlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body", errors.ErrInvalidInput)
		return
	}

	req.PlaylistName = strings.TrimSpace(req.PlaylistName)
	if req.PlaylistName == "" || len(req.PlaylistName) > MaxPlaylistNameLength {
		h.writeError(w, http.StatusBadRequest, "playlistName is required", errors.ErrMissingParameter)
		return
	}
	if len(req.TrackURIs) == 0 || len(req.TrackURIs) > MaxTrackURIs {
		h.writeError(w, http.StatusBadRequest, "trackUris must be a non-empty list", errors.ErrInvalidInput)
		return
	}

	playlistID, playlistURL, err := h.engine.SavePlaylist(r.Context(), userID, req.PlaylistName, strings.TrimSpace(req.Description), req.TrackURIs)
	if err != nil {
		h.handleFailure(w, userID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{
		"message":     "Playlist created successfully",
		"playlistId":  playlistID,
		"playlistUrl": playlistURL,
	})
}

type linkAccountRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LinkAccount handles POST /api/me/account/link.
func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	var req linkAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body", errors.ErrInvalidInput)
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, http.StatusBadRequest, "refreshToken is required", errors.ErrMissingParameter)
		return
	}

	if err := h.creds.Link(userID, req.RefreshToken); err != nil {
		h.handleFailure(w, userID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Account linked"})
}

// UnlinkAccount handles DELETE /api/me/account.
func (h *Handler) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(w, r)
	if userID == "" {
		return
	}

	if err := h.creds.Unlink(userID); err != nil {
		h.handleFailure(w, userID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Account unlinked"})
}

// RunRefresh handles POST /api/jobs/refresh, triggering the same batch
// the scheduled ticker runs. Partial failure reports 207.
func (h *Handler) RunRefresh(w http.ResponseWriter, r *http.Request) {
	summary := h.engine.RunScheduledRefresh(r.Context())

	status := http.StatusOK
	if len(summary.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	h.writeJSON(w, status, summary)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sanitizeUserID strips control characters and truncates so logged ids
// cannot break log lines.
func sanitizeUserID(userID string) string {
	if len(userID) > MaxUserIDLength {
		userID = userID[:MaxUserIDLength]
	}
	var b strings.Builder
	for _, r := range userID {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
