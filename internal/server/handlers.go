package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/broadcast"
	"github.com/dgnsrekt/schedule-live/internal/data"
	"github.com/dgnsrekt/schedule-live/internal/live"
)

const maxMutationBody = 1 << 20

type Server struct {
	registry    *live.Registry
	broadcaster *broadcast.Broadcaster
	source      data.SnapshotSource
	reloader    *ReloadManager
	clock       clockwork.Clock
	loc         *time.Location
	dataMode    string
	logger      *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status      string `json:"status"`
	DataMode    string `json:"dataMode"`
	Connections int    `json:"connections"`
	Tenants     int    `json:"tenants"`
}

// MutationRequest is the body of POST /api/v1/tenants/{tenantId}/mutations.
type MutationRequest struct {
	Kind     string          `json:"kind"`
	EntityID string          `json:"entityId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type mutationResponse struct {
	Accepted bool   `json:"accepted"`
	Kind     string `json:"kind"`
	TenantID string `json:"tenantId"`
	EntityID string `json:"entityId"`
}

type reloadResponse struct {
	Status           string    `json:"status"`
	Tenants          int       `json:"tenants"`
	LoadedAt         time.Time `json:"loadedAt"`
	PreviousLoadedAt time.Time `json:"previousLoadedAt"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		DataMode:    s.dataMode,
		Connections: stats.TotalConnections,
		Tenants:     stats.TotalTenants,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleSnapshot serves the same payload a live client receives on connect.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = data.Today(s.clock.Now(), s.loc)
	}

	snap, err := s.source.Snapshot(r.Context(), tenantID, date)
	if err != nil {
		if errors.Is(err, data.ErrInvalidDate) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Warn("snapshot fetch failed",
			zap.String("tenantId", tenantID),
			zap.String("date", date),
			zap.Error(err),
		)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "snapshot unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleMutation lets mutation sources outside this process reach the
// broadcaster.
func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req MutationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxMutationBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "entityId is required"})
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	if err := s.broadcaster.Emit(req.Kind, tenantID, req.EntityID, payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, mutationResponse{
		Accepted: true,
		Kind:     req.Kind,
		TenantID: tenantID,
		EntityID: req.EntityID,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	result, err := s.reloader.Reload(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrReloadInProgress) {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, reloadResponse{
		Status:           "reloaded",
		Tenants:          result.Tenants,
		LoadedAt:         result.LoadedAt,
		PreviousLoadedAt: result.PreviousLoadedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
