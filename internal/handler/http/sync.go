package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/catalogsearch/internal/service"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/httputil"
	"github.com/utafrali/catalogsearch/pkg/middleware"
	"github.com/utafrali/catalogsearch/pkg/validator"
)

// SyncHandler handles index maintenance endpoints.
type SyncHandler struct {
	service *service.SyncService
	logger  *slog.Logger
}

// NewSyncHandler creates a new sync HTTP handler.
func NewSyncHandler(svc *service.SyncService, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		service: svc,
		logger:  logger,
	}
}

// IndexManyRequest is the JSON request body for batch indexing.
type IndexManyRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,required"`
}

// IndexOne handles POST /api/v1/search/index/{id}
func (h *SyncHandler) IndexOne(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := h.service.IndexOne(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"id": id, "status": "synced"}})
}

// IndexMany handles POST /api/v1/search/index
func (h *SyncHandler) IndexMany(w http.ResponseWriter, r *http.Request) {
	var req IndexManyRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.IndexManyAsync(r.Context(), req.IDs); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: map[string]any{"accepted": len(req.IDs), "status": "queued"}})
}

// Delete handles DELETE /api/v1/search/{id}
func (h *SyncHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := h.service.Remove(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"id": id, "status": "deleted"}})
}

// Reindex handles POST /api/v1/search/reindex. The full sync runs on the
// task pool; progress is reported by GET /sync/stats.
func (h *SyncHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	started, err := h.service.ReindexAll(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if !started {
		httputil.WriteError(w, r, service.ErrSyncInProgress, h.logger)
		return
	}
	h.logger.InfoContext(r.Context(), "full reindex requested",
		slog.String("operator", middleware.SubjectFromContext(r.Context())),
	)
	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: map[string]string{"status": "reindex started"}})
}

// CancelReindex handles DELETE /api/v1/search/reindex
func (h *SyncHandler) CancelReindex(w http.ResponseWriter, r *http.Request) {
	if !h.service.CancelFullSync(r.Context()) {
		httputil.WriteError(w, r, apperrors.Conflict("no full sync is running"), h.logger)
		return
	}
	h.logger.InfoContext(r.Context(), "full reindex cancel requested",
		slog.String("operator", middleware.SubjectFromContext(r.Context())),
	)
	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: map[string]string{"status": "cancel requested"}})
}

// Stats handles GET /api/v1/search/sync/stats
func (h *SyncHandler) Stats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.service.Stats(r.Context())})
}

// Health handles GET /api/v1/search/health
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthy := h.service.IsHealthy(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: map[string]bool{"healthy": healthy}})
}
