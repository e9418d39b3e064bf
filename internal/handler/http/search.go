package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/service"
	"github.com/utafrali/catalogsearch/pkg/httputil"
	"github.com/utafrali/catalogsearch/pkg/validator"
)

// SearchHandler handles the read endpoints of the search API.
type SearchHandler struct {
	service *service.SearchService
	logger  *slog.Logger
}

// NewSearchHandler creates a new search HTTP handler.
func NewSearchHandler(svc *service.SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		service: svc,
		logger:  logger,
	}
}

// SearchBody is the JSON request body of POST /api/v1/search.
type SearchBody struct {
	domain.SearchRequest
	Page int `json:"page" validate:"gte=0"`
	Size int `json:"size" validate:"gte=0,lte=100"`
}

// Search handles GET /api/v1/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	req, page, err := parseSearchQuery(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.search(w, r, req, page)
}

// SearchJSON handles POST /api/v1/search
func (h *SearchHandler) SearchJSON(w http.ResponseWriter, r *http.Request) {
	var body SearchBody
	if err := validator.DecodeAndValidate(r, &body); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	h.search(w, r, &body.SearchRequest, domain.Page{Number: body.Page, Size: body.Size})
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request, req *domain.SearchRequest, page domain.Page) {
	result, err := h.service.Search(r.Context(), req, page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// SearchIDs handles GET /api/v1/search/ids
func (h *SearchHandler) SearchIDs(w http.ResponseWriter, r *http.Request) {
	req, page, err := parseSearchQuery(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	ids, err := h.service.SearchIDs(r.Context(), req, page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{"ids": ids}})
}

// Suggest handles GET /api/v1/search/suggest
func (h *SearchHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", service.DefaultSuggestLimit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	suggestions, err := h.service.Suggest(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{"suggestions": suggestions}})
}
