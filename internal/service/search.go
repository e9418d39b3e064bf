package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

// Suggestion limits.
const (
	MinSuggestPrefix    = 2
	DefaultSuggestLimit = 10
	MaxSuggestLimit     = 50
)

// SearchService implements the read path over the search index.
type SearchService struct {
	engine engine.Engine
	logger *slog.Logger
}

// NewSearchService creates a new search service.
func NewSearchService(eng engine.Engine, logger *slog.Logger) *SearchService {
	return &SearchService{
		engine: eng,
		logger: logger,
	}
}

// Search executes a structured search. Backend failures propagate.
func (s *SearchService) Search(ctx context.Context, req *domain.SearchRequest, page domain.Page) (*domain.SearchResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	page, err := checkPage(page)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.engine.Search(ctx, req, page)
	observeQuery("search", start, err)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	s.logger.DebugContext(ctx, "search executed",
		slog.String("keyword", req.Keyword),
		slog.Int64("total", result.Total),
		slog.Int64("took_ms", result.TookMs),
	)
	return result, nil
}

// SearchIDs returns the ids of one page of matches, for callers that filter
// by search without needing documents.
func (s *SearchService) SearchIDs(ctx context.Context, req *domain.SearchRequest, page domain.Page) ([]string, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	page, err := checkPage(page)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ids, err := s.engine.SearchIDs(ctx, req, page)
	observeQuery("search_ids", start, err)
	if err != nil {
		return nil, fmt.Errorf("search ids: %w", err)
	}
	return ids, nil
}

// checkPage normalizes page and rejects pages past the result window.
func checkPage(page domain.Page) (domain.Page, error) {
	page = page.Normalize()
	if page.ExceedsWindow(domain.MaxResultWindow) {
		return domain.Page{}, apperrors.InvalidInput(fmt.Sprintf(
			"page exceeds the result window of %d hits", domain.MaxResultWindow))
	}
	return page, nil
}

// Suggest returns autocomplete names for a prefix. Prefixes shorter than
// MinSuggestPrefix runes return an empty list without querying the index,
// and query failures degrade to an empty list.
func (s *SearchService) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if utf8.RuneCountInString(prefix) < MinSuggestPrefix {
		return []string{}, nil
	}

	switch {
	case limit <= 0:
		limit = DefaultSuggestLimit
	case limit > MaxSuggestLimit:
		limit = MaxSuggestLimit
	}

	start := time.Now()
	names, err := s.engine.Suggest(ctx, prefix, limit)
	observeQuery("suggest", start, err)
	if err != nil {
		s.logger.WarnContext(ctx, "suggest failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		return []string{}, nil
	}
	if names == nil {
		names = []string{}
	}
	if len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

// validateRequest rejects requests the index cannot answer meaningfully.
func validateRequest(req *domain.SearchRequest) error {
	if req == nil {
		return apperrors.InvalidInput("search request is required")
	}
	if !domain.IsValidSort(req.SortBy) {
		return apperrors.InvalidInput(fmt.Sprintf("invalid sort_by %q, expected one of %s",
			req.SortBy, strings.Join(domain.ValidSortOptions(), ", ")))
	}
	if d := req.SortDirection; d != "" && d != domain.SortAsc && d != domain.SortDesc {
		return apperrors.InvalidInput(fmt.Sprintf("invalid sort_direction %q", d))
	}
	if req.PriceFrom != nil && req.PriceTo != nil && *req.PriceFrom > *req.PriceTo {
		return apperrors.InvalidInput("price_from must not exceed price_to")
	}
	if req.MinRating != nil && (*req.MinRating < 0 || *req.MinRating > 5) {
		return apperrors.InvalidInput("min_rating must be between 0 and 5")
	}
	for _, af := range req.AttributeFilters {
		if af.AttributeID == "" {
			return apperrors.InvalidInput("attribute filter requires attribute_id")
		}
	}
	return nil
}

func observeQuery(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	queryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
