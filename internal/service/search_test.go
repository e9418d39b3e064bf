package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsearch/internal/domain"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

func strPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64 { return &n }
func float64Ptr(f float64) *float64 { return &f }

func newSearchFixture(t *testing.T, docs ...domain.ProductDocument) (*SearchService, *spyEngine) {
	t.Helper()
	eng := newSpyEngine()
	require.NoError(t, eng.BulkIndex(context.Background(), docs))
	return NewSearchService(eng, newTestLogger()), eng
}

func doc(id, name string) domain.ProductDocument {
	return domain.ProductDocument{ID: id, Name: name, IsActive: true, CategoryID: "c1", MinPrice: 100}
}

func TestSearchService_Search(t *testing.T) {
	svc, _ := newSearchFixture(t, doc("p1", "Wireless Mouse"), doc("p2", "Keyboard"))

	result, err := svc.Search(context.Background(), &domain.SearchRequest{Keyword: "mouse"}, domain.Page{Size: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Total)
	assert.Equal(t, "p1", result.Hits[0].ID)
	assert.Equal(t, domain.MaxPageSize, result.Size, "page size is clamped")
}

func TestSearchService_SearchIDs(t *testing.T) {
	svc, _ := newSearchFixture(t, doc("p1", "Mouse"), doc("p2", "Mouse Pad"))

	ids, err := svc.SearchIDs(context.Background(), &domain.SearchRequest{Keyword: "mouse"}, domain.Page{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)
}

func TestSearchService_BackendFailurePropagates(t *testing.T) {
	svc, eng := newSearchFixture(t)
	eng.searchErr = apperrors.Unavailable("search backend is unavailable", nil)

	_, err := svc.Search(context.Background(), &domain.SearchRequest{Keyword: "x"}, domain.Page{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)

	_, err = svc.SearchIDs(context.Background(), &domain.SearchRequest{}, domain.Page{})
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

func TestSearchService_ValidatesRequest(t *testing.T) {
	tests := []struct {
		name string
		req  *domain.SearchRequest
	}{
		{name: "nil request", req: nil},
		{name: "unknown sort", req: &domain.SearchRequest{SortBy: "cheapest"}},
		{name: "bad direction", req: &domain.SearchRequest{SortBy: domain.SortPrice, SortDirection: "up"}},
		{name: "inverted price range", req: &domain.SearchRequest{PriceFrom: int64Ptr(500), PriceTo: int64Ptr(100)}},
		{name: "rating out of range", req: &domain.SearchRequest{MinRating: float64Ptr(7)}},
		{name: "attribute filter without id", req: &domain.SearchRequest{
			AttributeFilters: []domain.AttributeFilter{{Values: []string{"red"}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, eng := newSearchFixture(t)
			_, err := svc.Search(context.Background(), tt.req, domain.Page{})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Zero(t, eng.searchCalls, "invalid requests never reach the index")
		})
	}
}

func TestSearchService_RejectsPagesPastResultWindow(t *testing.T) {
	tests := []struct {
		name string
		page domain.Page
	}{
		{name: "first page past the window", page: domain.Page{Number: 2000, Size: 5}},
		{name: "offset would overflow", page: domain.Page{Number: 2305843009213693952, Size: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, eng := newSearchFixture(t, doc("p1", "Mouse"))

			_, err := svc.Search(context.Background(), &domain.SearchRequest{}, tt.page)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

			_, err = svc.SearchIDs(context.Background(), &domain.SearchRequest{}, tt.page)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Zero(t, eng.searchCalls)
		})
	}

	svc, _ := newSearchFixture(t, doc("p1", "Mouse"))
	_, err := svc.Search(context.Background(), &domain.SearchRequest{}, domain.Page{Number: 1999, Size: 5})
	assert.NoError(t, err, "the last page inside the window is served")
}

func TestSearchService_AcceptsValidEdgeValues(t *testing.T) {
	svc, _ := newSearchFixture(t, doc("p1", "Mouse"))

	_, err := svc.Search(context.Background(), &domain.SearchRequest{
		CategoryID:    strPtr("c1"),
		PriceFrom:     int64Ptr(100),
		PriceTo:       int64Ptr(100),
		MinRating:     float64Ptr(0),
		SortBy:        domain.SortRelevance,
		SortDirection: domain.SortAsc,
	}, domain.Page{})
	assert.NoError(t, err)
}

func TestSearchService_SuggestShortCircuit(t *testing.T) {
	svc, eng := newSearchFixture(t, doc("p1", "Apple"))

	for _, prefix := range []string{"", "a", " a ", "ş"} {
		names, err := svc.Suggest(context.Background(), prefix, 10)
		require.NoError(t, err)
		assert.NotNil(t, names)
		assert.Empty(t, names)
	}
	assert.Zero(t, eng.suggestCalls, "short prefixes never reach the index")
}

func TestSearchService_SuggestCountsRunes(t *testing.T) {
	svc, eng := newSearchFixture(t, doc("p1", "Şeker"))

	names, err := svc.Suggest(context.Background(), "şe", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, eng.suggestCalls)
	assert.Equal(t, []string{"Şeker"}, names)
}

func TestSearchService_SuggestLimits(t *testing.T) {
	docs := make([]domain.ProductDocument, 0, 60)
	for i := 0; i < 60; i++ {
		docs = append(docs, doc(fmt.Sprintf("p%02d", i), fmt.Sprintf("Phone model %02d", i)))
	}
	svc, _ := newSearchFixture(t, docs...)

	names, err := svc.Suggest(context.Background(), "phone", 0)
	require.NoError(t, err)
	assert.Len(t, names, DefaultSuggestLimit)

	names, err = svc.Suggest(context.Background(), "phone", 1000)
	require.NoError(t, err)
	assert.Len(t, names, MaxSuggestLimit)
}

func TestSearchService_SuggestFailureDegrades(t *testing.T) {
	svc, eng := newSearchFixture(t, doc("p1", "Apple"))
	eng.suggestErr = apperrors.Unavailable("down", nil)

	names, err := svc.Suggest(context.Background(), "app", 5)
	require.NoError(t, err)
	assert.NotNil(t, names)
	assert.Empty(t, names)
}
