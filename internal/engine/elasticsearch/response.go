package elasticsearch

import (
	"context"
	"fmt"
	"math"

	"github.com/utafrali/catalogsearch/internal/domain"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

const maxResultWindow = domain.MaxResultWindow

// searchResponse is the structure used to decode Elasticsearch search responses.
type searchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
	Aggregations *aggregations `json:"aggregations"`
}

type searchHit struct {
	ID        string                 `json:"_id"`
	Score     *float64               `json:"_score"`
	Source    domain.ProductDocument `json:"_source"`
	Highlight map[string][]string    `json:"highlight"`
}

type termsResult struct {
	Buckets []struct {
		Key      string `json:"key"`
		DocCount int64  `json:"doc_count"`
	} `json:"buckets"`
}

type aggregations struct {
	Categories termsResult `json:"categories"`
	Brands     termsResult `json:"brands"`
	Stores     termsResult `json:"stores"`
	PriceStats struct {
		Count int64    `json:"count"`
		Min   *float64 `json:"min"`
		Max   *float64 `json:"max"`
		Avg   *float64 `json:"avg"`
	} `json:"price_stats"`
	PriceRanges struct {
		Buckets []struct {
			Key      string   `json:"key"`
			From     *float64 `json:"from"`
			To       *float64 `json:"to"`
			DocCount int64    `json:"doc_count"`
		} `json:"buckets"`
	} `json:"price_ranges"`
	AvgRating struct {
		Value *float64 `json:"value"`
	} `json:"avg_rating"`
	Attributes struct {
		Names struct {
			Buckets []struct {
				Key      string      `json:"key"`
				DocCount int64       `json:"doc_count"`
				Values   termsResult `json:"values"`
			} `json:"buckets"`
		} `json:"names"`
	} `json:"attributes"`
}

// Search executes a structured search and assembles ranked hits, totals and
// facets. Failures propagate; there is no degraded search response.
func (e *Engine) Search(ctx context.Context, req *domain.SearchRequest, page domain.Page) (*domain.SearchResult, error) {
	page = page.Normalize()
	if page.ExceedsWindow(maxResultWindow) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("page exceeds the result window of %d hits", maxResultWindow))
	}

	body := BuildQuery(req)
	body["from"] = page.Offset()
	body["size"] = page.Size
	body["track_total_hits"] = true

	esResp, err := e.search(ctx, "search", body)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.Hit, 0, len(esResp.Hits.Hits))
	for i := range esResp.Hits.Hits {
		h := &esResp.Hits.Hits[i]
		id := h.ID
		if id == "" {
			id = h.Source.ID
		}
		hits = append(hits, domain.Hit{
			ID:         id,
			Score:      normalizeScore(h.Score),
			Product:    h.Source.Summary(),
			Highlights: h.Highlight,
		})
	}

	result := &domain.SearchResult{
		Hits:       hits,
		Total:      esResp.Hits.Total.Value,
		TotalPages: domain.TotalPages(esResp.Hits.Total.Value, page.Size),
		Page:       page.Number,
		Size:       page.Size,
		TookMs:     esResp.Took,
	}
	if req != nil && req.EnableAggregation && esResp.Aggregations != nil {
		result.Facets = esResp.Aggregations.facets()
	}
	return result, nil
}

// SearchIDs runs the same filters and ordering as Search but fetches no
// document sources.
func (e *Engine) SearchIDs(ctx context.Context, req *domain.SearchRequest, page domain.Page) ([]string, error) {
	page = page.Normalize()
	if page.ExceedsWindow(maxResultWindow) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("page exceeds the result window of %d hits", maxResultWindow))
	}

	var idsOnly domain.SearchRequest
	if req != nil {
		idsOnly = *req
	}
	idsOnly.EnableHighlight = false
	idsOnly.EnableAggregation = false

	body := BuildQuery(&idsOnly)
	body["from"] = page.Offset()
	body["size"] = page.Size
	body["_source"] = false

	esResp, err := e.search(ctx, "search ids", body)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(esResp.Hits.Hits))
	for _, h := range esResp.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// normalizeScore maps a missing or NaN score to nil.
func normalizeScore(score *float64) *float64 {
	if score == nil || math.IsNaN(*score) {
		return nil
	}
	v := *score
	return &v
}

func (a *aggregations) facets() *domain.Facets {
	f := &domain.Facets{
		Categories:    a.Categories.buckets(),
		Brands:        a.Brands.buckets(),
		Stores:        a.Stores.buckets(),
		PriceRanges:   make([]domain.RangeBucket, 0, len(a.PriceRanges.Buckets)),
		AverageRating: a.AvgRating.Value,
		Attributes:    make([]domain.AttributeFacet, 0, len(a.Attributes.Names.Buckets)),
	}

	// Stats report null min/max/avg when nothing matched.
	if a.PriceStats.Count > 0 {
		f.Price = domain.PriceStats{Min: a.PriceStats.Min, Max: a.PriceStats.Max, Avg: a.PriceStats.Avg}
	}

	for _, b := range a.PriceRanges.Buckets {
		f.PriceRanges = append(f.PriceRanges, domain.RangeBucket{
			Key:   b.Key,
			From:  b.From,
			To:    b.To,
			Count: b.DocCount,
		})
	}

	for _, b := range a.Attributes.Names.Buckets {
		f.Attributes = append(f.Attributes, domain.AttributeFacet{
			Name:   b.Key,
			Count:  b.DocCount,
			Values: b.Values.buckets(),
		})
	}
	return f
}

func (t termsResult) buckets() []domain.Bucket {
	out := make([]domain.Bucket, 0, len(t.Buckets))
	for _, b := range t.Buckets {
		out = append(out, domain.Bucket{Key: b.Key, Count: b.DocCount})
	}
	return out
}
