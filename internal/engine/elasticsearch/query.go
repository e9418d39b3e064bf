package elasticsearch

import (
	"github.com/utafrali/catalogsearch/internal/domain"
)

// keywordFields are the weighted text fields a keyword is matched against.
var keywordFields = []string{
	"name^5",
	"name.autocomplete^3",
	"short_description^2",
	"description",
	"brand_name^2",
	"category_name^2",
	"spec_text",
	"variants.metadata_text",
	"variants.name",
	"selection_options.label",
	"selection_options.value",
}

// suggestFields favor prefix recall on the name.
var suggestFields = []string{
	"name.autocomplete^3",
	"name^2",
	"brand_name",
	"category_name",
}

// Fuzzy matching parameters.
const (
	fuzzyPrefixLength       = 2
	fuzzyMinimumShouldMatch = "75%"
)

// BuildQuery translates a search request into the Elasticsearch query DSL:
// the scoring query, filters, sort, and optionally highlighting and
// aggregations. Pagination is added by the caller.
func BuildQuery(req *domain.SearchRequest) map[string]any {
	if req == nil {
		req = &domain.SearchRequest{}
	}

	boolQuery := map[string]any{
		"must":   []any{keywordClause(req)},
		"filter": buildFilters(req),
	}

	body := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"sort":  buildSort(req.SortBy, req.SortDirection),
	}

	if req.EnableHighlight {
		body["highlight"] = map[string]any{
			"pre_tags":  []string{"<em>"},
			"post_tags": []string{"</em>"},
			"fields": map[string]any{
				"name":        map[string]any{"number_of_fragments": 0},
				"description": map[string]any{"fragment_size": 150, "number_of_fragments": 3},
			},
		}
	}

	if req.EnableAggregation {
		body["aggs"] = buildAggregations()
	}

	return body
}

func keywordClause(req *domain.SearchRequest) map[string]any {
	if req.Keyword == "" {
		return map[string]any{"match_all": map[string]any{}}
	}

	match := map[string]any{
		"query":  req.Keyword,
		"fields": keywordFields,
		"type":   "best_fields",
	}
	if req.EnableFuzzy {
		match["fuzziness"] = "AUTO"
		match["prefix_length"] = fuzzyPrefixLength
		match["minimum_should_match"] = fuzzyMinimumShouldMatch
	}
	return map[string]any{"multi_match": match}
}

// buildFilters returns the non-scoring clauses. The deleted filter is always
// present; the active filter is lifted only by an explicit IsActive=false.
func buildFilters(req *domain.SearchRequest) []any {
	filters := make([]any, 0, 8)

	categoryField := "category_id"
	if req.IncludeSubcategories {
		categoryField = "category_path"
	}
	filters = appendIDFilter(filters, categoryField, req.CategoryID, req.CategoryIDs)
	filters = appendIDFilter(filters, "store_id", req.StoreID, req.StoreIDs)
	filters = appendIDFilter(filters, "brand_id", req.BrandID, req.BrandIDs)

	if req.PriceFrom != nil || req.PriceTo != nil {
		bounds := map[string]any{}
		if req.PriceFrom != nil {
			bounds["gte"] = *req.PriceFrom
		}
		if req.PriceTo != nil {
			bounds["lte"] = *req.PriceTo
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"min_price": bounds},
		})
	}

	if req.MinRating != nil {
		filters = append(filters, map[string]any{
			"range": map[string]any{"average_rating": map[string]any{"gte": *req.MinRating}},
		})
	}

	if req.IsActive == nil || *req.IsActive {
		filters = append(filters, termFilter("is_active", true))
	}
	filters = append(filters, termFilter("is_deleted", false))

	for _, af := range req.AttributeFilters {
		if af.AttributeID == "" || len(af.Values) == 0 {
			continue
		}
		filters = append(filters, attributeFilter(af))
	}

	return filters
}

func appendIDFilter(filters []any, field string, single *string, many []string) []any {
	if single != nil && *single != "" {
		filters = append(filters, termFilter(field, *single))
	}
	if len(many) > 0 {
		filters = append(filters, map[string]any{
			"terms": map[string]any{field: many},
		})
	}
	return filters
}

func termFilter(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

// attributeFilter matches documents with one nested attribute entry carrying
// the attribute id and any of the requested values, by value id or label.
func attributeFilter(af domain.AttributeFilter) map[string]any {
	return map[string]any{
		"nested": map[string]any{
			"path": "attributes",
			"query": map[string]any{
				"bool": map[string]any{
					"filter": []any{
						termFilter("attributes.attribute_id", af.AttributeID),
						map[string]any{
							"bool": map[string]any{
								"should": []any{
									map[string]any{"terms": map[string]any{"attributes.value_id": af.Values}},
									map[string]any{"terms": map[string]any{"attributes.value": af.Values}},
								},
								"minimum_should_match": 1,
							},
						},
					},
				},
			},
		},
	}
}

// buildSort orders by the mapped field, then by score as a tiebreak.
// Relevance and unknown keys sort by score only.
func buildSort(sortBy, direction string) []any {
	score := map[string]any{"_score": map[string]any{"order": domain.SortDesc}}

	field := domain.SortField(sortBy)
	if field == "" {
		return []any{score}
	}

	order := domain.SortDesc
	if direction == domain.SortAsc {
		order = domain.SortAsc
	}
	return []any{
		map[string]any{field: map[string]any{"order": order, "missing": "_last"}},
		score,
	}
}

func buildAggregations() map[string]any {
	ranges := make([]any, 0, len(domain.PriceRanges()))
	for _, r := range domain.PriceRanges() {
		entry := map[string]any{"key": r.Key}
		if r.From != nil {
			entry["from"] = *r.From
		}
		if r.To != nil {
			entry["to"] = *r.To
		}
		ranges = append(ranges, entry)
	}

	return map[string]any{
		"categories": termsAgg("category_id"),
		"brands":     termsAgg("brand_id"),
		"stores":     termsAgg("store_id"),
		"price_stats": map[string]any{
			"stats": map[string]any{"field": "min_price"},
		},
		"price_ranges": map[string]any{
			"range": map[string]any{"field": "min_price", "ranges": ranges},
		},
		"avg_rating": map[string]any{
			"avg": map[string]any{"field": "average_rating"},
		},
		"attributes": map[string]any{
			"nested": map[string]any{"path": "attributes"},
			"aggs": map[string]any{
				"names": map[string]any{
					"terms": map[string]any{"field": "attributes.attribute_name", "size": domain.FacetSize},
					"aggs": map[string]any{
						"values": termsAgg("attributes.value"),
					},
				},
			},
		},
	}
}

func termsAgg(field string) map[string]any {
	return map[string]any{
		"terms": map[string]any{"field": field, "size": domain.FacetSize},
	}
}

// buildSuggestQuery is the autocomplete query: a fuzzy match on name-centric
// fields restricted to active, non-deleted products.
func buildSuggestQuery(prefix string, size int) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{
						"multi_match": map[string]any{
							"query":         prefix,
							"fields":        suggestFields,
							"type":          "best_fields",
							"fuzziness":     "AUTO",
							"prefix_length": 1,
						},
					},
				},
				"filter": []any{
					termFilter("is_active", true),
					termFilter("is_deleted", false),
				},
			},
		},
		"size":    size,
		"_source": []string{"name"},
		"sort": []any{
			map[string]any{"_score": map[string]any{"order": domain.SortDesc}},
			map[string]any{"suggest.weight": map[string]any{"order": domain.SortDesc, "missing": "_last"}},
		},
	}
}
