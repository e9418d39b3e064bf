package domain

import (
	"math"
	"time"
)

// Sort keys accepted in SearchRequest.SortBy.
const (
	SortRelevance = "relevance"
	SortPrice     = "price"
	SortSold      = "sold"
	SortRating    = "rating"
	SortNewest    = "newest"
	SortViews     = "views"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Pagination limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxResultWindow bounds offset+size, as index.max_result_window does.
	MaxResultWindow = 10000
)

// ValidSortOptions returns the list of valid sort keys.
func ValidSortOptions() []string {
	return []string{SortRelevance, SortPrice, SortSold, SortRating, SortNewest, SortViews}
}

// IsValidSort checks whether the given sort key is supported. The empty
// string is accepted and means relevance.
func IsValidSort(sort string) bool {
	if sort == "" {
		return true
	}
	for _, s := range ValidSortOptions() {
		if s == sort {
			return true
		}
	}
	return false
}

// SortField maps a sort key to the document field it orders by. Relevance and
// unknown keys return "" (score ordering).
func SortField(sortBy string) string {
	switch sortBy {
	case SortPrice:
		return "min_price"
	case SortSold:
		return "sold_count"
	case SortRating:
		return "average_rating"
	case SortNewest:
		return "created_at"
	case SortViews:
		return "view_count"
	default:
		return ""
	}
}

// AttributeFilter matches documents having attribute AttributeID with any of
// Values on the same attribute entry. Values are matched against both value
// ids and value labels.
type AttributeFilter struct {
	AttributeID string   `json:"attribute_id" validate:"required"`
	Values      []string `json:"values" validate:"required,min=1"`
}

// SearchRequest is the structured search input.
type SearchRequest struct {
	Keyword     string   `json:"keyword"`
	CategoryID  *string  `json:"category_id,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty"`
	// IncludeSubcategories widens category filters to the materialized
	// category path instead of the leaf category id.
	IncludeSubcategories bool     `json:"include_subcategories,omitempty"`
	StoreID              *string  `json:"store_id,omitempty"`
	StoreIDs             []string `json:"store_ids,omitempty"`
	BrandID              *string  `json:"brand_id,omitempty"`
	BrandIDs             []string `json:"brand_ids,omitempty"`
	PriceFrom            *int64   `json:"price_from,omitempty"`
	PriceTo              *int64   `json:"price_to,omitempty"`
	MinRating            *float64 `json:"min_rating,omitempty"`
	// IsActive nil or true restricts to active products; only an explicit
	// false lifts the restriction. Deleted products are never returned.
	IsActive          *bool             `json:"is_active,omitempty"`
	AttributeFilters  []AttributeFilter `json:"attribute_filters,omitempty"`
	SortBy            string            `json:"sort_by,omitempty"`
	SortDirection     string            `json:"sort_direction,omitempty"`
	EnableFuzzy       bool              `json:"enable_fuzzy,omitempty"`
	EnableHighlight   bool              `json:"enable_highlight,omitempty"`
	EnableAggregation bool              `json:"enable_aggregation,omitempty"`
}

// Page selects a zero-based result page.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"size"`
}

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the index of the first hit of the page. It saturates at
// math.MaxInt instead of overflowing.
func (p Page) Offset() int {
	if p.Number <= 0 || p.Size <= 0 {
		return 0
	}
	if p.Number > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return p.Number * p.Size
}

// ExceedsWindow reports whether the page reaches past the first window hits.
// A page without a size reads nothing and never exceeds it.
func (p Page) ExceedsWindow(window int) bool {
	if p.Size <= 0 {
		return false
	}
	if p.Size > window {
		return true
	}
	return p.Number > (window-p.Size)/p.Size
}

// TotalPages computes the page count for total hits.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	pages := total / int64(size)
	if total%int64(size) > 0 {
		pages++
	}
	return int(pages)
}

// ProductSummary is the view model of a search hit.
type ProductSummary struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	MinPrice      int64    `json:"min_price"`
	MaxPrice      int64    `json:"max_price"`
	AverageRating *float64 `json:"average_rating,omitempty"`
	ReviewCount   int      `json:"review_count"`
	SoldCount     int64    `json:"sold_count"`
	CategoryID    string   `json:"category_id,omitempty"`
	CategoryName  string   `json:"category_name,omitempty"`
	BrandID       string   `json:"brand_id,omitempty"`
	BrandName     string   `json:"brand_name,omitempty"`
	StoreID       string   `json:"store_id,omitempty"`
	StoreName     string   `json:"store_name,omitempty"`
	InStock       bool     `json:"in_stock"`
}

// Summary builds the hit view model from a document.
func (d *ProductDocument) Summary() ProductSummary {
	var inStock bool
	for _, v := range d.Variants {
		if v.Stock > 0 {
			inStock = true
			break
		}
	}
	return ProductSummary{
		ID:            d.ID,
		Name:          d.Name,
		Slug:          d.Slug,
		Thumbnail:     d.Thumbnail,
		MinPrice:      d.MinPrice,
		MaxPrice:      d.MaxPrice,
		AverageRating: d.AverageRating,
		ReviewCount:   d.ReviewCount,
		SoldCount:     d.SoldCount,
		CategoryID:    d.CategoryID,
		CategoryName:  d.CategoryName,
		BrandID:       d.BrandID,
		BrandName:     d.BrandName,
		StoreID:       d.StoreID,
		StoreName:     d.StoreName,
		InStock:       inStock,
	}
}

// Hit is one ranked search result. Score is nil when no scoring query ran.
type Hit struct {
	ID         string              `json:"id"`
	Score      *float64            `json:"score"`
	Product    ProductSummary      `json:"product"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// SearchResult is the assembled search response.
type SearchResult struct {
	Hits       []Hit   `json:"hits"`
	Total      int64   `json:"total"`
	TotalPages int     `json:"total_pages"`
	Page       int     `json:"page"`
	Size       int     `json:"size"`
	TookMs     int64   `json:"took_ms"`
	Facets     *Facets `json:"facets,omitempty"`
}

// Bucket is a keyed document count.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// RangeBucket is a price range with its document count.
type RangeBucket struct {
	Key   string   `json:"key"`
	From  *float64 `json:"from,omitempty"`
	To    *float64 `json:"to,omitempty"`
	Count int64    `json:"count"`
}

// PriceStats summarizes min_price over the matched documents.
type PriceStats struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
	Avg *float64 `json:"avg"`
}

// AttributeFacet lists value buckets of one attribute.
type AttributeFacet struct {
	Name   string   `json:"name"`
	Count  int64    `json:"count"`
	Values []Bucket `json:"values"`
}

// Facets are the aggregations computed alongside a search.
type Facets struct {
	Categories    []Bucket         `json:"categories"`
	Brands        []Bucket         `json:"brands"`
	Stores        []Bucket         `json:"stores"`
	Price         PriceStats       `json:"price"`
	PriceRanges   []RangeBucket    `json:"price_ranges"`
	AverageRating *float64         `json:"average_rating"`
	Attributes    []AttributeFacet `json:"attributes"`
}

// PriceRange is a fixed facet range on min_price. To is exclusive.
type PriceRange struct {
	Key  string
	From *float64
	To   *float64
}

// PriceRanges returns the fixed price buckets used for faceting.
func PriceRanges() []PriceRange {
	f := func(v float64) *float64 { return &v }
	return []PriceRange{
		{Key: "under_100k", To: f(100000)},
		{Key: "100k_500k", From: f(100000), To: f(500000)},
		{Key: "500k_1m", From: f(500000), To: f(1000000)},
		{Key: "1m_5m", From: f(1000000), To: f(5000000)},
		{Key: "over_5m", From: f(5000000)},
	}
}

// FacetSize is the number of buckets returned per terms facet.
const FacetSize = 20

// SyncStats reports index/system-of-record drift and sync status. Count
// failures are surfaced in the *Error fields instead of failing the call.
type SyncStats struct {
	IndexedCount    int64           `json:"indexed_count"`
	TotalInDB       int64           `json:"total_in_db"`
	SyncInProgress  bool            `json:"sync_in_progress"`
	BackendHealthy  bool            `json:"backend_healthy"`
	IndexCountError string          `json:"index_count_error,omitempty"`
	DBCountError    string          `json:"db_count_error,omitempty"`
	LastFullSync    *FullSyncReport `json:"last_full_sync,omitempty"`
}

// FullSyncReport describes the outcome of the most recent full sync.
type FullSyncReport struct {
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Indexed    int        `json:"indexed"`
	Skipped    int        `json:"skipped"`
	Pages      int        `json:"pages"`
	Canceled   bool       `json:"canceled"`
	Error      string     `json:"error,omitempty"`
}
