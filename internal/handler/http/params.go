package http

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/utafrali/catalogsearch/internal/domain"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/httputil"
)

// attributeParamPrefix marks attribute filters in query strings:
// attr.<attribute_id>=<value>[,<value>...].
const attributeParamPrefix = "attr."

// parseSearchQuery builds a search request and page from GET query
// parameters. List parameters accept repeated keys and comma-separated values.
func parseSearchQuery(r *http.Request) (*domain.SearchRequest, domain.Page, error) {
	q := r.URL.Query()
	req := &domain.SearchRequest{
		Keyword:       strings.TrimSpace(q.Get("q")),
		SortBy:        q.Get("sort"),
		SortDirection: q.Get("direction"),
		CategoryIDs:   listParam(q, "category_ids"),
		StoreIDs:      listParam(q, "store_ids"),
		BrandIDs:      listParam(q, "brand_ids"),
	}
	req.CategoryID = optionalString(q, "category_id")
	req.StoreID = optionalString(q, "store_id")
	req.BrandID = optionalString(q, "brand_id")

	var err error
	if req.PriceFrom, err = optionalInt64(q, "min_price"); err != nil {
		return nil, domain.Page{}, err
	}
	if req.PriceTo, err = optionalInt64(q, "max_price"); err != nil {
		return nil, domain.Page{}, err
	}
	if req.MinRating, err = optionalFloat(q, "min_rating"); err != nil {
		return nil, domain.Page{}, err
	}
	if req.IsActive, err = optionalBool(q, "is_active"); err != nil {
		return nil, domain.Page{}, err
	}

	for _, flag := range []struct {
		name string
		dst  *bool
	}{
		{"include_subcategories", &req.IncludeSubcategories},
		{"fuzzy", &req.EnableFuzzy},
		{"highlight", &req.EnableHighlight},
		{"facets", &req.EnableAggregation},
	} {
		v, err := optionalBool(q, flag.name)
		if err != nil {
			return nil, domain.Page{}, err
		}
		*flag.dst = v != nil && *v
	}

	req.AttributeFilters = attributeFilters(q)

	page, err := parsePage(r)
	if err != nil {
		return nil, domain.Page{}, err
	}
	return req, page, nil
}

func parsePage(r *http.Request) (domain.Page, error) {
	number, err := httputil.QueryInt(r, "page", 0)
	if err != nil {
		return domain.Page{}, err
	}
	size, err := httputil.QueryInt(r, "size", domain.DefaultPageSize)
	if err != nil {
		return domain.Page{}, err
	}
	if number < 0 {
		return domain.Page{}, apperrors.InvalidInput("page must not be negative")
	}
	page := domain.Page{Number: number, Size: size}
	if page.Normalize().ExceedsWindow(domain.MaxResultWindow) {
		return domain.Page{}, apperrors.InvalidInput(fmt.Sprintf(
			"page exceeds the result window of %d hits", domain.MaxResultWindow))
	}
	return page, nil
}

// attributeFilters collects attr.<id> parameters in attribute id order.
func attributeFilters(q url.Values) []domain.AttributeFilter {
	var filters []domain.AttributeFilter
	for key := range q {
		id, ok := strings.CutPrefix(key, attributeParamPrefix)
		if !ok {
			continue
		}
		filters = append(filters, domain.AttributeFilter{
			AttributeID: id,
			Values:      listParam(q, key),
		})
	}
	sort.Slice(filters, func(i, j int) bool {
		return filters[i].AttributeID < filters[j].AttributeID
	})
	return filters
}

func listParam(q url.Values, name string) []string {
	var out []string
	for _, raw := range q[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func optionalString(q url.Values, name string) *string {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return nil
	}
	return &v
}

func optionalInt64(q url.Values, name string) (*int64, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be a valid number")
	}
	if v < 0 {
		return nil, apperrors.InvalidInput(name + " must not be negative")
	}
	return &v, nil
}

func optionalFloat(q url.Values, name string) (*float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be a valid number")
	}
	return &v, nil
}

func optionalBool(q url.Values, name string) (*bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be true or false")
	}
	return &v, nil
}
