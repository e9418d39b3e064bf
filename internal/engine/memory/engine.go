// Package memory provides an in-process engine.Engine used for local
// development and tests. It applies the same filter, sort and facet rules as
// the Elasticsearch query builder over a map of documents.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// Engine is an in-memory implementation of engine.Engine.
// Thread-safe via sync.RWMutex.
type Engine struct {
	mu   sync.RWMutex
	docs map[string]domain.ProductDocument
}

// New creates a new in-memory search engine.
func New() *Engine {
	return &Engine{
		docs: make(map[string]domain.ProductDocument),
	}
}

// EnsureIndex is a no-op; the map always exists.
func (e *Engine) EnsureIndex(context.Context) error { return nil }

// Ping always succeeds.
func (e *Engine) Ping(context.Context) error { return nil }

// Count returns the number of stored documents.
func (e *Engine) Count(context.Context) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int64(len(e.docs)), nil
}

// Index adds or replaces a single document.
func (e *Engine) Index(_ context.Context, doc *domain.ProductDocument) error {
	if doc == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.docs[doc.ID] = *doc
	return nil
}

// BulkIndex adds or replaces many documents.
func (e *Engine) BulkIndex(_ context.Context, docs []domain.ProductDocument) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range docs {
		e.docs[docs[i].ID] = docs[i]
	}
	return nil
}

// Delete removes a document by id.
func (e *Engine) Delete(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.docs, id)
	return nil
}

// DeleteMany removes every listed document.
func (e *Engine) DeleteMany(_ context.Context, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range ids {
		delete(e.docs, id)
	}
	return nil
}

// DeleteAll removes every document.
func (e *Engine) DeleteAll(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.docs = make(map[string]domain.ProductDocument)
	return nil
}

// Get returns a stored document.
func (e *Engine) Get(id string) (domain.ProductDocument, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	doc, ok := e.docs[id]
	return doc, ok
}

// scored is a matched document with its relevance score.
type scored struct {
	doc   *domain.ProductDocument
	score *float64
}

// Search executes a search query against the in-memory index.
func (e *Engine) Search(_ context.Context, req *domain.SearchRequest, page domain.Page) (*domain.SearchResult, error) {
	start := time.Now()
	if req == nil {
		req = &domain.SearchRequest{}
	}
	page = page.Normalize()

	matched := e.match(req)
	window := paginate(matched, page)

	hits := make([]domain.Hit, 0, len(window))
	for _, m := range window {
		hit := domain.Hit{ID: m.doc.ID, Score: m.score, Product: m.doc.Summary()}
		if req.EnableHighlight && req.Keyword != "" {
			hit.Highlights = highlight(m.doc, terms(req.Keyword))
		}
		hits = append(hits, hit)
	}

	total := int64(len(matched))
	result := &domain.SearchResult{
		Hits:       hits,
		Total:      total,
		TotalPages: domain.TotalPages(total, page.Size),
		Page:       page.Number,
		Size:       page.Size,
		TookMs:     time.Since(start).Milliseconds(),
	}
	if req.EnableAggregation {
		result.Facets = facets(matched)
	}
	return result, nil
}

// SearchIDs returns the ids of one page of matches.
func (e *Engine) SearchIDs(_ context.Context, req *domain.SearchRequest, page domain.Page) ([]string, error) {
	if req == nil {
		req = &domain.SearchRequest{}
	}
	window := paginate(e.match(req), page.Normalize())

	ids := make([]string, 0, len(window))
	for _, m := range window {
		ids = append(ids, m.doc.ID)
	}
	return ids, nil
}

// Suggest returns distinct names of active products whose name or suggest
// input starts with the prefix, heaviest first.
func (e *Engine) Suggest(_ context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))

	e.mu.RLock()
	candidates := make([]domain.ProductDocument, 0)
	for _, d := range e.docs {
		if !d.IsActive || d.IsDeleted || d.Name == "" {
			continue
		}
		if suggestMatches(&d, prefix) {
			candidates = append(candidates, d)
		}
	}
	e.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Suggest.Weight != candidates[j].Suggest.Weight {
			return candidates[i].Suggest.Weight > candidates[j].Suggest.Weight
		}
		return candidates[i].ID < candidates[j].ID
	})

	names := make([]string, 0, limit)
	seen := make(map[string]struct{})
	for _, d := range candidates {
		if _, ok := seen[d.Name]; ok {
			continue
		}
		seen[d.Name] = struct{}{}
		names = append(names, d.Name)
		if len(names) == limit {
			break
		}
	}
	return names, nil
}

func suggestMatches(d *domain.ProductDocument, prefix string) bool {
	if prefix == "" {
		return false
	}
	inputs := append([]string{d.Name}, d.Suggest.Input...)
	for _, in := range inputs {
		for _, word := range strings.Fields(strings.ToLower(in)) {
			if strings.HasPrefix(word, prefix) {
				return true
			}
		}
		if strings.HasPrefix(strings.ToLower(in), prefix) {
			return true
		}
	}
	return false
}

// match filters, scores and sorts the stored documents.
func (e *Engine) match(req *domain.SearchRequest) []scored {
	keywordTerms := terms(req.Keyword)

	e.mu.RLock()
	out := make([]scored, 0)
	for id := range e.docs {
		d := e.docs[id]
		if !passesFilters(&d, req) {
			continue
		}
		var score *float64
		if len(keywordTerms) > 0 {
			s, ok := scoreDocument(&d, keywordTerms, req.EnableFuzzy)
			if !ok {
				continue
			}
			score = &s
		}
		out = append(out, scored{doc: &d, score: score})
	}
	e.mu.RUnlock()

	sortMatches(out, req.SortBy, req.SortDirection)
	return out
}

func paginate(matched []scored, page domain.Page) []scored {
	offset := page.Offset()
	if offset < 0 || offset > len(matched) {
		offset = len(matched)
	}
	end := offset + min(max(page.Size, 0), len(matched)-offset)
	return matched[offset:end]
}

// passesFilters applies the non-scoring filters. Deleted documents never pass.
func passesFilters(d *domain.ProductDocument, req *domain.SearchRequest) bool {
	if d.IsDeleted {
		return false
	}
	if (req.IsActive == nil || *req.IsActive) && !d.IsActive {
		return false
	}

	if !matchCategory(d, req) {
		return false
	}
	if !matchID(d.StoreID, req.StoreID, req.StoreIDs) {
		return false
	}
	if !matchID(d.BrandID, req.BrandID, req.BrandIDs) {
		return false
	}

	if req.PriceFrom != nil && d.MinPrice < *req.PriceFrom {
		return false
	}
	if req.PriceTo != nil && d.MinPrice > *req.PriceTo {
		return false
	}
	if req.MinRating != nil && (d.AverageRating == nil || *d.AverageRating < *req.MinRating) {
		return false
	}

	for _, af := range req.AttributeFilters {
		if af.AttributeID == "" || len(af.Values) == 0 {
			continue
		}
		if !matchAttribute(d, af) {
			return false
		}
	}
	return true
}

func matchCategory(d *domain.ProductDocument, req *domain.SearchRequest) bool {
	if !req.IncludeSubcategories {
		return matchID(d.CategoryID, req.CategoryID, req.CategoryIDs)
	}
	if req.CategoryID != nil && *req.CategoryID != "" && !contains(d.CategoryPath, *req.CategoryID) {
		return false
	}
	if len(req.CategoryIDs) > 0 && !containsAny(d.CategoryPath, req.CategoryIDs) {
		return false
	}
	return true
}

func matchID(value string, single *string, many []string) bool {
	if single != nil && *single != "" && value != *single {
		return false
	}
	if len(many) > 0 && !contains(many, value) {
		return false
	}
	return true
}

// matchAttribute requires the attribute id and one of the values to sit on
// the same attribute entry.
func matchAttribute(d *domain.ProductDocument, af domain.AttributeFilter) bool {
	for _, a := range d.Attributes {
		if a.AttributeID != af.AttributeID {
			continue
		}
		if contains(af.Values, a.ValueID) || contains(af.Values, a.Value) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsAny(list, wanted []string) bool {
	for _, w := range wanted {
		if contains(list, w) {
			return true
		}
	}
	return false
}

func terms(keyword string) []string {
	return strings.Fields(strings.ToLower(keyword))
}

// weightedField is a searchable text surface with its boost.
type weightedField struct {
	text  string
	boost float64
}

func searchableFields(d *domain.ProductDocument) []weightedField {
	fields := []weightedField{
		{d.Name, 5},
		{d.ShortDescription, 2},
		{d.Description, 1},
		{d.BrandName, 2},
		{d.CategoryName, 2},
		{d.SpecText, 1},
	}
	for _, v := range d.Variants {
		fields = append(fields, weightedField{v.Name, 1}, weightedField{v.MetadataText, 1})
	}
	for _, o := range d.SelectionOptions {
		fields = append(fields, weightedField{o.Label, 1}, weightedField{o.Value, 1})
	}
	return fields
}

// scoreDocument sums the boosts of fields containing each term. Without
// fuzzy matching every term must match; with it, 75% of them.
func scoreDocument(d *domain.ProductDocument, keywordTerms []string, fuzzy bool) (float64, bool) {
	fields := searchableFields(d)
	for i := range fields {
		fields[i].text = strings.ToLower(fields[i].text)
	}

	var (
		score   float64
		matched int
	)
	for _, term := range keywordTerms {
		var termScore float64
		for _, f := range fields {
			if f.text != "" && strings.Contains(f.text, term) {
				termScore += f.boost
			}
		}
		if termScore > 0 {
			matched++
			score += termScore
		}
	}

	required := len(keywordTerms)
	if fuzzy {
		required = int(math.Ceil(float64(len(keywordTerms)) * 0.75))
	}
	if matched == 0 || matched < required {
		return 0, false
	}
	return score, true
}

// sortMatches orders by the mapped sort field, then score, then id.
func sortMatches(matches []scored, sortBy, direction string) {
	field := domain.SortField(sortBy)
	asc := direction == domain.SortAsc

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if field != "" {
			va, vb := sortValue(a.doc, field), sortValue(b.doc, field)
			if va != vb {
				if asc {
					return va < vb
				}
				return va > vb
			}
		}
		sa, sb := scoreOf(a.score), scoreOf(b.score)
		if sa != sb {
			return sa > sb
		}
		return a.doc.ID < b.doc.ID
	})
}

func scoreOf(s *float64) float64 {
	if s == nil {
		return 0
	}
	return *s
}

func sortValue(d *domain.ProductDocument, field string) float64 {
	switch field {
	case "min_price":
		return float64(d.MinPrice)
	case "sold_count":
		return float64(d.SoldCount)
	case "average_rating":
		if d.AverageRating == nil {
			return 0
		}
		return *d.AverageRating
	case "created_at":
		return float64(d.CreatedAt.UnixNano())
	case "view_count":
		return float64(d.ViewCount)
	default:
		return 0
	}
}

// highlight wraps matched terms of the name and description in <em> tags.
func highlight(d *domain.ProductDocument, keywordTerms []string) map[string][]string {
	out := make(map[string][]string)
	if frag, ok := emphasize(d.Name, keywordTerms); ok {
		out["name"] = []string{frag}
	}
	if frag, ok := emphasize(d.Description, keywordTerms); ok {
		out["description"] = []string{frag}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func emphasize(text string, keywordTerms []string) (string, bool) {
	words := strings.Fields(text)
	var hit bool
	for i, w := range words {
		lw := strings.ToLower(w)
		for _, t := range keywordTerms {
			if strings.Contains(lw, t) {
				words[i] = "<em>" + w + "</em>"
				hit = true
				break
			}
		}
	}
	return strings.Join(words, " "), hit
}

// facets computes the same aggregations the Elasticsearch engine requests.
func facets(matched []scored) *domain.Facets {
	categories := newCounter()
	brands := newCounter()
	stores := newCounter()
	attrNames := newCounter()
	attrValues := make(map[string]*counter)

	ranges := domain.PriceRanges()
	rangeCounts := make([]int64, len(ranges))

	var (
		priceMin, priceMax, priceSum float64
		ratingSum                    float64
		ratingCount                  int
	)

	for i, m := range matched {
		d := m.doc
		categories.add(d.CategoryID)
		brands.add(d.BrandID)
		stores.add(d.StoreID)

		price := float64(d.MinPrice)
		if i == 0 || price < priceMin {
			priceMin = price
		}
		if i == 0 || price > priceMax {
			priceMax = price
		}
		priceSum += price
		for ri, r := range ranges {
			if (r.From == nil || price >= *r.From) && (r.To == nil || price < *r.To) {
				rangeCounts[ri]++
			}
		}

		if d.AverageRating != nil {
			ratingSum += *d.AverageRating
			ratingCount++
		}

		for _, a := range d.Attributes {
			if a.AttributeName == "" {
				continue
			}
			attrNames.add(a.AttributeName)
			vc, ok := attrValues[a.AttributeName]
			if !ok {
				vc = newCounter()
				attrValues[a.AttributeName] = vc
			}
			vc.add(a.Value)
		}
	}

	f := &domain.Facets{
		Categories:  categories.top(domain.FacetSize),
		Brands:      brands.top(domain.FacetSize),
		Stores:      stores.top(domain.FacetSize),
		PriceRanges: make([]domain.RangeBucket, 0, len(ranges)),
		Attributes:  make([]domain.AttributeFacet, 0),
	}

	if n := len(matched); n > 0 {
		avg := priceSum / float64(n)
		f.Price = domain.PriceStats{Min: &priceMin, Max: &priceMax, Avg: &avg}
	}
	if ratingCount > 0 {
		avg := ratingSum / float64(ratingCount)
		f.AverageRating = &avg
	}
	for i, r := range ranges {
		f.PriceRanges = append(f.PriceRanges, domain.RangeBucket{Key: r.Key, From: r.From, To: r.To, Count: rangeCounts[i]})
	}
	for _, name := range attrNames.top(domain.FacetSize) {
		f.Attributes = append(f.Attributes, domain.AttributeFacet{
			Name:   name.Key,
			Count:  name.Count,
			Values: attrValues[name.Key].top(domain.FacetSize),
		})
	}
	return f
}

// counter is a terms aggregation over string keys. Empty keys are ignored,
// as missing keyword fields are in Elasticsearch.
type counter struct {
	counts map[string]int64
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int64)}
}

func (c *counter) add(key string) {
	if key != "" {
		c.counts[key]++
	}
}

// top returns buckets by descending count, ties broken by key.
func (c *counter) top(n int) []domain.Bucket {
	out := make([]domain.Bucket, 0, len(c.counts))
	for k, v := range c.counts {
		out = append(out, domain.Bucket{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
