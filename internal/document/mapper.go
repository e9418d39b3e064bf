// Package document turns catalog product aggregates into denormalized search
// documents.
package document

import (
	"context"
	"log/slog"
	"strings"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// maxCategoryDepth bounds the parent walk in case the category table holds a
// cycle.
const maxCategoryDepth = 32

// Lookup resolves related rows that were not loaded with the product.
// Implementations are read-only companions of the catalog.
type Lookup interface {
	Images(ctx context.Context, productID string) ([]domain.Image, error)
	Variants(ctx context.Context, productID string) ([]domain.Variant, error)
	Category(ctx context.Context, id string) (*domain.Category, error)
}

// Mapper builds search documents. It holds no per-call state and is safe for
// concurrent use.
type Mapper struct {
	lookup Lookup
	logger *slog.Logger
}

// NewMapper creates a mapper. lookup may be nil when the catalog always
// returns fully loaded aggregates.
func NewMapper(lookup Lookup, logger *slog.Logger) *Mapper {
	return &Mapper{lookup: lookup, logger: logger}
}

// ToDocument maps a product aggregate to its search document. A nil product
// yields nil. Failing companion lookups degrade the affected field and are
// logged; they never abort the mapping.
func (m *Mapper) ToDocument(ctx context.Context, p *domain.Product) *domain.ProductDocument {
	if p == nil {
		return nil
	}

	doc := &domain.ProductDocument{
		ID:               p.ID,
		Name:             p.Name,
		Slug:             p.Slug,
		ShortDescription: p.ShortDescription,
		Description:      p.Description,
		MinPrice:         p.MinPrice,
		MaxPrice:         p.MaxPrice,
		AverageRating:    p.AverageRating,
		ReviewCount:      p.ReviewCount,
		SoldCount:        deref(p.SoldCount),
		ViewCount:        deref(p.ViewCount),
		IsActive:         p.IsActive,
		IsDeleted:        p.IsDeleted,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}

	doc.Thumbnail = m.thumbnail(ctx, p)

	if p.Category != nil {
		doc.CategoryID = p.Category.ID
		doc.CategoryName = p.Category.Name
	}
	doc.CategoryPath = m.categoryPath(ctx, p)

	if p.Brand != nil {
		doc.BrandID = p.Brand.ID
		doc.BrandName = p.Brand.Name
	}
	if p.Store != nil {
		doc.StoreID = p.Store.ID
		doc.StoreName = p.Store.Name
	}

	doc.StoreCategories = make([]domain.StoreCategoryRef, 0, len(p.StoreCategories))
	for _, sc := range p.StoreCategories {
		doc.StoreCategories = append(doc.StoreCategories, domain.StoreCategoryRef{ID: sc.ID, Name: sc.Name})
	}

	variants := m.variants(ctx, p)
	doc.Variants = make([]domain.VariantDoc, 0, len(variants))
	doc.Attributes = make([]domain.AttributeDoc, 0)
	seenAttr := make(map[[2]string]struct{})
	for _, v := range variants {
		if v.IsDeleted {
			continue
		}
		text, entries := FlattenSpecs(v.Metadata)
		doc.Variants = append(doc.Variants, domain.VariantDoc{
			ID:            v.ID,
			SKU:           v.SKU,
			Name:          v.Name,
			Price:         v.Price,
			OriginalPrice: v.OriginalPrice,
			Stock:         v.Stock.Available(),
			MetadataText:  text,
			Metadata:      entries,
		})

		for _, av := range v.AttributeValues {
			key := [2]string{av.AttributeID, av.ValueID}
			if _, dup := seenAttr[key]; dup {
				continue
			}
			seenAttr[key] = struct{}{}
			doc.Attributes = append(doc.Attributes, domain.AttributeDoc{
				AttributeID:   av.AttributeID,
				AttributeName: av.AttributeName,
				ValueID:       av.ValueID,
				Value:         av.Value,
			})
		}
	}

	doc.SpecText, doc.Specs = FlattenSpecs(p.Specifications)

	doc.SelectionOptions = make([]domain.SelectionOptionDoc, 0)
	for _, g := range p.SelectionGroups {
		for _, o := range g.Options {
			doc.SelectionOptions = append(doc.SelectionOptions, domain.SelectionOptionDoc{
				GroupID:   g.ID,
				GroupName: g.Name,
				OptionID:  o.ID,
				Label:     o.Label,
				Value:     o.Value,
			})
		}
	}

	doc.Suggest = domain.SuggestPayload{
		Input:  suggestInputs(doc.Name, doc.BrandName, doc.CategoryName),
		Weight: SuggestWeight(p.SoldCount, p.ViewCount, p.AverageRating),
	}

	return doc
}

func (m *Mapper) thumbnail(ctx context.Context, p *domain.Product) string {
	images := p.Images
	if images == nil && m.lookup != nil {
		var err error
		images, err = m.lookup.Images(ctx, p.ID)
		if err != nil {
			m.degraded(ctx, p.ID, "thumbnail", err)
			return ""
		}
	}
	if len(images) == 0 {
		return ""
	}

	best := images[0]
	for _, img := range images[1:] {
		if img.SortOrder < best.SortOrder {
			best = img
		}
	}
	return best.URL
}

// categoryPath walks the parent chain upward and returns ids root first.
func (m *Mapper) categoryPath(ctx context.Context, p *domain.Product) []string {
	path := make([]string, 0, 4)
	seen := make(map[string]struct{})

	cat := p.Category
	for depth := 0; cat != nil && depth < maxCategoryDepth; depth++ {
		if _, loop := seen[cat.ID]; loop {
			break
		}
		seen[cat.ID] = struct{}{}
		path = append([]string{cat.ID}, path...)

		next := cat.Parent
		if next == nil && cat.ParentID != nil && m.lookup != nil {
			parent, err := m.lookup.Category(ctx, *cat.ParentID)
			if err != nil {
				m.degraded(ctx, p.ID, "category_path", err)
				break
			}
			next = parent
		}
		cat = next
	}
	return path
}

func (m *Mapper) variants(ctx context.Context, p *domain.Product) []domain.Variant {
	if p.Variants != nil || m.lookup == nil {
		return p.Variants
	}
	variants, err := m.lookup.Variants(ctx, p.ID)
	if err != nil {
		m.degraded(ctx, p.ID, "variants", err)
		return nil
	}
	return variants
}

func (m *Mapper) degraded(ctx context.Context, productID, field string, err error) {
	m.logger.WarnContext(ctx, "document field degraded",
		slog.String("product_id", productID),
		slog.String("field", field),
		slog.String("error", err.Error()),
	)
}

// FlattenSpecs renders specifications as a text blob ("key: value unit"
// entries joined by "; ") and structured entries. Nested groups are walked
// depth first with their keys joined by ".".
func FlattenSpecs(specs []domain.Spec) (string, []domain.SpecDoc) {
	var lines []string
	entries := make([]domain.SpecDoc, 0, len(specs))
	flattenInto(specs, "", &lines, &entries)
	return strings.Join(lines, "; "), entries
}

func flattenInto(specs []domain.Spec, prefix string, lines *[]string, entries *[]domain.SpecDoc) {
	for _, s := range specs {
		key := s.Key
		if prefix != "" {
			key = prefix + "." + s.Key
		}

		switch s.Entry.Kind {
		case domain.SpecGroup:
			flattenInto(s.Entry.Children, key, lines, entries)
		case domain.SpecMeasured:
			text := strings.TrimSpace(s.Entry.Value + " " + s.Entry.Unit)
			*lines = append(*lines, key+": "+text)
			*entries = append(*entries, domain.SpecDoc{Key: key, Value: s.Entry.Value, Unit: s.Entry.Unit})
		default:
			if s.Entry.Value == "" {
				continue
			}
			*lines = append(*lines, key+": "+s.Entry.Value)
			*entries = append(*entries, domain.SpecDoc{Key: key, Value: s.Entry.Value})
		}
	}
}

func suggestInputs(name, brand, category string) []string {
	candidates := []string{name, strings.ToLower(name), brand}
	if brand != "" && name != "" {
		candidates = append(candidates, brand+" "+name)
	}
	candidates = append(candidates, category)

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
