package document

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsearch/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string      { return &s }
func int64Ptr(n int64) *int64      { return &n }
func float64Ptr(f float64) *float64 { return &f }

// fakeLookup serves companion rows from maps and fails for ids in errs.
type fakeLookup struct {
	images     map[string][]domain.Image
	variants   map[string][]domain.Variant
	categories map[string]*domain.Category
	err        error
	calls      int
}

func (f *fakeLookup) Images(_ context.Context, productID string) ([]domain.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.images[productID], nil
}

func (f *fakeLookup) Variants(_ context.Context, productID string) ([]domain.Variant, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.variants[productID], nil
}

func (f *fakeLookup) Category(_ context.Context, id string) (*domain.Category, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.categories[id]
	if !ok {
		return nil, errors.New("category not found")
	}
	return c, nil
}

var created = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func sampleProduct() *domain.Product {
	root := &domain.Category{ID: "cat-root", Name: "Electronics"}
	mid := &domain.Category{ID: "cat-mid", Name: "Phones", ParentID: strPtr("cat-root"), Parent: root}
	leaf := &domain.Category{ID: "cat-leaf", Name: "Smartphones", ParentID: strPtr("cat-mid"), Parent: mid}

	color := func(valueID, value string) domain.AttributeValue {
		return domain.AttributeValue{AttributeID: "attr-color", AttributeName: "Color", ValueID: valueID, Value: value}
	}

	return &domain.Product{
		ID:               "prod-1",
		Name:             "Galaxy Phone",
		Slug:             "galaxy-phone",
		ShortDescription: "Flagship phone",
		Description:      "A very good phone",
		IsActive:         true,
		MinPrice:         100000,
		MaxPrice:         150000,
		AverageRating:    float64Ptr(4.5),
		ReviewCount:      12,
		SoldCount:        int64Ptr(120),
		ViewCount:        int64Ptr(5000),
		Category:         leaf,
		Brand:            &domain.Brand{ID: "brand-1", Name: "Acme"},
		Store:            &domain.Store{ID: "store-1", Name: "Acme Official"},
		StoreCategories:  []domain.StoreCategory{{ID: "sc-1", Name: "New arrivals"}},
		Specifications: []domain.Spec{
			{Key: "screen", Entry: domain.Measured("6.1", "inch")},
			{Key: "panel", Entry: domain.Scalar("OLED")},
		},
		Images: []domain.Image{
			{ID: "img-2", URL: "https://cdn/2.jpg", SortOrder: 2},
			{ID: "img-1", URL: "https://cdn/1.jpg", SortOrder: 1},
		},
		Variants: []domain.Variant{
			{
				ID: "var-a", SKU: "SKU-A", Name: "Red 128GB", Price: 100000,
				Stock:           &domain.Stock{OnHand: 10, Reserved: 4},
				Metadata:        []domain.Spec{{Key: "storage", Entry: domain.Measured("128", "GB")}},
				AttributeValues: []domain.AttributeValue{color("val-red", "Red")},
			},
			{
				ID: "var-b", SKU: "SKU-B", Name: "Blue 256GB", Price: 150000,
				AttributeValues: []domain.AttributeValue{color("val-blue", "Blue")},
			},
			{
				ID: "var-c", SKU: "SKU-C", Name: "Red 256GB", Price: 150000,
				Stock:           &domain.Stock{OnHand: 1, Reserved: 3},
				AttributeValues: []domain.AttributeValue{color("val-red", "Red")},
			},
			{
				ID: "var-gone", SKU: "SKU-X", Name: "Discontinued", Price: 120000, IsDeleted: true,
				AttributeValues: []domain.AttributeValue{color("val-green", "Green")},
			},
		},
		SelectionGroups: []domain.SelectionGroup{
			{ID: "grp-1", Name: "Bundle", Options: []domain.SelectionOption{{ID: "opt-1", Label: "With charger", Value: "charger"}}},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestToDocument_NilProduct(t *testing.T) {
	m := NewMapper(nil, newTestLogger())
	assert.Nil(t, m.ToDocument(context.Background(), nil))
}

func TestToDocument_FullAggregate(t *testing.T) {
	m := NewMapper(nil, newTestLogger())
	doc := m.ToDocument(context.Background(), sampleProduct())
	require.NotNil(t, doc)

	assert.Equal(t, "prod-1", doc.ID)
	assert.Equal(t, "https://cdn/1.jpg", doc.Thumbnail)
	assert.Equal(t, []string{"cat-root", "cat-mid", "cat-leaf"}, doc.CategoryPath)
	assert.Equal(t, "cat-leaf", doc.CategoryID)
	assert.Equal(t, "Smartphones", doc.CategoryName)
	assert.Equal(t, "Acme", doc.BrandName)
	assert.Equal(t, "store-1", doc.StoreID)
	assert.Equal(t, []domain.StoreCategoryRef{{ID: "sc-1", Name: "New arrivals"}}, doc.StoreCategories)
	assert.Equal(t, int64(120), doc.SoldCount)
	assert.Equal(t, int64(5000), doc.ViewCount)

	// Deleted variant is dropped, stock is on-hand minus reserved floored at 0.
	require.Len(t, doc.Variants, 3)
	assert.Equal(t, int64(6), doc.Variants[0].Stock)
	assert.Equal(t, int64(0), doc.Variants[1].Stock)
	assert.Equal(t, int64(0), doc.Variants[2].Stock)
	assert.Equal(t, "storage: 128 GB", doc.Variants[0].MetadataText)

	assert.Equal(t, "screen: 6.1 inch; panel: OLED", doc.SpecText)
	assert.Equal(t, []domain.SpecDoc{
		{Key: "screen", Value: "6.1", Unit: "inch"},
		{Key: "panel", Value: "OLED"},
	}, doc.Specs)

	require.Len(t, doc.SelectionOptions, 1)
	assert.Equal(t, "Bundle", doc.SelectionOptions[0].GroupName)
	assert.Equal(t, "With charger", doc.SelectionOptions[0].Label)

	assert.Equal(t, []string{"Galaxy Phone", "galaxy phone", "Acme", "Acme Galaxy Phone", "Smartphones"}, doc.Suggest.Input)
}

func TestToDocument_AttributeDedup(t *testing.T) {
	m := NewMapper(nil, newTestLogger())
	doc := m.ToDocument(context.Background(), sampleProduct())

	// Red appears on two variants, Green only on the deleted one.
	assert.Equal(t, []domain.AttributeDoc{
		{AttributeID: "attr-color", AttributeName: "Color", ValueID: "val-red", Value: "Red"},
		{AttributeID: "attr-color", AttributeName: "Color", ValueID: "val-blue", Value: "Blue"},
	}, doc.Attributes)
}

func TestToDocument_Idempotent(t *testing.T) {
	m := NewMapper(nil, newTestLogger())
	p := sampleProduct()

	first, err := json.Marshal(m.ToDocument(context.Background(), p))
	require.NoError(t, err)
	second, err := json.Marshal(m.ToDocument(context.Background(), p))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestToDocument_PriceContainment(t *testing.T) {
	m := NewMapper(nil, newTestLogger())
	doc := m.ToDocument(context.Background(), sampleProduct())

	assert.Equal(t, int64(100000), doc.MinPrice)
	assert.Equal(t, int64(150000), doc.MaxPrice)
	for _, v := range doc.Variants {
		assert.GreaterOrEqual(t, v.Price, doc.MinPrice, "variant %s", v.ID)
		assert.LessOrEqual(t, v.Price, doc.MaxPrice, "variant %s", v.ID)
	}
}

func TestToDocument_ResolvesCompanionsWhenNotLoaded(t *testing.T) {
	lookup := &fakeLookup{
		images: map[string][]domain.Image{"prod-1": {{URL: "https://cdn/only.jpg"}}},
		variants: map[string][]domain.Variant{"prod-1": {
			{ID: "var-a", Price: 100000, AttributeValues: []domain.AttributeValue{{AttributeID: "a", ValueID: "v"}}},
		}},
		categories: map[string]*domain.Category{
			"cat-root": {ID: "cat-root", Name: "Root"},
		},
	}
	m := NewMapper(lookup, newTestLogger())

	p := sampleProduct()
	p.Images = nil
	p.Variants = nil
	p.Category = &domain.Category{ID: "cat-leaf", Name: "Leaf", ParentID: strPtr("cat-root")}

	doc := m.ToDocument(context.Background(), p)
	assert.Equal(t, "https://cdn/only.jpg", doc.Thumbnail)
	require.Len(t, doc.Variants, 1)
	assert.Len(t, doc.Attributes, 1)
	assert.Equal(t, []string{"cat-root", "cat-leaf"}, doc.CategoryPath)
}

func TestToDocument_LookupFailureDegradesFields(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("db down")}
	m := NewMapper(lookup, newTestLogger())

	p := sampleProduct()
	p.Images = nil
	p.Variants = nil
	p.Category = &domain.Category{ID: "cat-leaf", Name: "Leaf", ParentID: strPtr("cat-root")}

	doc := m.ToDocument(context.Background(), p)
	require.NotNil(t, doc)
	assert.Empty(t, doc.Thumbnail)
	assert.Empty(t, doc.Variants)
	assert.Empty(t, doc.Attributes)
	assert.Equal(t, []string{"cat-leaf"}, doc.CategoryPath)
	assert.Equal(t, "Galaxy Phone", doc.Name)
	assert.Equal(t, 3, lookup.calls)
}

func TestToDocument_LoadedEmptyCollectionsSkipLookup(t *testing.T) {
	lookup := &fakeLookup{}
	m := NewMapper(lookup, newTestLogger())

	p := sampleProduct()
	p.Images = []domain.Image{}
	p.Variants = []domain.Variant{}
	p.Category = nil

	doc := m.ToDocument(context.Background(), p)
	assert.Empty(t, doc.Thumbnail)
	assert.Empty(t, doc.Variants)
	assert.Empty(t, doc.CategoryPath)
	assert.Equal(t, 0, lookup.calls)
}

func TestToDocument_CategoryCycleTerminates(t *testing.T) {
	a := &domain.Category{ID: "a", ParentID: strPtr("b")}
	b := &domain.Category{ID: "b", ParentID: strPtr("a"), Parent: a}
	a.Parent = b

	p := sampleProduct()
	p.Category = a

	doc := NewMapper(nil, newTestLogger()).ToDocument(context.Background(), p)
	assert.Equal(t, []string{"b", "a"}, doc.CategoryPath)
}

func TestFlattenSpecs_NestedGroups(t *testing.T) {
	text, entries := FlattenSpecs([]domain.Spec{
		{Key: "camera", Entry: domain.Group(
			domain.Spec{Key: "main", Entry: domain.Measured("48", "MP")},
			domain.Spec{Key: "lens", Entry: domain.Scalar("wide")},
		)},
		{Key: "empty", Entry: domain.Scalar("")},
		{Key: "weight", Entry: domain.Measured("180", "")},
	})

	assert.Equal(t, "camera.main: 48 MP; camera.lens: wide; weight: 180", text)
	assert.Equal(t, []domain.SpecDoc{
		{Key: "camera.main", Value: "48", Unit: "MP"},
		{Key: "camera.lens", Value: "wide"},
		{Key: "weight", Value: "180"},
	}, entries)
}

func TestSuggestInputs_SkipsEmptyAndDuplicates(t *testing.T) {
	assert.Equal(t, []string{"phone", "Phones"}, suggestInputs("phone", "", "Phones"))
	assert.Equal(t, []string{}, suggestInputs("", "", ""))
}

func TestSuggestWeight_Bounds(t *testing.T) {
	counts := []*int64{nil, int64Ptr(-5), int64Ptr(0), int64Ptr(9), int64Ptr(55), int64Ptr(10_000), int64Ptr(math.MaxInt64)}
	ratings := []*float64{nil, float64Ptr(math.NaN()), float64Ptr(-1), float64Ptr(0), float64Ptr(2.5), float64Ptr(5), float64Ptr(50)}

	for _, sold := range counts {
		for _, views := range counts {
			for _, rating := range ratings {
				w := SuggestWeight(sold, views, rating)
				assert.GreaterOrEqual(t, w, domain.MinSuggestWeight)
				assert.LessOrEqual(t, w, domain.MaxSuggestWeight)
			}
		}
	}
}

func TestSuggestWeight_Blend(t *testing.T) {
	assert.Equal(t, 1, SuggestWeight(nil, nil, nil))
	// 1 + 120/10 + 5000/100 capped at 30 + round(4.5*6).
	assert.Equal(t, 1+12+30+27, SuggestWeight(int64Ptr(120), int64Ptr(5000), float64Ptr(4.5)))
	// Every dimension at its cap overflows and is clamped.
	assert.Equal(t, domain.MaxSuggestWeight, SuggestWeight(int64Ptr(1_000_000), int64Ptr(1_000_000), float64Ptr(5)))
	// Sold alone cannot exceed its own cap.
	assert.Equal(t, 1+40, SuggestWeight(int64Ptr(1_000_000), nil, nil))
}
