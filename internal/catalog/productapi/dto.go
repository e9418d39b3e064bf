package productapi

import (
	"encoding/json"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// envelope is the {"data": ...} wrapper every product service response uses.
// Data holds a pointer to the destination value.
type envelope struct {
	Data any `json:"data"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type lookupRequest struct {
	IDs []string `json:"ids"`
}

type refDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type categoryDTO struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	ParentID *string      `json:"parent_id"`
	Parent   *categoryDTO `json:"parent,omitempty"`
}

type imageDTO struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	DisplayOrder int    `json:"display_order"`
}

type stockDTO struct {
	OnHand   int64 `json:"on_hand"`
	Reserved int64 `json:"reserved"`
}

type attributeValueDTO struct {
	AttributeID   string `json:"attribute_id"`
	AttributeName string `json:"attribute_name"`
	ValueID       string `json:"value_id"`
	Value         string `json:"value"`
}

type variantDTO struct {
	ID              string              `json:"id"`
	SKU             string              `json:"sku"`
	Name            string              `json:"name"`
	Price           int64               `json:"price"`
	OriginalPrice   *int64              `json:"original_price"`
	IsDeleted       bool                `json:"is_deleted"`
	Stock           *stockDTO           `json:"stock"`
	Metadata        json.RawMessage     `json:"metadata"`
	AttributeValues []attributeValueDTO `json:"attribute_values"`
}

type selectionOptionDTO struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

type selectionGroupDTO struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Options []selectionOptionDTO `json:"options"`
}

// productDTO is the product service representation of a catalog product.
// Absent images or variants mean "not embedded", an empty array means none.
type productDTO struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Slug             string              `json:"slug"`
	ShortDescription string              `json:"short_description"`
	Description      string              `json:"description"`
	IsActive         bool                `json:"is_active"`
	IsDeleted        bool                `json:"is_deleted"`
	MinPrice         int64               `json:"min_price"`
	MaxPrice         int64               `json:"max_price"`
	AverageRating    *float64            `json:"average_rating"`
	ReviewCount      int                 `json:"review_count"`
	SoldCount        *int64              `json:"sold_count"`
	ViewCount        *int64              `json:"view_count"`
	Category         *categoryDTO        `json:"category"`
	Brand            *refDTO             `json:"brand"`
	Store            *refDTO             `json:"store"`
	StoreCategories  []refDTO            `json:"store_categories"`
	Specifications   json.RawMessage     `json:"specifications"`
	Variants         []variantDTO        `json:"variants"`
	Images           []imageDTO          `json:"images"`
	SelectionGroups  []selectionGroupDTO `json:"selection_groups"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// specsParser turns a raw specification payload into entries. owner names
// the product or variant the payload belongs to.
type specsParser func(owner string, raw json.RawMessage) []domain.Spec

func (d *productDTO) toDomain(parseSpecs specsParser) domain.Product {
	p := domain.Product{
		ID:               d.ID,
		Name:             d.Name,
		Slug:             d.Slug,
		ShortDescription: d.ShortDescription,
		Description:      d.Description,
		IsActive:         d.IsActive,
		IsDeleted:        d.IsDeleted,
		MinPrice:         d.MinPrice,
		MaxPrice:         d.MaxPrice,
		AverageRating:    d.AverageRating,
		ReviewCount:      d.ReviewCount,
		SoldCount:        d.SoldCount,
		ViewCount:        d.ViewCount,
		Category:         d.Category.toDomain(),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.Brand != nil {
		p.Brand = &domain.Brand{ID: d.Brand.ID, Name: d.Brand.Name}
	}
	if d.Store != nil {
		p.Store = &domain.Store{ID: d.Store.ID, Name: d.Store.Name}
	}
	for _, sc := range d.StoreCategories {
		p.StoreCategories = append(p.StoreCategories, domain.StoreCategory{ID: sc.ID, Name: sc.Name})
	}
	for _, g := range d.SelectionGroups {
		group := domain.SelectionGroup{ID: g.ID, Name: g.Name}
		for _, o := range g.Options {
			group.Options = append(group.Options, domain.SelectionOption{ID: o.ID, Label: o.Label, Value: o.Value})
		}
		p.SelectionGroups = append(p.SelectionGroups, group)
	}

	p.Specifications = parseSpecs("product "+d.ID, d.Specifications)

	if d.Images != nil {
		p.Images = imagesToDomain(d.Images)
	}
	if d.Variants != nil {
		p.Variants = variantsToDomain(d.Variants, parseSpecs)
	}
	return p
}

func (c *categoryDTO) toDomain() *domain.Category {
	if c == nil {
		return nil
	}
	return &domain.Category{
		ID:       c.ID,
		Name:     c.Name,
		ParentID: c.ParentID,
		Parent:   c.Parent.toDomain(),
	}
}

func imagesToDomain(in []imageDTO) []domain.Image {
	out := make([]domain.Image, 0, len(in))
	for _, img := range in {
		out = append(out, domain.Image{ID: img.ID, URL: img.URL, SortOrder: img.DisplayOrder})
	}
	return out
}

func variantsToDomain(in []variantDTO, parseSpecs specsParser) []domain.Variant {
	out := make([]domain.Variant, 0, len(in))
	for _, v := range in {
		variant := domain.Variant{
			ID:            v.ID,
			SKU:           v.SKU,
			Name:          v.Name,
			Price:         v.Price,
			OriginalPrice: v.OriginalPrice,
			IsDeleted:     v.IsDeleted,
		}
		if v.Stock != nil {
			variant.Stock = &domain.Stock{OnHand: v.Stock.OnHand, Reserved: v.Stock.Reserved}
		}
		if v.AttributeValues != nil {
			variant.AttributeValues = make([]domain.AttributeValue, 0, len(v.AttributeValues))
			for _, av := range v.AttributeValues {
				variant.AttributeValues = append(variant.AttributeValues, domain.AttributeValue{
					AttributeID:   av.AttributeID,
					AttributeName: av.AttributeName,
					ValueID:       av.ValueID,
					Value:         av.Value,
				})
			}
		}
		variant.Metadata = parseSpecs("variant "+v.ID, v.Metadata)
		out = append(out, variant)
	}
	return out
}
