package domain

import (
	"time"
)

// Product is the system-of-record product aggregate as read from the catalog.
// It is consumed read-only: the search side never writes it back.
//
// Variants and Images distinguish "not loaded" (nil) from "loaded and empty"
// (non-nil, zero length) so the document mapper knows when it has to resolve
// them through companion lookups.
type Product struct {
	ID               string
	Name             string
	Slug             string
	ShortDescription string
	Description      string
	IsActive         bool
	IsDeleted        bool

	// MinPrice and MaxPrice bound the price of every active variant.
	MinPrice int64
	MaxPrice int64

	AverageRating *float64
	ReviewCount   int
	SoldCount     *int64
	ViewCount     *int64

	Category        *Category
	Brand           *Brand
	Store           *Store
	StoreCategories []StoreCategory
	Specifications  []Spec
	Variants        []Variant
	Images          []Image
	SelectionGroups []SelectionGroup

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Category is a node in the platform category tree. Parent is populated only
// when the loader resolved the chain; ParentID is always set for non-root nodes.
type Category struct {
	ID       string
	Name     string
	ParentID *string
	Parent   *Category
}

// Brand is the optional brand of a product.
type Brand struct {
	ID   string
	Name string
}

// Store is the seller store owning a product.
type Store struct {
	ID   string
	Name string
}

// StoreCategory is a seller-defined secondary classification.
type StoreCategory struct {
	ID   string
	Name string
}

// Image is a product image; the lowest SortOrder is the thumbnail.
type Image struct {
	ID        string
	URL       string
	SortOrder int
}

// Variant is a purchasable variant of a product.
type Variant struct {
	ID              string
	SKU             string
	Name            string
	Price           int64
	OriginalPrice   *int64
	IsDeleted       bool
	Stock           *Stock
	Metadata        []Spec
	AttributeValues []AttributeValue
}

// Stock is the inventory row of a variant.
type Stock struct {
	OnHand   int64
	Reserved int64
}

// Available returns on-hand minus reserved, never below zero.
func (s *Stock) Available() int64 {
	if s == nil {
		return 0
	}
	if avail := s.OnHand - s.Reserved; avail > 0 {
		return avail
	}
	return 0
}

// AttributeValue associates a variant with one value of a catalog attribute.
type AttributeValue struct {
	AttributeID   string
	AttributeName string
	ValueID       string
	Value         string
}

// SelectionGroup is a seller-defined, non-attribute selection dimension
// (e.g. "Phone model" for a case product).
type SelectionGroup struct {
	ID      string
	Name    string
	Options []SelectionOption
}

// SelectionOption is one choice inside a SelectionGroup.
type SelectionOption struct {
	ID    string
	Label string
	Value string
}
