package domain

import (
	"time"
)

// ProductDocument is the denormalized search document of one product. Its ID
// is the product ID; it has no lifecycle of its own.
type ProductDocument struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Thumbnail        string `json:"thumbnail,omitempty"`

	MinPrice      int64    `json:"min_price"`
	MaxPrice      int64    `json:"max_price"`
	AverageRating *float64 `json:"average_rating,omitempty"`
	ReviewCount   int      `json:"review_count"`
	SoldCount     int64    `json:"sold_count"`
	ViewCount     int64    `json:"view_count"`

	IsActive  bool `json:"is_active"`
	IsDeleted bool `json:"is_deleted"`

	CategoryID   string   `json:"category_id,omitempty"`
	CategoryName string   `json:"category_name,omitempty"`
	CategoryPath []string `json:"category_path"`
	BrandID      string   `json:"brand_id,omitempty"`
	BrandName    string   `json:"brand_name,omitempty"`
	StoreID      string   `json:"store_id,omitempty"`
	StoreName    string   `json:"store_name,omitempty"`

	StoreCategories  []StoreCategoryRef  `json:"store_categories"`
	Variants         []VariantDoc        `json:"variants"`
	Attributes       []AttributeDoc      `json:"attributes"`
	SpecText         string              `json:"spec_text,omitempty"`
	Specs            []SpecDoc           `json:"specs"`
	SelectionOptions []SelectionOptionDoc `json:"selection_options"`
	Suggest          SuggestPayload      `json:"suggest"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoreCategoryRef is a store-level classification copied onto the document.
type StoreCategoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// VariantDoc is the denormalized view of a variant.
type VariantDoc struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	OriginalPrice *int64    `json:"original_price,omitempty"`
	Stock         int64     `json:"stock"`
	MetadataText  string    `json:"metadata_text,omitempty"`
	Metadata      []SpecDoc `json:"metadata"`
}

// AttributeDoc is one (attribute, value) pair, stored as a nested object so
// that attribute id and value match together.
type AttributeDoc struct {
	AttributeID   string `json:"attribute_id"`
	AttributeName string `json:"attribute_name"`
	ValueID       string `json:"value_id"`
	Value         string `json:"value"`
}

// SpecDoc is a flattened specification entry.
type SpecDoc struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// SelectionOptionDoc is a flattened selection option with its group.
type SelectionOptionDoc struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
	OptionID  string `json:"option_id"`
	Label     string `json:"label"`
	Value     string `json:"value,omitempty"`
}

// SuggestPayload holds the autocomplete candidates of a document.
type SuggestPayload struct {
	Input  []string `json:"input"`
	Weight int      `json:"weight"`
}

// Suggestion weight bounds.
const (
	MinSuggestWeight = 1
	MaxSuggestWeight = 100
)
