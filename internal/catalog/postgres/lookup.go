package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/pkg/database"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

// Images returns the images of a product in display order.
func (r *ProductRepository) Images(ctx context.Context, productID string) (images []domain.Image, err error) {
	query := `
		SELECT id, url, display_order
		FROM product_images
		WHERE product_id = $1
		ORDER BY display_order, id`

	ctx, end := database.TraceQuery(ctx, "ListProductImages", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list product images: %w", err)
	}
	defer rows.Close()

	images = make([]domain.Image, 0)
	for rows.Next() {
		var img domain.Image
		if err = rows.Scan(&img.ID, &img.URL, &img.SortOrder); err != nil {
			return nil, fmt.Errorf("scan product image row: %w", err)
		}
		images = append(images, img)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product image rows: %w", err)
	}
	return images, nil
}

// Variants returns the variants of a product, soft-deleted ones included,
// with stock and attribute values resolved.
func (r *ProductRepository) Variants(ctx context.Context, productID string) (variants []domain.Variant, err error) {
	query := `
		SELECT v.id, v.sku, v.name, v.price, v.original_price, v.is_deleted,
		       vs.on_hand, vs.reserved, v.metadata
		FROM product_variants v
		LEFT JOIN variant_stock vs ON vs.variant_id = v.id
		WHERE v.product_id = $1
		ORDER BY v.created_at, v.id`

	ctx, end := database.TraceQuery(ctx, "ListProductVariants", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list product variants: %w", err)
	}
	defer rows.Close()

	variants = make([]domain.Variant, 0)
	for rows.Next() {
		var (
			v                domain.Variant
			name             *string
			onHand, reserved *int64
			metadataJSON     []byte
		)
		if err = rows.Scan(
			&v.ID,
			&v.SKU,
			&name,
			&v.Price,
			&v.OriginalPrice,
			&v.IsDeleted,
			&onHand,
			&reserved,
			&metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("scan product variant row: %w", err)
		}
		v.Name = deref(name)
		if onHand != nil {
			v.Stock = &domain.Stock{OnHand: *onHand}
			if reserved != nil {
				v.Stock.Reserved = *reserved
			}
		}
		v.Metadata = r.parseSpecs(ctx, "variant "+v.ID, metadataJSON)
		variants = append(variants, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product variant rows: %w", err)
	}
	rows.Close()

	if err = r.attachAttributeValues(ctx, variants); err != nil {
		return nil, err
	}
	return variants, nil
}

func (r *ProductRepository) attachAttributeValues(ctx context.Context, variants []domain.Variant) error {
	if len(variants) == 0 {
		return nil
	}

	ids := make([]string, len(variants))
	index := make(map[string]int, len(variants))
	for i := range variants {
		ids[i] = variants[i].ID
		index[variants[i].ID] = i
	}

	query := `
		SELECT vav.variant_id, a.id, a.name, av.id, av.value
		FROM variant_attribute_values vav
		JOIN attribute_values av ON av.id = vav.attribute_value_id
		JOIN attributes a ON a.id = av.attribute_id
		WHERE vav.variant_id = ANY($1)
		ORDER BY vav.variant_id, a.name, av.value`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("list variant attribute values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			variantID string
			av        domain.AttributeValue
		)
		if err := rows.Scan(&variantID, &av.AttributeID, &av.AttributeName, &av.ValueID, &av.Value); err != nil {
			return fmt.Errorf("scan variant attribute value row: %w", err)
		}
		if i, ok := index[variantID]; ok {
			variants[i].AttributeValues = append(variants[i].AttributeValues, av)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate variant attribute value rows: %w", err)
	}
	return nil
}

// Category returns a single category without its parent resolved.
func (r *ProductRepository) Category(ctx context.Context, id string) (_ *domain.Category, err error) {
	query := `SELECT id, name, parent_id FROM categories WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetCategory", query)
	defer func() { end(err) }()

	var c domain.Category
	if err = r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("category", id)
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}
