package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/pkg/database"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

// productColumns is the projection shared by every product header query.
const productColumns = `
		p.id, p.name, p.slug, p.short_description, p.description,
		p.is_active, p.is_deleted, p.min_price, p.max_price,
		p.average_rating, p.review_count, p.sold_count, p.view_count,
		c.id, c.name, c.parent_id,
		b.id, b.name,
		s.id, s.name,
		p.specifications, p.created_at, p.updated_at`

const productFrom = `
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		LEFT JOIN brands b ON b.id = p.brand_id
		LEFT JOIN stores s ON s.id = p.store_id`

// ProductRepository reads catalog products from PostgreSQL. It implements
// catalog.Catalog and document.Lookup: headers, store categories and
// selection groups are loaded eagerly, images, variants and parent categories
// are resolved on demand by the document mapper.
//
// An unreadable specifications or metadata column is logged and left empty;
// it never fails the row.
type ProductRepository struct {
	pool   database.DBTX
	logger *slog.Logger
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool database.DBTX, logger *slog.Logger) *ProductRepository {
	return &ProductRepository{pool: pool, logger: logger}
}

// ListProducts returns one zero-based page of products ordered by id.
func (r *ProductRepository) ListProducts(ctx context.Context, page, size int) (products []domain.Product, err error) {
	query := `SELECT` + productColumns + productFrom + `
		ORDER BY p.id
		LIMIT $1 OFFSET $2`

	ctx, end := database.TraceQuery(ctx, "ListProducts", query)
	defer func() { end(err) }()

	if size <= 0 {
		size = 100
	}
	if page < 0 {
		page = 0
	}

	products, err = r.queryProducts(ctx, query, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// GetProduct retrieves a product by its ID.
func (r *ProductRepository) GetProduct(ctx context.Context, id string) (_ *domain.Product, err error) {
	query := `SELECT` + productColumns + productFrom + `
		WHERE p.id = $1`

	ctx, end := database.TraceQuery(ctx, "GetProduct", query)
	defer func() { end(err) }()

	p, err := r.scanProduct(ctx, r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	products := []domain.Product{*p}
	if err := r.loadRelations(ctx, products); err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &products[0], nil
}

// GetProducts retrieves all existing products among ids.
func (r *ProductRepository) GetProducts(ctx context.Context, ids []string) (products []domain.Product, err error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT` + productColumns + productFrom + `
		WHERE p.id = ANY($1)
		ORDER BY p.id`

	ctx, end := database.TraceQuery(ctx, "GetProducts", query)
	defer func() { end(err) }()

	products, err = r.queryProducts(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return products, nil
}

// CountProducts counts products that are not soft-deleted.
func (r *ProductRepository) CountProducts(ctx context.Context) (count int64, err error) {
	query := `SELECT count(*) FROM products WHERE is_deleted = false`

	ctx, end := database.TraceQuery(ctx, "CountProducts", query)
	defer func() { end(err) }()

	if err = r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return count, nil
}

// ListModifiedSince returns one page of products updated at or after since,
// including soft-deleted ones.
func (r *ProductRepository) ListModifiedSince(ctx context.Context, since time.Time, page, size int) (products []domain.Product, err error) {
	query := `SELECT` + productColumns + productFrom + `
		WHERE p.updated_at >= $1
		ORDER BY p.updated_at, p.id
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ListModifiedSince", query)
	defer func() { end(err) }()

	if size <= 0 {
		size = 100
	}
	if page < 0 {
		page = 0
	}

	products, err = r.queryProducts(ctx, query, since, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("list modified products: %w", err)
	}
	return products, nil
}

func (r *ProductRepository) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := r.scanProduct(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	if err := r.loadRelations(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// loadRelations attaches store categories and selection groups to products
// with one query each.
func (r *ProductRepository) loadRelations(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	ids := make([]string, len(products))
	index := make(map[string]int, len(products))
	for i := range products {
		ids[i] = products[i].ID
		index[products[i].ID] = i
	}

	storeCats, err := r.storeCategories(ctx, ids)
	if err != nil {
		return err
	}
	groups, err := r.selectionGroups(ctx, ids)
	if err != nil {
		return err
	}

	for id, i := range index {
		products[i].StoreCategories = storeCats[id]
		products[i].SelectionGroups = groups[id]
	}
	return nil
}

func (r *ProductRepository) storeCategories(ctx context.Context, productIDs []string) (map[string][]domain.StoreCategory, error) {
	query := `
		SELECT psc.product_id, sc.id, sc.name
		FROM product_store_categories psc
		JOIN store_categories sc ON sc.id = psc.store_category_id
		WHERE psc.product_id = ANY($1)
		ORDER BY psc.product_id, sc.id`

	rows, err := r.pool.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load store categories: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.StoreCategory)
	for rows.Next() {
		var (
			productID string
			sc        domain.StoreCategory
		)
		if err := rows.Scan(&productID, &sc.ID, &sc.Name); err != nil {
			return nil, fmt.Errorf("scan store category row: %w", err)
		}
		out[productID] = append(out[productID], sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate store category rows: %w", err)
	}
	return out, nil
}

func (r *ProductRepository) selectionGroups(ctx context.Context, productIDs []string) (map[string][]domain.SelectionGroup, error) {
	query := `
		SELECT g.product_id, g.id, g.name, o.id, o.label, o.value
		FROM selection_groups g
		JOIN selection_options o ON o.group_id = g.id
		WHERE g.product_id = ANY($1)
		ORDER BY g.product_id, g.display_order, g.id, o.display_order, o.id`

	rows, err := r.pool.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load selection groups: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.SelectionGroup)
	for rows.Next() {
		var (
			productID, groupID, groupName string
			opt                           domain.SelectionOption
			value                         *string
		)
		if err := rows.Scan(&productID, &groupID, &groupName, &opt.ID, &opt.Label, &value); err != nil {
			return nil, fmt.Errorf("scan selection option row: %w", err)
		}
		if value != nil {
			opt.Value = *value
		}

		groups := out[productID]
		if n := len(groups); n == 0 || groups[n-1].ID != groupID {
			groups = append(groups, domain.SelectionGroup{ID: groupID, Name: groupName})
		}
		last := &groups[len(groups)-1]
		last.Options = append(last.Options, opt)
		out[productID] = groups
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selection option rows: %w", err)
	}
	return out, nil
}

// scanProduct scans one product header row as projected by productColumns.
func (r *ProductRepository) scanProduct(ctx context.Context, row pgx.Row) (*domain.Product, error) {
	var (
		p                      domain.Product
		shortDesc, desc        *string
		catID, catName, catPar *string
		brandID, brandName     *string
		storeID, storeName     *string
		specsJSON              []byte
	)

	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&shortDesc,
		&desc,
		&p.IsActive,
		&p.IsDeleted,
		&p.MinPrice,
		&p.MaxPrice,
		&p.AverageRating,
		&p.ReviewCount,
		&p.SoldCount,
		&p.ViewCount,
		&catID,
		&catName,
		&catPar,
		&brandID,
		&brandName,
		&storeID,
		&storeName,
		&specsJSON,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.ShortDescription = deref(shortDesc)
	p.Description = deref(desc)
	if catID != nil {
		p.Category = &domain.Category{ID: *catID, Name: deref(catName), ParentID: catPar}
	}
	if brandID != nil {
		p.Brand = &domain.Brand{ID: *brandID, Name: deref(brandName)}
	}
	if storeID != nil {
		p.Store = &domain.Store{ID: *storeID, Name: deref(storeName)}
	}

	p.Specifications = r.parseSpecs(ctx, "product "+p.ID, specsJSON)
	return &p, nil
}

func (r *ProductRepository) parseSpecs(ctx context.Context, owner string, raw []byte) []domain.Spec {
	specs, err := domain.ParseSpecs(raw)
	if err != nil {
		r.logger.WarnContext(ctx, "ignoring unreadable specifications",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return specs
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
