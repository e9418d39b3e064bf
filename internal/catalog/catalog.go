// Package catalog defines the read-only port to the product system of record.
package catalog

import (
	"context"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// Catalog reads product aggregates from the system of record.
//
// Listing methods return soft-deleted rows too; callers decide what to do
// with them. GetProduct returns an error wrapping apperrors.ErrNotFound when
// the id does not exist.
type Catalog interface {
	// ListProducts returns one zero-based page ordered by id.
	ListProducts(ctx context.Context, page, size int) ([]domain.Product, error)

	// GetProduct looks up a single product.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// GetProducts looks up many products; missing ids are simply absent.
	GetProducts(ctx context.Context, ids []string) ([]domain.Product, error)

	// CountProducts counts products that are not soft-deleted.
	CountProducts(ctx context.Context) (int64, error)

	// ListModifiedSince returns one page of products updated at or after since,
	// ordered by (updated_at, id).
	ListModifiedSince(ctx context.Context, since time.Time, page, size int) ([]domain.Product, error)
}
