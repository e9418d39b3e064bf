// Package engine defines the port to the search index backend.
package engine

import (
	"context"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// Engine indexes product documents and serves queries against them.
// Implementations may use Elasticsearch, in-memory storage, or other backends.
type Engine interface {
	// EnsureIndex creates the index with its mapping when it does not exist.
	EnsureIndex(ctx context.Context) error

	// Ping is a lightweight liveness probe of the backend.
	Ping(ctx context.Context) error

	// Count returns the number of indexed documents.
	Count(ctx context.Context) (int64, error)

	// Index adds or replaces a single document.
	Index(ctx context.Context, doc *domain.ProductDocument) error

	// BulkIndex adds or replaces many documents in one round trip.
	BulkIndex(ctx context.Context, docs []domain.ProductDocument) error

	// Delete removes a document. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteMany removes every listed document.
	DeleteMany(ctx context.Context, ids []string) error

	// DeleteAll empties the index but keeps its mapping.
	DeleteAll(ctx context.Context) error

	// Search executes a structured search and assembles the response.
	Search(ctx context.Context, req *domain.SearchRequest, page domain.Page) (*domain.SearchResult, error)

	// SearchIDs executes a structured search and returns only matching ids.
	SearchIDs(ctx context.Context, req *domain.SearchRequest, page domain.Page) ([]string, error)

	// Suggest returns distinct product names for an autocomplete prefix.
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
}
