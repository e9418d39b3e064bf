package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine/memory"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/kafka"
	"github.com/utafrali/catalogsearch/pkg/worker"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func product(id string, updated time.Time) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      "Product " + id,
		Slug:      id,
		IsActive:  true,
		MinPrice:  1000,
		MaxPrice:  1000,
		Images:    []domain.Image{},
		Variants:  []domain.Variant{},
		CreatedAt: baseTime,
		UpdatedAt: updated,
	}
}

func deletedProduct(id string, updated time.Time) domain.Product {
	p := product(id, updated)
	p.IsDeleted = true
	return p
}

// fakeCatalog is an in-memory catalog.Catalog with error injection.
type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product

	listErrPage int // page that fails ListProducts/ListModifiedSince; -1 for none
	listErr     error
	getErr      error
	countErr    error
	listCalls   int
}

func newFakeCatalog(products ...domain.Product) *fakeCatalog {
	c := &fakeCatalog{products: make(map[string]domain.Product), listErrPage: -1}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) sorted(keep func(domain.Product) bool, less func(a, b domain.Product) bool) []domain.Product {
	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func pageOf(all []domain.Product, page, size int) []domain.Product {
	start := page * size
	if start >= len(all) {
		return nil
	}
	return all[start:min(start+size, len(all))]
}

func (c *fakeCatalog) ListProducts(_ context.Context, page, size int) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if page == c.listErrPage {
		return nil, c.listErr
	}
	all := c.sorted(func(domain.Product) bool { return true },
		func(a, b domain.Product) bool { return a.ID < b.ID })
	return pageOf(all, page, size), nil
}

func (c *fakeCatalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	p, ok := c.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return &p, nil
}

func (c *fakeCatalog) GetProducts(_ context.Context, ids []string) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	var out []domain.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *fakeCatalog) CountProducts(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.countErr != nil {
		return 0, c.countErr
	}
	var n int64
	for _, p := range c.products {
		if !p.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (c *fakeCatalog) ListModifiedSince(_ context.Context, since time.Time, page, size int) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if page == c.listErrPage {
		return nil, c.listErr
	}
	all := c.sorted(
		func(p domain.Product) bool { return !p.UpdatedAt.Before(since) },
		func(a, b domain.Product) bool {
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
			return a.ID < b.ID
		},
	)
	return pageOf(all, page, size), nil
}

// spyEngine wraps the in-memory engine with call counting and failures.
type spyEngine struct {
	*memory.Engine

	mu           sync.Mutex
	pingErr      error
	countErr     error
	deleteAllErr error
	searchErr    error
	suggestErr   error
	bulkErrAt    int // 1-based bulk call that fails; 0 never
	bulkCalls    int
	bulkHook     func()
	deleteAlls   int
	searchCalls  int
	suggestCalls int
}

func newSpyEngine() *spyEngine {
	return &spyEngine{Engine: memory.New()}
}

func (e *spyEngine) Ping(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pingErr
}

func (e *spyEngine) Count(ctx context.Context) (int64, error) {
	e.mu.Lock()
	err := e.countErr
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return e.Engine.Count(ctx)
}

func (e *spyEngine) DeleteAll(ctx context.Context) error {
	e.mu.Lock()
	e.deleteAlls++
	err := e.deleteAllErr
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.Engine.DeleteAll(ctx)
}

func (e *spyEngine) BulkIndex(ctx context.Context, docs []domain.ProductDocument) error {
	e.mu.Lock()
	e.bulkCalls++
	fail := e.bulkErrAt != 0 && e.bulkCalls == e.bulkErrAt
	hook := e.bulkHook
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return apperrors.Unavailable("search backend is unavailable", nil)
	}
	return e.Engine.BulkIndex(ctx, docs)
}

func (e *spyEngine) Search(ctx context.Context, req *domain.SearchRequest, page domain.Page) (*domain.SearchResult, error) {
	e.mu.Lock()
	e.searchCalls++
	err := e.searchErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.Engine.Search(ctx, req, page)
}

func (e *spyEngine) SearchIDs(ctx context.Context, req *domain.SearchRequest, page domain.Page) ([]string, error) {
	e.mu.Lock()
	e.searchCalls++
	err := e.searchErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.Engine.SearchIDs(ctx, req, page)
}

func (e *spyEngine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	e.mu.Lock()
	e.suggestCalls++
	err := e.suggestErr
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.Engine.Suggest(ctx, prefix, limit)
}

func (e *spyEngine) has(id string) bool {
	_, ok := e.Get(id)
	return ok
}

// inlineDispatcher runs tasks synchronously on Submit.
type inlineDispatcher struct {
	submitted []string
	err       error
}

func (d *inlineDispatcher) Submit(name string, fn worker.Task) error {
	if d.err != nil {
		return d.err
	}
	d.submitted = append(d.submitted, name)
	_ = fn(context.Background())
	return nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []*kafka.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event *kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return p.err
}
