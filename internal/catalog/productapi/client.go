// Package productapi reads the catalog from the product service HTTP API. It
// is the alternative to the PostgreSQL adapter for deployments where the
// search service has no direct database access.
package productapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/httpclient"
	"github.com/utafrali/catalogsearch/pkg/logger"
)

const serviceName = "product"

// HTTPDoer executes HTTP requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client implements catalog.Catalog and document.Lookup against the product
// service.
type Client struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// New creates a product service client rooted at baseURL.
func New(doer HTTPDoer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1/catalog",
		logger:  logger,
	}
}

// ListProducts returns one zero-based page of products ordered by id.
func (c *Client) ListProducts(ctx context.Context, page, size int) ([]domain.Product, error) {
	q := pageQuery(page, size)
	products, err := c.fetchProducts(ctx, "/products?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// ListModifiedSince returns one page of products updated at or after since.
func (c *Client) ListModifiedSince(ctx context.Context, since time.Time, page, size int) ([]domain.Product, error) {
	q := pageQuery(page, size)
	q.Set("modified_since", since.UTC().Format(time.RFC3339Nano))
	q.Set("include_deleted", "true")
	products, err := c.fetchProducts(ctx, "/products?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("list modified products: %w", err)
	}
	return products, nil
}

// GetProduct retrieves a product by its ID.
func (c *Client) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var dto productDTO
	status, err := c.get(ctx, "/products/"+url.PathEscape(id), &dto)
	if status == http.StatusNotFound {
		return nil, apperrors.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	p := dto.toDomain(c.specsParser(ctx))
	return &p, nil
}

// GetProducts retrieves all existing products among ids.
func (c *Client) GetProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(lookupRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("marshal product lookup: %w", err)
	}

	var dtos []productDTO
	if _, err := c.do(ctx, http.MethodPost, "/products/lookup", body, &dtos); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return toProducts(dtos, c.specsParser(ctx)), nil
}

// CountProducts counts products that are not soft-deleted.
func (c *Client) CountProducts(ctx context.Context) (int64, error) {
	var resp countResponse
	if _, err := c.get(ctx, "/products/count", &resp); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return resp.Count, nil
}

// Images returns the images of a product.
func (c *Client) Images(ctx context.Context, productID string) ([]domain.Image, error) {
	var dtos []imageDTO
	if _, err := c.get(ctx, "/products/"+url.PathEscape(productID)+"/images", &dtos); err != nil {
		return nil, fmt.Errorf("list product images: %w", err)
	}
	return imagesToDomain(dtos), nil
}

// Variants returns the variants of a product with stock and attribute values.
func (c *Client) Variants(ctx context.Context, productID string) ([]domain.Variant, error) {
	var dtos []variantDTO
	if _, err := c.get(ctx, "/products/"+url.PathEscape(productID)+"/variants", &dtos); err != nil {
		return nil, fmt.Errorf("list product variants: %w", err)
	}
	return variantsToDomain(dtos, c.specsParser(ctx)), nil
}

// Category returns a single category.
func (c *Client) Category(ctx context.Context, id string) (*domain.Category, error) {
	var dto categoryDTO
	status, err := c.get(ctx, "/categories/"+url.PathEscape(id), &dto)
	if status == http.StatusNotFound {
		return nil, apperrors.NotFound("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return dto.toDomain(), nil
}

func (c *Client) fetchProducts(ctx context.Context, path string) ([]domain.Product, error) {
	var dtos []productDTO
	if _, err := c.get(ctx, path, &dtos); err != nil {
		return nil, err
	}
	return toProducts(dtos, c.specsParser(ctx)), nil
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do sends a request and decodes the data field of the response envelope into
// out. The returned status is 0 when no response was received.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("call %s service: %w", serviceName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, httpclient.ParseResponseError(resp, serviceName)
	}
	defer resp.Body.Close()

	env := envelope{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.logger.WarnContext(ctx, "undecodable product service response",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", serviceName, err)
	}
	return resp.StatusCode, nil
}

func pageQuery(page, size int) url.Values {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 100
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return q
}

// specsParser degrades an unreadable specification payload to no entries so
// that one bad product never fails a whole page.
func (c *Client) specsParser(ctx context.Context) specsParser {
	return func(owner string, raw json.RawMessage) []domain.Spec {
		specs, err := domain.ParseSpecs(raw)
		if err != nil {
			c.logger.WarnContext(ctx, "ignoring unreadable specifications",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return specs
	}
}

func toProducts(dtos []productDTO, parseSpecs specsParser) []domain.Product {
	products := make([]domain.Product, 0, len(dtos))
	for i := range dtos {
		products = append(products, dtos[i].toDomain(parseSpecs))
	}
	return products
}
