package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/catalogsearch/internal/domain"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

// Config holds the connection settings of the engine.
type Config struct {
	URL      string
	Index    string
	Username string
	Password string
	// Refresh is passed to single-document and bulk writes ("true",
	// "false" or "wait_for"). Empty means "false".
	Refresh string
}

// Engine is an Elasticsearch-backed implementation of engine.Engine.
type Engine struct {
	client    *elasticsearch.Client
	indexName string
	refresh   string
	logger    *slog.Logger
}

// esErrorResponse is used to decode Elasticsearch error responses.
type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// esBulkResponse is the structure used to decode Elasticsearch bulk responses.
type esBulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]esBulkItemResult `json:"items"`
}

type esBulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// New creates an Elasticsearch engine for the given cluster. It does not
// touch the index; call EnsureIndex during bootstrap.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndexName
	}
	if cfg.Refresh == "" {
		cfg.Refresh = "false"
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: create client: %w", err)
	}

	return &Engine{
		client:    client,
		indexName: cfg.Index,
		refresh:   cfg.Refresh,
		logger:    logger,
	}, nil
}

// IndexName returns the index the engine reads and writes.
func (e *Engine) IndexName() string {
	return e.indexName
}

// Ping checks whether the Elasticsearch cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return transportError("ping", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return responseError("ping", res)
	}
	return nil
}

// EnsureIndex checks whether the products index exists and creates it with
// the catalog mapping if not.
func (e *Engine) EnsureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists(
		[]string{e.indexName},
		e.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return transportError("check index", err)
	}

	switch res.StatusCode {
	case http.StatusOK:
		closeBody(res)
		e.logger.Debug("elasticsearch index already exists", slog.String("index", e.indexName))
		return nil
	case http.StatusNotFound:
		closeBody(res)
	default:
		defer closeBody(res)
		return responseError("check index", res)
	}

	res, err = e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithBody(strings.NewReader(buildIndexMapping())),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return transportError("create index", err)
	}
	defer closeBody(res)

	if res.IsError() {
		var errResp esErrorResponse
		body, _ := io.ReadAll(res.Body)
		// Another replica may have created it between the two calls.
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Type == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("elasticsearch create index: unexpected status %s: %s", res.Status(), errResp.Error.Reason)
	}

	e.logger.Info("elasticsearch index created", slog.String("index", e.indexName))
	return nil
}

// Count returns the number of documents in the index.
func (e *Engine) Count(ctx context.Context) (int64, error) {
	res, err := e.client.Count(
		e.client.Count.WithIndex(e.indexName),
		e.client.Count.WithContext(ctx),
	)
	if err != nil {
		return 0, transportError("count", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return 0, responseError("count", res)
	}

	var body struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("elasticsearch count: decode response: %w", err)
	}
	return body.Count, nil
}

// Index adds or replaces a single document.
func (e *Engine) Index(ctx context.Context, doc *domain.ProductDocument) error {
	if doc == nil {
		return nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("elasticsearch index: marshal document: %w", err)
	}

	res, err := e.client.Index(
		e.indexName,
		bytes.NewReader(data),
		e.client.Index.WithDocumentID(doc.ID),
		e.client.Index.WithRefresh(e.refresh),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return transportError("index", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return responseError("index", res)
	}

	e.logger.Debug("indexed product", slog.String("id", doc.ID))
	return nil
}

// BulkIndex adds or replaces many documents using the bulk NDJSON API.
func (e *Engine) BulkIndex(ctx context.Context, docs []domain.ProductDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range docs {
		action := map[string]any{
			"index": map[string]any{"_index": e.indexName, "_id": docs[i].ID},
		}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("elasticsearch bulk index: encode action: %w", err)
		}
		if err := enc.Encode(&docs[i]); err != nil {
			return fmt.Errorf("elasticsearch bulk index: encode document: %w", err)
		}
	}

	if err := e.bulk(ctx, "bulk index", &buf); err != nil {
		return err
	}

	e.logger.Debug("bulk indexed products", slog.Int("count", len(docs)))
	return nil
}

// Delete removes a document. A missing document is not an error.
func (e *Engine) Delete(ctx context.Context, id string) error {
	res, err := e.client.Delete(
		e.indexName,
		id,
		e.client.Delete.WithRefresh(e.refresh),
		e.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return transportError("delete", err)
	}
	defer closeBody(res)

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete", res)
	}

	e.logger.Debug("deleted product", slog.String("id", id))
	return nil
}

// DeleteMany removes documents with the bulk API; missing ids are ignored.
func (e *Engine) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		action := map[string]any{
			"delete": map[string]any{"_index": e.indexName, "_id": id},
		}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("elasticsearch bulk delete: encode action: %w", err)
		}
	}

	if err := e.bulk(ctx, "bulk delete", &buf); err != nil {
		return err
	}

	e.logger.Debug("bulk deleted products", slog.Int("count", len(ids)))
	return nil
}

// DeleteAll removes every document but keeps the index and its mapping.
func (e *Engine) DeleteAll(ctx context.Context) error {
	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		strings.NewReader(`{"query":{"match_all":{}}}`),
		e.client.DeleteByQuery.WithConflicts("proceed"),
		e.client.DeleteByQuery.WithRefresh(true),
		e.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return transportError("delete all", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return responseError("delete all", res)
	}

	e.logger.Info("elasticsearch index cleared", slog.String("index", e.indexName))
	return nil
}

// bulk sends an NDJSON body and reports per-item failures. Delete items that
// were already absent do not count as failures.
func (e *Engine) bulk(ctx context.Context, op string, body io.Reader) error {
	res, err := e.client.Bulk(
		body,
		e.client.Bulk.WithIndex(e.indexName),
		e.client.Bulk.WithRefresh(e.refresh),
		e.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return transportError(op, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return responseError(op, res)
	}

	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("elasticsearch %s: decode response: %w", op, err)
	}
	if !bulkResp.Errors {
		return nil
	}

	var errMsgs []string
	for _, item := range bulkResp.Items {
		for action, result := range item {
			if result.Error == nil {
				continue
			}
			if action == "delete" && result.Status == http.StatusNotFound {
				continue
			}
			errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s: %s", result.ID, result.Error.Type, result.Error.Reason))
		}
	}
	if len(errMsgs) == 0 {
		return nil
	}
	return fmt.Errorf("elasticsearch %s: %d of %d items failed: %s",
		op, len(errMsgs), len(bulkResp.Items), strings.Join(errMsgs, "; "))
}

// search runs a search request body and decodes the raw response.
func (e *Engine) search(ctx context.Context, op string, body map[string]any) (*searchResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch %s: marshal query: %w", op, err)
	}

	res, err := e.client.Search(
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(bytes.NewReader(data)),
		e.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer closeBody(res)

	if res.IsError() {
		return nil, responseError(op, res)
	}

	var esResp searchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("elasticsearch %s: decode response: %w", op, err)
	}
	return &esResp, nil
}

// transportError marks a failure to reach the cluster as unavailability.
// Caller cancellation is passed through unchanged.
func transportError(op string, err error) error {
	wrapped := fmt.Errorf("elasticsearch %s: %w", op, err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}
	return apperrors.Unavailable("search backend is unavailable", wrapped)
}

// responseError decodes an error response. Server-side and throttling
// statuses are reported as unavailability.
func responseError(op string, res *esapi.Response) error {
	msg := "unexpected status " + res.Status()
	var errResp esErrorResponse
	if decErr := json.NewDecoder(res.Body).Decode(&errResp); decErr == nil && errResp.Error.Type != "" {
		msg = errResp.Error.Type + ": " + errResp.Error.Reason
	}

	err := fmt.Errorf("elasticsearch %s: %s", op, msg)
	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return apperrors.Unavailable("search backend is unavailable", err)
	}
	return err
}

func closeBody(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
}
