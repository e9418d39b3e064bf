package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/utafrali/catalogsearch/internal/catalog"
	"github.com/utafrali/catalogsearch/internal/document"
	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/kafka"
	"github.com/utafrali/catalogsearch/pkg/logger"
	"github.com/utafrali/catalogsearch/pkg/tracing"
	"github.com/utafrali/catalogsearch/pkg/worker"
)

// ErrSyncInProgress is returned when a full sync is requested while another
// one is running.
var ErrSyncInProgress = apperrors.Conflict("a full sync is already in progress")

// EventReindexCompleted is published after a successful full sync.
const EventReindexCompleted = "search.reindex.completed"

const tracerName = "github.com/utafrali/catalogsearch/internal/service"

// Sync defaults.
const (
	DefaultSyncPageSize = 500
	// bootstrapDriftRatio is the share of catalog rows the index must hold
	// before bootstrap stops warning about drift.
	bootstrapDriftRatio = 0.9
)

// Dispatcher runs tasks in the background. *worker.Pool implements it.
type Dispatcher interface {
	Submit(name string, fn worker.Task) error
}

// Publisher emits domain events. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// SyncConfig tunes the sync loops.
type SyncConfig struct {
	PageSize       int
	PagesPerSecond float64
	// ServiceName is the source of published events.
	ServiceName string
}

// SyncDeps are the collaborators of SyncService. Watermarks defaults to an
// in-memory store and Publisher may be nil.
type SyncDeps struct {
	Catalog    catalog.Catalog
	Mapper     *document.Mapper
	Engine     engine.Engine
	Guard      *SyncGuard
	Watermarks WatermarkStore
	Tasks      Dispatcher
	Publisher  Publisher
}

// SyncService keeps the search index consistent with the catalog.
type SyncService struct {
	catalog    catalog.Catalog
	mapper     *document.Mapper
	engine     engine.Engine
	guard      *SyncGuard
	watermarks WatermarkStore
	tasks      Dispatcher
	publisher  Publisher
	cfg        SyncConfig
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	lastFull *domain.FullSyncReport
}

// NewSyncService creates a sync orchestrator.
func NewSyncService(deps SyncDeps, cfg SyncConfig, logger *slog.Logger) *SyncService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultSyncPageSize
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "catalog-search"
	}
	if deps.Guard == nil {
		deps.Guard = NewSyncGuard()
	}
	if deps.Watermarks == nil {
		deps.Watermarks = NewMemoryWatermarkStore()
	}

	return &SyncService{
		catalog:    deps.Catalog,
		mapper:     deps.Mapper,
		engine:     deps.Engine,
		guard:      deps.Guard,
		watermarks: deps.Watermarks,
		tasks:      deps.Tasks,
		publisher:  deps.Publisher,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IsHealthy probes the index backend.
func (s *SyncService) IsHealthy(ctx context.Context) bool {
	return s.engine.Ping(ctx) == nil
}

// Bootstrap prepares the index at startup. It is skipped when the backend is
// unreachable. An empty index over a non-empty catalog triggers a background
// full sync; an index far behind the catalog is only reported.
func (s *SyncService) Bootstrap(ctx context.Context) error {
	if err := s.engine.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "search backend unreachable, skipping index bootstrap",
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := s.engine.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	indexed, err := s.engine.Count(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "bootstrap: count indexed documents failed", slog.String("error", err.Error()))
		return nil
	}
	total, err := s.catalog.CountProducts(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "bootstrap: count catalog products failed", slog.String("error", err.Error()))
		return nil
	}

	switch {
	case indexed == 0 && total > 0:
		s.logger.InfoContext(ctx, "search index is empty, starting full sync",
			slog.Int64("total_in_db", total),
		)
		if _, err := s.ReindexAll(ctx); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	case float64(indexed) < bootstrapDriftRatio*float64(total):
		s.logger.WarnContext(ctx, "search index is behind the catalog",
			slog.Int64("indexed_count", indexed),
			slog.Int64("total_in_db", total),
		)
	default:
		s.logger.InfoContext(ctx, "search index is up to date",
			slog.Int64("indexed_count", indexed),
			slog.Int64("total_in_db", total),
		)
	}
	return nil
}

// ReindexAll starts a full sync in the background. It reports false without
// error when a sync is already running, and an error when the task could not
// be dispatched.
func (s *SyncService) ReindexAll(ctx context.Context) (bool, error) {
	if !s.guard.TryAcquire() {
		s.logger.InfoContext(ctx, "full sync already in progress, request ignored")
		return false, nil
	}

	correlationID := logger.CorrelationIDFromContext(ctx)
	err := s.tasks.Submit("full_sync", func(taskCtx context.Context) error {
		defer s.guard.Release()
		if correlationID != "" {
			taskCtx = logger.WithCorrelationID(taskCtx, correlationID)
		}
		return s.runFullSync(taskCtx)
	})
	if err != nil {
		s.guard.Release()
		return false, apperrors.Unavailable("sync queue cannot accept a full sync", err)
	}
	return true, nil
}

// FullSync rebuilds the index synchronously. It returns ErrSyncInProgress
// when another sync holds the guard.
func (s *SyncService) FullSync(ctx context.Context) error {
	if !s.guard.TryAcquire() {
		return ErrSyncInProgress
	}
	defer s.guard.Release()
	return s.runFullSync(ctx)
}

// CancelFullSync aborts the running full sync between pages.
func (s *SyncService) CancelFullSync(ctx context.Context) bool {
	canceled := s.guard.Cancel()
	if canceled {
		s.logger.InfoContext(ctx, "full sync cancel requested")
	}
	return canceled
}

// SyncInProgress reports whether a full sync is running.
func (s *SyncService) SyncInProgress() bool {
	return s.guard.InProgress()
}

// runFullSync clears the index and rewrites it page by page. The caller
// holds the guard. A failing page aborts the run.
func (s *SyncService) runFullSync(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.guard.setCancel(cancel)

	runID := uuid.NewString()
	ctx = logger.WithSyncRunID(ctx, runID)

	ctx, span := tracing.Tracer(tracerName).Start(ctx, "sync.full",
		trace.WithAttributes(attribute.String("sync.run_id", runID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := s.now()
	report := domain.FullSyncReport{StartedAt: start}
	s.setLastFull(report)

	syncInProgress.Set(1)
	defer syncInProgress.Set(0)

	defer func() {
		finished := s.now()
		report.FinishedAt = &finished
		outcome := "success"
		switch {
		case report.Canceled:
			outcome = "canceled"
		case err != nil:
			outcome = "failure"
			report.Error = err.Error()
		}
		fullSyncDuration.WithLabelValues(outcome).Observe(finished.Sub(start).Seconds())
		s.setLastFull(report)
	}()

	s.logger.InfoContext(ctx, "full sync started", slog.Int("page_size", s.cfg.PageSize))

	if err := s.engine.DeleteAll(ctx); err != nil {
		return s.fullSyncAborted(ctx, &report, fmt.Errorf("full sync: clear index: %w", err))
	}

	limiter := s.newLimiter()
	for page := 0; ; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return s.fullSyncAborted(ctx, &report, fmt.Errorf("full sync: %w", err))
		}

		products, err := s.catalog.ListProducts(ctx, page, s.cfg.PageSize)
		if err != nil {
			syncPageFailures.WithLabelValues(modeFull).Inc()
			return s.fullSyncAborted(ctx, &report, fmt.Errorf("full sync: load page %d: %w", page, err))
		}
		if len(products) == 0 {
			break
		}

		docs := make([]domain.ProductDocument, 0, len(products))
		for i := range products {
			if products[i].IsDeleted {
				report.Skipped++
				continue
			}
			if doc := s.mapper.ToDocument(ctx, &products[i]); doc != nil {
				docs = append(docs, *doc)
			}
		}

		if err := s.engine.BulkIndex(ctx, docs); err != nil {
			syncPageFailures.WithLabelValues(modeFull).Inc()
			return s.fullSyncAborted(ctx, &report, fmt.Errorf("full sync: write page %d: %w", page, err))
		}

		report.Indexed += len(docs)
		report.Pages++
		documentsIndexed.WithLabelValues(modeFull).Add(float64(len(docs)))
		s.setLastFull(report)

		s.logger.DebugContext(ctx, "full sync page written",
			slog.Int("page", page),
			slog.Int("documents", len(docs)),
		)

		if len(products) < s.cfg.PageSize {
			break
		}
	}

	s.logger.InfoContext(ctx, "full sync completed",
		slog.Int("indexed", report.Indexed),
		slog.Int("skipped", report.Skipped),
		slog.Int("pages", report.Pages),
		slog.Duration("duration", s.now().Sub(start)),
	)

	// The rebuild covers every change made before it started.
	if err := s.watermarks.Save(ctx, start); err != nil {
		s.logger.WarnContext(ctx, "save sync watermark failed", slog.String("error", err.Error()))
	}
	s.publishCompleted(ctx, runID, report)
	return nil
}

// fullSyncAborted records why the run stopped. Cancellation is reported as
// apperrors.ErrCanceled.
func (s *SyncService) fullSyncAborted(ctx context.Context, report *domain.FullSyncReport, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		report.Canceled = true
		s.logger.WarnContext(ctx, "full sync canceled",
			slog.Int("indexed", report.Indexed),
			slog.Int("pages", report.Pages),
		)
		return fmt.Errorf("%w: %w", apperrors.ErrCanceled, err)
	}

	s.logger.ErrorContext(ctx, "full sync aborted",
		slog.Int("indexed", report.Indexed),
		slog.Int("pages", report.Pages),
		slog.String("error", err.Error()),
	)
	return err
}

func (s *SyncService) publishCompleted(ctx context.Context, runID string, report domain.FullSyncReport) {
	if s.publisher == nil {
		return
	}

	event, err := kafka.NewEvent(EventReindexCompleted, runID, "search_index", s.cfg.ServiceName, report)
	if err != nil {
		s.logger.WarnContext(ctx, "build reindex event failed", slog.String("error", err.Error()))
		return
	}
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		event.WithCorrelationID(cid)
	}

	if err := s.publisher.Publish(ctx, kafka.Topic("search", "reindex.completed"), event); err != nil {
		s.logger.WarnContext(ctx, "publish reindex event failed", slog.String("error", err.Error()))
	}
}

// IncrementalSync applies catalog changes made since the last successful
// window. Rows that are soft-deleted now are removed from the index. The
// watermark advances to the window start only when every page succeeded.
func (s *SyncService) IncrementalSync(ctx context.Context) error {
	if s.guard.InProgress() {
		s.logger.DebugContext(ctx, "full sync running, skipping incremental sync")
		return nil
	}
	if !s.IsHealthy(ctx) {
		s.logger.WarnContext(ctx, "search backend unreachable, skipping incremental sync")
		return nil
	}

	ctx, span := tracing.Tracer(tracerName).Start(ctx, "sync.incremental")
	defer span.End()

	since, _, err := s.watermarks.Load(ctx)
	if err != nil {
		return fmt.Errorf("incremental sync: %w", err)
	}
	windowStart := s.now()
	span.SetAttributes(attribute.String("sync.since", since.Format(time.RFC3339)))

	var indexed, deleted int
	limiter := s.newLimiter()
	for page := 0; ; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("incremental sync: %w", err)
		}

		products, err := s.catalog.ListModifiedSince(ctx, since, page, s.cfg.PageSize)
		if err != nil {
			syncPageFailures.WithLabelValues(modeIncremental).Inc()
			return fmt.Errorf("incremental sync: load page %d: %w", page, err)
		}
		if len(products) == 0 {
			break
		}

		docs, removed := s.partition(ctx, products)
		if err := s.engine.BulkIndex(ctx, docs); err != nil {
			syncPageFailures.WithLabelValues(modeIncremental).Inc()
			return fmt.Errorf("incremental sync: write page %d: %w", page, err)
		}
		if err := s.engine.DeleteMany(ctx, removed); err != nil {
			syncPageFailures.WithLabelValues(modeIncremental).Inc()
			return fmt.Errorf("incremental sync: delete page %d: %w", page, err)
		}

		indexed += len(docs)
		deleted += len(removed)
		documentsIndexed.WithLabelValues(modeIncremental).Add(float64(len(docs)))
		documentsDeleted.WithLabelValues(modeIncremental).Add(float64(len(removed)))

		if len(products) < s.cfg.PageSize {
			break
		}
	}

	if err := s.watermarks.Save(ctx, windowStart); err != nil {
		return fmt.Errorf("incremental sync: %w", err)
	}

	s.logger.InfoContext(ctx, "incremental sync completed",
		slog.Time("since", since),
		slog.Int("indexed", indexed),
		slog.Int("deleted", deleted),
	)
	return nil
}

// IndexOne synchronizes a single product. A missing or soft-deleted product
// is removed from the index.
func (s *SyncService) IndexOne(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.InvalidInput("product id is required")
	}

	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("index product %s: %w", id, err)
	}

	if p == nil || p.IsDeleted {
		if err := s.engine.Delete(ctx, id); err != nil {
			return fmt.Errorf("index product %s: remove: %w", id, err)
		}
		documentsDeleted.WithLabelValues(modeTargeted).Inc()
		s.logger.DebugContext(ctx, "product absent from catalog, removed from index", slog.String("product_id", id))
		return nil
	}

	if err := s.engine.Index(ctx, s.mapper.ToDocument(ctx, p)); err != nil {
		return fmt.Errorf("index product %s: %w", id, err)
	}
	documentsIndexed.WithLabelValues(modeTargeted).Inc()
	s.logger.DebugContext(ctx, "product indexed", slog.String("product_id", id))
	return nil
}

// IndexMany synchronizes a batch of products in page-sized chunks. Ids that
// are missing or soft-deleted in the catalog are removed from the index.
func (s *SyncService) IndexMany(ctx context.Context, ids []string) error {
	ids = uniqueIDs(ids)

	for start := 0; start < len(ids); start += s.cfg.PageSize {
		end := min(start+s.cfg.PageSize, len(ids))
		chunk := ids[start:end]

		products, err := s.catalog.GetProducts(ctx, chunk)
		if err != nil {
			return fmt.Errorf("index products: load: %w", err)
		}

		docs, removed := s.partition(ctx, products)

		found := make(map[string]struct{}, len(products))
		for i := range products {
			found[products[i].ID] = struct{}{}
		}
		for _, id := range chunk {
			if _, ok := found[id]; !ok {
				removed = append(removed, id)
			}
		}

		if err := s.engine.BulkIndex(ctx, docs); err != nil {
			return fmt.Errorf("index products: write: %w", err)
		}
		if err := s.engine.DeleteMany(ctx, removed); err != nil {
			return fmt.Errorf("index products: delete: %w", err)
		}
		documentsIndexed.WithLabelValues(modeTargeted).Add(float64(len(docs)))
		documentsDeleted.WithLabelValues(modeTargeted).Add(float64(len(removed)))
	}

	s.logger.InfoContext(ctx, "batch sync completed", slog.Int("products", len(ids)))
	return nil
}

// IndexManyAsync dispatches IndexMany to the background task pool.
func (s *SyncService) IndexManyAsync(ctx context.Context, ids []string) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	correlationID := logger.CorrelationIDFromContext(ctx)
	err := s.tasks.Submit("batch_sync", func(taskCtx context.Context) error {
		if correlationID != "" {
			taskCtx = logger.WithCorrelationID(taskCtx, correlationID)
		}
		return s.IndexMany(taskCtx, ids)
	})
	if err != nil {
		return apperrors.Unavailable("sync queue cannot accept a batch sync", err)
	}
	return nil
}

// Remove deletes a product document by id.
func (s *SyncService) Remove(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.InvalidInput("product id is required")
	}
	if err := s.engine.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove product %s: %w", id, err)
	}
	documentsDeleted.WithLabelValues(modeTargeted).Inc()
	return nil
}

// HandleProductChanged reindexes a product after a catalog write. Failures
// are logged and swallowed; a stale index entry is healed by the next
// incremental sync.
func (s *SyncService) HandleProductChanged(ctx context.Context, id string) {
	if err := s.IndexOne(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "reindex after product change failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// HandleProductDeleted removes a product after a catalog delete. Failures
// are logged and swallowed.
func (s *SyncService) HandleProductDeleted(ctx context.Context, id string) {
	if err := s.Remove(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "remove after product delete failed",
			slog.String("product_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Stats reports index and catalog counts and sync status. It never fails:
// count errors are reported in the returned fields.
func (s *SyncService) Stats(ctx context.Context) domain.SyncStats {
	stats := domain.SyncStats{
		SyncInProgress: s.guard.InProgress(),
		BackendHealthy: s.IsHealthy(ctx),
	}

	if n, err := s.engine.Count(ctx); err != nil {
		stats.IndexCountError = err.Error()
	} else {
		stats.IndexedCount = n
	}
	if n, err := s.catalog.CountProducts(ctx); err != nil {
		stats.DBCountError = err.Error()
	} else {
		stats.TotalInDB = n
	}

	s.mu.Lock()
	if s.lastFull != nil {
		r := *s.lastFull
		stats.LastFullSync = &r
	}
	s.mu.Unlock()

	return stats
}

// partition maps live products to documents and collects the ids of
// soft-deleted ones.
func (s *SyncService) partition(ctx context.Context, products []domain.Product) ([]domain.ProductDocument, []string) {
	docs := make([]domain.ProductDocument, 0, len(products))
	var removed []string
	for i := range products {
		if products[i].IsDeleted {
			removed = append(removed, products[i].ID)
			continue
		}
		if doc := s.mapper.ToDocument(ctx, &products[i]); doc != nil {
			docs = append(docs, *doc)
		}
	}
	return docs, removed
}

func (s *SyncService) newLimiter() *rate.Limiter {
	if s.cfg.PagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(s.cfg.PagesPerSecond), 1)
}

func (s *SyncService) setLastFull(r domain.FullSyncReport) {
	s.mu.Lock()
	s.lastFull = &r
	s.mu.Unlock()
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
