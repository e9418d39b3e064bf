package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/utafrali/catalogsearch/internal/document"
	"github.com/utafrali/catalogsearch/internal/domain"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/kafka"
	"github.com/utafrali/catalogsearch/pkg/worker"
)

type syncFixture struct {
	catalog    *fakeCatalog
	engine     *spyEngine
	guard      *SyncGuard
	watermarks *MemoryWatermarkStore
	tasks      *inlineDispatcher
	publisher  *recordingPublisher
	svc        *SyncService
}

func newSyncFixture(t *testing.T, pageSize int, products ...domain.Product) *syncFixture {
	t.Helper()
	f := &syncFixture{
		catalog:    newFakeCatalog(products...),
		engine:     newSpyEngine(),
		guard:      NewSyncGuard(),
		watermarks: NewMemoryWatermarkStore(),
		tasks:      &inlineDispatcher{},
		publisher:  &recordingPublisher{},
	}
	f.svc = NewSyncService(SyncDeps{
		Catalog:    f.catalog,
		Mapper:     document.NewMapper(nil, newTestLogger()),
		Engine:     f.engine,
		Guard:      f.guard,
		Watermarks: f.watermarks,
		Tasks:      f.tasks,
		Publisher:  f.publisher,
	}, SyncConfig{PageSize: pageSize}, newTestLogger())
	f.svc.now = func() time.Time { return baseTime.Add(time.Hour) }
	return f
}

func (f *syncFixture) seedIndex(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.engine.Index(context.Background(), &domain.ProductDocument{ID: id, Name: id, IsActive: true}))
	}
}

func (f *syncFixture) indexed(t *testing.T) int64 {
	t.Helper()
	n, err := f.engine.Engine.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestNewSyncService_Defaults(t *testing.T) {
	svc := NewSyncService(SyncDeps{Engine: newSpyEngine()}, SyncConfig{}, newTestLogger())
	assert.Equal(t, DefaultSyncPageSize, svc.cfg.PageSize)
	assert.NotNil(t, svc.guard)
	assert.NotNil(t, svc.watermarks)
}

func TestFullSync_IndexesActiveAndSkipsDeleted(t *testing.T) {
	f := newSyncFixture(t, 2,
		product("p1", baseTime), product("p2", baseTime), deletedProduct("p3", baseTime),
		product("p4", baseTime), product("p5", baseTime),
	)
	f.seedIndex(t, "stale")

	require.NoError(t, f.svc.FullSync(context.Background()))

	assert.Equal(t, int64(4), f.indexed(t))
	assert.False(t, f.engine.has("p3"), "soft-deleted rows are not indexed")
	assert.False(t, f.engine.has("stale"), "the index is cleared before rebuilding")
	assert.False(t, f.guard.InProgress())

	stats := f.svc.Stats(context.Background())
	require.NotNil(t, stats.LastFullSync)
	assert.Equal(t, 4, stats.LastFullSync.Indexed)
	assert.Equal(t, 1, stats.LastFullSync.Skipped)
	assert.Equal(t, 3, stats.LastFullSync.Pages)
	assert.NotNil(t, stats.LastFullSync.FinishedAt)
	assert.Empty(t, stats.LastFullSync.Error)

	wm, ok, _ := f.watermarks.Load(context.Background())
	assert.True(t, ok)
	assert.Equal(t, baseTime.Add(time.Hour), wm)
}

func TestFullSync_PublishesCompletionEvent(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))

	require.NoError(t, f.svc.FullSync(context.Background()))

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, kafka.Topic("search", "reindex.completed"), f.publisher.topics[0])
	assert.Equal(t, EventReindexCompleted, f.publisher.events[0].EventType)

	var report domain.FullSyncReport
	require.NoError(t, f.publisher.events[0].UnmarshalData(&report))
	assert.Equal(t, 1, report.Indexed)
}

func TestFullSync_PublishFailureDoesNotFailSync(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))
	f.publisher.err = errors.New("broker down")

	assert.NoError(t, f.svc.FullSync(context.Background()))
}

func TestFullSync_PageLoadFailureAbortsRun(t *testing.T) {
	f := newSyncFixture(t, 1, product("p1", baseTime), product("p2", baseTime), product("p3", baseTime))
	f.catalog.listErrPage = 1
	f.catalog.listErr = errors.New("connection reset")

	err := f.svc.FullSync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load page 1")

	assert.Equal(t, int64(1), f.indexed(t), "pages before the failure stay written")
	assert.Equal(t, 2, f.catalog.listCalls, "no page after the failing one is read")
	assert.False(t, f.guard.InProgress())

	report := f.svc.Stats(context.Background()).LastFullSync
	require.NotNil(t, report)
	assert.Contains(t, report.Error, "connection reset")
	assert.False(t, report.Canceled)
}

func TestSyncRuns_AreTraced(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	f := newSyncFixture(t, 1, product("p1", baseTime), product("p2", baseTime))
	f.catalog.listErrPage = 1
	f.catalog.listErr = errors.New("connection reset")

	require.Error(t, f.svc.FullSync(context.Background()))
	f.catalog.listErr = nil
	require.NoError(t, f.svc.IncrementalSync(context.Background()))

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 2)
	assert.Equal(t, "sync.full", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "sync.incremental", spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestFullSync_PageWriteFailureAbortsRun(t *testing.T) {
	f := newSyncFixture(t, 1, product("p1", baseTime), product("p2", baseTime), product("p3", baseTime))
	f.engine.bulkErrAt = 2

	err := f.svc.FullSync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Equal(t, 2, f.engine.bulkCalls)
	assert.Equal(t, int64(1), f.indexed(t))
	assert.Empty(t, f.publisher.events)
}

func TestFullSync_ClearFailure(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))
	f.engine.deleteAllErr = errors.New("boom")

	err := f.svc.FullSync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear index")
	assert.Zero(t, f.catalog.listCalls)
}

func TestFullSync_MutualExclusion(t *testing.T) {
	f := newSyncFixture(t, 1, product("p1", baseTime), product("p2", baseTime))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.engine.bulkHook = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan error, 1)
	go func() { done <- f.svc.FullSync(context.Background()) }()
	<-entered

	// A second request while the first one is writing performs no mutation.
	deleteAllsBefore := f.engine.deleteAlls
	assert.ErrorIs(t, f.svc.FullSync(context.Background()), ErrSyncInProgress)
	started, err := f.svc.ReindexAll(context.Background())
	assert.NoError(t, err)
	assert.False(t, started)
	assert.Empty(t, f.tasks.submitted)
	assert.Equal(t, deleteAllsBefore, f.engine.deleteAlls)
	assert.True(t, f.svc.Stats(context.Background()).SyncInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.engine.deleteAlls)
	assert.False(t, f.svc.SyncInProgress())
}

func TestFullSync_ConcurrentRequestsRunOnce(t *testing.T) {
	f := newSyncFixture(t, 1, product("p1", baseTime))
	f.guard.TryAcquire()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.FullSync(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrSyncInProgress)
	}
	assert.Zero(t, f.engine.deleteAlls)
}

func TestFullSync_CancelStopsBetweenPages(t *testing.T) {
	f := newSyncFixture(t, 1, product("p1", baseTime), product("p2", baseTime), product("p3", baseTime))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.engine.bulkHook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	assert.False(t, f.svc.CancelFullSync(context.Background()), "nothing to cancel yet")

	done := make(chan error, 1)
	go func() { done <- f.svc.FullSync(context.Background()) }()
	<-entered

	assert.True(t, f.svc.CancelFullSync(context.Background()))
	close(release)

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCanceled)
	assert.Equal(t, 1, f.engine.bulkCalls, "no page is written after cancel")

	report := f.svc.Stats(context.Background()).LastFullSync
	require.NotNil(t, report)
	assert.True(t, report.Canceled)
	assert.Equal(t, 1, report.Indexed)
	assert.False(t, f.guard.InProgress())
	assert.Empty(t, f.publisher.events)
}

func TestReindexAll_DispatchesFullSync(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime), product("p2", baseTime))

	started, err := f.svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, []string{"full_sync"}, f.tasks.submitted)
	assert.Equal(t, int64(2), f.indexed(t))
	assert.False(t, f.guard.InProgress())
}

func TestReindexAll_QueueFullReleasesGuard(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))
	f.tasks.err = worker.ErrQueueFull

	started, err := f.svc.ReindexAll(context.Background())
	require.Error(t, err)
	assert.False(t, started)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.ErrorIs(t, err, worker.ErrQueueFull)
	assert.False(t, f.guard.InProgress())
}

func TestReindexAll_OnWorkerPool(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime), product("p2", baseTime))
	pool := worker.New(context.Background(), worker.Config{Name: "sync-test", Workers: 1, QueueSize: 2}, newTestLogger())
	f.svc.tasks = pool

	started, err := f.svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.True(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	assert.Equal(t, int64(2), f.indexed(t))
	assert.False(t, f.svc.SyncInProgress())
}

func TestIncrementalSync_UpsertsAndDeletes(t *testing.T) {
	f := newSyncFixture(t, 2,
		product("old", baseTime.Add(-48*time.Hour)),
		product("fresh", baseTime.Add(time.Minute)),
		deletedProduct("gone", baseTime.Add(2*time.Minute)),
		product("also-fresh", baseTime.Add(3*time.Minute)),
	)
	require.NoError(t, f.watermarks.Save(context.Background(), baseTime))
	f.seedIndex(t, "gone", "old")

	require.NoError(t, f.svc.IncrementalSync(context.Background()))

	assert.True(t, f.engine.has("fresh"))
	assert.True(t, f.engine.has("also-fresh"))
	assert.False(t, f.engine.has("gone"), "soft-deleted rows are removed")
	old, _ := f.engine.Get("old")
	assert.Equal(t, "old", old.Name, "rows older than the watermark are untouched")

	wm, _, _ := f.watermarks.Load(context.Background())
	assert.Equal(t, baseTime.Add(time.Hour), wm)
}

func TestIncrementalSync_WithoutWatermarkScansEverything(t *testing.T) {
	f := newSyncFixture(t, 10, product("old", baseTime.Add(-48*time.Hour)))

	require.NoError(t, f.svc.IncrementalSync(context.Background()))
	assert.True(t, f.engine.has("old"))
}

func TestIncrementalSync_SkipsWhileFullSyncRuns(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))
	f.guard.TryAcquire()

	require.NoError(t, f.svc.IncrementalSync(context.Background()))
	assert.Zero(t, f.catalog.listCalls)
	_, ok, _ := f.watermarks.Load(context.Background())
	assert.False(t, ok)
}

func TestIncrementalSync_SkipsWhenBackendUnhealthy(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))
	f.engine.pingErr = apperrors.Unavailable("down", nil)

	require.NoError(t, f.svc.IncrementalSync(context.Background()))
	assert.Zero(t, f.catalog.listCalls)
}

func TestIncrementalSync_FailureKeepsWatermark(t *testing.T) {
	f := newSyncFixture(t, 1, product("p1", baseTime), product("p2", baseTime))
	require.NoError(t, f.watermarks.Save(context.Background(), baseTime.Add(-time.Hour)))
	f.catalog.listErrPage = 1
	f.catalog.listErr = errors.New("timeout")

	err := f.svc.IncrementalSync(context.Background())
	require.Error(t, err)

	wm, _, _ := f.watermarks.Load(context.Background())
	assert.Equal(t, baseTime.Add(-time.Hour), wm)
}

func TestIndexOne(t *testing.T) {
	tests := []struct {
		name      string
		products  []domain.Product
		seeded    bool
		wantIndex bool
	}{
		{name: "active product is indexed", products: []domain.Product{product("p1", baseTime)}, wantIndex: true},
		{name: "soft-deleted product is removed", products: []domain.Product{deletedProduct("p1", baseTime)}, seeded: true},
		{name: "missing product is removed", seeded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSyncFixture(t, 10, tt.products...)
			if tt.seeded {
				f.seedIndex(t, "p1")
			}

			require.NoError(t, f.svc.IndexOne(context.Background(), "p1"))
			assert.Equal(t, tt.wantIndex, f.engine.has("p1"))
		})
	}
}

func TestIndexOne_CatalogFailureLeavesIndexAlone(t *testing.T) {
	f := newSyncFixture(t, 10)
	f.seedIndex(t, "p1")
	f.catalog.getErr = errors.New("db down")

	err := f.svc.IndexOne(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, f.engine.has("p1"))
}

func TestIndexOne_RequiresID(t *testing.T) {
	f := newSyncFixture(t, 10)
	assert.ErrorIs(t, f.svc.IndexOne(context.Background(), ""), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, f.svc.Remove(context.Background(), ""), apperrors.ErrInvalidInput)
}

func TestIndexMany_DeletionSymmetry(t *testing.T) {
	f := newSyncFixture(t, 2, product("a", baseTime), deletedProduct("b", baseTime), product("d", baseTime))
	f.seedIndex(t, "b", "c")

	require.NoError(t, f.svc.IndexMany(context.Background(), []string{"a", "b", "c", "a", "", "d"}))

	assert.True(t, f.engine.has("a"))
	assert.True(t, f.engine.has("d"))
	assert.False(t, f.engine.has("b"), "soft-deleted ids are removed")
	assert.False(t, f.engine.has("c"), "ids missing from the catalog are removed")
}

func TestIndexMany_CatalogFailure(t *testing.T) {
	f := newSyncFixture(t, 10)
	f.catalog.getErr = errors.New("db down")
	assert.Error(t, f.svc.IndexMany(context.Background(), []string{"a"}))
}

func TestIndexManyAsync(t *testing.T) {
	f := newSyncFixture(t, 10, product("a", baseTime))

	require.NoError(t, f.svc.IndexManyAsync(context.Background(), []string{"a"}))
	assert.Equal(t, []string{"batch_sync"}, f.tasks.submitted)
	assert.True(t, f.engine.has("a"))

	require.NoError(t, f.svc.IndexManyAsync(context.Background(), []string{""}))
	assert.Len(t, f.tasks.submitted, 1, "empty batches are not dispatched")

	f.tasks.err = worker.ErrStopped
	assert.ErrorIs(t, f.svc.IndexManyAsync(context.Background(), []string{"a"}), apperrors.ErrServiceUnavail)
}

func TestRemove(t *testing.T) {
	f := newSyncFixture(t, 10)
	f.seedIndex(t, "p1")

	require.NoError(t, f.svc.Remove(context.Background(), "p1"))
	assert.False(t, f.engine.has("p1"))
	require.NoError(t, f.svc.Remove(context.Background(), "p1"), "removing twice is fine")
}

func TestHooks_SwallowFailures(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))
	f.catalog.getErr = errors.New("db down")

	assert.NotPanics(t, func() {
		f.svc.HandleProductChanged(context.Background(), "p1")
		f.svc.HandleProductDeleted(context.Background(), "")
	})
	assert.False(t, f.engine.has("p1"))

	f.catalog.getErr = nil
	f.svc.HandleProductChanged(context.Background(), "p1")
	assert.True(t, f.engine.has("p1"))
	f.svc.HandleProductDeleted(context.Background(), "p1")
	assert.False(t, f.engine.has("p1"))
}

func TestStats_ReportsCountFailures(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime), deletedProduct("p2", baseTime))
	f.seedIndex(t, "p1")

	stats := f.svc.Stats(context.Background())
	assert.Equal(t, int64(1), stats.IndexedCount)
	assert.Equal(t, int64(1), stats.TotalInDB)
	assert.True(t, stats.BackendHealthy)
	assert.Empty(t, stats.IndexCountError)
	assert.Nil(t, stats.LastFullSync)

	f.engine.countErr = errors.New("index gone")
	f.engine.pingErr = errors.New("unreachable")
	f.catalog.countErr = errors.New("db gone")

	stats = f.svc.Stats(context.Background())
	assert.Zero(t, stats.IndexedCount)
	assert.Zero(t, stats.TotalInDB)
	assert.False(t, stats.BackendHealthy)
	assert.Equal(t, "index gone", stats.IndexCountError)
	assert.Equal(t, "db gone", stats.DBCountError)
}

func TestBootstrap_SkipsWhenBackendUnreachable(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))
	f.engine.pingErr = errors.New("unreachable")

	require.NoError(t, f.svc.Bootstrap(context.Background()))
	assert.Empty(t, f.tasks.submitted)
}

func TestBootstrap_EmptyIndexTriggersFullSync(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime), product("p2", baseTime))

	require.NoError(t, f.svc.Bootstrap(context.Background()))
	assert.Equal(t, []string{"full_sync"}, f.tasks.submitted)
	assert.Equal(t, int64(2), f.indexed(t))
}

func TestBootstrap_PopulatedIndexIsLeftAlone(t *testing.T) {
	tests := []struct {
		name   string
		seeded []string
	}{
		{name: "in sync", seeded: []string{"p1", "p2"}},
		{name: "drifted below threshold only warns", seeded: []string{"p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSyncFixture(t, 10, product("p1", baseTime), product("p2", baseTime))
			f.seedIndex(t, tt.seeded...)

			require.NoError(t, f.svc.Bootstrap(context.Background()))
			assert.Empty(t, f.tasks.submitted)
		})
	}
}

func TestBootstrap_CountFailureIsNotFatal(t *testing.T) {
	f := newSyncFixture(t, 10, product("p1", baseTime))
	f.catalog.countErr = errors.New("db down")

	require.NoError(t, f.svc.Bootstrap(context.Background()))
	assert.Empty(t, f.tasks.submitted)
}

func TestIsHealthy(t *testing.T) {
	f := newSyncFixture(t, 10)
	assert.True(t, f.svc.IsHealthy(context.Background()))
	f.engine.pingErr = errors.New("down")
	assert.False(t, f.svc.IsHealthy(context.Background()))
}
