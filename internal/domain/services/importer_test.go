package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/catalog-sync/internal/adapters/logger"
	"github.com/athebyme/catalog-sync/internal/domain/geo"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

func testLogger(t *testing.T) interfaces.LoggerPort {
	t.Helper()
	log, err := logger.NewZapLogger("error", false)
	require.NoError(t, err)
	return log
}

func newTestImporter(t *testing.T, feed interfaces.FeedPort, catalog *fakeCatalog, st *fakeState) *ImportService {
	t.Helper()
	taxonomy := NewTaxonomyService(newFakeTerms(), testLogger(t))
	return NewImportService(feed, catalog, st, taxonomy, testLogger(t), 300*time.Second, 10*time.Second, 0)
}

func listingRecord(sku string, modified time.Time) *models.RemoteRecord {
	return &models.RemoteRecord{
		SKU:          sku,
		Name:         "Casa en Venta - Centro",
		Price:        120000,
		Operation:    "Venta",
		Type:         "Casa",
		LastModified: &modified,
		ImageURL:     "https://img.example/" + sku + "/main.jpg",
		GalleryURLs:  []string{"https://img.example/" + sku + "/1.jpg"},
		Attributes:   map[string]string{models.AttrNeighborhood: "Centro"},
	}
}

func productRecord(sku string, price float64, stock int) *models.RemoteRecord {
	return &models.RemoteRecord{
		SKU:   sku,
		Name:  "Producto " + sku,
		Price: price,
		Stock: stock,
		Brand: "Acme",
	}
}

func TestRunCreatesNewRecords(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	feed := &fakeZoneFeed{
		fakeFeed: fakeFeed{name: "gvamax", records: []*models.RemoteRecord{
			listingRecord("100", modified),
			listingRecord("101", modified),
		}},
		zones: []*models.Zone{{
			ID:   "1",
			Name: "Norte",
			Polygon: geo.Polygon{
				{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10},
			},
		}},
	}
	feed.records[0].Latitude = 5
	feed.records[0].Longitude = 5
	feed.records[0].HasCoordinates = true

	catalog := newFakeCatalog()
	st := newFakeState()
	importer := newTestImporter(t, feed, catalog, st)

	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)

	created := catalog.bySKUOrNil("gvamax", "100")
	require.NotNil(t, created)
	assert.Equal(t, models.StatusPublish, created.Status)
	assert.Equal(t, "gvamax", created.Source)
	assert.NotNil(t, created.LastSyncedAt)

	// запись с координатами внутри полигона получает имя зоны
	assert.Equal(t, "Norte", created.Attributes[models.AttrZones])

	// запись без координат зону не получает
	other := catalog.bySKUOrNil("gvamax", "101")
	require.NotNil(t, other)
	assert.Empty(t, other.Attributes[models.AttrZones])

	// курсор сброшен после полного прохода
	cursor, err := st.Cursor(context.Background(), "gvamax")
	require.NoError(t, err)
	assert.Equal(t, 0, cursor)

	status, _, err := st.RunStatus(context.Background(), "gvamax")
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunStatusIdle, status)
}

func TestRunSameSKUInOtherSourceStaysSeparate(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	feed := &fakeFeed{name: "gvamax", records: []*models.RemoteRecord{
		listingRecord("100", modified),
	}}

	catalog := newFakeCatalog()
	st := newFakeState()

	// товар другого источника с тем же артикулом
	now := time.Now().UTC()
	_, err := catalog.CreateRecord(context.Background(), &models.CatalogRecord{
		Source:       "eikon",
		SKU:          "100",
		Name:         "Producto 100",
		Status:       models.StatusPublish,
		LastSyncedAt: &now,
	})
	require.NoError(t, err)

	importer := newTestImporter(t, feed, catalog, st)
	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	// артикул совпадает, но записи разных источников независимы
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Updated)

	listing := catalog.bySKUOrNil("gvamax", "100")
	require.NotNil(t, listing)
	assert.Equal(t, "Casa en Venta - Centro", listing.Name)

	product := catalog.bySKUOrNil("eikon", "100")
	require.NotNil(t, product)
	assert.Equal(t, "Producto 100", product.Name)
	assert.Equal(t, models.StatusPublish, product.Status)
}

func TestRunSecondPassIsZeroWrite(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	feed := &fakeFeed{name: "gvamax", records: []*models.RemoteRecord{
		listingRecord("100", modified),
		listingRecord("101", modified),
	}}

	catalog := newFakeCatalog()
	st := newFakeState()
	importer := newTestImporter(t, feed, catalog, st)

	_, err := importer.Run(context.Background())
	require.NoError(t, err)
	writesAfterFirst := catalog.writeCount()

	// повторный проход без изменений в фиде не пишет в каталог
	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, writesAfterFirst, catalog.writeCount())
}

func TestRunStaleRecordFullyUpdated(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	remote := listingRecord("100", modified)
	feed := &fakeFeed{name: "gvamax", records: []*models.RemoteRecord{remote}}

	catalog := newFakeCatalog()
	st := newFakeState()
	importer := newTestImporter(t, feed, catalog, st)

	_, err := importer.Run(context.Background())
	require.NoError(t, err)

	// объявление изменилось после последней синхронизации
	newModified := time.Now().Add(time.Minute)
	remote.LastModified = &newModified
	remote.Name = "Casa en Venta - Norte"
	remote.Price = 135000
	remote.ImageURL = "https://img.example/100/new.jpg"
	remote.GalleryURLs = nil

	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)

	updated := catalog.bySKUOrNil("gvamax", "100")
	require.NotNil(t, updated)
	assert.Equal(t, "Casa en Venta - Norte", updated.Name)
	assert.Equal(t, 135000.0, updated.Price)

	// медиа заменены целиком
	catalog.mu.Lock()
	media := catalog.media[updated.ID]
	catalog.mu.Unlock()
	assert.Equal(t, []string{"https://img.example/100/new.jpg"}, media)
}

func TestRunFieldDiffPolicy(t *testing.T) {
	remote := productRecord("SKU-1", 100, 5)
	feed := &fakeFeed{name: "eikon", records: []*models.RemoteRecord{remote}}

	catalog := newFakeCatalog()
	st := newFakeState()
	importer := newTestImporter(t, feed, catalog, st)

	_, err := importer.Run(context.Background())
	require.NoError(t, err)

	// без времени изменения обновляются только разошедшиеся поля
	remote.Stock = 3
	result, err := importer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	record := catalog.bySKUOrNil("eikon", "SKU-1")
	require.NotNil(t, record)
	assert.Equal(t, 3, record.Stock)

	catalog.mu.Lock()
	updates := catalog.updates[record.ID]
	catalog.mu.Unlock()
	require.Len(t, updates, 1)
	assert.Len(t, updates[0], 2)
	assert.Contains(t, updates[0], "stock")
	assert.Contains(t, updates[0], "last_synced_at")

	// совпадающие поля не трогаются
	result, err = importer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Updated)
}

func TestRunBudgetStopAndResume(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	var records []*models.RemoteRecord
	for _, sku := range []string{"1", "2", "3", "4", "5"} {
		records = append(records, listingRecord(sku, modified))
	}
	feed := &fakeFeed{name: "gvamax", records: records}

	catalog := newFakeCatalog()
	st := newFakeState()

	// запись, исчезнувшая из фида, ждет перевода в черновики
	_, err := catalog.CreateRecord(context.Background(), &models.CatalogRecord{
		Source: "gvamax",
		SKU:    "gone",
		Status: models.StatusPublish,
	})
	require.NoError(t, err)

	importer := newTestImporter(t, feed, catalog, st)

	// часы сдвигаются на 100 секунд при каждом обращении: бюджет
	// в 300-10 секунд пропускает две записи и останавливается
	clock := &fakeClock{current: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	importer.newBudget = func() *Budget {
		budget := newBudgetWithClock(300*time.Second, 10*time.Second, func() time.Time {
			now := clock.current
			clock.advance(100 * time.Second)
			return now
		})
		return budget
	}

	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBudgetStop, result.Outcome)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Cursor)

	cursor, err := st.Cursor(context.Background(), "gvamax")
	require.NoError(t, err)
	assert.Equal(t, 2, cursor)

	// частичный проход никого не снимает с публикации
	gone := catalog.bySKUOrNil("gvamax", "gone")
	require.NotNil(t, gone)
	assert.Equal(t, models.StatusPublish, gone.Status)

	// следующий запуск продолжает с третьей записи и завершает проход
	importer.newBudget = func() *Budget {
		return NewBudget(300*time.Second, 10*time.Second)
	}

	result, err = importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Retired)

	for _, sku := range []string{"1", "2", "3", "4", "5"} {
		assert.NotNil(t, catalog.bySKUOrNil("gvamax", sku), "запись %s должна существовать", sku)
	}

	gone = catalog.bySKUOrNil("gvamax", "gone")
	require.NotNil(t, gone)
	assert.Equal(t, models.StatusDraft, gone.Status)

	cursor, err = st.Cursor(context.Background(), "gvamax")
	require.NoError(t, err)
	assert.Equal(t, 0, cursor)
}

func TestRunSkippedWhileAnotherRunAlive(t *testing.T) {
	feed := &fakeFeed{name: "gvamax", records: []*models.RemoteRecord{
		listingRecord("100", time.Now()),
	}}
	catalog := newFakeCatalog()
	st := newFakeState()

	require.NoError(t, st.SetRunStatus(context.Background(), "gvamax", interfaces.RunStatusImporting))

	importer := newTestImporter(t, feed, catalog, st)
	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, 0, feed.fetches)
}

func TestRunRecoversFromStaleHeartbeat(t *testing.T) {
	feed := &fakeFeed{name: "gvamax", records: []*models.RemoteRecord{
		listingRecord("100", time.Now().Add(-time.Hour)),
	}}
	catalog := newFakeCatalog()
	st := newFakeState()

	// heartbeat старше потолка: предыдущий процесс считается упавшим
	st.status["gvamax"] = interfaces.RunStatusImporting
	st.heartbeats["gvamax"] = time.Now().Add(-time.Hour)

	importer := newTestImporter(t, feed, catalog, st)
	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.Created)
}

func TestRunEmptyFeedLeavesStateUntouched(t *testing.T) {
	feed := &fakeFeed{name: "gvamax"}
	catalog := newFakeCatalog()
	st := newFakeState()
	require.NoError(t, st.SetCursor(context.Background(), "gvamax", 3))

	importer := newTestImporter(t, feed, catalog, st)
	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeEmptyFeed, result.Outcome)

	cursor, err := st.Cursor(context.Background(), "gvamax")
	require.NoError(t, err)
	assert.Equal(t, 3, cursor)
}

func TestRunFeedErrorAbortsRun(t *testing.T) {
	feed := &fakeFeed{name: "gvamax", err: errors.New("connection refused")}
	catalog := newFakeCatalog()
	st := newFakeState()
	require.NoError(t, st.SetCursor(context.Background(), "gvamax", 2))

	importer := newTestImporter(t, feed, catalog, st)
	_, err := importer.Run(context.Background())
	require.Error(t, err)

	cursor, err := st.Cursor(context.Background(), "gvamax")
	require.NoError(t, err)
	assert.Equal(t, 2, cursor)

	// блокировка освобождена, следующий запуск возможен
	acquired, err := st.AcquireRun(context.Background(), "gvamax", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRunShrunkFeedResetsCursor(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	feed := &fakeFeed{name: "gvamax", records: []*models.RemoteRecord{
		listingRecord("100", modified),
	}}
	catalog := newFakeCatalog()
	st := newFakeState()

	// курсор за пределами сократившегося снимка
	require.NoError(t, st.SetCursor(context.Background(), "gvamax", 50))

	importer := newTestImporter(t, feed, catalog, st)
	result, err := importer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.Created)
}
