package interfaces

import (
	"context"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/models"
)

// CatalogPort определяет интерфейс внешнего сервиса каталога.
// Движок синхронизации работает только через эти операции и ничего
// не знает о схеме хранения. Артикул уникален только в пределах
// источника, поэтому все операции поиска принимают пару источник-артикул
type CatalogPort interface {
	// FindBySKU ищет запись каталога по источнику и артикулу
	// Возвращает nil, nil если запись не найдена
	FindBySKU(ctx context.Context, source, sku string) (*models.CatalogRecord, error)

	// CreateRecord создает новую запись каталога со всеми полями,
	// термами и медиа. Возвращает ID созданной записи
	CreateRecord(ctx context.Context, record *models.CatalogRecord) (string, error)

	// UpdateRecord обновляет только перечисленные поля записи
	UpdateRecord(ctx context.Context, id string, fields map[string]interface{}) error

	// SetStatus изменяет статус публикации записи
	SetStatus(ctx context.Context, id string, status string) error

	// SetTerms заменяет привязки записи к термам таксономии
	SetTerms(ctx context.Context, id string, termIDs []int64) error

	// AttachMedia привязывает медиа-файлы к записи в заданном порядке
	AttachMedia(ctx context.Context, id string, urls []string) error

	// DeleteMedia удаляет все медиа-файлы записи
	DeleteMedia(ctx context.Context, id string) error

	// GetField читает произвольное мета-поле записи
	// Возвращает "" если поле не установлено
	GetField(ctx context.Context, id string, key string) (string, error)

	// SetField записывает произвольное мета-поле записи
	SetField(ctx context.Context, id string, key string, value string) error

	// ListSKUs возвращает все артикулы источника с ID их записей
	ListSKUs(ctx context.Context, source string) (map[string]string, error)

	// Close закрывает соединение с хранилищем
	Close() error
}

// TaxonomyPort определяет интерфейс хранилища термов таксономии.
// Уникальность метки действует в пределах одного родителя,
// parentID == 0 означает корень.
type TaxonomyPort interface {
	// FindTerm ищет терм по метке и родителю
	// Возвращает 0, nil если терм не найден
	FindTerm(ctx context.Context, label string, parentID int64) (int64, error)

	// CreateTerm создает терм и возвращает его ID
	CreateTerm(ctx context.Context, label string, parentID int64) (int64, error)
}

// Статусы выполнения импорта, которые хранит StatePort
const (
	RunStatusIdle      = "idle"
	RunStatusImporting = "importing"
)

// StatePort определяет интерфейс долговременного состояния движка
// синхронизации. Все ключи пространственно разделены по источникам.
type StatePort interface {
	// Cursor возвращает сохраненную позицию курсора источника
	Cursor(ctx context.Context, source string) (int, error)

	// SetCursor сохраняет позицию курсора источника
	SetCursor(ctx context.Context, source string, position int) error

	// RunStatus возвращает статус выполнения и время последнего heartbeat
	RunStatus(ctx context.Context, source string) (string, time.Time, error)

	// SetRunStatus записывает статус выполнения вместе с heartbeat
	SetRunStatus(ctx context.Context, source string, status string) error

	// AcquireRun атомарно захватывает право на запуск (SETNX с TTL)
	// Возвращает false, если другой запуск уже владеет источником
	AcquireRun(ctx context.Context, source string, ttl time.Duration) (bool, error)

	// ReleaseRun освобождает захваченное право на запуск
	ReleaseRun(ctx context.Context, source string) error

	// MarkJobPending регистрирует незавершенную задачу поколения
	MarkJobPending(ctx context.Context, source string, jobID string) error

	// MarkJobDone переводит задачу из незавершенных в завершенные
	MarkJobDone(ctx context.Context, source string, jobID string) error

	// PendingJobCount возвращает число незавершенных задач поколения
	PendingJobCount(ctx context.Context, source string) (int64, error)

	// PurgeFinishedJobs удаляет маркеры завершенных задач
	PurgeFinishedJobs(ctx context.Context, source string) error

	// CronSecret возвращает сохраненный секрет триггера
	// Возвращает "" если секрет еще не сгенерирован
	CronSecret(ctx context.Context) (string, error)

	// SetCronSecret сохраняет секрет триггера
	SetCronSecret(ctx context.Context, secret string) error

	// Close закрывает соединение с хранилищем состояния
	Close() error
}

// FeedPort определяет интерфейс клиента удаленного фида
type FeedPort interface {
	// Name возвращает имя источника (eikon, gvamax)
	Name() string

	// FetchAll забирает полный снимок фида в исходном порядке.
	// limit > 0 ограничивает число записей. Ошибка означает жесткий
	// отказ: запуск прерывается без изменения состояния
	FetchAll(ctx context.Context, limit int) ([]*models.RemoteRecord, error)
}

// ZoneProvider реализуется фидами, публикующими географические зоны
type ZoneProvider interface {
	// Zones возвращает справочник зон с полигонами границ
	Zones(ctx context.Context) ([]*models.Zone, error)
}
