package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/geo"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// RunOutcome итог запуска импорта
type RunOutcome string

const (
	// OutcomeCompleted полный проход фида завершен
	OutcomeCompleted RunOutcome = "completed"
	// OutcomeBudgetStop бюджет времени исчерпан, курсор сохранен
	OutcomeBudgetStop RunOutcome = "budget_stop"
	// OutcomeSkipped другой запуск уже владеет источником
	OutcomeSkipped RunOutcome = "skipped"
	// OutcomeEmptyFeed фид вернул пустой снимок, состояние не тронуто
	OutcomeEmptyFeed RunOutcome = "empty_feed"
)

// Действия над записью каталога
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
)

// heartbeatEvery определяет частоту обновления heartbeat в цикле
const heartbeatEvery = 10

// RunResult сводка одного запуска импорта
type RunResult struct {
	Outcome   RunOutcome `json:"outcome"`
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Created   int        `json:"created"`
	Updated   int        `json:"updated"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Retired   int        `json:"retired"`
	Cursor    int        `json:"cursor"`
	Duration  string     `json:"duration"`
}

// ImportService движок инкрементальной синхронизации одного источника.
// Один запуск: защита от параллельного выполнения, снимок фида,
// геопривязка, цикл от сохраненного курсора с проверкой бюджета перед
// каждой записью, перевод исчезнувших записей в черновики после
// полного прохода
type ImportService struct {
	feed     interfaces.FeedPort
	catalog  interfaces.CatalogPort
	state    interfaces.StatePort
	taxonomy *TaxonomyService
	logger   interfaces.LoggerPort

	ceiling     time.Duration
	recordLimit int

	// newBudget подменяется в тестах
	newBudget func() *Budget
}

// NewImportService создает движок синхронизации для источника feed
func NewImportService(
	feed interfaces.FeedPort,
	catalog interfaces.CatalogPort,
	statePort interfaces.StatePort,
	taxonomy *TaxonomyService,
	logger interfaces.LoggerPort,
	ceiling, margin time.Duration,
	recordLimit int,
) *ImportService {
	return &ImportService{
		feed:        feed,
		catalog:     catalog,
		state:       statePort,
		taxonomy:    taxonomy,
		logger:      logger.WithField("source", feed.Name()),
		ceiling:     ceiling,
		recordLimit: recordLimit,
		newBudget: func() *Budget {
			return NewBudget(ceiling, margin)
		},
	}
}

// Source возвращает имя синхронизируемого источника
func (s *ImportService) Source() string {
	return s.feed.Name()
}

// Run выполняет один проход синхронизации
func (s *ImportService) Run(ctx context.Context) (*RunResult, error) {
	source := s.feed.Name()
	started := time.Now()

	// Защита от параллельного запуска: свежий heartbeat означает
	// живой импорт, устаревший трактуется как упавший процесс
	status, heartbeat, err := s.state.RunStatus(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to read run status: %w", err)
	}
	if status == interfaces.RunStatusImporting {
		if time.Since(heartbeat) < s.ceiling {
			s.logger.InfoWithContext(ctx, "Импорт уже выполняется, запуск пропущен")
			return &RunResult{Outcome: OutcomeSkipped}, nil
		}
		s.logger.WarnWithContext(ctx, "Обнаружен зависший импорт, статус сбрасывается",
			interfaces.LogField{Key: "heartbeat", Value: heartbeat},
		)
	}

	acquired, err := s.state.AcquireRun(ctx, source, s.ceiling)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		s.logger.InfoWithContext(ctx, "Запуск уже захвачен другим процессом")
		return &RunResult{Outcome: OutcomeSkipped}, nil
	}
	defer func() {
		if err := s.state.ReleaseRun(ctx, source); err != nil {
			s.logger.WarnWithContext(ctx, "Не удалось освободить блокировку запуска",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	if err := s.state.SetRunStatus(ctx, source, interfaces.RunStatusImporting); err != nil {
		return nil, fmt.Errorf("failed to set run status: %w", err)
	}
	defer func() {
		if err := s.state.SetRunStatus(ctx, source, interfaces.RunStatusIdle); err != nil {
			s.logger.WarnWithContext(ctx, "Не удалось сбросить статус импорта",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	// Жесткий отказ фида прерывает запуск без изменения курсора
	records, err := s.feed.FetchAll(ctx, s.recordLimit)
	if err != nil {
		s.logger.ErrorWithContext(ctx, "Ошибка загрузки фида",
			interfaces.LogField{Key: "error", Value: err.Error()})
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}
	if len(records) == 0 {
		s.logger.WarnWithContext(ctx, "Фид вернул пустой снимок, запуск прерван")
		return &RunResult{Outcome: OutcomeEmptyFeed}, nil
	}

	if provider, ok := s.feed.(interfaces.ZoneProvider); ok {
		if err := s.enrichZones(ctx, provider, records); err != nil {
			return nil, err
		}
	}

	cursor, err := s.state.Cursor(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	if cursor > len(records) {
		// фид сократился с прошлого запуска
		cursor = 0
	}

	s.logger.InfoWithContext(ctx, "Импорт начат",
		interfaces.LogField{Key: "total", Value: len(records)},
		interfaces.LogField{Key: "cursor", Value: cursor},
	)

	result := &RunResult{Total: len(records)}
	budget := s.newBudget()

	for i := cursor; i < len(records); i++ {
		// Проверка до обработки: сохраненный курсор всегда указывает
		// на первую необработанную запись
		if budget.Exceeded() {
			if err := s.state.SetCursor(ctx, source, i); err != nil {
				return nil, fmt.Errorf("failed to persist cursor: %w", err)
			}
			result.Outcome = OutcomeBudgetStop
			result.Cursor = i
			result.Duration = budget.Elapsed().String()
			s.logger.InfoWithContext(ctx, "Бюджет времени исчерпан, импорт продолжится со следующего запуска",
				interfaces.LogField{Key: "position", Value: i},
				interfaces.LogField{Key: "total", Value: len(records)},
			)
			return result, nil
		}

		action, err := s.processRecord(ctx, records[i])
		if err != nil {
			result.Failed++
			s.logger.ErrorWithContext(ctx, "Ошибка обработки записи",
				interfaces.LogField{Key: "sku", Value: records[i].SKU},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		} else {
			switch action {
			case ActionCreated:
				result.Created++
			case ActionUpdated:
				result.Updated++
			case ActionSkipped:
				result.Skipped++
			}
		}
		result.Processed++

		if err := s.state.SetCursor(ctx, source, i+1); err != nil {
			return nil, fmt.Errorf("failed to persist cursor: %w", err)
		}
		if result.Processed%heartbeatEvery == 0 {
			if err := s.state.SetRunStatus(ctx, source, interfaces.RunStatusImporting); err != nil {
				return nil, fmt.Errorf("failed to refresh heartbeat: %w", err)
			}
		}
	}

	// Перевод в черновики только после полного прохода в этом же
	// запуске: частичный снимок никого не снимает с публикации
	retired, err := s.retire(ctx, records)
	if err != nil {
		return nil, err
	}
	result.Retired = retired

	if err := s.state.SetCursor(ctx, source, 0); err != nil {
		return nil, fmt.Errorf("failed to reset cursor: %w", err)
	}

	result.Outcome = OutcomeCompleted
	result.Duration = time.Since(started).String()
	s.logger.InfoWithContext(ctx, "Импорт завершен",
		interfaces.LogField{Key: "created", Value: result.Created},
		interfaces.LogField{Key: "updated", Value: result.Updated},
		interfaces.LogField{Key: "skipped", Value: result.Skipped},
		interfaces.LogField{Key: "failed", Value: result.Failed},
		interfaces.LogField{Key: "retired", Value: result.Retired},
		interfaces.LogField{Key: "duration", Value: result.Duration},
	)

	return result, nil
}

// ProcessSingle выполняет решение создать-или-обновить для одной
// записи. Используется обработчиком записей многоуровневого режима
func (s *ImportService) ProcessSingle(ctx context.Context, record *models.RemoteRecord) (string, error) {
	return s.processRecord(ctx, record)
}

// enrichZones присваивает каждой записи с координатами все зоны,
// полигоны которых содержат точку записи
func (s *ImportService) enrichZones(ctx context.Context, provider interfaces.ZoneProvider, records []*models.RemoteRecord) error {
	zones, err := provider.Zones(ctx)
	if err != nil {
		return fmt.Errorf("failed to load zones: %w", err)
	}
	if len(zones) == 0 {
		return nil
	}

	for _, record := range records {
		if !record.HasCoordinates {
			continue
		}
		point := geo.Point{X: record.Longitude, Y: record.Latitude}
		for _, zone := range zones {
			if geo.Contains(point, zone.Polygon) {
				record.ZoneNames = append(record.ZoneNames, zone.Name)
			}
		}
	}

	return nil
}

// processRecord маршрутизирует запись: создание при отсутствии
// артикула у источника, иначе обновление по политике источника.
// Поиск всегда ограничен своим источником, совпадение артикулов
// между источниками не считается одной записью
func (s *ImportService) processRecord(ctx context.Context, record *models.RemoteRecord) (string, error) {
	existing, err := s.catalog.FindBySKU(ctx, s.feed.Name(), record.SKU)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return s.createRecord(ctx, record)
	}
	return s.updateRecord(ctx, existing, record)
}

// createRecord создает полную запись каталога со статусом publish
func (s *ImportService) createRecord(ctx context.Context, record *models.RemoteRecord) (string, error) {
	now := time.Now().UTC()

	catalogRecord := &models.CatalogRecord{
		Source:         s.feed.Name(),
		SKU:            record.SKU,
		Name:           record.Name,
		Price:          record.Price,
		WholesalePrice: record.WholesalePrice,
		Stock:          record.Stock,
		Status:         models.StatusPublish,
		Attributes:     buildAttributes(record),
		Meta:           buildMeta(record),
		TermIDs:        s.taxonomy.TermsForRecord(ctx, record),
		MediaURLs:      record.MediaURLs(),
		LastSyncedAt:   &now,
	}

	if _, err := s.catalog.CreateRecord(ctx, catalogRecord); err != nil {
		return "", err
	}

	return ActionCreated, nil
}

// updateRecord применяет политику обновления источника.
// Запись со временем изменения сравнивается с временем последней
// синхронизации и при устаревании обновляется целиком с полной
// заменой медиа. Запись без времени изменения обновляется поточечно:
// пишутся только изменившиеся склад и цены
func (s *ImportService) updateRecord(ctx context.Context, existing *models.CatalogRecord, record *models.RemoteRecord) (string, error) {
	if record.LastModified != nil {
		stale := existing.LastSyncedAt == nil || record.LastModified.After(*existing.LastSyncedAt)
		if !stale {
			return ActionSkipped, nil
		}
		return s.fullUpdate(ctx, existing, record)
	}

	fields := map[string]interface{}{}
	if existing.Stock != record.Stock {
		fields["stock"] = record.Stock
	}
	if existing.Price != record.Price {
		fields["price"] = record.Price
	}
	if existing.WholesalePrice != record.WholesalePrice {
		fields["wholesale_price"] = record.WholesalePrice
	}
	if len(fields) == 0 {
		// нечего писать, запись уже актуальна
		return ActionSkipped, nil
	}
	fields["last_synced_at"] = time.Now().UTC()

	if err := s.catalog.UpdateRecord(ctx, existing.ID, fields); err != nil {
		return "", err
	}

	return ActionUpdated, nil
}

// fullUpdate обновляет все поля записи и заменяет медиа целиком
func (s *ImportService) fullUpdate(ctx context.Context, existing *models.CatalogRecord, record *models.RemoteRecord) (string, error) {
	fields := map[string]interface{}{
		"name":            record.Name,
		"price":           record.Price,
		"wholesale_price": record.WholesalePrice,
		"stock":           record.Stock,
		"status":          models.StatusPublish,
		"attributes":      buildAttributes(record),
		"last_synced_at":  time.Now().UTC(),
	}
	if err := s.catalog.UpdateRecord(ctx, existing.ID, fields); err != nil {
		return "", err
	}

	if terms := s.taxonomy.TermsForRecord(ctx, record); len(terms) > 0 {
		if err := s.catalog.SetTerms(ctx, existing.ID, terms); err != nil {
			return "", err
		}
	}

	for key, value := range buildMeta(record) {
		if err := s.catalog.SetField(ctx, existing.ID, key, value); err != nil {
			return "", err
		}
	}

	// Полная замена медиа: сначала удаление, затем привязка заново
	if err := s.catalog.DeleteMedia(ctx, existing.ID); err != nil {
		return "", err
	}
	if urls := record.MediaURLs(); len(urls) > 0 {
		if err := s.catalog.AttachMedia(ctx, existing.ID, urls); err != nil {
			return "", err
		}
	}

	return ActionUpdated, nil
}

// retire переводит в черновики записи источника, исчезнувшие из фида.
// Записи никогда не удаляются
func (s *ImportService) retire(ctx context.Context, records []*models.RemoteRecord) (int, error) {
	remote := make(map[string]struct{}, len(records))
	for _, record := range records {
		remote[record.SKU] = struct{}{}
	}

	local, err := s.catalog.ListSKUs(ctx, s.feed.Name())
	if err != nil {
		return 0, fmt.Errorf("failed to list local skus: %w", err)
	}

	retired := 0
	for sku, id := range local {
		if _, ok := remote[sku]; ok {
			continue
		}
		if err := s.catalog.SetStatus(ctx, id, models.StatusDraft); err != nil {
			return retired, fmt.Errorf("failed to retire record %s: %w", sku, err)
		}
		retired++
	}

	return retired, nil
}

// buildAttributes собирает атрибуты записи каталога из записи фида
func buildAttributes(record *models.RemoteRecord) map[string]string {
	attributes := make(map[string]string)
	for key, value := range record.Attributes {
		if value != "" {
			attributes[key] = value
		}
	}
	if record.Operation != "" {
		attributes[models.AttrOperation] = record.Operation
	}
	if record.Suboperation != "" {
		attributes[models.AttrSuboperation] = record.Suboperation
	}
	if record.Type != "" {
		attributes[models.AttrType] = record.Type
	}
	if record.Subtype != "" {
		attributes[models.AttrSubtype] = record.Subtype
	}
	if len(record.ZoneNames) > 0 {
		attributes[models.AttrZones] = models.JoinZoneNames(record.ZoneNames)
	}
	return attributes
}

// buildMeta собирает служебные мета-поля записи каталога
func buildMeta(record *models.RemoteRecord) map[string]string {
	meta := make(map[string]string)
	if record.HasCoordinates {
		meta[models.FieldLatitude] = strconv.FormatFloat(record.Latitude, 'f', -1, 64)
		meta[models.FieldLongitude] = strconv.FormatFloat(record.Longitude, 'f', -1, 64)
	}
	if record.WhatsApp != "" {
		meta[models.FieldWhatsApp] = record.WhatsApp
	}
	return meta
}
