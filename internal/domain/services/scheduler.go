package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/athebyme/catalog-sync/internal/adapters/messaging"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// Scheduler многоуровневый режим импорта: запуск раскладывается на
// задания пакетов, пакеты на задания записей, задания едут через
// брокер сообщений. Прогресс поколения отслеживается множеством
// незавершенных заданий, перевод записей в черновики в этом режиме
// не выполняется
type Scheduler struct {
	importer  *ImportService
	state     interfaces.StatePort
	messaging interfaces.MessagingPort
	logger    interfaces.LoggerPort

	batchTopic      string
	recordTopic     string
	deadLetterTopic string
	batchSize       int
}

// NewScheduler создает планировщик многоуровневого импорта
func NewScheduler(
	importer *ImportService,
	statePort interfaces.StatePort,
	messagingClient interfaces.MessagingPort,
	logger interfaces.LoggerPort,
	batchTopic, recordTopic, deadLetterTopic string,
	batchSize int,
) *Scheduler {
	return &Scheduler{
		importer:        importer,
		state:           statePort,
		messaging:       messagingClient,
		logger:          logger.WithField("source", importer.Source()),
		batchTopic:      batchTopic,
		recordTopic:     recordTopic,
		deadLetterTopic: deadLetterTopic,
		batchSize:       batchSize,
	}
}

// Source возвращает имя источника планировщика
func (s *Scheduler) Source() string {
	return s.importer.Source()
}

func batchJobID(generation string, index int) string {
	return fmt.Sprintf("batch:%s:%d", generation, index)
}

func recordJobID(generation string, batch, index int) string {
	return fmt.Sprintf("record:%s:%d:%d", generation, batch, index)
}

// TriggerRun начинает новое поколение импорта: снимок фида режется на
// пакеты, каждый пакет помечается незавершенным и уходит в брокер.
// Пока предыдущее поколение не отработано, новое не начинается
func (s *Scheduler) TriggerRun(ctx context.Context) error {
	source := s.importer.Source()

	pending, err := s.state.PendingJobCount(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to count pending jobs: %w", err)
	}
	if pending > 0 {
		s.logger.InfoWithContext(ctx, "Предыдущее поколение импорта еще обрабатывается",
			interfaces.LogField{Key: "pending", Value: pending})
		return nil
	}

	if err := s.state.PurgeFinishedJobs(ctx, source); err != nil {
		return fmt.Errorf("failed to purge finished jobs: %w", err)
	}

	records, err := s.importer.feed.FetchAll(ctx, s.importer.recordLimit)
	if err != nil {
		return fmt.Errorf("feed fetch failed: %w", err)
	}
	if len(records) == 0 {
		s.logger.WarnWithContext(ctx, "Фид вернул пустой снимок, поколение не запущено")
		return nil
	}

	generation := uuid.New().String()
	batches := 0
	for start := 0; start < len(records); start += s.batchSize {
		job := models.BatchJob{
			Generation: generation,
			Source:     source,
			Index:      batches,
			Start:      start,
		}
		if err := s.state.MarkJobPending(ctx, source, batchJobID(generation, batches)); err != nil {
			return fmt.Errorf("failed to mark batch pending: %w", err)
		}
		if err := s.publish(ctx, s.batchTopic, job); err != nil {
			return fmt.Errorf("failed to publish batch job: %w", err)
		}
		batches++
	}

	s.logger.InfoWithContext(ctx, "Поколение импорта запущено",
		interfaces.LogField{Key: "generation", Value: generation},
		interfaces.LogField{Key: "total", Value: len(records)},
		interfaces.LogField{Key: "batches", Value: batches},
	)

	return nil
}

// HandleBatchJob разворачивает задание пакета в задания записей.
// Снимок фида берется повторно: разделяемый кэш фида делает повторный
// запрос дешевым внутри одного поколения
func (s *Scheduler) HandleBatchJob(ctx context.Context, payload []byte) error {
	var job models.BatchJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to decode batch job: %w", err)
	}

	records, err := s.importer.feed.FetchAll(ctx, s.importer.recordLimit)
	if err != nil {
		return fmt.Errorf("feed fetch failed: %w", err)
	}

	end := job.Start + s.batchSize
	if end > len(records) {
		end = len(records)
	}
	if job.Start >= len(records) {
		// фид сократился между постановкой и обработкой
		s.logger.WarnWithContext(ctx, "Пакет за пределами снимка фида, пропущен",
			interfaces.LogField{Key: "generation", Value: job.Generation},
			interfaces.LogField{Key: "batch", Value: job.Index},
		)
		return s.state.MarkJobDone(ctx, job.Source, batchJobID(job.Generation, job.Index))
	}

	// Геопривязка выполняется до раскладки: задания записей уносят
	// уже обогащенные снимки, обработчику записей зоны не нужны
	if provider, ok := s.importer.feed.(interfaces.ZoneProvider); ok {
		if err := s.importer.enrichZones(ctx, provider, records[job.Start:end]); err != nil {
			return fmt.Errorf("failed to enrich zones: %w", err)
		}
	}

	for i := job.Start; i < end; i++ {
		recordJob := models.RecordJob{
			Generation: job.Generation,
			Source:     job.Source,
			Batch:      job.Index,
			Index:      i,
			Record:     records[i],
		}
		if err := s.state.MarkJobPending(ctx, job.Source, recordJobID(job.Generation, job.Index, i)); err != nil {
			return fmt.Errorf("failed to mark record pending: %w", err)
		}
		if err := s.publish(ctx, s.recordTopic, recordJob); err != nil {
			return fmt.Errorf("failed to publish record job: %w", err)
		}
	}

	if err := s.state.MarkJobDone(ctx, job.Source, batchJobID(job.Generation, job.Index)); err != nil {
		return fmt.Errorf("failed to mark batch done: %w", err)
	}

	s.logger.DebugWithContext(ctx, "Пакет развернут в задания записей",
		interfaces.LogField{Key: "generation", Value: job.Generation},
		interfaces.LogField{Key: "batch", Value: job.Index},
		interfaces.LogField{Key: "records", Value: end - job.Start},
	)

	return nil
}

// HandleRecordJob обрабатывает одну запись поколения.
// Битое задание не должно навсегда заблокировать поколение: оно
// уходит в dead-letter, а его маркер снимается по тем полям, которые
// удалось разобрать
func (s *Scheduler) HandleRecordJob(ctx context.Context, payload []byte) error {
	var job models.RecordJob
	if err := json.Unmarshal(payload, &job); err != nil {
		s.logger.ErrorWithContext(ctx, "Не удалось разобрать задание записи",
			interfaces.LogField{Key: "error", Value: err.Error()})
		s.toDeadLetter(ctx, s.jobSource(&job), err, payload)
		return s.finishRecordJob(ctx, &job)
	}
	if job.Record == nil {
		err := fmt.Errorf("record job %s has no payload", recordJobID(job.Generation, job.Batch, job.Index))
		s.logger.ErrorWithContext(ctx, "Задание записи без полезной нагрузки",
			interfaces.LogField{Key: "generation", Value: job.Generation})
		s.toDeadLetter(ctx, s.jobSource(&job), err, payload)
		return s.finishRecordJob(ctx, &job)
	}

	action, err := s.importer.ProcessSingle(ctx, job.Record)
	if err != nil {
		// Запись помечается завершенной и при ошибке: поколение не
		// должно застрять навсегда из-за одной записи. Само задание
		// уходит в тему dead-letter для разбора
		s.logger.ErrorWithContext(ctx, "Ошибка обработки записи поколения",
			interfaces.LogField{Key: "generation", Value: job.Generation},
			interfaces.LogField{Key: "sku", Value: job.Record.SKU},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		s.toDeadLetter(ctx, job.Source, err, payload)
	} else {
		s.logger.DebugWithContext(ctx, "Запись поколения обработана",
			interfaces.LogField{Key: "generation", Value: job.Generation},
			interfaces.LogField{Key: "sku", Value: job.Record.SKU},
			interfaces.LogField{Key: "action", Value: action},
		)
	}

	return s.finishRecordJob(ctx, &job)
}

// jobSource возвращает источник задания, подставляя источник
// планировщика для заданий без него
func (s *Scheduler) jobSource(job *models.RecordJob) string {
	if job.Source != "" {
		return job.Source
	}
	return s.importer.Source()
}

// finishRecordJob снимает маркер незавершенности задания записи
func (s *Scheduler) finishRecordJob(ctx context.Context, job *models.RecordJob) error {
	return s.state.MarkJobDone(ctx, s.jobSource(job), recordJobID(job.Generation, job.Batch, job.Index))
}

// toDeadLetter отправляет необработанное задание в тему dead-letter
func (s *Scheduler) toDeadLetter(ctx context.Context, source string, cause error, payload []byte) {
	// нечитаемый payload уходит строкой, иначе письмо не сериализуется
	body := json.RawMessage(payload)
	if !json.Valid(payload) {
		body, _ = json.Marshal(string(payload))
	}

	letter := messaging.DeadLetter{
		Event:   messaging.RecordFailedEvent,
		Source:  source,
		Reason:  cause.Error(),
		Payload: body,
	}
	if err := s.publish(ctx, s.deadLetterTopic, letter); err != nil {
		s.logger.ErrorWithContext(ctx, "Не удалось отправить задание в dead-letter",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
}

// publish сериализует задание и отправляет его в брокер
func (s *Scheduler) publish(ctx context.Context, topic string, job interface{}) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return s.messaging.Publish(ctx, topic, payload)
}
