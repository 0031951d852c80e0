package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athebyme/catalog-sync/config"
	"github.com/athebyme/catalog-sync/internal/adapters/cache"
	"github.com/athebyme/catalog-sync/internal/adapters/feed"
	"github.com/athebyme/catalog-sync/internal/adapters/logger"
	"github.com/athebyme/catalog-sync/internal/adapters/messaging"
	"github.com/athebyme/catalog-sync/internal/adapters/state"
	postgres "github.com/athebyme/catalog-sync/internal/adapters/storage"
	"github.com/athebyme/catalog-sync/internal/domain/services"
	"github.com/athebyme/catalog-sync/internal/utils"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"github.com/athebyme/catalog-sync/pkg/tx"
)

// Метрики для Prometheus
var (
	importRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_import_runs_total",
		Help: "Общее количество запусков импорта",
	}, []string{"source", "outcome"})

	recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_records_processed_total",
		Help: "Общее количество обработанных записей по действиям",
	}, []string{"source", "action"})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_jobs_processed_total",
		Help: "Общее количество обработанных заданий",
	}, []string{"topic", "status"})

	jobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_job_processing_duration_seconds",
		Help:    "Длительность обработки заданий",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	activeHandlers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_goroutines",
		Help: "Количество активных горутин-обработчиков",
	})
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
		interfaces.LogField{Key: "mode", Value: cfg.Importer.Mode},
	)

	// Запускаем HTTP сервер для метрик если они включены
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})

			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("Запуск HTTP сервера для метрик",
				interfaces.LogField{Key: "addr", Value: addr})

			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Ошибка запуска HTTP сервера для метрик",
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	connectionStr, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	pool, err := pgxpool.New(ctx, connectionStr)
	if err != nil {
		log.Fatal("Ошибка инициализации пула соединений",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	txManager := tx.NewTxManager(pool, log)

	catalog, err := postgres.NewCatalogStorageWithPool(ctx, pool, txManager)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer catalog.Close()
	log.Info("Хранилище инициализировано")

	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	stateStore, err := state.NewRedisState(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища состояния",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer stateStore.Close()

	taxonomy := services.NewTaxonomyService(catalog, log)

	importers := make(map[string]*services.ImportService)
	if cfg.Eikon.Enabled {
		eikon := feed.NewEikonClient(
			cfg.Eikon.AuthURL,
			cfg.Eikon.ProductsURL,
			cfg.Eikon.Username,
			cfg.Eikon.Password,
			cfg.Eikon.Timeout,
			cfg.Eikon.CacheExpiration,
			cfg.Eikon.RateLimit,
			cacheClient,
			log,
		)
		importers[feed.SourceEikon] = services.NewImportService(
			eikon, catalog, stateStore, taxonomy, log,
			cfg.Importer.MaxExecutionTime, cfg.Importer.SafetyMargin,
			cfg.Importer.RecordLimit,
		)
	}
	if cfg.Gvamax.Enabled {
		gvamax := feed.NewGvamaxClient(
			cfg.Gvamax.BaseURL,
			cfg.Gvamax.APIKey,
			cfg.Gvamax.Timeout,
			cfg.Gvamax.CacheExpiration,
			cfg.Gvamax.RateLimit,
			cacheClient,
			log,
		)
		importers[feed.SourceGvamax] = services.NewImportService(
			gvamax, catalog, stateStore, taxonomy, log,
			cfg.Importer.MaxExecutionTime, cfg.Importer.SafetyMargin,
			cfg.Importer.RecordLimit,
		)
	}
	if len(importers) == 0 {
		log.Fatal("Ни один источник импорта не включен")
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	if cfg.Importer.Mode == "scheduler" {
		messagingClient, err := messaging.NewKafkaMessaging(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
		if err != nil {
			log.Fatal("Ошибка инициализации системы обмена сообщениями",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
		defer messagingClient.Close()
		log.Info("Система обмена сообщениями инициализирована")

		schedulers := make(map[string]*services.Scheduler, len(importers))
		for source, importer := range importers {
			schedulers[source] = services.NewScheduler(
				importer, stateStore, messagingClient, log,
				cfg.Kafka.BatchTopic, cfg.Kafka.RecordTopic, cfg.Kafka.DeadLetterTopic,
				cfg.Importer.BatchSize,
			)
		}

		subscribeToJobs(ctx, messagingClient, cfg.Kafka.BatchTopic, schedulers, log, &wg,
			func(s *services.Scheduler) func(context.Context, []byte) error { return s.HandleBatchJob })
		subscribeToJobs(ctx, messagingClient, cfg.Kafka.RecordTopic, schedulers, log, &wg,
			func(s *services.Scheduler) func(context.Context, []byte) error { return s.HandleRecordJob })

		for _, scheduler := range schedulers {
			runSchedulerTicker(ctx, scheduler, cfg.Importer.Interval, log, &wg)
		}
	} else {
		for _, importer := range importers {
			runImportTicker(ctx, importer, cfg.Importer.Interval, log, &wg)
		}
	}

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")
		cancel()
		wg.Wait()
		close(done)
	}()

	log.Info("Воркер запущен")
	<-done
	log.Info("Воркер корректно завершил работу")
}

// runImportTicker периодически выполняет полный проход импорта источника
func runImportTicker(ctx context.Context, importer *services.ImportService,
	interval time.Duration, log interfaces.LoggerPort, wg *sync.WaitGroup) {

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Info("Цикл импорта запущен",
			interfaces.LogField{Key: "source", Value: importer.Source()},
			interfaces.LogField{Key: "interval", Value: interval.String()},
		)

		for {
			select {
			case <-ctx.Done():
				log.Info("Цикл импорта остановлен",
					interfaces.LogField{Key: "source", Value: importer.Source()})
				return
			case <-ticker.C:
				result, err := importer.Run(ctx)
				if err != nil {
					log.ErrorWithContext(ctx, "Ошибка запуска импорта",
						interfaces.LogField{Key: "source", Value: importer.Source()},
						interfaces.LogField{Key: "error", Value: err.Error()},
					)
					importRuns.WithLabelValues(importer.Source(), "error").Inc()
					continue
				}
				importRuns.WithLabelValues(importer.Source(), string(result.Outcome)).Inc()
				recordsProcessed.WithLabelValues(importer.Source(), "created").Add(float64(result.Created))
				recordsProcessed.WithLabelValues(importer.Source(), "updated").Add(float64(result.Updated))
				recordsProcessed.WithLabelValues(importer.Source(), "skipped").Add(float64(result.Skipped))
				recordsProcessed.WithLabelValues(importer.Source(), "failed").Add(float64(result.Failed))
				recordsProcessed.WithLabelValues(importer.Source(), "retired").Add(float64(result.Retired))
			}
		}
	}()
}

// runSchedulerTicker периодически начинает новое поколение импорта
func runSchedulerTicker(ctx context.Context, scheduler *services.Scheduler,
	interval time.Duration, log interfaces.LoggerPort, wg *sync.WaitGroup) {

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := scheduler.TriggerRun(ctx); err != nil {
					log.ErrorWithContext(ctx, "Ошибка запуска поколения импорта",
						interfaces.LogField{Key: "source", Value: scheduler.Source()},
						interfaces.LogField{Key: "error", Value: err.Error()},
					)
					importRuns.WithLabelValues(scheduler.Source(), "error").Inc()
				}
			}
		}
	}()
}

// subscribeToJobs подписывается на тему заданий и маршрутизирует
// сообщения планировщику нужного источника
func subscribeToJobs(ctx context.Context, messagingClient interfaces.MessagingPort,
	topic string, schedulers map[string]*services.Scheduler,
	log interfaces.LoggerPort, wg *sync.WaitGroup,
	handlerOf func(*services.Scheduler) func(context.Context, []byte) error) {

	jobHandler := func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeHandlers.Inc()
		defer activeHandlers.Dec()

		var envelope struct {
			Source string `json:"source"`
		}
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			log.ErrorWithContext(ctx, "Ошибка декодирования задания",
				interfaces.LogField{Key: "error", Value: err.Error()},
				interfaces.LogField{Key: "message_id", Value: msg.ID},
			)
			jobsProcessed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}

		scheduler, ok := schedulers[envelope.Source]
		if !ok {
			log.WarnWithContext(ctx, "Задание для неизвестного источника",
				interfaces.LogField{Key: "source", Value: envelope.Source})
			jobsProcessed.WithLabelValues(msg.Topic, "unknown").Inc()
			return nil
		}

		if err := handlerOf(scheduler)(ctx, msg.Value); err != nil {
			log.ErrorWithContext(ctx, "Ошибка обработки задания",
				interfaces.LogField{Key: "source", Value: envelope.Source},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			jobsProcessed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}

		jobProcessingDuration.WithLabelValues(msg.Topic).Observe(time.Since(startTime).Seconds())
		jobsProcessed.WithLabelValues(msg.Topic, "success").Inc()

		return nil
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		unsubscribe, err := messagingClient.Subscribe(ctx, topic, jobHandler)
		if err != nil {
			log.Error("Ошибка подписки на тему заданий",
				interfaces.LogField{Key: "topic", Value: topic},
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer unsubscribe()

		log.Info("Подписка на тему заданий установлена",
			interfaces.LogField{Key: "topic", Value: topic})

		<-ctx.Done()
		log.Info("Отмена подписки на тему заданий",
			interfaces.LogField{Key: "topic", Value: topic})
	}()
}
