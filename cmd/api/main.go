package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/athebyme/catalog-sync/config"
	"github.com/athebyme/catalog-sync/internal/adapters/cache"
	"github.com/athebyme/catalog-sync/internal/adapters/feed"
	"github.com/athebyme/catalog-sync/internal/adapters/logger"
	"github.com/athebyme/catalog-sync/internal/adapters/messaging"
	"github.com/athebyme/catalog-sync/internal/adapters/state"
	postgres "github.com/athebyme/catalog-sync/internal/adapters/storage"
	"github.com/athebyme/catalog-sync/internal/api"
	"github.com/athebyme/catalog-sync/internal/api/handlers"
	"github.com/athebyme/catalog-sync/internal/domain/services"
	"github.com/athebyme/catalog-sync/internal/security"
	"github.com/athebyme/catalog-sync/internal/utils"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"github.com/athebyme/catalog-sync/pkg/tx"
)

// метрики для Prometheus
var (
	importTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "import_triggers_total",
		Help: "Общее количество внешних триггеров импорта",
	}, []string{"source", "status"})

	importRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "import_run_duration_seconds",
		Help:    "Длительность запусков импорта",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"source"})
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
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	postgresCon, err := utils.GenerateConnectionString(
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
		log.Fatal("Ошибка инициализации строки подключения базы", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	pool, err := pgxpool.New(ctx, postgresCon)
	if err != nil {
		log.Fatal("Ошибка инициализации пула соединений", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	txManager := tx.NewTxManager(pool, log)

	catalog, err := postgres.NewCatalogStorageWithPool(ctx, pool, txManager)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer catalog.Close()
	log.Info("Хранилище инициализировано")

	testCtx, testCancel := context.WithTimeout(ctx, 5*time.Second)
	defer testCancel()

	if err := pool.Ping(testCtx); err != nil {
		log.Fatal("Ошибка подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с PostgreSQL проверено")

	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	if err := checkRedisConnection(testCtx, cacheClient); err != nil {
		log.Fatal("Ошибка подключения к Redis",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с Redis проверено")

	stateStore, err := state.NewRedisState(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища состояния", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer stateStore.Close()

	taxonomy := services.NewTaxonomyService(catalog, log)

	importers := buildImporters(cfg, catalog, stateStore, taxonomy, cacheClient, log)
	if len(importers) == 0 {
		log.Fatal("Ни один источник импорта не включен")
	}

	triggers := make(map[string]handlers.TriggerFunc, len(importers))
	if cfg.Importer.Mode == "scheduler" {
		messagingClient, err := messaging.NewKafkaMessaging(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
		if err != nil {
			log.Fatal("Ошибка инициализации системы обмена сообщениями", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		defer messagingClient.Close()
		log.Info("Система обмена сообщениями инициализирована")

		for source, importer := range importers {
			scheduler := services.NewScheduler(
				importer, stateStore, messagingClient, log,
				cfg.Kafka.BatchTopic, cfg.Kafka.RecordTopic, cfg.Kafka.DeadLetterTopic,
				cfg.Importer.BatchSize,
			)
			triggers[source] = instrumentTrigger(source, func(ctx context.Context) error {
				return scheduler.TriggerRun(ctx)
			})
		}
	} else {
		for source, importer := range importers {
			imp := importer
			triggers[source] = instrumentTrigger(source, func(ctx context.Context) error {
				_, err := imp.Run(ctx)
				return err
			})
		}
	}

	cronSecret, err := resolveCronSecret(ctx, cfg, stateStore, log)
	if err != nil {
		log.Fatal("Ошибка инициализации секрета триггера", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	jwtManager := security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpirationMin, cfg.AppName)

	importHandler := handlers.NewImportHandler(triggers, stateStore, cronSecret, log)
	propertyHandler := handlers.NewPropertyHandler(catalog, feed.SourceGvamax, cfg.Importer.DefaultWhatsApp, log)

	router := api.SetupRouter(importHandler, propertyHandler, jwtManager, log, cfg.Security.CORSAllowOrigins)
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatal("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}

		log.Info("HTTP сервер остановлен")

		log.Info("Закрытие соединений с зависимостями...")

		if err := cacheClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Redis",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := stateStore.Close(); err != nil {
			log.Error("Ошибка при закрытии хранилища состояния",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := catalog.Close(); err != nil {
			log.Error("Ошибка при закрытии БД",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		close(done)
	}()

	<-done
	log.Info("Сервер корректно завершил работу")
}

// buildImporters создает движки синхронизации для всех включенных источников
func buildImporters(
	cfg *config.Config,
	catalog interfaces.CatalogPort,
	stateStore interfaces.StatePort,
	taxonomy *services.TaxonomyService,
	cacheClient interfaces.CachePort,
	log interfaces.LoggerPort,
) map[string]*services.ImportService {
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

	return importers
}

// instrumentTrigger оборачивает запуск импорта метриками
func instrumentTrigger(source string, trigger handlers.TriggerFunc) handlers.TriggerFunc {
	return func(ctx context.Context) error {
		start := time.Now()
		err := trigger(ctx)
		importRunDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
		if err != nil {
			importTriggers.WithLabelValues(source, "error").Inc()
			return err
		}
		importTriggers.WithLabelValues(source, "success").Inc()
		return nil
	}
}

// resolveCronSecret возвращает секрет внешнего триггера.
// Секрет из конфигурации имеет приоритет, иначе берется сохраненный,
// при первом запуске генерируется новый и сохраняется
func resolveCronSecret(ctx context.Context, cfg *config.Config, stateStore interfaces.StatePort, log interfaces.LoggerPort) (string, error) {
	if cfg.Security.CronSecret != "" {
		return cfg.Security.CronSecret, nil
	}

	secret, err := stateStore.CronSecret(ctx)
	if err != nil {
		return "", err
	}
	if secret != "" {
		return secret, nil
	}

	secret = uuid.New().String()
	if err := stateStore.SetCronSecret(ctx, secret); err != nil {
		return "", err
	}
	log.Info("Сгенерирован новый секрет внешнего триггера")

	return secret, nil
}

// Проверка соединения с Redis
func checkRedisConnection(ctx context.Context, cacheClient interfaces.CachePort) error {
	testKey := "test:connection"
	testValue := []byte("test-value")

	if err := cacheClient.Set(ctx, testKey, testValue, 10*time.Second); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}

	value, err := cacheClient.Get(ctx, testKey)
	if err != nil {
		return fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	if string(value) != string(testValue) {
		return fmt.Errorf("некорректное значение из Redis: получено %s, ожидалось %s",
			string(value), string(testValue))
	}

	if err := cacheClient.Delete(ctx, testKey); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}

	return nil
}
