package config

import (
	"fmt"
	"github.com/spf13/viper"
	"os"
	"strings"
	"time"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host         string
		Port         int
		Password     string
		DB           int
		PoolSize     int           // размер пула соединений
		MinIdleConns int           // минимальное количество неактивных соединений
		ReadTimeout  time.Duration // таймаут чтения
		WriteTimeout time.Duration // таймаут записи
		MaxRetries   int           // максимальное количество повторных попыток
	}

	Kafka struct {
		Brokers         []string      `mapstructure:"brokers"`
		GroupID         string        `mapstructure:"group_id"`
		BatchTopic      string        `mapstructure:"batch_topic"`
		RecordTopic     string        `mapstructure:"record_topic"`
		DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
		AutoOffsetReset string        `mapstructure:"auto_offset_reset"`
		SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	}

	Metrics struct {
		Enabled     bool
		ServiceName string
		Endpoint    string
		Port        int
	}

	Security struct {
		JWTSecret        string
		JWTExpirationMin time.Duration
		CronSecret       string // пустое значение включает автогенерацию
		CORSAllowOrigins []string
	}

	// Importer управляет режимом и бюджетом циклов синхронизации
	Importer struct {
		Mode             string        // cron или scheduler
		Interval         time.Duration // период запуска, должен превышать MaxExecutionTime
		BatchSize        int           // размер пакета в многоуровневом режиме
		MaxExecutionTime time.Duration // потолок длительности одного запуска
		SafetyMargin     time.Duration // запас до потолка для корректной остановки
		RecordLimit      int           // 0 означает без ограничения
		DefaultWhatsApp  string        // контакт магазина по умолчанию
	}

	// Eikon описывает подключение к товарному фиду
	Eikon struct {
		Enabled         bool
		AuthURL         string
		ProductsURL     string
		Username        string
		Password        string
		Timeout         time.Duration
		CacheExpiration time.Duration
		RateLimit       int // запросов в секунду к удаленному API
	}

	// Gvamax описывает подключение к фиду объявлений недвижимости
	Gvamax struct {
		Enabled         bool
		BaseURL         string
		APIKey          string
		Timeout         time.Duration
		CacheExpiration time.Duration
		RateLimit       int // запросов в секунду к удаленному API
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	// Настройка Viper
	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AddConfigPath("../../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Чтение конфигурационного файла
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	// Установка значений по умолчанию
	setDefaults()

	// Привязка переменных окружения
	bindEnvVariables()

	// Чтение конфигурации в структуру
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	// Получаем окружение
	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	return &cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	// Основные настройки
	viper.SetDefault("appName", "catalog-sync")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	// Настройки сервера
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")
	viper.SetDefault("server.shutdownTimeout", "5s")

	// Настройки Postgres
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "catalog")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolSize", 10)
	viper.SetDefault("redis.minIdleConns", 2)
	viper.SetDefault("redis.readTimeout", "1s")
	viper.SetDefault("redis.writeTimeout", "1s")
	viper.SetDefault("redis.maxRetries", 3)

	// Настройки Kafka
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.groupID", "catalog-sync")
	viper.SetDefault("kafka.batchTopic", "import-batches")
	viper.SetDefault("kafka.recordTopic", "import-records")
	viper.SetDefault("kafka.deadLetterTopic", "import-dead-letter")
	viper.SetDefault("kafka.autoOffsetReset", "earliest")
	viper.SetDefault("kafka.sessionTimeout", "10s")

	// Настройки метрик
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.serviceName", "catalog-sync")
	viper.SetDefault("metrics.endpoint", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	// Настройки безопасности
	viper.SetDefault("security.jwtSecret", "your-secret-key")
	viper.SetDefault("security.jwtExpirationMin", "60m")
	viper.SetDefault("security.cronSecret", "")
	viper.SetDefault("security.corsAllowOrigins", []string{"*"})

	// Настройки импортера
	viper.SetDefault("importer.mode", "cron")
	viper.SetDefault("importer.interval", "10m")
	viper.SetDefault("importer.batchSize", 50)
	viper.SetDefault("importer.maxExecutionTime", "300s")
	viper.SetDefault("importer.safetyMargin", "10s")
	viper.SetDefault("importer.recordLimit", 0)
	viper.SetDefault("importer.defaultWhatsApp", "")

	// Настройки фида Eikon
	viper.SetDefault("eikon.enabled", false)
	viper.SetDefault("eikon.authURL", "")
	viper.SetDefault("eikon.productsURL", "")
	viper.SetDefault("eikon.username", "")
	viper.SetDefault("eikon.password", "")
	viper.SetDefault("eikon.timeout", "60s")
	viper.SetDefault("eikon.cacheExpiration", "300s")
	viper.SetDefault("eikon.rateLimit", 5)

	// Настройки фида GvaMax
	viper.SetDefault("gvamax.enabled", false)
	viper.SetDefault("gvamax.baseURL", "")
	viper.SetDefault("gvamax.apiKey", "")
	viper.SetDefault("gvamax.timeout", "60s")
	viper.SetDefault("gvamax.cacheExpiration", "3600s")
	viper.SetDefault("gvamax.rateLimit", 5)
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	// Основные настройки
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	// Настройки сервера
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")

	// Настройки Postgres
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	// Настройки Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.poolSize", "REDIS_POOL_SIZE")
	viper.BindEnv("redis.minIdleConns", "REDIS_MIN_IDLE_CONNS")
	viper.BindEnv("redis.readTimeout", "REDIS_READ_TIMEOUT")
	viper.BindEnv("redis.writeTimeout", "REDIS_WRITE_TIMEOUT")
	viper.BindEnv("redis.maxRetries", "REDIS_MAX_RETRIES")

	// Настройки Kafka
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.groupID", "KAFKA_GROUP_ID")
	viper.BindEnv("kafka.batchTopic", "KAFKA_BATCH_TOPIC")
	viper.BindEnv("kafka.recordTopic", "KAFKA_RECORD_TOPIC")
	viper.BindEnv("kafka.deadLetterTopic", "KAFKA_DEAD_LETTER_TOPIC")
	viper.BindEnv("kafka.autoOffsetReset", "KAFKA_AUTO_OFFSET_RESET")
	viper.BindEnv("kafka.sessionTimeout", "KAFKA_SESSION_TIMEOUT")

	// Настройки метрик
	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.serviceName", "METRICS_SERVICE_NAME")
	viper.BindEnv("metrics.endpoint", "METRICS_ENDPOINT")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	// Настройки безопасности
	viper.BindEnv("security.jwtSecret", "JWT_SECRET")
	viper.BindEnv("security.jwtExpirationMin", "JWT_EXPIRATION_MIN")
	viper.BindEnv("security.cronSecret", "CRON_SECRET")
	viper.BindEnv("security.corsAllowOrigins", "CORS_ALLOW_ORIGINS")

	// Настройки импортера
	viper.BindEnv("importer.mode", "IMPORTER_MODE")
	viper.BindEnv("importer.interval", "IMPORTER_INTERVAL")
	viper.BindEnv("importer.batchSize", "IMPORTER_BATCH_SIZE")
	viper.BindEnv("importer.maxExecutionTime", "IMPORTER_MAX_EXECUTION_TIME")
	viper.BindEnv("importer.safetyMargin", "IMPORTER_SAFETY_MARGIN")
	viper.BindEnv("importer.recordLimit", "IMPORTER_RECORD_LIMIT")
	viper.BindEnv("importer.defaultWhatsApp", "IMPORTER_DEFAULT_WHATSAPP")

	// Настройки фида Eikon
	viper.BindEnv("eikon.enabled", "EIKON_ENABLED")
	viper.BindEnv("eikon.authURL", "EIKON_AUTH_URL")
	viper.BindEnv("eikon.productsURL", "EIKON_PRODUCTS_URL")
	viper.BindEnv("eikon.username", "EIKON_USERNAME")
	viper.BindEnv("eikon.password", "EIKON_PASSWORD")
	viper.BindEnv("eikon.timeout", "EIKON_TIMEOUT")
	viper.BindEnv("eikon.cacheExpiration", "EIKON_CACHE_EXPIRATION")
	viper.BindEnv("eikon.rateLimit", "EIKON_RATE_LIMIT")

	// Настройки фида GvaMax
	viper.BindEnv("gvamax.enabled", "GVAMAX_ENABLED")
	viper.BindEnv("gvamax.baseURL", "GVAMAX_BASE_URL")
	viper.BindEnv("gvamax.apiKey", "GVAMAX_API_KEY")
	viper.BindEnv("gvamax.timeout", "GVAMAX_TIMEOUT")
	viper.BindEnv("gvamax.cacheExpiration", "GVAMAX_CACHE_EXPIRATION")
	viper.BindEnv("gvamax.rateLimit", "GVAMAX_RATE_LIMIT")
}
