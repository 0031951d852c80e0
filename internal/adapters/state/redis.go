package state

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"github.com/go-redis/redis/v8"
)

// RedisState реализация StatePort поверх Redis.
// Хранит долговременное состояние движка синхронизации: курсор,
// статус выполнения с heartbeat, маркеры задач поколения и секрет
// триггера. Все ключи разделены по источникам
type RedisState struct {
	client *redis.Client
}

func NewRedisState(ctx context.Context, host string, port int, password string, db int) (interfaces.StatePort, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisState{client: client}, nil
}

func cursorKey(source string) string    { return "import:" + source + ":cursor" }
func statusKey(source string) string    { return "import:" + source + ":status" }
func heartbeatKey(source string) string { return "import:" + source + ":heartbeat" }
func runLockKey(source string) string   { return "import:" + source + ":run_lock" }
func pendingKey(source string) string   { return "import:" + source + ":jobs:pending" }
func finishedKey(source string) string  { return "import:" + source + ":jobs:finished" }

const cronSecretKey = "import:cron_secret"

// Cursor возвращает сохраненную позицию курсора.
// Отсутствующий ключ означает начало фида
func (s *RedisState) Cursor(ctx context.Context, source string) (int, error) {
	val, err := s.client.Get(ctx, cursorKey(source)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	position, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor value %q: %w", val, err)
	}
	return position, nil
}

func (s *RedisState) SetCursor(ctx context.Context, source string, position int) error {
	return s.client.Set(ctx, cursorKey(source), position, 0).Err()
}

// RunStatus возвращает статус выполнения и время последнего heartbeat.
// Отсутствующий статус трактуется как idle
func (s *RedisState) RunStatus(ctx context.Context, source string) (string, time.Time, error) {
	status, err := s.client.Get(ctx, statusKey(source)).Result()
	if err != nil {
		if err == redis.Nil {
			return interfaces.RunStatusIdle, time.Time{}, nil
		}
		return "", time.Time{}, err
	}

	var heartbeat time.Time
	raw, err := s.client.Get(ctx, heartbeatKey(source)).Result()
	if err != nil && err != redis.Nil {
		return "", time.Time{}, err
	}
	if err == nil {
		unix, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return "", time.Time{}, fmt.Errorf("invalid heartbeat value %q: %w", raw, parseErr)
		}
		heartbeat = time.Unix(unix, 0)
	}

	return status, heartbeat, nil
}

// SetRunStatus записывает статус вместе со свежим heartbeat
func (s *RedisState) SetRunStatus(ctx context.Context, source string, status string) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, statusKey(source), status, 0)
	pipe.Set(ctx, heartbeatKey(source), time.Now().Unix(), 0)
	_, err := pipe.Exec(ctx)
	return err
}

// AcquireRun атомарно захватывает право на запуск источника.
// TTL страхует от вечной блокировки после падения процесса
func (s *RedisState) AcquireRun(ctx context.Context, source string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, runLockKey(source), 1, ttl).Result()
}

func (s *RedisState) ReleaseRun(ctx context.Context, source string) error {
	return s.client.Del(ctx, runLockKey(source)).Err()
}

func (s *RedisState) MarkJobPending(ctx context.Context, source string, jobID string) error {
	return s.client.SAdd(ctx, pendingKey(source), jobID).Err()
}

// MarkJobDone переводит задачу из незавершенных в завершенные
func (s *RedisState) MarkJobDone(ctx context.Context, source string, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, pendingKey(source), jobID)
	pipe.SAdd(ctx, finishedKey(source), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisState) PendingJobCount(ctx context.Context, source string) (int64, error) {
	return s.client.SCard(ctx, pendingKey(source)).Result()
}

// PurgeFinishedJobs удаляет маркеры завершенных задач перед новым поколением
func (s *RedisState) PurgeFinishedJobs(ctx context.Context, source string) error {
	return s.client.Del(ctx, finishedKey(source)).Err()
}

// CronSecret возвращает "" если секрет еще не сгенерирован
func (s *RedisState) CronSecret(ctx context.Context) (string, error) {
	secret, err := s.client.Get(ctx, cronSecretKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return secret, nil
}

func (s *RedisState) SetCronSecret(ctx context.Context, secret string) error {
	return s.client.Set(ctx, cronSecretKey, secret, 0).Err()
}

func (s *RedisState) Close() error {
	return s.client.Close()
}
