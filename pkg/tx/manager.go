package tx

import (
	"context"
	"fmt"

	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txKey - ключ для хранения транзакции в контексте. Используем приватный тип, чтобы избежать коллизий.
type txKeyType struct{}

var txKey = txKeyType{}

// TxManager управляет жизненным циклом транзакций БД.
type TxManager interface {
	// Do выполняет переданную функцию `fn` внутри транзакции.
	// Если `fn` возвращает ошибку, транзакция откатывается (Rollback).
	// Если `fn` завершается успешно (возвращает nil), транзакция фиксируется (Commit).
	// Контекст, передаваемый в `fn`, будет содержать саму транзакцию.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// pgxTxManager - реализация TxManager для pgx.
type pgxTxManager struct {
	pool   *pgxpool.Pool
	logger interfaces.LoggerPort
}

// NewTxManager создает новый менеджер транзакций.
func NewTxManager(pool *pgxpool.Pool, logger interfaces.LoggerPort) TxManager {
	return &pgxTxManager{pool: pool, logger: logger}
}

// Do реализует метод интерфейса TxManager.
func (m *pgxTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	// Начинаем транзакцию
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx.Begin failed: %w", err)
	}

	// Создаем новый контекст с транзакцией внутри
	txCtx := context.WithValue(ctx, txKey, tx)

	// Гарантируем откат транзакции в случае паники внутри fn или ошибки при коммите.
	// Rollback вернет ошибку только если транзакция уже была завершена
	// или если соединение потеряно.
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Выполняем переданную функцию с контекстом, содержащим транзакцию
	err = fn(txCtx)
	if err != nil {
		// Если функция вернула ошибку, откатываем транзакцию
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			// Возвращаем оригинальную ошибку от fn, откат только логируем
			m.logger.WarnWithContext(ctx, "Ошибка отката транзакции",
				interfaces.LogField{Key: "rollback_error", Value: rollbackErr.Error()},
				interfaces.LogField{Key: "original_error", Value: err.Error()},
			)
		}
		return err
	}

	// Если функция завершилась успешно, коммитим транзакцию
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx.Commit failed: %w", err)
	}

	return nil
}

// GetTxFromContext извлекает транзакцию из контекста.
// Эта функция используется ВНУТРИ блока fn, переданного в TxManager.Do,
// когда репозиторию нужен объект транзакции напрямую.
func GetTxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}
