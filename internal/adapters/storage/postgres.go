package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/tx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogStorage реализация CatalogPort и TaxonomyPort для PostgreSQL
type CatalogStorage struct {
	pool      *pgxpool.Pool
	txManager tx.TxManager
}

// NewCatalogStorageWithPool создает хранилище поверх готового пула
func NewCatalogStorageWithPool(ctx context.Context, pool *pgxpool.Pool, txManager tx.TxManager) (*CatalogStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &CatalogStorage{
		pool:      pool,
		txManager: txManager,
	}, nil
}

// Close закрывает соединение с БД
func (r *CatalogStorage) Close() error {
	r.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *CatalogStorage) getExecutor(ctx context.Context) executor {
	if txFromCtx, ok := tx.GetTxFromContext(ctx); ok {
		return txFromCtx
	}
	return r.pool
}

// FindBySKU получает запись каталога по источнику и артикулу вместе
// с термами и медиа. Артикул уникален только в пределах источника
func (r *CatalogStorage) FindBySKU(ctx context.Context, source, sku string) (*models.CatalogRecord, error) {
	e := r.getExecutor(ctx)

	query := `
		SELECT id, source, sku, name, price, wholesale_price, stock, status,
		       attributes, meta, last_synced_at, created_at, updated_at
		FROM catalog.records
		WHERE source = $1 AND sku = $2
	`

	var record models.CatalogRecord
	var attributesJSON, metaJSON []byte

	row := e.QueryRow(ctx, query, source, sku)
	err := row.Scan(&record.ID, &record.Source, &record.SKU, &record.Name,
		&record.Price, &record.WholesalePrice, &record.Stock, &record.Status,
		&attributesJSON, &metaJSON, &record.LastSyncedAt,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Запись не найдена
		}
		return nil, fmt.Errorf("failed to find record by sku: %w", err)
	}

	if len(attributesJSON) > 0 {
		if err := json.Unmarshal(attributesJSON, &record.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record attributes: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &record.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record meta: %w", err)
		}
	}

	if record.TermIDs, err = r.loadTermIDs(ctx, record.ID); err != nil {
		return nil, err
	}
	if record.MediaURLs, err = r.loadMediaURLs(ctx, record.ID); err != nil {
		return nil, err
	}

	return &record, nil
}

// loadTermIDs загружает привязки записи к термам таксономии
func (r *CatalogStorage) loadTermIDs(ctx context.Context, recordID string) ([]int64, error) {
	e := r.getExecutor(ctx)

	rows, err := e.Query(ctx, `SELECT term_id FROM catalog.record_terms WHERE record_id = $1`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query record terms: %w", err)
	}
	defer rows.Close()

	var termIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan term row: %w", err)
		}
		termIDs = append(termIDs, id)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating term rows: %w", rows.Err())
	}

	return termIDs, nil
}

// loadMediaURLs загружает медиа записи в порядке позиций
func (r *CatalogStorage) loadMediaURLs(ctx context.Context, recordID string) ([]string, error) {
	e := r.getExecutor(ctx)

	rows, err := e.Query(ctx, `SELECT url FROM catalog.media WHERE record_id = $1 ORDER BY position`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		urls = append(urls, url)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating media rows: %w", rows.Err())
	}

	return urls, nil
}

// CreateRecord создает запись каталога вместе с термами и медиа
// одной транзакцией
func (r *CatalogStorage) CreateRecord(ctx context.Context, record *models.CatalogRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	attributesJSON, err := json.Marshal(record.Attributes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record attributes: %w", err)
	}
	metaJSON, err := json.Marshal(record.Meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record meta: %w", err)
	}

	err = r.txManager.Do(ctx, func(txCtx context.Context) error {
		e := r.getExecutor(txCtx)

		query := `
			INSERT INTO catalog.records (id, source, sku, name, price, wholesale_price,
				stock, status, attributes, meta, last_synced_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
		_, err := e.Exec(txCtx, query, record.ID, record.Source, record.SKU, record.Name,
			record.Price, record.WholesalePrice, record.Stock, record.Status,
			attributesJSON, metaJSON, record.LastSyncedAt, record.CreatedAt, record.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create record: %w", err)
		}

		if err := r.insertTerms(txCtx, record.ID, record.TermIDs); err != nil {
			return err
		}
		return r.insertMedia(txCtx, record.ID, record.MediaURLs)
	})
	if err != nil {
		return "", err
	}

	return record.ID, nil
}

// updatableColumns ограничивает UpdateRecord известными колонками
var updatableColumns = map[string]struct{}{
	"name":            {},
	"price":           {},
	"wholesale_price": {},
	"stock":           {},
	"status":          {},
	"attributes":      {},
	"last_synced_at":  {},
}

// UpdateRecord обновляет только перечисленные поля записи
func (r *CatalogStorage) UpdateRecord(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	e := r.getExecutor(ctx)

	setClause := ""
	args := []interface{}{id}
	argPos := 2
	for column, value := range fields {
		if _, ok := updatableColumns[column]; !ok {
			return fmt.Errorf("unknown record column %q", column)
		}
		if setClause != "" {
			setClause += ", "
		}
		setClause += fmt.Sprintf("%s = $%d", column, argPos)
		args = append(args, value)
		argPos++
	}
	setClause += fmt.Sprintf(", updated_at = $%d", argPos)
	args = append(args, time.Now().UTC())

	query := "UPDATE catalog.records SET " + setClause + " WHERE id = $1"
	tag, err := e.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update record %s: no rows affected", id)
	}

	return nil
}

// SetStatus изменяет статус публикации записи
func (r *CatalogStorage) SetStatus(ctx context.Context, id string, status string) error {
	return r.UpdateRecord(ctx, id, map[string]interface{}{"status": status})
}

// SetTerms заменяет привязки записи к термам таксономии
func (r *CatalogStorage) SetTerms(ctx context.Context, id string, termIDs []int64) error {
	return r.txManager.Do(ctx, func(txCtx context.Context) error {
		e := r.getExecutor(txCtx)
		if _, err := e.Exec(txCtx, `DELETE FROM catalog.record_terms WHERE record_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear record terms: %w", err)
		}
		return r.insertTerms(txCtx, id, termIDs)
	})
}

func (r *CatalogStorage) insertTerms(ctx context.Context, recordID string, termIDs []int64) error {
	e := r.getExecutor(ctx)
	for _, termID := range termIDs {
		_, err := e.Exec(ctx,
			`INSERT INTO catalog.record_terms (record_id, term_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			recordID, termID)
		if err != nil {
			return fmt.Errorf("failed to attach term %d: %w", termID, err)
		}
	}
	return nil
}

// AttachMedia привязывает медиа-файлы к записи в заданном порядке
func (r *CatalogStorage) AttachMedia(ctx context.Context, id string, urls []string) error {
	return r.txManager.Do(ctx, func(txCtx context.Context) error {
		return r.insertMedia(txCtx, id, urls)
	})
}

func (r *CatalogStorage) insertMedia(ctx context.Context, recordID string, urls []string) error {
	e := r.getExecutor(ctx)
	for position, url := range urls {
		_, err := e.Exec(ctx,
			`INSERT INTO catalog.media (id, record_id, url, position) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), recordID, url, position)
		if err != nil {
			return fmt.Errorf("failed to attach media: %w", err)
		}
	}
	return nil
}

// DeleteMedia удаляет все медиа-файлы записи
func (r *CatalogStorage) DeleteMedia(ctx context.Context, id string) error {
	e := r.getExecutor(ctx)
	if _, err := e.Exec(ctx, `DELETE FROM catalog.media WHERE record_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete media: %w", err)
	}
	return nil
}

// GetField читает произвольное мета-поле записи.
// Возвращает "" если поле не установлено
func (r *CatalogStorage) GetField(ctx context.Context, id string, key string) (string, error) {
	e := r.getExecutor(ctx)

	var value *string
	row := e.QueryRow(ctx, `SELECT meta->>$2 FROM catalog.records WHERE id = $1`, id, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get record field: %w", err)
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

// SetField записывает произвольное мета-поле записи
func (r *CatalogStorage) SetField(ctx context.Context, id string, key string, value string) error {
	e := r.getExecutor(ctx)

	query := `
		UPDATE catalog.records
		SET meta = COALESCE(meta, '{}'::jsonb) || jsonb_build_object($2::text, $3::text),
		    updated_at = $4
		WHERE id = $1
	`
	tag, err := e.Exec(ctx, query, id, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set record field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to set record field %s: no rows affected", id)
	}

	return nil
}

// ListSKUs возвращает все артикулы источника с ID их записей
func (r *CatalogStorage) ListSKUs(ctx context.Context, source string) (map[string]string, error) {
	e := r.getExecutor(ctx)

	rows, err := e.Query(ctx, `SELECT sku, id FROM catalog.records WHERE source = $1`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list skus: %w", err)
	}
	defer rows.Close()

	skus := make(map[string]string)
	for rows.Next() {
		var sku, id string
		if err := rows.Scan(&sku, &id); err != nil {
			return nil, fmt.Errorf("failed to scan sku row: %w", err)
		}
		skus[sku] = id
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating sku rows: %w", rows.Err())
	}

	return skus, nil
}

// FindTerm ищет терм по метке и родителю.
// Возвращает 0, nil если терм не найден
func (r *CatalogStorage) FindTerm(ctx context.Context, label string, parentID int64) (int64, error) {
	e := r.getExecutor(ctx)

	var id int64
	row := e.QueryRow(ctx,
		`SELECT id FROM catalog.terms WHERE label = $1 AND COALESCE(parent_id, 0) = $2`,
		label, parentID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil // Терм не найден
		}
		return 0, fmt.Errorf("failed to find term: %w", err)
	}

	return id, nil
}

// CreateTerm создает терм и возвращает его ID.
// Повторное создание существующего терма возвращает существующий ID
func (r *CatalogStorage) CreateTerm(ctx context.Context, label string, parentID int64) (int64, error) {
	e := r.getExecutor(ctx)

	var id int64
	query := `
		INSERT INTO catalog.terms (label, parent_id)
		VALUES ($1, NULLIF($2, 0))
		ON CONFLICT (label, COALESCE(parent_id, 0)) DO UPDATE SET label = EXCLUDED.label
		RETURNING id
	`
	row := e.QueryRow(ctx, query, label, parentID)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create term: %w", err)
	}

	return id, nil
}
