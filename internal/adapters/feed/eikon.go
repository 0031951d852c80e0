package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/internal/utils"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// SourceEikon имя источника товарного фида
const SourceEikon = "eikon"

// eikonProductsCacheKey фиксированный ключ разделяемого кэша снимка фида
const eikonProductsCacheKey = "feed:eikon:products"

// eikonTokenCacheKey ключ токена во внутрипроцессном кэше
const eikonTokenCacheKey = "eikon:token"

// skipSKU артикул-заглушка, который фид использует для служебных позиций
const skipSKU = "0000"

// EikonClient клиент товарного фида Eikon.
// Авторизация обменом логин/пароль на bearer-токен, снимок фида
// нормализуется и кэшируется в разделяемом кэше
type EikonClient struct {
	authURL         string
	productsURL     string
	username        string
	password        string
	httpClient      *http.Client
	cache           interfaces.CachePort
	tokenCache      *gocache.Cache
	limiter         *rate.Limiter
	cacheExpiration time.Duration
	logger          interfaces.LoggerPort
}

// NewEikonClient создает клиента фида Eikon
func NewEikonClient(
	authURL, productsURL, username, password string,
	timeout, cacheExpiration time.Duration,
	rateLimit int,
	cache interfaces.CachePort,
	logger interfaces.LoggerPort,
) *EikonClient {
	return &EikonClient{
		authURL:         authURL,
		productsURL:     productsURL,
		username:        username,
		password:        password,
		httpClient:      &http.Client{Timeout: timeout},
		cache:           cache,
		tokenCache:      gocache.New(cacheExpiration, 2*cacheExpiration),
		limiter:         rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		cacheExpiration: cacheExpiration,
		logger:          logger,
	}
}

// Name возвращает имя источника
func (c *EikonClient) Name() string { return SourceEikon }

// eikonProduct сырая запись товарного фида
type eikonProduct struct {
	Codigo             string     `json:"codigo"`
	Descripcion        string     `json:"descripcion"`
	Precio             flexNumber `json:"precio"`
	PrecioMayorista    flexNumber `json:"precio_mayorista"`
	Existencia         flexNumber `json:"existencia"`
	MarcaDescripcion   string     `json:"marca_descripcion"`
	RubroDescripcion   string     `json:"rubro_descripcion"`
	FamiliaDescripcion string     `json:"familia_descripcion"`
}

// FetchAll возвращает нормализованный снимок фида.
// Снимок кэшируется в разделяемом кэше, повторные вызовы в пределах
// срока действия не ходят к удаленному API
func (c *EikonClient) FetchAll(ctx context.Context, limit int) ([]*models.RemoteRecord, error) {
	if cached, err := c.cache.Get(ctx, eikonProductsCacheKey); err == nil && cached != nil {
		var records []*models.RemoteRecord
		if err := json.Unmarshal(cached, &records); err == nil {
			return truncate(records, limit), nil
		}
		// Поврежденный кэш игнорируем и забираем снимок заново
		c.logger.WarnWithContext(ctx, "Кэш снимка фида поврежден, выполняется повторная загрузка",
			interfaces.LogField{Key: "source", Value: SourceEikon})
	}

	// защита от одновременной загрузки снимка из разных процессов
	if cached, locked := awaitOrLock(ctx, c.cache, eikonProductsCacheKey); cached != nil {
		var records []*models.RemoteRecord
		if err := json.Unmarshal(cached, &records); err == nil {
			return truncate(records, limit), nil
		}
	} else if locked {
		defer c.cache.Unlock(ctx, eikonProductsCacheKey)
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.productsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build products request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("products request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokenCache.Delete(eikonTokenCacheKey)
		return nil, utils.ErrFeedUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: products endpoint status %d", utils.ErrFeedBadResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read products response: %w", err)
	}

	var raw []eikonProduct
	if err := decodeJSON(body, &raw); err != nil {
		return nil, err
	}

	records := c.normalize(raw)

	if payload, err := json.Marshal(records); err == nil {
		if err := c.cache.Set(ctx, eikonProductsCacheKey, payload, c.cacheExpiration); err != nil {
			c.logger.WarnWithContext(ctx, "Не удалось сохранить снимок фида в кэш",
				interfaces.LogField{Key: "source", Value: SourceEikon},
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}

	return truncate(records, limit), nil
}

// normalize приводит сырые записи фида к внутренней форме.
// Служебные позиции и позиции с артикулом на '*' пропускаются
func (c *EikonClient) normalize(raw []eikonProduct) []*models.RemoteRecord {
	records := make([]*models.RemoteRecord, 0, len(raw))
	for _, product := range raw {
		sku := strings.TrimSpace(product.Codigo)
		if sku == "" || sku == skipSKU || strings.HasPrefix(sku, "*") {
			continue
		}

		records = append(records, &models.RemoteRecord{
			SKU:            sku,
			Name:           strings.TrimSpace(product.Descripcion),
			Price:          round2(product.Precio.Float64()),
			WholesalePrice: round2(product.PrecioMayorista.Float64()),
			Stock:          int(product.Existencia.Float64()),
			Brand:          strings.TrimSpace(product.MarcaDescripcion),
			Category:       strings.TrimSpace(product.RubroDescripcion),
			Subcategory:    strings.TrimSpace(product.FamiliaDescripcion),
		})
	}
	return records
}

// token возвращает bearer-токен, выполняя обмен логин/пароль
// при отсутствии токена во внутрипроцессном кэше
func (c *EikonClient) token(ctx context.Context) (string, error) {
	if cached, ok := c.tokenCache.Get(eikonTokenCacheKey); ok {
		return cached.(string), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]string{
		"Username": c.username,
		"Password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", utils.ErrFeedUnauthorized
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}

	// Эндпоинт авторизации возвращает токен строкой в кавычках
	token := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if token == "" {
		return "", utils.ErrFeedUnauthorized
	}

	c.tokenCache.Set(eikonTokenCacheKey, token, gocache.DefaultExpiration)
	return token, nil
}

// truncate ограничивает снимок фида первыми limit записями
func truncate(records []*models.RemoteRecord, limit int) []*models.RemoteRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
