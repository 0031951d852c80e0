package feed

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/geo"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/internal/utils"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"golang.org/x/time/rate"
)

// SourceGvamax имя источника фида объявлений недвижимости
const SourceGvamax = "gvamax"

// gvamaxDateLayout формат времени изменения объявления в фиде
const gvamaxDateLayout = "2006-01-02 15:04:05"

// GvamaxClient клиент фида объявлений GvaMax.
// Авторизация предустановленным ключом в параметре запроса, каждый
// ответ кэшируется в разделяемом кэше по хэшу URL запроса
type GvamaxClient struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	cache           interfaces.CachePort
	limiter         *rate.Limiter
	cacheExpiration time.Duration
	logger          interfaces.LoggerPort
}

// NewGvamaxClient создает клиента фида GvaMax
func NewGvamaxClient(
	baseURL, apiKey string,
	timeout, cacheExpiration time.Duration,
	rateLimit int,
	cache interfaces.CachePort,
	logger interfaces.LoggerPort,
) *GvamaxClient {
	return &GvamaxClient{
		baseURL:         baseURL,
		apiKey:          apiKey,
		httpClient:      &http.Client{Timeout: timeout},
		cache:           cache,
		limiter:         rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		cacheExpiration: cacheExpiration,
		logger:          logger,
	}
}

// Name возвращает имя источника
func (c *GvamaxClient) Name() string { return SourceGvamax }

// endpoint собирает URL запроса с ключом авторизации
func (c *GvamaxClient) endpoint(path string) string {
	query := url.Values{"key": []string{c.apiKey}}
	return c.baseURL + path + "?" + query.Encode()
}

// fetchCached возвращает тело ответа по URL, используя разделяемый кэш.
// Ключ кэша строится из хэша URL запроса
func (c *GvamaxClient) fetchCached(ctx context.Context, requestURL string) ([]byte, error) {
	sum := sha1.Sum([]byte(requestURL))
	cacheKey := "feed:gvamax:" + hex.EncodeToString(sum[:])

	if cached, err := c.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		return cached, nil
	}

	// защита от одновременной загрузки одного URL из разных процессов
	if cached, locked := awaitOrLock(ctx, c.cache, cacheKey); cached != nil {
		return cached, nil
	} else if locked {
		defer c.cache.Unlock(ctx, cacheKey)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, utils.ErrFeedUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", utils.ErrFeedBadResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed response: %w", err)
	}

	if err := c.cache.Set(ctx, cacheKey, body, c.cacheExpiration); err != nil {
		c.logger.WarnWithContext(ctx, "Не удалось сохранить ответ фида в кэш",
			interfaces.LogField{Key: "source", Value: SourceGvamax},
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	return body, nil
}

// gvamaxListing сырая запись объявления
type gvamaxListing struct {
	ID                 flexNumber `json:"id"`
	Operacion          flexString `json:"operacion"`
	Suboperacion       flexString `json:"suboperacion"`
	Tipo               flexString `json:"tipo"`
	Subtipo            flexString `json:"subtipo"`
	Precio             flexNumber `json:"precio"`
	Moneda             flexString `json:"moneda"`
	Calle              flexString `json:"calle"`
	Nro                flexString `json:"nro"`
	Barrio             flexString `json:"barrio"`
	Localidad          flexString `json:"localidad"`
	Supterr            flexString `json:"supterr"`
	Supcub             flexString `json:"supcub"`
	Ambientes          flexString `json:"ambientes"`
	Dormitorios        flexString `json:"dormitorios"`
	Banos              flexString `json:"banos"`
	Antiguedad         flexString `json:"antiguedad"`
	Latitud            flexNumber `json:"latitud"`
	Longitud           flexNumber `json:"longitud"`
	FechaModificacion  flexString `json:"fecha_modificacion"`
	WhatsApp           flexString `json:"whatsapp"`
}

// gvamaxImageGroup сырая группа изображений объявления
type gvamaxImageGroup struct {
	Imagenes []struct {
		URL flexString `json:"url"`
	} `json:"imagenes"`
}

// gvamaxZone сырая запись справочника зон
type gvamaxZone struct {
	ID     flexNumber `json:"id"`
	Nombre flexString `json:"nombre"`
}

// gvamaxVertex вершина полигона границы зоны
type gvamaxVertex struct {
	Latitud  flexNumber `json:"latitud"`
	Longitud flexNumber `json:"longitud"`
}

// FetchAll возвращает нормализованный снимок фида объявлений.
// Для каждого объявления дополнительно забираются изображения
func (c *GvamaxClient) FetchAll(ctx context.Context, limit int) ([]*models.RemoteRecord, error) {
	body, err := c.fetchCached(ctx, c.endpoint("/propiedades"))
	if err != nil {
		return nil, err
	}

	var raw []gvamaxListing
	if err := decodeJSON(body, &raw); err != nil {
		return nil, err
	}

	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}

	records := make([]*models.RemoteRecord, 0, len(raw))
	for _, listing := range raw {
		record, err := c.normalize(ctx, listing)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// normalize приводит сырое объявление к внутренней форме
func (c *GvamaxClient) normalize(ctx context.Context, listing gvamaxListing) (*models.RemoteRecord, error) {
	sku := strconv.FormatInt(int64(listing.ID.Float64()), 10)

	record := &models.RemoteRecord{
		SKU:          sku,
		Name:         listingName(listing),
		Price:        round2(listing.Precio.Float64()),
		Operation:    listing.Operacion.String(),
		Suboperation: listing.Suboperacion.String(),
		Type:         listing.Tipo.String(),
		Subtype:      listing.Subtipo.String(),
		Latitude:     listing.Latitud.Float64(),
		Longitude:    listing.Longitud.Float64(),
		WhatsApp:     listing.WhatsApp.String(),
		Attributes: map[string]string{
			models.AttrStreet:       listing.Calle.String(),
			models.AttrNumber:       listing.Nro.String(),
			models.AttrNeighborhood: listing.Barrio.String(),
			models.AttrCity:         listing.Localidad.String(),
			models.AttrTerrainM2:    listing.Supterr.String(),
			models.AttrCoveredM2:    listing.Supcub.String(),
			models.AttrEnvironments: listing.Ambientes.String(),
			models.AttrBedrooms:     listing.Dormitorios.String(),
			models.AttrBathrooms:    listing.Banos.String(),
			models.AttrAntiquity:    listing.Antiguedad.String(),
			"moneda":                listing.Moneda.String(),
		},
	}
	record.HasCoordinates = record.Latitude != 0 || record.Longitude != 0

	modified, err := time.Parse(gvamaxDateLayout, listing.FechaModificacion.String())
	if err != nil {
		// Неразбираемая дата трактуется как всегда устаревшая запись:
		// лишняя запись в каталог лучше молча замороженной
		c.logger.WarnWithContext(ctx, "Некорректная дата изменения объявления",
			interfaces.LogField{Key: "source", Value: SourceGvamax},
			interfaces.LogField{Key: "sku", Value: sku},
			interfaces.LogField{Key: "raw_date", Value: listing.FechaModificacion.String()})
		modified = time.Now()
	}
	record.LastModified = &modified

	urls, err := c.listingImages(ctx, sku)
	if err != nil {
		return nil, err
	}
	if len(urls) > 0 {
		record.ImageURL = urls[0]
		record.GalleryURLs = urls[1:]
	}

	return record, nil
}

// listingImages забирает и разворачивает вложенную структуру изображений
func (c *GvamaxClient) listingImages(ctx context.Context, sku string) ([]string, error) {
	body, err := c.fetchCached(ctx, c.endpoint("/propiedades/"+sku+"/imagenes"))
	if err != nil {
		return nil, err
	}

	var groups []gvamaxImageGroup
	if err := decodeJSON(body, &groups); err != nil {
		return nil, err
	}

	var urls []string
	for _, group := range groups {
		for _, image := range group.Imagenes {
			if image.URL.String() != "" {
				urls = append(urls, image.URL.String())
			}
		}
	}

	return urls, nil
}

// Zones возвращает справочник зон с полигонами границ
func (c *GvamaxClient) Zones(ctx context.Context) ([]*models.Zone, error) {
	body, err := c.fetchCached(ctx, c.endpoint("/zonas"))
	if err != nil {
		return nil, err
	}

	var raw []gvamaxZone
	if err := decodeJSON(body, &raw); err != nil {
		return nil, err
	}

	zones := make([]*models.Zone, 0, len(raw))
	for _, zone := range raw {
		id := strconv.FormatInt(int64(zone.ID.Float64()), 10)

		polygon, err := c.zonePolygon(ctx, id)
		if err != nil {
			return nil, err
		}

		zones = append(zones, &models.Zone{
			ID:      id,
			Name:    zone.Nombre.String(),
			Polygon: polygon,
		})
	}

	return zones, nil
}

// zonePolygon забирает упорядоченное кольцо границы зоны
func (c *GvamaxClient) zonePolygon(ctx context.Context, zoneID string) (geo.Polygon, error) {
	body, err := c.fetchCached(ctx, c.endpoint("/zonas/"+zoneID+"/poligono"))
	if err != nil {
		return nil, err
	}

	var vertices []gvamaxVertex
	if err := decodeJSON(body, &vertices); err != nil {
		return nil, err
	}

	polygon := make(geo.Polygon, 0, len(vertices))
	for _, vertex := range vertices {
		polygon = append(polygon, geo.Point{
			X: vertex.Longitud.Float64(),
			Y: vertex.Latitud.Float64(),
		})
	}

	return polygon, nil
}

// listingName собирает название объявления из типа, операции и района
func listingName(listing gvamaxListing) string {
	name := listing.Tipo.String()
	if listing.Operacion.String() != "" {
		if name != "" {
			name += " en "
		}
		name += listing.Operacion.String()
	}
	if listing.Barrio.String() != "" {
		name += " - " + listing.Barrio.String()
	}
	return name
}
