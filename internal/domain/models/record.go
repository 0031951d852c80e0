package models

import (
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/geo"
)

// Статусы публикации записи каталога
const (
	StatusPublish = "publish"
	StatusDraft   = "draft"
)

// Стандартные мета-поля записи каталога
const (
	FieldWholesalePrice = "wholesale_price"
	FieldLastSyncedAt   = "last_synced_at"
	FieldLatitude       = "latitude"
	FieldLongitude      = "longitude"
	FieldWhatsApp       = "whatsapp"
)

// RemoteRecord представляет нормализованную запись удаленного фида.
// Клиенты фидов приводят свои сырые ответы к этой форме, движок
// синхронизации больше ничего о фиде не знает.
type RemoteRecord struct {
	SKU            string            `json:"sku"`
	Name           string            `json:"name"`
	Price          float64           `json:"price"`
	WholesalePrice float64           `json:"wholesale_price,omitempty"`
	Stock          int               `json:"stock"`

	// Таксономия товарного фида
	Brand       string `json:"brand,omitempty"`
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`

	// Таксономия фида объявлений
	Operation    string `json:"operation,omitempty"`
	Suboperation string `json:"suboperation,omitempty"`
	Type         string `json:"type,omitempty"`
	Subtype      string `json:"subtype,omitempty"`

	// Зоны, содержащие координаты записи, по результату геопривязки
	ZoneNames []string `json:"zone_names,omitempty"`

	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	HasCoordinates bool    `json:"has_coordinates,omitempty"`

	// WhatsApp контакт агента, если фид его сообщает
	WhatsApp string `json:"whatsapp,omitempty"`

	// LastModified присутствует только у фидов, сообщающих время
	// изменения записи. nil переключает движок на сравнение полей
	LastModified *time.Time `json:"last_modified,omitempty"`

	ImageURL    string   `json:"image_url,omitempty"`
	GalleryURLs []string `json:"gallery_urls,omitempty"`

	// Произвольные атрибуты записи (адрес, площади, комнаты и т.д.)
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MediaURLs возвращает главное изображение и галерею одним списком
func (r *RemoteRecord) MediaURLs() []string {
	urls := make([]string, 0, len(r.GalleryURLs)+1)
	if r.ImageURL != "" {
		urls = append(urls, r.ImageURL)
	}
	urls = append(urls, r.GalleryURLs...)
	return urls
}

// CatalogRecord представляет запись каталога в хранилище
type CatalogRecord struct {
	ID             string            `db:"id" json:"id"`
	Source         string            `db:"source" json:"source"`
	SKU            string            `db:"sku" json:"sku"`
	Name           string            `db:"name" json:"name"`
	Price          float64           `db:"price" json:"price"`
	WholesalePrice float64           `db:"wholesale_price" json:"wholesale_price"`
	Stock          int               `db:"stock" json:"stock"`
	Status         string            `db:"status" json:"status"`
	Attributes     map[string]string `db:"attributes" json:"attributes,omitempty"`
	// Meta хранит в себе служебные поля записи (координаты, контакты и т.д.)
	Meta         map[string]string `db:"meta" json:"meta,omitempty"`
	TermIDs      []int64           `json:"term_ids,omitempty"`
	MediaURLs    []string          `json:"media_urls,omitempty"`
	LastSyncedAt *time.Time        `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// Zone представляет географическую зону фида с полигоном границы
type Zone struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Polygon geo.Polygon `json:"polygon"`
}

// ---------------------------- KAFKA MODELS ----------------------------

// BatchJob представляет задачу обработки пакета записей в
// многоуровневом режиме импорта
type BatchJob struct {
	Generation string `json:"generation"`
	Source     string `json:"source"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
}

// RecordJob представляет задачу обработки одной записи
type RecordJob struct {
	Generation string        `json:"generation"`
	Source     string        `json:"source"`
	Batch      int           `json:"batch"`
	Index      int           `json:"index"`
	Record     *RemoteRecord `json:"record"`
}
