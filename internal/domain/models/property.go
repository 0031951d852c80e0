package models

import (
	"strconv"
	"strings"
)

// Атрибуты записи-объявления, заполняемые при импорте
const (
	AttrOperation    = "operacion"
	AttrSuboperation = "suboperacion"
	AttrType         = "tipo"
	AttrSubtype      = "subtipo"
	AttrZones        = "zonas"
	AttrStreet       = "calle"
	AttrNumber       = "nro"
	AttrNeighborhood = "barrio"
	AttrCity         = "localidad"
	AttrTerrainM2    = "supterr"
	AttrCoveredM2    = "supcub"
	AttrEnvironments = "ambientes"
	AttrBedrooms     = "dormitorios"
	AttrBathrooms    = "banos"
	AttrAntiquity    = "antiguedad"
)

// zoneSeparator разделяет имена зон в атрибуте AttrZones
const zoneSeparator = "|"

// JoinZoneNames сериализует имена зон в значение атрибута AttrZones
func JoinZoneNames(names []string) string {
	return strings.Join(names, zoneSeparator)
}

// Property представление записи каталога как объекта недвижимости.
// Композиция поверх CatalogRecord: только чтение, без собственного
// состояния, все данные берутся из атрибутов и мета-полей записи.
type Property struct {
	record          *CatalogRecord
	defaultWhatsApp string
}

// NewProperty оборачивает запись каталога в представление недвижимости.
// defaultWhatsApp используется, если у записи нет собственного контакта
func NewProperty(record *CatalogRecord, defaultWhatsApp string) *Property {
	return &Property{record: record, defaultWhatsApp: defaultWhatsApp}
}

func (p *Property) attr(key string) string {
	if p.record.Attributes == nil {
		return ""
	}
	return p.record.Attributes[key]
}

func (p *Property) meta(key string) string {
	if p.record.Meta == nil {
		return ""
	}
	return p.record.Meta[key]
}

// Record возвращает запись каталога, лежащую в основе представления
func (p *Property) Record() *CatalogRecord { return p.record }

// OperationName возвращает операцию объявления (продажа, аренда)
func (p *Property) OperationName() string { return p.attr(AttrOperation) }

// SuboperationName возвращает уточнение операции
func (p *Property) SuboperationName() string { return p.attr(AttrSuboperation) }

// TypeName возвращает тип объекта (дом, квартира, участок)
func (p *Property) TypeName() string { return p.attr(AttrType) }

// SubtypeName возвращает уточнение типа объекта
func (p *Property) SubtypeName() string { return p.attr(AttrSubtype) }

// ZoneNames возвращает имена всех зон, содержащих объект
func (p *Property) ZoneNames() []string {
	raw := p.attr(AttrZones)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, zoneSeparator)
}

// PrimaryZoneName возвращает первую зону объекта
func (p *Property) PrimaryZoneName() string {
	zones := p.ZoneNames()
	if len(zones) == 0 {
		return ""
	}
	return zones[0]
}

// Address возвращает улицу и номер одной строкой
func (p *Property) Address() string {
	street := p.attr(AttrStreet)
	number := p.attr(AttrNumber)
	if street == "" {
		return number
	}
	if number == "" {
		return street
	}
	return street + " " + number
}

// Neighborhood возвращает район объекта
func (p *Property) Neighborhood() string { return p.attr(AttrNeighborhood) }

// City возвращает населенный пункт объекта
func (p *Property) City() string { return p.attr(AttrCity) }

// TerrainM2 возвращает площадь участка
func (p *Property) TerrainM2() string { return p.attr(AttrTerrainM2) }

// CoveredM2 возвращает крытую площадь
func (p *Property) CoveredM2() string { return p.attr(AttrCoveredM2) }

// Environments возвращает число помещений
func (p *Property) Environments() string { return p.attr(AttrEnvironments) }

// Bedrooms возвращает число спален
func (p *Property) Bedrooms() string { return p.attr(AttrBedrooms) }

// Bathrooms возвращает число санузлов
func (p *Property) Bathrooms() string { return p.attr(AttrBathrooms) }

// Antiquity возвращает возраст постройки
func (p *Property) Antiquity() string { return p.attr(AttrAntiquity) }

// Coordinates возвращает широту и долготу объекта.
// ok == false означает, что координаты у записи отсутствуют
func (p *Property) Coordinates() (lat, lng float64, ok bool) {
	latRaw := p.meta(FieldLatitude)
	lngRaw := p.meta(FieldLongitude)
	if latRaw == "" || lngRaw == "" {
		return 0, 0, false
	}
	lat, errLat := strconv.ParseFloat(latRaw, 64)
	lng, errLng := strconv.ParseFloat(lngRaw, 64)
	if errLat != nil || errLng != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

// WhatsApp возвращает контакт агента или контакт магазина по умолчанию
func (p *Property) WhatsApp() string {
	if number := p.meta(FieldWhatsApp); number != "" {
		return number
	}
	return p.defaultWhatsApp
}

// PropertyView сериализуемое представление для HTTP API
type PropertyView struct {
	SKU          string   `json:"sku"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	Price        float64  `json:"price"`
	Operation    string   `json:"operation,omitempty"`
	Suboperation string   `json:"suboperation,omitempty"`
	Type         string   `json:"type,omitempty"`
	Subtype      string   `json:"subtype,omitempty"`
	Zones        []string `json:"zones,omitempty"`
	PrimaryZone  string   `json:"primary_zone,omitempty"`
	Address      string   `json:"address,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	City         string   `json:"city,omitempty"`
	TerrainM2    string   `json:"terrain_m2,omitempty"`
	CoveredM2    string   `json:"covered_m2,omitempty"`
	Environments string   `json:"environments,omitempty"`
	Bedrooms     string   `json:"bedrooms,omitempty"`
	Bathrooms    string   `json:"bathrooms,omitempty"`
	Antiquity    string   `json:"antiquity,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	WhatsApp     string   `json:"whatsapp,omitempty"`
	Media        []string `json:"media,omitempty"`
}

// View собирает сериализуемое представление объекта
func (p *Property) View() *PropertyView {
	view := &PropertyView{
		SKU:          p.record.SKU,
		Name:         p.record.Name,
		Status:       p.record.Status,
		Price:        p.record.Price,
		Operation:    p.OperationName(),
		Suboperation: p.SuboperationName(),
		Type:         p.TypeName(),
		Subtype:      p.SubtypeName(),
		Zones:        p.ZoneNames(),
		PrimaryZone:  p.PrimaryZoneName(),
		Address:      p.Address(),
		Neighborhood: p.Neighborhood(),
		City:         p.City(),
		TerrainM2:    p.TerrainM2(),
		CoveredM2:    p.CoveredM2(),
		Environments: p.Environments(),
		Bedrooms:     p.Bedrooms(),
		Bathrooms:    p.Bathrooms(),
		Antiquity:    p.Antiquity(),
		WhatsApp:     p.WhatsApp(),
		Media:        p.record.MediaURLs,
	}
	if lat, lng, ok := p.Coordinates(); ok {
		view.Latitude = &lat
		view.Longitude = &lng
	}
	return view
}
