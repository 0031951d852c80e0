package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPropertyAccessors(t *testing.T) {
	record := &CatalogRecord{
		SKU:    "100",
		Name:   "Casa en Venta - Centro",
		Status: StatusPublish,
		Price:  120000,
		Attributes: map[string]string{
			AttrOperation: "Venta",
			AttrType:      "Casa",
			AttrZones:     JoinZoneNames([]string{"Norte", "Centro"}),
			AttrStreet:    "San Martin",
			AttrNumber:    "742",
		},
		Meta: map[string]string{
			FieldLatitude:  "-32.95",
			FieldLongitude: "-60.65",
		},
	}

	property := NewProperty(record, "5493419999999")

	assert.Equal(t, "Venta", property.OperationName())
	assert.Equal(t, "Casa", property.TypeName())
	assert.Equal(t, []string{"Norte", "Centro"}, property.ZoneNames())
	assert.Equal(t, "Norte", property.PrimaryZoneName())
	assert.Equal(t, "San Martin 742", property.Address())

	lat, lng, ok := property.Coordinates()
	assert.True(t, ok)
	assert.Equal(t, -32.95, lat)
	assert.Equal(t, -60.65, lng)

	// контакта у записи нет, используется контакт по умолчанию
	assert.Equal(t, "5493419999999", property.WhatsApp())
}

func TestPropertyOwnWhatsApp(t *testing.T) {
	record := &CatalogRecord{
		SKU:  "100",
		Meta: map[string]string{FieldWhatsApp: "5493410000000"},
	}

	property := NewProperty(record, "5493419999999")
	assert.Equal(t, "5493410000000", property.WhatsApp())
}

func TestPropertyWithoutCoordinates(t *testing.T) {
	property := NewProperty(&CatalogRecord{SKU: "100"}, "")

	_, _, ok := property.Coordinates()
	assert.False(t, ok)
	assert.Empty(t, property.ZoneNames())
	assert.Empty(t, property.Address())

	view := property.View()
	assert.Nil(t, view.Latitude)
	assert.Nil(t, view.Longitude)
}
