package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/catalog-sync/internal/domain/models"
)

func TestResolveCreatesAndReuses(t *testing.T) {
	store := newFakeTerms()
	taxonomy := NewTaxonomyService(store, testLogger(t))

	id, err := taxonomy.Resolve(context.Background(), "Venta", 0)
	require.NoError(t, err)
	require.NotZero(t, id)

	// повторное разрешение возвращает тот же терм
	again, err := taxonomy.Resolve(context.Background(), "Venta", 0)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestResolveEmptyLabel(t *testing.T) {
	taxonomy := NewTaxonomyService(newFakeTerms(), testLogger(t))

	id, err := taxonomy.Resolve(context.Background(), "   ", 0)
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestSameLabelUnderDifferentParents(t *testing.T) {
	store := newFakeTerms()
	taxonomy := NewTaxonomyService(store, testLogger(t))
	ctx := context.Background()

	typesRoot, err := taxonomy.Resolve(ctx, RootTypes, 0)
	require.NoError(t, err)
	brandsRoot, err := taxonomy.Resolve(ctx, RootBrands, 0)
	require.NoError(t, err)

	// одинаковая метка под разными родителями дает разные термы
	underTypes, err := taxonomy.Resolve(ctx, "Casa", typesRoot)
	require.NoError(t, err)
	underBrands, err := taxonomy.Resolve(ctx, "Casa", brandsRoot)
	require.NoError(t, err)

	assert.NotEqual(t, underTypes, underBrands)
}

func TestTermsForListingRecord(t *testing.T) {
	store := newFakeTerms()
	taxonomy := NewTaxonomyService(store, testLogger(t))
	ctx := context.Background()

	record := &models.RemoteRecord{
		SKU:          "100",
		Operation:    "Venta",
		Suboperation: "Permuta",
		Type:         "Casa",
		ZoneNames:    []string{"Norte", "Centro"},
	}

	terms := taxonomy.TermsForRecord(ctx, record)

	// операция, уточнение операции, тип и две зоны
	assert.Len(t, terms, 5)

	opRoot, err := store.FindTerm(ctx, RootOperations, 0)
	require.NoError(t, err)
	venta, err := store.FindTerm(ctx, "Venta", opRoot)
	require.NoError(t, err)
	assert.Contains(t, terms, venta)

	permuta, err := store.FindTerm(ctx, "Permuta", venta)
	require.NoError(t, err)
	assert.Contains(t, terms, permuta)

	zoneRoot, err := store.FindTerm(ctx, RootZones, 0)
	require.NoError(t, err)
	norte, err := store.FindTerm(ctx, "Norte", zoneRoot)
	require.NoError(t, err)
	assert.Contains(t, terms, norte)
}

func TestTermsForProductRecord(t *testing.T) {
	store := newFakeTerms()
	taxonomy := NewTaxonomyService(store, testLogger(t))
	ctx := context.Background()

	record := &models.RemoteRecord{
		SKU:         "SKU-1",
		Brand:       "Acme",
		Category:    "Herramientas",
		Subcategory: "Manuales",
	}

	terms := taxonomy.TermsForRecord(ctx, record)

	// бренд под корнем брендов, категория в корне, подкатегория вложена
	assert.Len(t, terms, 3)

	category, err := store.FindTerm(ctx, "Herramientas", 0)
	require.NoError(t, err)
	assert.Contains(t, terms, category)

	subcategory, err := store.FindTerm(ctx, "Manuales", category)
	require.NoError(t, err)
	assert.Contains(t, terms, subcategory)

	brandsRoot, err := store.FindTerm(ctx, RootBrands, 0)
	require.NoError(t, err)
	brand, err := store.FindTerm(ctx, "Acme", brandsRoot)
	require.NoError(t, err)
	assert.Contains(t, terms, brand)
}
