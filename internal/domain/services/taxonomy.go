package services

import (
	"context"
	"strings"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// Фиксированные корневые метки таксономии
const (
	RootBrands     = "Marcas"
	RootOperations = "Operación"
	RootTypes      = "Tipo"
	RootZones      = "Zona"
)

// TaxonomyService сопоставляет записи фидов термам таксономии.
// Термы создаются по требованию, уникальность метки действует в
// пределах одного родителя. Сбой создания терма не прерывает импорт
// записи: такой терм просто не привязывается
type TaxonomyService struct {
	store  interfaces.TaxonomyPort
	logger interfaces.LoggerPort
}

// NewTaxonomyService создает новый экземпляр TaxonomyService
func NewTaxonomyService(store interfaces.TaxonomyPort, logger interfaces.LoggerPort) *TaxonomyService {
	return &TaxonomyService{
		store:  store,
		logger: logger,
	}
}

// Resolve возвращает ID терма по метке и родителю, создавая терм
// при отсутствии. parentID == 0 означает корень
func (s *TaxonomyService) Resolve(ctx context.Context, label string, parentID int64) (int64, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, nil
	}

	id, err := s.store.FindTerm(ctx, label, parentID)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}

	return s.store.CreateTerm(ctx, label, parentID)
}

// resolveTolerant возвращает 0 при любом сбое, логируя его.
// Запись импортируется и без недоступного терма
func (s *TaxonomyService) resolveTolerant(ctx context.Context, label string, parentID int64) int64 {
	id, err := s.Resolve(ctx, label, parentID)
	if err != nil {
		s.logger.WarnWithContext(ctx, "Не удалось создать терм таксономии",
			interfaces.LogField{Key: "label", Value: label},
			interfaces.LogField{Key: "parent_id", Value: parentID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return 0
	}
	return id
}

// TermsForRecord возвращает термы для записи фида.
// Товарные поля: бренд под «Marcas», категория в корне, подкатегория
// под категорией. Поля объявления: операция под «Operación», тип под
// «Tipo» с вложенными уточнениями, каждая зона под «Zona»
func (s *TaxonomyService) TermsForRecord(ctx context.Context, record *models.RemoteRecord) []int64 {
	var terms []int64

	if record.Brand != "" {
		if rootID := s.resolveTolerant(ctx, RootBrands, 0); rootID != 0 {
			if id := s.resolveTolerant(ctx, record.Brand, rootID); id != 0 {
				terms = append(terms, id)
			}
		}
	}

	if record.Category != "" {
		categoryID := s.resolveTolerant(ctx, record.Category, 0)
		if categoryID != 0 {
			terms = append(terms, categoryID)
			if record.Subcategory != "" {
				if id := s.resolveTolerant(ctx, record.Subcategory, categoryID); id != 0 {
					terms = append(terms, id)
				}
			}
		}
	}

	terms = append(terms, s.nestedTerms(ctx, RootOperations, record.Operation, record.Suboperation)...)
	terms = append(terms, s.nestedTerms(ctx, RootTypes, record.Type, record.Subtype)...)

	if len(record.ZoneNames) > 0 {
		if rootID := s.resolveTolerant(ctx, RootZones, 0); rootID != 0 {
			for _, zone := range record.ZoneNames {
				if id := s.resolveTolerant(ctx, zone, rootID); id != 0 {
					terms = append(terms, id)
				}
			}
		}
	}

	return terms
}

// nestedTerms разворачивает пару метка/уточнение под фиксированным корнем
func (s *TaxonomyService) nestedTerms(ctx context.Context, root, label, sublabel string) []int64 {
	if label == "" {
		return nil
	}

	rootID := s.resolveTolerant(ctx, root, 0)
	if rootID == 0 {
		return nil
	}

	labelID := s.resolveTolerant(ctx, label, rootID)
	if labelID == 0 {
		return nil
	}

	terms := []int64{labelID}
	if sublabel != "" {
		if id := s.resolveTolerant(ctx, sublabel, labelID); id != 0 {
			terms = append(terms, id)
		}
	}

	return terms
}
