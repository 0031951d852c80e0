package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// PropertyHandler обработчик запросов чтения объявлений.
// Обслуживает один источник: артикул уникален только внутри него
type PropertyHandler struct {
	catalog         interfaces.CatalogPort
	source          string
	defaultWhatsApp string
	logger          interfaces.LoggerPort
}

// NewPropertyHandler создает обработчик чтения объявлений источника source
func NewPropertyHandler(catalog interfaces.CatalogPort, source, defaultWhatsApp string, logger interfaces.LoggerPort) *PropertyHandler {
	return &PropertyHandler{
		catalog:         catalog,
		source:          source,
		defaultWhatsApp: defaultWhatsApp,
		logger:          logger,
	}
}

// GetProperty обрабатывает запрос на получение объявления по артикулу
func (h *PropertyHandler) GetProperty(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if sku == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Артикул не указан",
		})
		return
	}

	record, err := h.catalog.FindBySKU(r.Context(), h.source, sku)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения записи каталога",
			interfaces.LogField{Key: "sku", Value: sku},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения записи каталога",
		})
		return
	}

	if record == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorResponse{
			Error:   "not_found",
			Code:    http.StatusNotFound,
			Message: "Запись не найдена",
		})
		return
	}

	property := models.NewProperty(record, h.defaultWhatsApp)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    property.View(),
	})
}
