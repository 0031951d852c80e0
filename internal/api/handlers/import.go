package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// TriggerFunc запускает один проход импорта источника
type TriggerFunc func(ctx context.Context) error

// ImportHandler обработчик запросов управления импортом
type ImportHandler struct {
	triggers map[string]TriggerFunc
	state    interfaces.StatePort
	secret   string
	logger   interfaces.LoggerPort
}

// NewImportHandler создает обработчик управления импортом.
// triggers сопоставляет имена источников функциям запуска
func NewImportHandler(triggers map[string]TriggerFunc, state interfaces.StatePort, secret string, logger interfaces.LoggerPort) *ImportHandler {
	return &ImportHandler{
		triggers: triggers,
		state:    state,
		secret:   secret,
		logger:   logger,
	}
}

// TriggerImport обрабатывает внешний триггер запуска импорта.
// Секрет сравнивается за постоянное время, сам импорт выполняется в
// фоне: проход может занять минуты и не должен держать HTTP-запрос
func (h *ImportHandler) TriggerImport(w http.ResponseWriter, r *http.Request) {
	pass := r.URL.Query().Get("pass")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(h.secret)) != 1 {
		h.logger.WarnWithContext(r.Context(), "Отклонен триггер импорта с неверным секретом",
			interfaces.LogField{Key: "remote_addr", Value: r.RemoteAddr})
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, errorResponse{
			Error:   "forbidden",
			Code:    http.StatusForbidden,
			Message: "Неверный секрет триггера",
		})
		return
	}

	source := chi.URLParam(r, "source")
	trigger, ok := h.triggers[source]
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorResponse{
			Error:   "not_found",
			Code:    http.StatusNotFound,
			Message: "Неизвестный источник импорта",
		})
		return
	}

	requestID, _ := r.Context().Value("request_id").(string)
	go func() {
		ctx := context.WithValue(context.Background(), "request_id", requestID)
		if err := trigger(ctx); err != nil {
			h.logger.ErrorWithContext(ctx, "Ошибка запуска импорта",
				interfaces.LogField{Key: "source", Value: source},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}()

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response{
		Success: true,
		Data:    map[string]string{"source": source, "status": "triggered"},
	})
}

// importStatusView сериализуемый снимок состояния импорта источника
type importStatusView struct {
	Source      string `json:"source"`
	Status      string `json:"status"`
	Heartbeat   string `json:"heartbeat,omitempty"`
	Cursor      int    `json:"cursor"`
	PendingJobs int64  `json:"pending_jobs"`
}

// ImportStatus возвращает состояние синхронизации источника
func (h *ImportHandler) ImportStatus(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if _, ok := h.triggers[source]; !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorResponse{
			Error:   "not_found",
			Code:    http.StatusNotFound,
			Message: "Неизвестный источник импорта",
		})
		return
	}

	status, heartbeat, err := h.state.RunStatus(r.Context(), source)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка чтения статуса импорта",
			interfaces.LogField{Key: "source", Value: source},
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка чтения статуса импорта",
		})
		return
	}

	cursor, err := h.state.Cursor(r.Context(), source)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка чтения курсора импорта",
		})
		return
	}

	pending, err := h.state.PendingJobCount(r.Context(), source)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка чтения очереди импорта",
		})
		return
	}

	view := importStatusView{
		Source:      source,
		Status:      status,
		Cursor:      cursor,
		PendingJobs: pending,
	}
	if !heartbeat.IsZero() {
		view.Heartbeat = heartbeat.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    view,
	})
}
