package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/catalog-sync/internal/adapters/logger"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// stubState минимальная реализация состояния импорта для тестов API
type stubState struct {
	cursor    int
	status    string
	heartbeat time.Time
	pending   int64
}

func (s *stubState) Cursor(context.Context, string) (int, error) { return s.cursor, nil }

func (s *stubState) SetCursor(context.Context, string, int) error { return nil }

func (s *stubState) RunStatus(context.Context, string) (string, time.Time, error) {
	return s.status, s.heartbeat, nil
}

func (s *stubState) SetRunStatus(context.Context, string, string) error { return nil }

func (s *stubState) AcquireRun(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (s *stubState) ReleaseRun(context.Context, string) error { return nil }

func (s *stubState) MarkJobPending(context.Context, string, string) error { return nil }

func (s *stubState) MarkJobDone(context.Context, string, string) error { return nil }

func (s *stubState) PendingJobCount(context.Context, string) (int64, error) {
	return s.pending, nil
}

func (s *stubState) PurgeFinishedJobs(context.Context, string) error { return nil }

func (s *stubState) CronSecret(context.Context) (string, error) { return "", nil }

func (s *stubState) SetCronSecret(context.Context, string) error { return nil }

func (s *stubState) Close() error { return nil }

func testLogger(t *testing.T) interfaces.LoggerPort {
	t.Helper()
	log, err := logger.NewZapLogger("error", false)
	require.NoError(t, err)
	return log
}

func newImportRouter(t *testing.T, state *stubState, triggered chan string) *chi.Mux {
	t.Helper()
	triggers := map[string]TriggerFunc{
		"gvamax": func(ctx context.Context) error {
			triggered <- "gvamax"
			return nil
		},
	}
	handler := NewImportHandler(triggers, state, "top-secret", testLogger(t))

	r := chi.NewRouter()
	r.Post("/cron/{source}", handler.TriggerImport)
	r.Get("/imports/{source}", handler.ImportStatus)
	return r
}

func TestTriggerImportRejectsBadSecret(t *testing.T) {
	triggered := make(chan string, 1)
	router := newImportRouter(t, &stubState{}, triggered)

	req := httptest.NewRequest(http.MethodPost, "/cron/gvamax?pass=wrong", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	select {
	case <-triggered:
		t.Fatal("импорт не должен запускаться при неверном секрете")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTriggerImportAccepted(t *testing.T) {
	triggered := make(chan string, 1)
	router := newImportRouter(t, &stubState{}, triggered)

	req := httptest.NewRequest(http.MethodPost, "/cron/gvamax?pass=top-secret", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case source := <-triggered:
		assert.Equal(t, "gvamax", source)
	case <-time.After(time.Second):
		t.Fatal("импорт не был запущен")
	}
}

func TestTriggerImportUnknownSource(t *testing.T) {
	triggered := make(chan string, 1)
	router := newImportRouter(t, &stubState{}, triggered)

	req := httptest.NewRequest(http.MethodPost, "/cron/unknown?pass=top-secret", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportStatus(t *testing.T) {
	state := &stubState{
		cursor:    42,
		status:    "importing",
		heartbeat: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		pending:   3,
	}
	router := newImportRouter(t, state, make(chan string, 1))

	req := httptest.NewRequest(http.MethodGet, "/imports/gvamax", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool             `json:"success"`
		Data    importStatusView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.True(t, body.Success)
	assert.Equal(t, "gvamax", body.Data.Source)
	assert.Equal(t, "importing", body.Data.Status)
	assert.Equal(t, 42, body.Data.Cursor)
	assert.Equal(t, int64(3), body.Data.PendingJobs)
	assert.Equal(t, "2024-06-01T12:00:00Z", body.Data.Heartbeat)
}
