package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athebyme/catalog-sync/internal/api/handlers"
	"github.com/athebyme/catalog-sync/internal/api/middleware"
	"github.com/athebyme/catalog-sync/internal/security"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// SetupRouter настраивает маршрутизатор
func SetupRouter(
	importHandler *handlers.ImportHandler,
	propertyHandler *handlers.PropertyHandler,
	jwtManager *security.JWTManager,
	logger interfaces.LoggerPort,
	corsAllowedOrigins []string,
) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS(corsAllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RateLimiter(1000, time.Minute))

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r.Handle("/metrics", promhttp.Handler())

	// Внешний триггер защищен секретом, а не токеном: его дергает
	// планировщик без собственной учетной записи
	r.Post("/cron/{source}", importHandler.TriggerImport)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(jwtManager, logger))

		r.Route("/imports", func(r chi.Router) {
			r.Get("/{source}", importHandler.ImportStatus)
		})

		r.Route("/properties", func(r chi.Router) {
			r.Get("/{sku}", propertyHandler.GetProperty)
		})
	})

	return r
}
