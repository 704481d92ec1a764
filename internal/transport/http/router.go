package http

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/health"
	"github.com/amorozov/storefront/internal/service/outbox"
)

// RouterDeps перечисляет обработчики, из которых собирается router.
type RouterDeps struct {
	API      *Handler
	Webhooks *WebhookHandler
	Health   *health.Registry
	// Outbox опционален: без него ops-эндпоинт повторной доставки не монтируется.
	Outbox *outbox.Dispatcher
	// AdminToken защищает ops-эндпоинты; пустой токен их отключает.
	AdminToken string
	Logger     *log.Entry
}

// NewRouter собирает полный HTTP-router сервиса: покупательское API,
// webhooks провайдеров, метрики, health и ops-эндпоинты.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-router")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/v1", deps.API.Register)
	r.Route("/webhooks", deps.Webhooks.Register)

	r.Handle("/metrics", promhttp.Handler())
	if deps.Health != nil {
		r.Get("/healthz", deps.Health.ServeHTTP)
		r.Get("/readyz", deps.Health.ReadinessHandler)
	}
	r.Get("/livez", health.LivenessHandler)

	if deps.Outbox != nil && deps.AdminToken != "" {
		r.Post("/ops/outbox/requeue", requeueHandler(deps.Outbox, deps.AdminToken, logger))
	}

	return r
}

// requestLogger пишет завершённые запросы в структурированный лог.
// Health и метрики не логируются, чтобы не засорять вывод скрейпами.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/metrics", "/healthz", "/readyz", "/livez":
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}

// requeueHandler возвращает failed-сообщения outbox в очередь доставки.
func requeueHandler(dispatcher *outbox.Dispatcher, adminToken string, logger *log.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "invalid admin token", ErrorCode: "UNAUTHENTICATED"})
			return
		}

		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "limit must be a positive integer", ErrorCode: "BAD_REQUEST"})
				return
			}
			limit = parsed
		}

		requeued, err := dispatcher.RequeueFailed(limit)
		if err != nil {
			logger.WithError(err).Error("outbox requeue failed")
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"requeued": requeued})
	}
}
