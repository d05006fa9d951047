package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mvtien/storefront-backend/internal/auth"
	"github.com/mvtien/storefront-backend/internal/handler"
	"github.com/mvtien/storefront-backend/internal/order"
	"github.com/mvtien/storefront-backend/pkg/metrics"
)

func NewRouter(svc order.Service, attempts *auth.AttemptTracker, m *metrics.ServerMetrics) *chi.Mux {
	r := chi.NewRouter()

	if m != nil {
		r.Use(m.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	h := handler.NewOrderHandler(svc, attempts)
	h.RegisterRoutes(r)

	return r
}
