// Package app composes the catalog, auth and cart routers into the single
// Pixel Vault HTTP surface under /api.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"PixelVault/internal/auth"
	"PixelVault/internal/cart"
	"PixelVault/internal/catalog"
	"PixelVault/internal/store"
	"PixelVault/pkg/kit"
)

type Deps struct {
	Store       store.Store
	JWTSecret   string
	CORSOrigins []string
}

type HTTPDeps struct {
	Log      *zap.Logger
	Service  string
	Registry *prometheus.Registry

	MetricsEnabled bool
	MetricsToken   string
}

const readyTimeout = 1 * time.Second

func NewHandler(deps Deps, httpDeps HTTPDeps) http.Handler {
	catalogSrv := &catalog.Server{Products: deps.Store, Reviews: deps.Store, Log: httpDeps.Log}
	authSrv := &auth.Server{Users: deps.Store, JWT: auth.NewTokenMaker(deps.JWTSecret), Log: httpDeps.Log}
	cartSrv := &cart.Server{Carts: deps.Store, Log: httpDeps.Log}

	r := chi.NewRouter()
	setupMiddleware(r, deps, httpDeps)
	setupMetrics(r, httpDeps)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", readyz(deps.Store, httpDeps.Log))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", health)
		api.Mount("/products", catalogSrv.Routes())
		api.Mount("/auth", authSrv.Routes())
		api.Mount("/cart", cartSrv.Routes())
	})

	return r
}

func setupMiddleware(r *chi.Mux, deps Deps, httpDeps HTTPDeps) {
	r.Use(chimw.RequestID)
	r.Use(kit.Recoverer)
	r.Use(kit.Logging(httpDeps.Log))

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func setupMetrics(r *chi.Mux, deps HTTPDeps) {
	if deps.Registry == nil {
		return
	}

	metrics := kit.NewMetrics(deps.Registry)
	r.Use(metrics.Middleware(deps.Service, kit.ChiRoutePatternOrPath))

	if !deps.MetricsEnabled {
		return
	}

	r.With(kit.MetricsAuth(deps.MetricsToken)).
		Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
}

func health(w http.ResponseWriter, r *http.Request) {
	kit.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "OK",
		"message": "pixel vault api is up",
	})
}

func readyz(s store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := s.Ping(ctx); err != nil {
			if log != nil {
				log.Warn("readyz failed", zap.Error(err))
			}
			kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
