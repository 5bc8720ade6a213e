package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.RequestTimeout))

	// Cross-origin access is opt-in; without configured origins no CORS headers are sent.
	if len(a.config.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           int((10 * time.Minute).Seconds()),
		}))
	}

	if a.config.RateLimit > 0 {
		r.Use(httprate.LimitByIP(a.config.RateLimit, time.Minute))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/blueprints", func(r chi.Router) {
		r.Use(a.authenticate)
		r.Get("/", a.handleListBlueprints)
		r.Post("/", a.handleBlueprintsCollection)
		r.Get("/{blueprintID}", a.handleGetBlueprint)
		r.Post("/{blueprintID}", a.handleBlueprintAction)
		r.Delete("/{blueprintID}", a.handleDeleteBlueprint)
	})

	return r, nil
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.log.Warn().Err(err).Msg("readiness check failed")
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
