package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httpv1 "github.com/yourorg/comps-api/http/v1"
	"github.com/yourorg/comps-api/internal/logger"
)

type RouterDeps struct {
	Comps    httpv1.CompsDeps
	Log      *zap.Logger
	Gatherer prometheus.Gatherer
	// RequestsPerMinute is the per-IP limit; zero uses the default.
	RequestsPerMinute int
	Health            func(r *http.Request) error
}

func BuildRouter(d RouterDeps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	rpm := d.RequestsPerMinute
	if rpm <= 0 {
		rpm = 100
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(d.Log))
	r.Use(recoverJSON(d.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"*"},
		MaxAge:             300,
		OptionsPassthrough: true,
	}))
	r.Use(answerOptions)
	r.Use(httprate.LimitByIP(rpm, 1*time.Minute)) // protect upstream quota
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if d.Health != nil {
			if err := d.Health(req); err != nil {
				render.Status(req, http.StatusServiceUnavailable)
				render.JSON(w, req, map[string]any{"ok": false, "error": err.Error()})
				return
			}
		}
		render.JSON(w, req, map[string]any{"ok": true})
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	httpv1.RegisterComps(r, d.Comps)
	return r
}

// recoverJSON turns a panic into a 500 with the usual error body.
func recoverJSON(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("panic serving request", zap.Any("panic", rec), zap.String("path", r.URL.Path), zap.Stack("stack"))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "internal error"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// answerOptions replies 200 to every OPTIONS request after the CORS headers
// are set.
func answerOptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
