package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"warden/internal/abuse/handler"
	jwttoken "warden/internal/jwt_token"
	"warden/internal/platform/config"
	"warden/pkg/platform/middleware/auth"
	request "warden/pkg/platform/middleware/request"
	"warden/pkg/platform/middleware/requesttime"
	"warden/pkg/platform/validation"
)

// reviewerTokenTTL only matters for minting; validation reads exp from the token.
const reviewerTokenTTL = time.Hour

func newRouter(cfg *config.Config, log *slog.Logger, reg *prometheus.Registry, app *application) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.ClientIP(cfg.Environment != "local"))
	r.Use(request.Logger(log))
	r.Use(request.Latency(request.NewMetrics(reg)))

	app.health.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	h := handler.New(app.engine, log)

	r.Group(func(r chi.Router) {
		r.Use(request.BodyLimit(validation.MaxBodySize))
		r.Use(request.ContentTypeJSON)
		h.Register(r)
	})

	jwtService := jwttoken.NewJWTService(cfg.Server.ReviewerSigningKey, cfg.Server.ReviewerIssuer, reviewerTokenTTL)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireReviewer(jwttoken.NewJWTServiceAdapter(jwtService), log))
		r.Use(request.BodyLimit(validation.MaxBodySize))
		r.Use(request.ContentTypeJSON)
		h.RegisterAdmin(r, func(scope string) func(http.Handler) http.Handler {
			return auth.RequireScope(scope, log)
		})
	})

	return r
}
