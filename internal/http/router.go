package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/iago/dataset-hub/internal/http/handlers"
	"github.com/iago/dataset-hub/internal/http/middleware"
	"go.uber.org/zap"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *zap.Logger
	WorkerToken    string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires the hub surface. ctx bounds background work owned by the
// middleware stack.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Trace(deps.Logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst))

	router.Get("/healthz", deps.API.Health)
	router.Get("/", deps.API.Dashboard)
	router.Get("/stats", deps.API.Stats)
	router.Get("/dead-letters", deps.API.DeadLetters)
	router.Get("/export/dead-letters.xlsx", deps.API.ExportDeadLetters)
	router.Post("/resubmit-job", deps.API.ResubmitJob)

	router.Group(func(worker chi.Router) {
		worker.Use(middleware.WorkerAuth(deps.WorkerToken))
		worker.Get("/get-job", deps.API.GetJob)
		worker.Post("/submit-result", deps.API.SubmitResult)
		worker.Get("/assets/manifest", deps.API.Manifest)
		worker.Get("/assets/file/{name}", deps.API.AssetFile)
	})

	return router
}
