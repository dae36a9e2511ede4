package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mac-lisowski/mysmarthotel-task/internal/apperr"
)

// apiKeyAuth checks X-API-Key against the configured root key. Verification
// itself is out of scope for the pipeline's core algorithms (spec.md §1);
// this is the thin boundary contract a caller of the API depends on.
func (a *App) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != a.APIKey {
			writeErrJSON(w, fmt.Errorf("%w: missing or invalid X-API-Key", apperr.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RegisterRoutes wires spec.md §6's external interface plus the additive
// healthz/metrics/upload-management endpoints onto r.
func RegisterRoutes(r chi.Router, app *App) {
	r.Get("/v1/healthz", app.healthzHandler)
	r.Handle("/v1/metrics", app.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(app.apiKeyAuth)

		r.Post("/v1/task/upload", app.uploadChunkHandler)
		r.Get("/v1/task/status/{taskId}", app.taskStatusHandler)
		r.Get("/v1/task/report/{taskId}", app.taskReportHandler)

		r.Get("/v1/upload/{uploadId}/status", app.uploadStatusHandler)
		r.Delete("/v1/upload/{uploadId}", app.abortUploadHandler)
	})
}
