package httpapi

import (
	"net/http"

	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

// NewRouter wires the ops surface of the calculation core. Job and queue
// mutation routes sit behind the internal job token.
func NewRouter(handler *Handler, internalJobToken string, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handler.Health)
	mux.HandleFunc("GET /v1/table", handler.Table)
	mux.HandleFunc("GET /v1/queue/status", handler.QueueStatus)
	mux.HandleFunc("GET /v1/queue/metrics", handler.QueueMetrics)
	mux.HandleFunc("GET /v1/queue/jobs/{id}", handler.GetJob)
	mux.HandleFunc("GET /v1/queue/history", handler.GetHistory)
	mux.HandleFunc("GET /v1/breakers", handler.Breakers)
	mux.HandleFunc("GET /v1/snapshots", handler.ListSnapshots)
	mux.HandleFunc("GET /v1/snapshots/{id}", handler.GetSnapshot)

	internal := http.NewServeMux()
	internal.HandleFunc("POST /v1/internal/jobs/table-calculation", handler.EnqueueCalculation)
	internal.HandleFunc("POST /v1/internal/games", handler.UpsertGames)
	internal.HandleFunc("POST /v1/internal/queue/pause", handler.PauseQueue)
	internal.HandleFunc("POST /v1/internal/queue/resume", handler.ResumeQueue)
	internal.HandleFunc("POST /v1/internal/queue/clear", handler.ClearQueue)
	internal.HandleFunc("GET /v1/internal/queue/dead-letter", handler.DeadLetter)
	internal.HandleFunc("POST /v1/internal/queue/dead-letter/{id}/reprocess", handler.ReprocessDeadLetter)
	internal.HandleFunc("DELETE /v1/internal/queue/dead-letter", handler.ClearDeadLetter)
	internal.HandleFunc("POST /v1/internal/queue/jobs/{id}/retry", handler.RetryFailedJob)
	internal.HandleFunc("POST /v1/internal/breakers/{operation}/reset", handler.ResetBreaker)
	internal.HandleFunc("POST /v1/internal/snapshots", handler.CreateSnapshot)
	internal.HandleFunc("POST /v1/internal/snapshots/{id}/restore", handler.RestoreSnapshot)
	internal.HandleFunc("DELETE /v1/internal/snapshots/{id}", handler.DeleteSnapshot)
	mux.Handle("/v1/internal/", requireJobToken(internalJobToken, internal))

	stack := requestLogging(logger, recoverPanic(logger, mux))
	return requestTracing(stack)
}
