// Package api exposes workflows, answers and incident-log lookups over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/incidentops/sopflow/pkg/answer"
	"github.com/incidentops/sopflow/pkg/cache"
	"github.com/incidentops/sopflow/pkg/incidentlog"
	"github.com/incidentops/sopflow/pkg/metrics"
	"github.com/incidentops/sopflow/pkg/workflow"
)

// WorkflowsPrefix is where workflow resources are served.
const WorkflowsPrefix = "/api/workflows"

// IncidentLog is the read side of the incident-log system used by the API.
type IncidentLog interface {
	GetIncident(ctx context.Context, prk string) (*incidentlog.Incident, error)
	WorkflowNameForIncident(ctx context.Context, prk string) (string, error)
	Ping(ctx context.Context) error
}

// Deps carries everything the handlers need. Cache and Metrics may be nil.
type Deps struct {
	Workflows         *workflow.Store
	Builder           *workflow.Builder
	Answers           *answer.Pipeline
	Incidents         IncidentLog
	Cache             *cache.Manager
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	DefaultUpdateMode workflow.UpdateMode
	AllowedOrigins    []string
	// Ping checks the workflow database for /readyz.
	Ping func(ctx context.Context) error

	startedAt time.Time
}

// Router builds the HTTP handler tree.
func Router(d *Deps) chi.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.DefaultUpdateMode == "" {
		d.DefaultUpdateMode = workflow.UpdateMerge
	}
	if len(d.AllowedOrigins) == 0 {
		d.AllowedOrigins = []string{"*"}
	}
	d.startedAt = time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler(d))
	r.Get("/livez", healthHandler(d))
	r.Get("/readyz", readyHandler(d))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	cached := d.Cache.Middleware()
	r.Route(WorkflowsPrefix, func(r chi.Router) {
		r.Post("/", CreateWorkflowHandler(d))
		r.With(cached).Get("/details", ListWorkflowDetailsHandler(d))
		r.With(cached).Get("/questions", ListAllQuestionsHandler(d))
		r.Get("/check-name", CheckNameHandler(d))
		r.Post("/get_id", GetWorkflowIDHandler(d))

		r.Route("/{workflowId}", func(r chi.Router) {
			r.With(cached).Get("/", GetWorkflowHandler(d))
			r.Patch("/", UpdateWorkflowHandler(d))
			r.Delete("/", DeleteWorkflowHandler(d))
			r.With(cached).Get("/questions", ListQuestionsHandler(d))
			r.With(cached).Get("/questions-and-options", QuestionsAndOptionsHandler(d))
			r.Get("/responses/{incidentNumber}", ResponsesHandler(d))
		})
	})
	r.Get("/api/questions/last-id", LastQuestionIDHandler(d))
	r.Post("/api/questions/answer", SubmitAnswerHandler(d))
	r.Get("/api/incident-log/check", CheckIncidentLogHandler(d))
	r.Get("/api/incident/category", IncidentCategoryHandler(d))

	return r
}

func healthHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(d.startedAt).Round(time.Second).String(),
		})
	}
}

// readyHandler reports ready only when both databases answer a ping.
func readyHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		ready := true
		check := func(ping func(context.Context) error) map[string]string {
			if ping == nil {
				return map[string]string{"status": "not_configured"}
			}
			if err := ping(ctx); err != nil {
				ready = false
				return map[string]string{"status": "down", "error": err.Error()}
			}
			return map[string]string{"status": "up"}
		}

		var incidentPing func(context.Context) error
		if d.Incidents != nil {
			incidentPing = d.Incidents.Ping
		}
		body := map[string]any{
			"database":     check(d.Ping),
			"incident_log": check(incidentPing),
		}
		status := http.StatusOK
		body["status"] = "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			body["status"] = "not_ready"
		}
		writeJSON(w, status, body)
	}
}
