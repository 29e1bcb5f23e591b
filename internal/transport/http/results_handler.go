package http

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "hdxscraper/internal/errors"
	"hdxscraper/internal/infrastructure"
	"hdxscraper/internal/runner"
)

// ResultsHandler exposes run results and triggers runs.
type ResultsHandler struct {
	service Service
	run     RunFunc
	logger  *slog.Logger

	running sync.Mutex
}

// NewResultsHandler creates a results handler. run may be nil, in which
// case runs cannot be triggered over HTTP.
func NewResultsHandler(service Service, run RunFunc, logger *slog.Logger) *ResultsHandler {
	return &ResultsHandler{
		service: service,
		run:     run,
		logger:  logger.With(slog.String("handler", "results")),
	}
}

// Routes returns the results routes
func (h *ResultsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/results", h.ListResults)
	r.Get("/results/{level}", h.GetResult)
	r.Get("/tables", h.ListTables)
	r.Get("/tables/{name}", h.GetTable)
	r.Get("/sources", h.ListSources)
	r.Get("/states", h.ListStates)
	r.Post("/runs", h.TriggerRun)
	return r
}

// ListResults handles GET /results
func (h *ResultsHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Results())
}

// GetResult handles GET /results/{level}
func (h *ResultsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	level := chi.URLParam(r, "level")
	res, ok := h.service.Results(level)[level]
	if !ok {
		_ = render.Render(w, r, apierrors.ToAPIError(apierrors.NewNotFoundError("level "+level)))
		return
	}
	render.JSON(w, r, res)
}

// ListTables handles GET /tables
func (h *ResultsHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Tables())
}

// GetTable handles GET /tables/{name}
func (h *ResultsHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	table, ok := h.service.Tables()[name]
	if !ok {
		_ = render.Render(w, r, apierrors.ToAPIError(apierrors.NewNotFoundError("table "+name)))
		return
	}
	render.JSON(w, r, table)
}

// ListSources handles GET /sources
func (h *ResultsHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Sources())
}

// ListStates handles GET /states
func (h *ResultsHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.States())
}

type runResponse struct {
	RunID  string              `json:"run_id"`
	States []runner.UnitState  `json:"states"`
	Errors []*runner.UnitError `json:"errors,omitempty"`
}

// TriggerRun handles POST /runs. Only one run can be in flight.
func (h *ResultsHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.run == nil {
		_ = render.Render(w, r, apierrors.New(http.StatusNotImplemented, "NOT_IMPLEMENTED", "runs cannot be triggered"))
		return
	}
	if !h.running.TryLock() {
		_ = render.Render(w, r, apierrors.New(http.StatusConflict, "RUN_IN_PROGRESS", "a run is already in progress"))
		return
	}
	defer h.running.Unlock()

	ctx := infrastructure.EnsureRunID(r.Context())
	resp := runResponse{RunID: infrastructure.RunID(ctx)}
	if err := h.run(ctx); err != nil {
		var list *runner.ErrorList
		if !errors.As(err, &list) {
			h.logger.ErrorContext(ctx, "run_failed", slog.String("error", err.Error()))
			_ = render.Render(w, r, apierrors.ToAPIError(err))
			return
		}
		resp.Errors = list.Errors
	}
	resp.States = h.service.States()
	render.JSON(w, r, resp)
}
