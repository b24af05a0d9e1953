// Package api serves the monitor's read-only JSON surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/history"
	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/perf"
	"github.com/sells-group/authority-monitor/internal/timewindow"
)

// Pinger checks a dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Runs serves stored runs.
type Runs interface {
	LatestRun(ctx context.Context) (*model.ScenarioRun, error)
	RunSummary(ctx context.Context, runID int64) (model.RunSummary, error)
	RunFailures(ctx context.Context, runID int64) ([]model.ScenarioResult, error)
	HistoricalSummary(ctx context.Context, w timewindow.Window) ([]model.AuthorityHistory, error)
}

// UpDown serves daily classifications.
type UpDown interface {
	UpDown(ctx context.Context) ([]history.Authority, error)
}

// Performance serves aggregates.
type Performance interface {
	Datatable(ctx context.Context, force bool) (perf.Datatable, error)
	Graph(ctx context.Context, authority string, action model.Action, w timewindow.Window) (perf.Graph, error)
}

// Deps are the services behind the routes. Nil Perf or UpDown disables
// their routes.
type Deps struct {
	Store         Pinger
	Runs          Runs
	UpDown        UpDown
	Perf          Performance
	Metrics       http.Handler
	HistoryWindow timewindow.Window
}

// Server is the HTTP API.
type Server struct {
	deps Deps
	log  *zap.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.HistoryWindow == "" {
		deps.HistoryWindow = timewindow.Month
	}
	return &Server{deps: deps, log: zap.L().With(zap.String("component", "api"))}
}

// Router builds the route table.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/runs", func(r chi.Router) {
		r.Get("/latest", s.handleLatestRun)
		r.Get("/{runID}/summary", s.handleRunSummary)
		r.Get("/{runID}/failures", s.handleRunFailures)
	})

	r.Get("/history", s.handleHistory)
	if s.deps.UpDown != nil {
		r.Get("/history/updown", s.handleUpDown)
	}

	if s.deps.Perf != nil {
		r.Route("/performance", func(r chi.Router) {
			r.Get("/datatable", s.handleDatatable)
			r.Get("/graphs/{authority}/{action}/{window}", s.handleGraph)
		})
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type latestRunResponse struct {
	Run     *model.ScenarioRun `json:"run"`
	Summary *model.RunSummary  `json:"summary"`
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.LatestRun(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	resp := latestRunResponse{Run: run}
	if run != nil {
		sum, err := s.deps.Runs.RunSummary(r.Context(), run.ID)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		resp.Summary = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

func runID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
}

func (s *Server) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sum, err := s.deps.Runs.RunSummary(r.Context(), id)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRunFailures(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	failures, err := s.deps.Runs.RunFailures(r.Context(), id)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, failures)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	win := s.deps.HistoryWindow
	if q := r.URL.Query().Get("window"); q != "" {
		parsed, err := timewindow.Parse(q)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		win = parsed
	}
	hist, err := s.deps.Runs.HistoricalSummary(r.Context(), win)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": win, "authorities": hist})
}

func (s *Server) handleUpDown(w http.ResponseWriter, r *http.Request) {
	hist, err := s.deps.UpDown.UpDown(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleDatatable(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	dt, err := s.deps.Perf.Datatable(r.Context(), force)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, dt)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	win, err := timewindow.Parse(chi.URLParam(r, "window"))
	if err != nil || win == timewindow.All {
		s.writeError(w, r, http.StatusBadRequest, errBadWindow)
		return
	}
	action := model.Action(chi.URLParam(r, "action"))
	switch action {
	case model.ActionFetch, model.ActionSearch, model.ActionAll:
	default:
		s.writeError(w, r, http.StatusBadRequest, errBadAction)
		return
	}
	g, err := s.deps.Perf.Graph(r.Context(), chi.URLParam(r, "authority"), action, win)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
