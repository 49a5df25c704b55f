package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hazz-dev/upwatch/internal/monitor"
	"github.com/hazz-dev/upwatch/internal/scheduler"
	"github.com/hazz-dev/upwatch/internal/sink"
	"github.com/hazz-dev/upwatch/internal/status"
	"github.com/hazz-dev/upwatch/internal/storage"
)

// Catalog manages monitor definitions.
type Catalog interface {
	Create(ctx context.Context, in monitor.Monitor) (monitor.Monitor, error)
	Update(ctx context.Context, id string, in monitor.Monitor) (monitor.Monitor, error)
	Deactivate(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*monitor.Monitor, error)
	List(ctx context.Context) ([]monitor.Monitor, error)
}

// StatusReader builds status summaries.
type StatusReader interface {
	Summary(ctx context.Context, id string, window time.Duration) (status.Summary, error)
}

// HistoryStore pages through stored results.
type HistoryStore interface {
	History(ctx context.Context, monitorID string, limit, offset int) ([]monitor.ProbeResult, int, error)
}

// Trigger runs an out-of-band check.
type Trigger interface {
	Trigger(ctx context.Context, id string) (monitor.ProbeResult, error)
}

// Options configures the router.
type Options struct {
	// Window is the default uptime window.
	Window      time.Duration
	CORSOrigins []string
	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string
}

// Server holds the chi router and its dependencies.
type Server struct {
	catalog Catalog
	status  StatusReader
	history HistoryStore
	trigger Trigger
	opts    Options
	router  chi.Router
	logger  *slog.Logger
}

// New creates a new Server and registers all routes.
func New(cat Catalog, st StatusReader, hist HistoryStore, trig Trigger, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		catalog: cat,
		status:  st,
		history: hist,
		trigger: trig,
		opts:    opts,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/monitors", func(r chi.Router) {
		r.Get("/", s.handleListMonitors)
		r.Post("/", s.handleCreateMonitor)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetMonitor)
			r.Put("/", s.handleUpdateMonitor)
			r.Delete("/", s.handleDeleteMonitor)
			r.Get("/status", s.handleMonitorStatus)
			r.Get("/history", s.handleMonitorHistory)
			r.Post("/check", s.handleCheckMonitor)
		})
	})

	if s.opts.Metrics != nil {
		r.Handle(s.opts.MetricsPath, s.opts.Metrics)
	}
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// fail maps a domain error onto an HTTP status.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, monitor.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, scheduler.ErrUnknownMonitor),
		errors.Is(err, sink.ErrDiscarded):
		writeError(w, http.StatusNotFound, "monitor not found")
	case errors.Is(err, scheduler.ErrInFlight):
		writeError(w, http.StatusConflict, "check already in progress")
	default:
		s.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type monitorRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Interval int    `json:"interval"`
	UserID   string `json:"user_id"`
}

func (req monitorRequest) toMonitor() monitor.Monitor {
	return monitor.Monitor{Name: req.Name, URL: req.URL, IntervalMinutes: req.Interval, UserID: req.UserID}
}

type monitorDetail struct {
	monitor.Monitor
	Status status.Summary `json:"status"`
}

type monitorDetailResponse struct {
	monitorDetail
	RecentChecks []monitor.ProbeResult `json:"recent_checks"`
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := s.catalog.List(r.Context())
	if err != nil {
		s.fail(w, "List", err)
		return
	}

	details := make([]monitorDetail, 0, len(monitors))
	for _, m := range monitors {
		sum, err := s.status.Summary(r.Context(), m.ID, s.opts.Window)
		if err != nil {
			s.fail(w, "Summary", err)
			return
		}
		details = append(details, monitorDetail{Monitor: m, Status: sum})
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m, err := s.catalog.Create(r.Context(), req.toMonitor())
	if err != nil {
		s.fail(w, "Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "Get", err)
		return
	}
	sum, err := s.status.Summary(r.Context(), id, s.opts.Window)
	if err != nil {
		s.fail(w, "Summary", err)
		return
	}
	recent, _, err := s.history.History(r.Context(), id, 10, 0)
	if err != nil {
		s.fail(w, "History", err)
		return
	}

	writeJSON(w, http.StatusOK, monitorDetailResponse{
		monitorDetail: monitorDetail{Monitor: *m, Status: sum},
		RecentChecks:  recent,
	})
}

func (s *Server) handleUpdateMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m, err := s.catalog.Update(r.Context(), chi.URLParam(r, "id"), req.toMonitor())
	if err != nil {
		s.fail(w, "Update", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, "Deactivate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	window := s.opts.Window
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window parameter")
			return
		}
		window = d
	}

	if _, err := s.catalog.Get(r.Context(), id); err != nil {
		s.fail(w, "Get", err)
		return
	}
	sum, err := s.status.Summary(r.Context(), id, window)
	if err != nil {
		s.fail(w, "Summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type historyResponse struct {
	Checks []monitor.ProbeResult `json:"checks"`
	Total  int                   `json:"total"`
}

func (s *Server) handleMonitorHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	const maxLimit = 1000

	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return
		}
		offset = n
	}

	if _, err := s.catalog.Get(r.Context(), id); err != nil {
		s.fail(w, "Get", err)
		return
	}
	checks, total, err := s.history.History(r.Context(), id, limit, offset)
	if err != nil {
		s.fail(w, "History", err)
		return
	}
	if checks == nil {
		checks = []monitor.ProbeResult{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Checks: checks,
		Total:  total,
	})
}

func (s *Server) handleCheckMonitor(w http.ResponseWriter, r *http.Request) {
	res, err := s.trigger.Trigger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "Trigger", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
