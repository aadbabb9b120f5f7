package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/raysh454/kansa/internal/admission"
	"github.com/raysh454/kansa/internal/events"
	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/metrics"
	"github.com/raysh454/kansa/internal/queue"
	"github.com/raysh454/kansa/internal/scanner"
	"github.com/raysh454/kansa/internal/store"
)

// Server is the HTTP + WebSocket API surface for Kansa.
type Server struct {
	cfg      Config
	scanner  *scanner.Service
	bus      *events.Bus
	router   chi.Router
	upgrader websocket.Upgrader
	limiter  *ipLimiter
	logger   logging.Logger
}

// NewServer wires the API surface around an assembled scan service.
// bus and m may be nil; the corresponding endpoints degrade gracefully.
func NewServer(cfg Config, svc *scanner.Service, bus *events.Bus, m *metrics.Metrics) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	s := &Server{
		cfg:     cfg,
		scanner: svc,
		bus:     bus,
		router:  chi.NewRouter(),
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	if cfg.SubmitRatePerSec > 0 {
		burst := cfg.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = newIPLimiter(rate.Limit(cfg.SubmitRatePerSec), burst)
	}

	s.routes(m)
	return s
}

func (s *Server) routes(m *metrics.Metrics) {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/scans", s.optionsHandler("POST"))
	r.Options("/scans/{jobID}", s.optionsHandler("GET"))
	r.Options("/queue/status", s.optionsHandler("GET"))
	r.Options("/results/{scanID}", s.optionsHandler("GET"))

	// Scans
	r.Post("/scans", s.handleSubmitScan)
	r.Get("/scans/{jobID}", s.handleGetScan)
	r.Get("/queue/status", s.handleQueueStatus)
	r.Get("/results/{scanID}", s.handleGetResult)

	// WebSockets for live progress
	r.Get("/ws/scans/{jobID}", s.handleScanWS)
	r.Get("/ws/events", s.handleEventsWS)

	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("http_request",
		logging.Field{Key: "method", Value: r.Method},
		logging.Field{Key: "path", Value: r.URL.Path})

	s.router.ServeHTTP(w, r)
}

// Close shuts down the underlying scan service.
func (s *Server) Close() {
	if s.scanner != nil {
		s.scanner.Close()
	}
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// --- HTTP handlers ---

// handleSubmitScan godoc
// @Summary Submit a URL for scanning
// @Accept json
// @Produce json
// @Param request body SubmitScanRequest true "scan parameters"
// @Success 202 {object} queue.Job
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /scans [post]
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "scan submission rate exceeded")
		return
	}

	var body SubmitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}

	job, err := s.scanner.SubmitScan(r.Context(), queue.ScanRequest{
		URL:         body.URL,
		RequesterID: body.RequesterID,
		Priority:    body.Priority,
		TimeoutMs:   body.TimeoutMs,
		SkipCache:   body.SkipCache,
	})
	if err != nil {
		if errors.Is(err, admission.ErrRejected) {
			s.logger.Warn("scan submission rejected",
				logging.Field{Key: "url", Value: body.URL},
				logging.Field{Key: "error", Value: err.Error()})
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("enqueuing scan", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("accepted scan",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "url", Value: body.URL})
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.scanner.JobStatus(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	m := s.scanner.QueueMetrics()
	writeJSON(w, http.StatusOK, QueueStatusResponse{
		Waiting:   m.Waiting,
		Active:    m.Active,
		Completed: m.Completed,
		Failed:    m.Failed,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	result, err := s.scanner.Result(r.Context(), scanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		s.logger.Warn("reading scan result", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- WebSockets ---

// handleScanWS streams one job's lifecycle: the current snapshot first,
// then bus events until the job reaches a terminal state.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.scanner.JobStatus(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, "event streaming disabled")
		return
	}

	// Subscribe before snapshotting so no transition is lost in between.
	ch, cancel := s.bus.Subscribe(events.JobTopic(jobID))
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(job); err != nil {
		return
	}
	if job.State == queue.StateCompleted || job.State == queue.StateFailed {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == events.TypeCompleted || ev.Type == events.TypeFailed {
				return
			}
		}
	}
}

// handleEventsWS streams lifecycle events from the public topic, or from
// a requester's topic when ?user= is given.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, "event streaming disabled")
		return
	}

	topic := events.PublicTopic
	if user := r.URL.Query().Get("user"); user != "" {
		topic = events.UserTopic(user)
	}

	ch, cancel := s.bus.Subscribe(topic)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// --- rate limiting ---

// ipLimiter hands out one token bucket per client address.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newIPLimiter(r rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
