package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/repository"
	"github.com/wardenpanel/warden/internal/service/consolesvc"
	"github.com/wardenpanel/warden/internal/service/serversvc"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux             *http.ServeMux
	logger          *slog.Logger
	servers         *serversvc.Service
	console         *consolesvc.Service
	metricsRepo     repository.MetricRepository
	upgrader        websocket.Upgrader
	limiter         RateLimiter
	jwtSecret       string
	supervisorToken string
	historyLimit    int
	dbHealth        func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	framesInbound      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRead      = 120
	rateLimitWrite     = 60
	rateLimitWebsocket = 30
	rateLimitIngest    = 6000
	healthCheckTimeout = 2 * time.Second

	defaultCommandHistoryLimit = 50
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, serverSvc *serversvc.Service, consoleSvc *consolesvc.Service, metricsRepo repository.MetricRepository, limiter RateLimiter, jwtSecret, supervisorToken string, historyLimit int, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		servers:     serverSvc,
		console:     consoleSvc,
		metricsRepo: metricsRepo,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:         limiter,
		jwtSecret:       jwtSecret,
		supervisorToken: strings.TrimSpace(supervisorToken),
		historyLimit:    historyLimit,
		dbHealth:        dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.historyLimit <= 0 {
		r.historyLimit = 100
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/servers", r.audit(r.handlerAuthRate("/servers", rateLimitRead, rateWindowDefault, r.handleServers)))
	r.mux.HandleFunc("/servers/", r.audit(r.handlerAuthRate("/servers/", rateLimitWrite, rateWindowDefault, r.handleServerSubroutes)))
	r.mux.HandleFunc("/ws/console", r.audit(r.handlerAuthRate("/ws/console", rateLimitWebsocket, rateWindowRealtime, r.handleConsoleWS)))
	r.mux.HandleFunc("/ingest/console", r.audit(r.withRateLimit("/ingest/console", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngestConsole)))
	r.mux.HandleFunc("/ingest/status", r.audit(r.withRateLimit("/ingest/status", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngestStatus)))
	r.mux.HandleFunc("/ingest/servers", r.audit(r.withRateLimit("/ingest/servers", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngestServers)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			r.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleServers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	servers, err := r.servers.List(req.Context())
	if err != nil {
		r.logger.Error("failed to list servers", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	writeJSON(w, http.StatusOK, serversPayload(servers))
}

// handleServerSubroutes dispatches /servers/{id}[/...] paths.
func (r *Router) handleServerSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/servers/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	id := parts[0]
	if id == "" {
		r.notFound(w)
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	switch {
	case action == "" && req.Method == http.MethodGet:
		r.handleServerGet(w, req, id)
	case action == "metrics" && req.Method == http.MethodGet:
		r.handleMetricHistory(w, req, id)
	case action == "commands" && req.Method == http.MethodGet:
		r.handleCommandHistory(w, req, id)
	case action == "console" && req.Method == http.MethodGet:
		r.handleConsoleRead(w, req, id)
	case action == "console" && req.Method == http.MethodDelete:
		r.handleConsoleClear(w, req, id)
	case isLifecycleAction(action) && req.Method == http.MethodPost:
		r.handleLifecycle(w, req, id, action)
	default:
		r.notFound(w)
	}
}

func isLifecycleAction(action string) bool {
	switch action {
	case "start", "stop", "restart", "kill":
		return true
	}
	return false
}

func (r *Router) handleServerGet(w http.ResponseWriter, req *http.Request, id string) {
	server, err := r.servers.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		r.logger.Error("failed to fetch server", "server_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch server")
		return
	}
	writeJSON(w, http.StatusOK, serverPayload(*server))
}

func (r *Router) handleMetricHistory(w http.ResponseWriter, req *http.Request, id string) {
	limit := r.historyLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	snapshots, err := r.metricsRepo.ListSnapshots(req.Context(), id, limit)
	if err != nil {
		r.logger.Error("failed to list snapshots", "server_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (r *Router) handleCommandHistory(w http.ResponseWriter, req *http.Request, id string) {
	limit := defaultCommandHistoryLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := r.servers.CommandHistory(req.Context(), id, limit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		r.logger.Error("failed to list command audit", "server_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (r *Router) handleConsoleRead(w http.ResponseWriter, req *http.Request, id string) {
	writeJSON(w, http.StatusOK, r.console.ReadAll(id))
}

func (r *Router) handleConsoleClear(w http.ResponseWriter, req *http.Request, id string) {
	r.console.Clear(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (r *Router) handleLifecycle(w http.ResponseWriter, req *http.Request, id, action string) {
	if err := r.servers.Lifecycle(req.Context(), id, action); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		r.logger.Error("lifecycle request failed", "server_id", id, "action", action, "error", err)
		writeError(w, http.StatusBadGateway, "supervisor request failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (r *Router) handleIngestConsole(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifySupervisorToken(w, req) {
		return
	}
	var payload struct {
		ServerID string    `json:"server_id"`
		Text     string    `json:"text"`
		At       time.Time `json:"at"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.ServerID) == "" {
		writeError(w, http.StatusBadRequest, "server_id required")
		return
	}
	line := r.console.Ingest(payload.ServerID, payload.Text, payload.At)
	writeJSON(w, http.StatusAccepted, map[string]string{"severity": line.Severity})
}

func (r *Router) handleIngestStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifySupervisorToken(w, req) {
		return
	}
	var payload struct {
		ServerID string `json:"server_id"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.servers.UpdateStatus(req.Context(), payload.ServerID, payload.Status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (r *Router) handleIngestServers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifySupervisorToken(w, req) {
		return
	}
	var payload struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Game   string `json:"game"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	server := domain.GameServer{ID: payload.ID, Name: payload.Name, Game: payload.Game, Status: payload.Status}
	if err := r.servers.Register(req.Context(), server); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func serverPayload(server domain.GameServer) map[string]any {
	return map[string]any{
		"id":           server.ID,
		"name":         server.Name,
		"game":         server.Game,
		"status":       server.Status,
		"last_seen_at": server.LastSeenAt,
		"created_at":   server.CreatedAt,
	}
}

func serversPayload(servers []domain.GameServer) []map[string]any {
	out := make([]map[string]any, 0, len(servers))
	for _, server := range servers {
		out = append(out, serverPayload(server))
	}
	return out
}

// audit logs every request with actor attribution and records metrics.
func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "operator"
			fields = append(fields, "operator_id", info.OperatorID)
		} else if strings.HasPrefix(req.URL.Path, "/ingest/") {
			actor = "supervisor"
		}
		fields = append(fields, "actor", actor)

		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifySupervisorToken ensures ingest pushes include the configured secret.
func (r *Router) verifySupervisorToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.supervisorToken
	if expected == "" {
		r.logger.Error("supervisor token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "supervisor authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Supervisor-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("supervisor token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid supervisor token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
