package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osval-do/USOP/internal/domain"
	"github.com/osval-do/USOP/internal/runtime/kubernetes"
	"github.com/osval-do/USOP/internal/service/lifecycle"
	"github.com/osval-do/USOP/internal/ws"
)

// ServiceManager is the lifecycle surface the router exposes.
type ServiceManager interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*domain.Service, error)
	Get(ctx context.Context, extID string) (*domain.Service, error)
	List(ctx context.Context, limit int) ([]domain.Service, error)
	Status(ctx context.Context, extID string) (domain.ServiceStatus, error)
	Fire(ctx context.Context, extID, transition string) (*domain.Service, error)
	Available(ctx context.Context, extID string) ([]string, error)
	History(ctx context.Context, extID string, limit int) ([]domain.TransitionRecord, error)
	Resources(ctx context.Context, extID string) ([]kubernetes.PodStatus, error)
	Backups(ctx context.Context, extID string) ([]string, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(context.Context) error

// Options tune the router.
type Options struct {
	DefaultNamespace   string
	TransitionRate     int
	HealthCheckTimeout time.Duration
	HealthChecks       map[string]HealthCheck
}

// Router wires HTTP endpoints to the lifecycle manager.
type Router struct {
	mux              *http.ServeMux
	logger           *slog.Logger
	services         ServiceManager
	hub              *ws.Hub
	upgrader         websocket.Upgrader
	limiter          RateLimiter
	defaultNamespace string
	transitionRate   int
	healthTimeout    time.Duration
	checks           map[string]HealthCheck

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateWindowRealtime   = 30 * time.Second
	rateLimitRead        = 240
	rateLimitWrite       = 60
	rateLimitWebsocket   = 30
	defaultListLimit     = 100
	defaultHistoryLimit  = 50
	defaultHealthTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, services ServiceManager, hub *ws.Hub, limiter RateLimiter, opts Options) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		services: services,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:          limiter,
		defaultNamespace: opts.DefaultNamespace,
		transitionRate:   opts.TransitionRate,
		healthTimeout:    opts.HealthCheckTimeout,
		checks:           opts.HealthChecks,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.healthTimeout <= 0 {
		r.healthTimeout = defaultHealthTimeout
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
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/services", r.audit("/services", r.handleServices))
	r.mux.HandleFunc("/services/", r.audit("/services/{id}", r.handleServiceSubroutes))
}

func (r *Router) handleServices(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.withRateLimit("/services", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.listServices)(w, req)
	case http.MethodPost:
		r.withRateLimit("/services", rateLimitWrite, rateWindowDefault, rateLimitKeyIP, r.createService)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) listServices(w http.ResponseWriter, req *http.Request) {
	limit := queryInt(req, "limit", defaultListLimit)
	services, err := r.services.List(req.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]serviceView, 0, len(services))
	for i := range services {
		views = append(views, r.serviceView(&services[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": views})
}

func (r *Router) createService(w http.ResponseWriter, req *http.Request) {
	var payload createRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	create := lifecycle.CreateRequest{
		ExtID:    payload.ID,
		Name:     payload.Name,
		Template: domain.TemplateRef{Name: payload.Template, Chart: payload.Chart, Version: payload.Version},
		Settings: payload.Settings,
		Blocked:  payload.Blocked,
	}
	if strings.TrimSpace(payload.Region) != "" {
		create.Region = &domain.Region{Name: payload.Region, Namespace: payload.RegionNamespace}
	}
	if strings.TrimSpace(payload.Org) != "" {
		create.Org = &domain.Org{Name: payload.Org, Namespace: payload.OrgNamespace}
	}
	svc, err := r.services.Create(req.Context(), create)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, r.serviceView(svc))
}

func (r *Router) handleServiceSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/services/"), "/")
	parts := strings.Split(trimmed, "/")
	serviceID := parts[0]
	if serviceID == "" || len(parts) > 2 {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		r.withRateLimit("/services/{id}", rateLimitRead, rateWindowDefault, rateLimitKeyIP, func(w http.ResponseWriter, req *http.Request) {
			r.getService(w, req, serviceID)
		})(w, req)
		return
	}

	action := parts[1]
	if req.Method == http.MethodPost {
		r.withRateLimit("/services/{id}/{transition}", r.transitionRate, rateWindowDefault, rateLimitKeyTransition(serviceID, action), func(w http.ResponseWriter, req *http.Request) {
			r.fireTransition(w, req, serviceID, action)
		})(w, req)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}

	var handler func(http.ResponseWriter, *http.Request, string)
	limit, window := rateLimitRead, rateWindowDefault
	switch action {
	case "status":
		handler = r.getStatus
	case "transitions":
		handler = r.getTransitions
	case "resources":
		handler = r.getResources
	case "backups":
		handler = r.getBackups
	case "events":
		handler = r.handleEvents
		limit, window = rateLimitWebsocket, rateWindowRealtime
	default:
		r.notFound(w)
		return
	}
	r.withRateLimit("/services/{id}/"+action, limit, window, rateLimitKeyIP, func(w http.ResponseWriter, req *http.Request) {
		handler(w, req, serviceID)
	})(w, req)
}

func (r *Router) getService(w http.ResponseWriter, req *http.Request, serviceID string) {
	svc, err := r.services.Get(req.Context(), serviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.serviceView(svc))
}

func (r *Router) getStatus(w http.ResponseWriter, req *http.Request, serviceID string) {
	status, err := r.services.Status(req.Context(), serviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": serviceID, "status": string(status)})
}

func (r *Router) fireTransition(w http.ResponseWriter, req *http.Request, serviceID, transition string) {
	svc, err := r.services.Fire(req.Context(), serviceID, transition)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.serviceView(svc))
}

func (r *Router) getTransitions(w http.ResponseWriter, req *http.Request, serviceID string) {
	available, err := r.services.Available(req.Context(), serviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	history, err := r.services.History(req.Context(), serviceID, queryInt(req, "limit", defaultHistoryLimit))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]transitionView, 0, len(history))
	for _, rec := range history {
		views = append(views, transitionView{
			Transition: rec.Transition,
			From:       string(rec.Source),
			To:         string(rec.Target),
			At:         rec.CreatedAt,
		})
	}
	if available == nil {
		available = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": available, "history": views})
}

func (r *Router) getResources(w http.ResponseWriter, req *http.Request, serviceID string) {
	pods, err := r.services.Resources(req.Context(), serviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if pods == nil {
		pods = []kubernetes.PodStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pods": pods})
}

func (r *Router) getBackups(w http.ResponseWriter, req *http.Request, serviceID string) {
	keys, err := r.services.Backups(req.Context(), serviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": keys})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	for name, check := range r.checks {
		ctx, cancel := context.WithTimeout(req.Context(), r.healthTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

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
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

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

// clientIP is the caller as reported for audit logs, honouring X-Forwarded-For.
func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func queryInt(req *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(req.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
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

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
