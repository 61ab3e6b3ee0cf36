package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/metrics"
	"github.com/campusops/qrgate/internal/qrgate/service"
)

type Dependencies struct {
	Logger *zap.Logger
	Addr   string

	Registrar    *service.Registrar
	Identity     *service.IdentityService
	Engine       *service.Engine
	ScanLogs     *service.ScanLogService
	ActionPoints *service.ActionPointService

	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics. Nil leaves the route unregistered.
	Gatherer prometheus.Gatherer

	CORSOrigins []string
	// WebhookSecret authenticates the inbound SMS webhook. Empty disables
	// the check; config validation requires it in prod.
	WebhookSecret string
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	router     chi.Router

	registrar     *service.Registrar
	identity      *service.IdentityService
	engine        *service.Engine
	scanLogs      *service.ScanLogService
	actionPoints  *service.ActionPointService
	webhookSecret string
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	s := &Server{
		logger:        d.Logger,
		router:        r,
		registrar:     d.Registrar,
		identity:      d.Identity,
		engine:        d.Engine,
		scanLogs:      d.ScanLogs,
		actionPoints:  d.ActionPoints,
		webhookSecret: d.WebhookSecret,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger, d.Metrics))
	r.Use(middleware.Recoverer)

	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", personHeader},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	// Scanning
	r.Post("/qr/scan", s.handleScan)
	r.Post("/qr/terminal/scan", s.handleTerminalScan)

	// Identity tokens
	r.Post("/qr/identity/token", s.handleIssueIdentity)
	r.Get("/qr/identity/public-key", s.handlePublicKey)

	// Scan log
	r.Get("/qr/scan-logs", s.handleScanLogs)
	r.Get("/qr/scan-logs/summary", s.handleScanSummary)
	r.Get("/qr/scan-logs/anomalies", s.handleAnomalies)
	r.Get("/qr/scan-logs/export", s.handleExport)

	// Action points
	r.Get("/qr/action-points", s.handleListActionPoints)
	r.Post("/qr/action-points", s.handleCreateActionPoint)
	r.Get("/qr/action-points/{id}", s.handleGetActionPoint)
	r.Get("/qr/action-points/{id}/generate", s.handleGenerate)
	r.Post("/qr/action-points/{id}/deactivate", s.handleDeactivate)

	// Devices
	r.Post("/devices/register", s.handleRegister)
	r.Get("/devices/verify/{verificationID}", s.handleVerifyStatus)
	r.Post("/devices/sms/inbound", s.handleInboundSMS)
	r.Get("/devices", s.handleListDevices)
	r.Post("/devices/{fingerprint}/revoke", s.handleRevoke)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving HTTP. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "qrgate"})
}
