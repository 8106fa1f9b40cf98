package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/audit"
	"github.com/strefethen/medassist-go/internal/auth"
	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/config"
	"github.com/strefethen/medassist-go/internal/db"
	"github.com/strefethen/medassist-go/internal/doselog"
	"github.com/strefethen/medassist-go/internal/escalation"
	"github.com/strefethen/medassist-go/internal/feed"
	"github.com/strefethen/medassist-go/internal/gateway"
	"github.com/strefethen/medassist-go/internal/logging"
	"github.com/strefethen/medassist-go/internal/medication"
	"github.com/strefethen/medassist-go/internal/notify"
	"github.com/strefethen/medassist-go/internal/openapi"
	"github.com/strefethen/medassist-go/internal/system"
)

// DemoPassword is the password of the seeded demo accounts.
const DemoPassword = "123456"

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the feed upgrade connections through the logger.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.status).
				Dur("duration", time.Since(start).Round(time.Millisecond)).
				Str("request_id", api.GetRequestID(r)).
				Msg("request")
		})
	}
}

// Options controls server wiring.
type Options struct {
	// Gateway replaces the Twilio gateway built from config.
	Gateway gateway.Gateway
	// Clock replaces the system clock.
	Clock clock.Clock
	// Registry receives the process metrics; a fresh registry is used when nil.
	Registry *prometheus.Registry
	// DisableRunner keeps background sweeps from starting (for tests).
	DisableRunner bool
	Logger        *zerolog.Logger
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	logger := logging.OrNop(options.Logger)
	clk := options.Clock
	if clk == nil {
		clk = clock.System{}
	}

	logger.Info().Str("path", cfg.SQLiteDBPath).Msg("using database")
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	hasher := auth.NewBcryptHasher(0)
	if cfg.SeedDemoData {
		hash, err := hasher.Hash(DemoPassword)
		if err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		if err := db.SeedDemo(dbPair, hash, clk.Now()); err != nil {
			dbPair.Close()
			return nil, nil, err
		}
	}

	registry := options.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	auditService := audit.NewService(dbPair, clk, cfg.AuditRetention, logger)
	authService := auth.NewService(auth.NewRepository(dbPair), hasher, clk, auth.ServiceConfig{
		JWTSecret:  cfg.JWTSecret,
		SessionTTL: cfg.SessionTTL(),
	}, logger)
	limiter := auth.NewAttemptLimiter(cfg.AuthRateLimitAttempts, time.Duration(cfg.AuthRateLimitWindowSecs)*time.Second, clk.Now)
	scheduleService := medication.NewService(medication.NewRepository(dbPair), authService, auditService, clk, logger)

	gw := options.Gateway
	if gw == nil {
		gw = gateway.NewTwilioGateway(gateway.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			CallFrom:   cfg.TwilioPhoneNumber,
			SMSFrom:    cfg.TwilioSMSFrom,
			TwiMLURL:   cfg.TwilioTwiMLURL,
			APIBaseURL: cfg.TwilioAPIBaseURL,
			Timeout:    cfg.APITimeout(),
		})
	}

	hub := feed.NewHub(0)
	notifications := notify.NewRepository(dbPair)
	doseLogs := doselog.NewRepository(dbPair)
	engine := escalation.NewEngine(escalation.Deps{
		Schedules:     scheduleService,
		Logs:          doseLogs,
		Notifications: notifications,
		Notifier:      notify.NewDeduplicator(notifications, gw, logger),
		Gateway:       gw,
		Patients:      authService,
		Audit:         auditService,
		Feed:          hub,
		Metrics:       escalation.NewMetrics(registry),
		Clock:         clk,
		Logger:        logger,
	}, escalation.Config{Location: cfg.Location, ThresholdMinutes: cfg.EscalationMinutes})

	runner, err := escalation.NewRunner(engine, authService, auditService, escalation.RunnerConfig{
		SweepInterval: cfg.SweepInterval(),
		Location:      cfg.Location,
	}, logger)
	if err != nil {
		dbPair.Close()
		return nil, nil, err
	}

	systemService := system.NewService(system.Config{
		Timezone:          cfg.AppTimezone,
		Location:          cfg.Location,
		EscalationMinutes: cfg.EscalationMinutes,
	}, dbPair, scheduleService, doseLogs, runner, clk, logger)

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(requestLoggerMiddleware(logger))
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(authService))

	registerHealthRoutes(router, dbPair, auditService, runner, cfg)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	openapi.RegisterRoutes(router)
	auth.RegisterRoutes(router, authService, limiter)
	medication.RegisterRoutes(router, scheduleService)
	escalation.RegisterRoutes(router, engine)
	audit.RegisterRoutes(router, auditService)
	feed.RegisterRoutes(router, hub, logger)
	system.RegisterRoutes(router, systemService)

	if !options.DisableRunner {
		runner.Start()
	}

	auditService.Emit(context.Background(), audit.WriteEventInput{
		Type:    audit.EventSystemStartup,
		Level:   audit.EventLevelInfo,
		Message: "MedAssist hub started",
		Payload: map[string]any{
			"timezone":           cfg.AppTimezone,
			"escalation_minutes": cfg.EscalationMinutes,
			"sweep_interval_sec": int(cfg.SweepInterval().Seconds()),
		},
	})

	shutdown := func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		runner.Stop(ctx)
		hub.Close()
		return dbPair.Close()
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router, dbPair *db.DBPair, auditService *audit.Service, runner *escalation.Runner, cfg config.Config) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "medassist",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"timezone":  cfg.AppTimezone,
		}
		if report, at := runner.LastSweep(); !at.IsZero() {
			response["last_sweep"] = map[string]any{
				"at":        at.UTC().Format(time.RFC3339),
				"checked":   report.Checked,
				"escalated": report.Escalated,
				"failed":    report.Failed,
			}
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbPair.Reader().PingContext(ctx); err != nil {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "reason": "database"})
		}
		if !auditService.IsHealthy() {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "reason": "audit"})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
