// Package main is the entry point for the gateway. It loads configuration,
// wires the token store, upstream client, and proxy behind the route table
// and middleware stack, starts the HTTP server, and handles graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/dskow/baas-gateway/internal/admin"
	"github.com/dskow/baas-gateway/internal/audit"
	"github.com/dskow/baas-gateway/internal/circuitbreaker"
	"github.com/dskow/baas-gateway/internal/config"
	"github.com/dskow/baas-gateway/internal/gateway"
	"github.com/dskow/baas-gateway/internal/health"
	"github.com/dskow/baas-gateway/internal/logging"
	"github.com/dskow/baas-gateway/internal/metrics"
	"github.com/dskow/baas-gateway/internal/middleware"
	"github.com/dskow/baas-gateway/internal/proxy"
	"github.com/dskow/baas-gateway/internal/ratelimit"
	"github.com/dskow/baas-gateway/internal/rbac"
	"github.com/dskow/baas-gateway/internal/tlsutil"
	"github.com/dskow/baas-gateway/internal/token"
	"github.com/dskow/baas-gateway/internal/upstream"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to configuration file")
	flag.Parse()

	// .env is a development convenience; absence is not an error.
	godotenv.Load() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logOut, err := logging.Writer(cfg.Logging.Output, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	if err != nil {
		slog.Error("failed to open log output", "error", err)
		os.Exit(1)
	}
	defer logOut.Close()

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"upstream_configured", cfg.Upstream.Configured(),
		"database_configured", cfg.Database.Configured(),
		"region", cfg.Upstream.Region,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"breaker_enabled", cfg.Breaker.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
		"tls_enabled", cfg.Server.TLS.Enabled,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// SIGHUP rotates file-based logs; config reload has its own SIGHUP
	// handler inside the reloader.
	if rw, ok := logOut.(*logging.RotatingWriter); ok {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for range hup {
				rw.Rotate() //nolint:errcheck
			}
		}()
	}

	// Database-backed collaborators. All stay nil without a database
	// URL; the routes that need them answer 500 configuration errors.
	var (
		db        *sql.DB
		validator *token.Validator
		roles     rbac.Checker
		auditor   *audit.Recorder
	)
	if cfg.Database.Configured() {
		db, err = sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("database unreachable at startup, continuing", "error", err)
		}
		cancel()

		validator = token.NewValidator(token.NewPostgresStore(db), logger)
		defer validator.Close()
		roles = rbac.NewPostgresChecker(db)
		auditor = audit.New(db, logger)
	} else {
		logger.Warn("no database configured; token verification and admin actions disabled")
		auditor = audit.NewNop(logger)
	}
	defer auditor.Close()

	var authClient *upstream.Client
	if cfg.Upstream.Configured() {
		authClient = upstream.NewClient(cfg.Upstream.URL, cfg.Upstream.AnonKey, cfg.Upstream.ServiceRoleKey, logger)
	} else {
		logger.Warn("no upstream configured; proxy and user-creation routes will reject requests")
	}

	var breaker *circuitbreaker.Breaker
	if cfg.Breaker.Enabled {
		breaker = circuitbreaker.New(cfg.Breaker.WindowSize, cfg.Breaker.FailureThreshold,
			cfg.Breaker.ResetTimeout, cfg.Breaker.HalfOpenMax, logger)
	}

	// Interface wiring goes through typed locals so an absent backend
	// stays a nil interface rather than a non-nil interface around a
	// nil pointer.
	var proxyValidator proxy.TokenValidator
	var gwValidator gateway.TokenValidator
	if validator != nil {
		proxyValidator = validator
		gwValidator = validator
	}
	var gwAuth gateway.AuthClient
	if authClient != nil {
		gwAuth = authClient
	}

	forwarder := proxy.New(cfg.Upstream, nil, proxyValidator, breaker, logger)
	gw := gateway.New(cfg.Upstream, cfg.Session, gwValidator, gwAuth, roles, forwarder, auditor, logger)

	// Rate limiter: shared Redis window when an address is configured,
	// otherwise an in-process token bucket.
	var strategy ratelimit.Strategy
	if cfg.RateLimit.Redis.Addr != "" {
		strategy = ratelimit.NewFixedWindow(cfg.RateLimit, logger)
		logger.Info("rate limiting via shared redis window", "addr", cfg.RateLimit.Redis.Addr)
	} else {
		strategy = ratelimit.NewBucket(cfg.RateLimit)
	}
	limiter := ratelimit.New(strategy, cfg.Server.TrustedProxies, logger)
	defer limiter.Stop()

	// Middleware stack, outermost first:
	// Recovery → RequestID → Logging → CORS → SecurityHeaders →
	// BodyLimit → Deadline → RateLimit → route table
	var handler http.Handler = gw.Routes()
	handler = limiter.Middleware()(handler)
	if d := cfg.Server.GlobalTimeout(); d > 0 {
		handler = middleware.Deadline(d)(handler)
	}
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.Logging(logger, &middleware.LoggingConfig{
		BodyLogging:     cfg.Logging.BodyLogging,
		MaxBodyLogBytes: cfg.Logging.MaxBodyLogBytes,
	})(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Config reloader: operational settings hot-reload on file change
	// or SIGHUP; upstream/database/session credentials stay pinned.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()
	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	// Operational endpoints live on a separate mux outside the
	// middleware stack: readiness, metrics, and the admin API.
	ops := http.NewServeMux()
	health.New(cfg.Upstream, db, breaker, logger).RegisterRoutes(ops)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		ops.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	if cfg.Admin.Enabled {
		var tokenStore token.Store
		if db != nil {
			tokenStore = token.NewPostgresStore(db)
		}
		admin.New(reloader, tokenStore, auditor, cfg.Admin.IPAllowlist, logger).RegisterRoutes(ops)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ready",
			cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath,
			cfg.Admin.Enabled && strings.HasPrefix(r.URL.Path, "/admin/"):
			ops.ServeHTTP(w, r)
		default:
			handler.ServeHTTP(w, r)
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		certLoader, err = tlsutil.New(cfg.Server.TLS, logger)
		if err != nil {
			logger.Error("failed to load TLS certificate", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()
		srv.TLSConfig = certLoader.ServerConfig()
	}

	go func() {
		logger.Info("starting gateway", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			// Cert and key come from the hot-reloading loader.
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped gracefully")
}
