// Package main provides the entry point for the timetable server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kebiao-app/timetable-server/internal/api/handlers"
	"github.com/kebiao-app/timetable-server/internal/browser"
	"github.com/kebiao-app/timetable-server/internal/config"
	"github.com/kebiao-app/timetable-server/internal/http/mw"
	"github.com/kebiao-app/timetable-server/internal/logging"
	"github.com/kebiao-app/timetable-server/internal/memwatch"
	"github.com/kebiao-app/timetable-server/internal/models"
	"github.com/kebiao-app/timetable-server/internal/portal"
	"github.com/kebiao-app/timetable-server/internal/session"
	"github.com/kebiao-app/timetable-server/internal/shutdown"
	"github.com/kebiao-app/timetable-server/internal/version"
)

func main() {
	// Load configuration first (logging config comes from env)
	cfg := config.Load()

	// Initialize logger using slog-logfilter (respects LOG_LEVEL, LOG_FORMAT env vars)
	logger := logging.SetDefault()

	logger.Info("starting timetable server",
		"version", version.Get().Version,
		"port", cfg.Port,
		"pool_size", cfg.BrowserPoolSize,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Browser pool; warm in the background so startup never blocks on
	// Chromium launches (or a first-run download).
	pool := browser.NewPool(cfg, logger)
	defer pool.Close()
	go func() {
		if err := pool.Warmup(ctx, cfg.BrowserPoolSize); err != nil {
			logger.Error("browser pool warmup failed", "error", err)
		}
	}()

	// Session registry. A browser checked out to a session goes back to
	// the pool on teardown: reused when the session only ever showed the
	// login form, destroyed once a login ran in it.
	teardown := func(s *session.Session, reason session.Reason) {
		if s.Browser == nil {
			return
		}
		switch reason {
		case session.ReasonExpired, session.ReasonEvicted:
			pool.Release(s.Browser)
		default:
			pool.Discard(s.Browser)
		}
	}
	sessions := session.NewRegistry(cfg, logger, teardown)
	defer sessions.Close()
	go sessions.StartReaper(ctx)

	// Memory watchdog: sheds idle sessions and browsers under pressure,
	// rejects new browser work past the hard threshold.
	mem, err := memwatch.NewMonitor(cfg, logger)
	if err != nil {
		logger.Error("failed to create memory monitor", "error", err)
		os.Exit(1)
	}
	mem.AddCleanup(func() int { return sessions.EvictIdle(cfg.MemoryIdleCutoff) })
	mem.AddCleanup(func() int { return pool.TrimIdle(2) })
	mem.Start(ctx)

	// Portal controller drives the CAS login and timetable pages.
	ctrl := portal.NewController(cfg, logger)

	// Idle monitor (optional): shuts the instance down after a quiet
	// period so the Chromium fleet is not kept warm for nobody.
	idle := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout: cfg.IdleShutdownAfter,
		Logger:  logger,
	})
	idle.Start()
	defer idle.Stop()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(pool, sessions, mem)
	captchaHandler := handlers.NewCaptchaHandler(pool, sessions, ctrl, mem, cfg, logger)
	timetableHandler := handlers.NewTimetableHandler(pool, sessions, ctrl, mem, cfg, logger)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(idle.Middleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every request costs a real browser, so rate limit by IP. Health
	// probes are exempt.
	r.Use(mw.RateLimitByIPExcept(cfg.RateLimitPerMinute, shutdown.DefaultIsHealthCheck))

	// Create Huma API
	humaConfig := huma.DefaultConfig("Timetable Server", version.Get().Version)
	humaConfig.Info.Description = "Retrieves personal class timetables from the campus portal behind CAS login"
	api := humachi.New(r, humaConfig)

	// Register health endpoint
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns health status, pool statistics and memory usage",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*models.HumaHealthResponse, error) {
		resp := healthHandler.Handle(ctx)
		return &models.HumaHealthResponse{Body: *resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "captcha",
		Method:      http.MethodGet,
		Path:        "/captcha",
		Summary:     "Issue a CAPTCHA",
		Description: "Opens the portal login page in a pooled browser and returns the CAPTCHA image with a session_id. Sessions left unused past their TTL are released.",
		Tags:        []string{"Captcha"},
	}, func(ctx context.Context, input *struct{}) (*models.HumaCaptchaResponse, error) {
		resp, err := captchaHandler.Handle(ctx)
		if err != nil {
			return nil, err
		}
		return &models.HumaCaptchaResponse{Body: *resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "timetable",
		Method:      http.MethodPost,
		Path:        "/timetable",
		Summary:     "Log in and scrape the full timetable",
		Description: "Completes the login for an issued session and sweeps every semester and week. A missing or rejected CAPTCHA returns a manual-entry prompt instead.",
		Tags:        []string{"Timetable"},
	}, func(ctx context.Context, input *models.HumaTimetableRequest) (*models.HumaTimetableResponse, error) {
		resp, err := timetableHandler.CompleteLogin(ctx, &input.Body)
		if err != nil {
			return nil, err
		}
		return &models.HumaTimetableResponse{Body: *resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "timetableOverview",
		Method:      http.MethodPost,
		Path:        "/timetable/overview",
		Summary:     "Log in and return semester metadata only",
		Description: "Completes the login but skips the week sweep, keeping the session alive so semester-weeks calls can reuse it.",
		Tags:        []string{"Timetable"},
	}, func(ctx context.Context, input *models.HumaTimetableRequest) (*models.HumaOverviewResponse, error) {
		resp, err := timetableHandler.Overview(ctx, &input.Body)
		if err != nil {
			return nil, err
		}
		return &models.HumaOverviewResponse{Body: *resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "semesterWeeks",
		Method:      http.MethodPost,
		Path:        "/timetable/semester-weeks",
		Summary:     "Scrape the weeks of one semester",
		Description: "Reuses a live logged-in session when session_id resolves, otherwise performs a fresh login with the supplied credentials.",
		Tags:        []string{"Timetable"},
	}, func(ctx context.Context, input *models.HumaSemesterWeeksRequest) (*models.HumaSemesterWeeksResponse, error) {
		resp, err := timetableHandler.SemesterWeeks(ctx, &input.Body)
		if err != nil {
			return nil, err
		}
		return &models.HumaSemesterWeeksResponse{Body: *resp}, nil
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal or idle timeout
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-idle.ShutdownChan():
		logger.Info("idle timeout reached, shutting down")
	}

	// Cancel context to stop background tasks
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
