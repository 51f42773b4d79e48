// Tripdesk - travel support chat client server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/tripdesk/internal/api"
	"github.com/ashureev/tripdesk/internal/config"
	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/identity"
	"github.com/ashureev/tripdesk/internal/middleware"
	"github.com/ashureev/tripdesk/internal/realtime"
	"github.com/ashureev/tripdesk/internal/session"
	"github.com/ashureev/tripdesk/internal/store"
	"github.com/ashureev/tripdesk/internal/transport"
	"github.com/ashureev/tripdesk/internal/voice"
	"github.com/ashureev/tripdesk/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if lvl, err := cfg.SlogLevel(); err == nil {
		level.Set(lvl)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"mode", cfg.TransportMode(),
		"turn_policy", cfg.Policy(),
	)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	backend, speech, err := newTransport(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize transport", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	sessions := session.NewRegistry(func(customerID, language string) *conversation.Store {
		return conversation.New(backend, conversation.Options{
			CustomerID: customerID,
			Language:   language,
			Policy:     cfg.Policy(),
			Logger:     logger,
		})
	})
	voiceSessions := realtime.NewSessionManager()
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration, cfg.SessionTTL)

	// Initialize handlers.
	apiHandler := api.NewHandler(api.Deps{
		Repo:     repo,
		Sessions: sessions,
		Backend:  backend,
		Config:   cfg,
		Limiter:  limiter,
		Logger:   logger,
	})

	voiceOpts := realtime.Options{
		Repo:     repo,
		Sessions: sessions,
		Manager:  voiceSessions,
		Voice: voice.Config{
			SettleDelay:      cfg.Voice.SettleDelay,
			SilenceThreshold: cfg.Voice.SilenceThreshold,
			SilenceDuration:  cfg.Voice.SilenceDuration,
			RetryDelay:       cfg.Voice.RetryDelay,
			MaxUtterance:     cfg.Voice.MaxUtterance,
		},
		SampleRate:     cfg.Voice.SampleRate,
		Enabled:        cfg.VoiceAvailable() && speech != nil,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
	}
	if speech != nil {
		voiceOpts.Transcriber = speech
		voiceOpts.Synthesizer = speech
	}
	voiceHandler := realtime.NewVoiceHandler(voiceOpts)
	if !voiceOpts.Enabled {
		slog.Info("Voice disabled (BACKEND_URL not set or VOICE_ENABLED=false)")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(identity.Middleware(repo, cfg.DefaultLanguage, cfg.IsDevelopment()))

	// All routes use identity middleware (no auth needed).
	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/voice", voiceHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE and voice connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start TTL worker.
	session.StartTTLWorker(ctx, repo, sessions, session.TTLConfig{
		SessionTTL: cfg.SessionTTL,
		OnCleanup: func(k session.Key) {
			voiceSessions.CloseSession(k.CustomerID, k.SessionID)
		},
		AfterSweep: func() {
			if n := limiter.Prune(); n > 0 {
				slog.Debug("Pruned idle rate limit buckets", "count", n)
			}
		},
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newTransport selects the live backend when BACKEND_URL is set and the
// synthetic responder otherwise. Speech is only available live.
func newTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, *transport.SpeechClient, error) {
	if cfg.TransportMode() == transport.ModeLive {
		live, err := transport.NewHTTPTransport(transport.HTTPConfig{
			BaseURL:        cfg.Backend.URL,
			RequestTimeout: cfg.Backend.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using orchestration backend", "url", cfg.Backend.URL, "timeout", cfg.Backend.Timeout)
		return live, transport.NewSpeechClient(live), nil
	}

	mockCfg := transport.MockConfig{Delay: cfg.Mock.Delay}
	if cfg.Mock.ResponsesFile != "" {
		data, err := os.ReadFile(cfg.Mock.ResponsesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read mock responses: %w", err)
		}
		table, err := transport.ParseResponseTable(data)
		if err != nil {
			return nil, nil, err
		}
		mockCfg.Table = table
	}
	slog.Info("No BACKEND_URL set, using mock transport", "delay", cfg.Mock.Delay, "responses_file", cfg.Mock.ResponsesFile)
	return transport.NewMockTransport(mockCfg, logger), nil, nil
}
