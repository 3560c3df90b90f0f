// Command handoffd serves the proof-of-handoff HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jmerrifield20/handoff/internal/handoff/handler"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"github.com/jmerrifield20/handoff/internal/health"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("handoffd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Storage and ledger ───────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	anchorer, closeLedger, err := openLedger(ctx, cfg, store.pool, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	// ── Wire up layers ────────────────────────────────────────────────────────
	rec := handler.Recorder{}

	identities := service.NewIdentityService(store.Store, logger)
	sessions := service.NewSessionService(store.Store, cfg.Policy, logger)
	sessions.SetRecorder(rec)
	challenges := service.NewChallengeService(store.Store, identities, cfg.Policy, logger)
	challenges.SetRecorder(rec)
	anchors := service.NewAnchorService(store.Store, anchorer, cfg.Anchor, logger)
	anchors.SetRecorder(rec)
	verifier := service.NewProofVerifier(store.Store, identities, anchors, logger)
	verifier.SetRecorder(rec)
	verification := service.NewVerificationService(store.Store, anchorer, cfg.LedgerVerifyTimeout, logger)

	tokens := handler.NewAdminTokens(cfg.AdminSecret, cfg.Issuer, cfg.AdminTokenTTL)
	if tokens == nil {
		logger.Warn("server.admin_secret is empty; admin routes are unauthenticated, do not use in production")
	}
	admin := handler.RequireAdmin(tokens)

	checker := health.New(dependencyProbes(store, anchorer), health.Config{
		CheckInterval: cfg.HealthInterval,
		ProbeTimeout:  cfg.LedgerVerifyTimeout,
	}, logger)
	checker.SetMetricsRecord(rec.DependencyCheck)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(1 << 20))
	if cfg.RateLimitRPS > 0 {
		router.Use(handler.RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}
	if cfg.ProofRateRPS > 0 {
		// Challenge and proof routes carry the session secret; keep guessing slow.
		proofLimiter := handler.NewLimiter(cfg.ProofRateRPS, cfg.ProofRateBurst, handler.ByClientIP)
		go proofLimiter.RunSweeper(ctx, 5*time.Minute)
		router.Use(proofLimiter.ForRoutes("POST /api/v1/challenges", "POST /api/v1/proofs"))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", handler.Readiness(checker))
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewSessionHandler(sessions, logger).Register(v1)
	handler.NewChallengeHandler(challenges, logger).Register(v1)
	handler.NewProofHandler(verifier, logger).Register(v1)
	handler.NewEventHandler(verification, anchors, admin, logger).Register(v1)
	handler.NewIdentityHandler(identities, admin, logger).Register(v1)
	handler.NewAuthHandler(tokens, logger).Register(v1)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("handoffd HTTP listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sessions.RunSweeper(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		return checker.Run(gctx)
	})
	g.Go(func() error {
		return anchors.RunRetrier(gctx, cfg.RetryInterval, cfg.RetryBatch)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down handoffd...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Error("HTTP shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("handoffd stopped")
	return err
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
