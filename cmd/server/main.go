package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fitroom/backend/internal/config"
	"github.com/fitroom/backend/internal/handler"
	appMiddleware "github.com/fitroom/backend/internal/middleware"
	"github.com/fitroom/backend/internal/repository"
	"github.com/fitroom/backend/internal/service"
	"github.com/fitroom/backend/internal/ws"
	"github.com/fitroom/backend/pkg/billingapi"
	"github.com/fitroom/backend/pkg/crypto"
	"github.com/fitroom/backend/pkg/objectstore"
	"github.com/fitroom/backend/pkg/tryonvendor"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file if present (for local development)
	loadDotEnv()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Database error: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := repository.RunMigrations(ctx, db); err != nil {
		log.Fatalf("❌ Migration error: %v", err)
	}
	log.Println("✅ Database connected & migrated")

	// Initialize encryptor
	enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("❌ Encryption error: %v", err)
	}

	// Optional Redis (billing-check cache)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Redis config error: %v", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("⚠️  Redis not available: %v (billing-check cache disabled)", err)
			rdb = nil
		} else {
			defer rdb.Close()
			log.Println("✅ Redis connected")
		}
	}

	// Object storage
	assets, err := objectstore.New(ctx, objectstore.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Endpoint:  cfg.S3Endpoint,
		BaseURL:   cfg.S3BaseURL,
	})
	if err != nil {
		log.Fatalf("❌ Object store error: %v", err)
	}

	// External clients
	vendor := tryonvendor.New(cfg.VendorBaseURL, cfg.VendorAPIKey)
	billingAPI := billingapi.New(cfg.PlatformBaseURL)

	// Repositories
	storeRepo := repository.NewStoreRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	tryonRepo := repository.NewTryOnRepository(db)
	sessionRepo := repository.NewPlatformSessionRepository(db, enc)

	// Services
	billingSvc := service.NewBillingService(subRepo, storeRepo, sessionRepo, billingAPI, rdb, cfg.TrialCredits)
	tryonSvc := service.NewTryOnService(storeRepo, tryonRepo, billingSvc, vendor, assets, cfg.CreditCost, cfg.PollInterval, cfg.MaxPollAttempts)
	statsSvc := service.NewStatsService(db, storeRepo, subRepo)

	// Background sweep: anything older than the poll budget gets failed and
	// refunded.
	staleAfter := cfg.PollInterval*time.Duration(cfg.MaxPollAttempts) + 10*time.Minute
	sweepSvc := service.NewSweepService(tryonRepo, time.Minute, staleAfter)
	sweepSvc.Start(ctx)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, rdb)
	plansHandler := handler.NewPlansHandler()
	billingHandler := handler.NewBillingHandler(billingSvc)
	statsHandler := handler.NewStatsHandler(statsSvc)
	tryonHandler := handler.NewTryOnHandler(tryonSvc, cfg.UploadMaxBytes)
	webhookHandler := handler.NewWebhookHandler(billingSvc, cfg.APISecret)
	statusHandler := ws.NewStatusHandler(tryonSvc, cfg.APISecret, cfg.PollInterval)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Get("/api/plans", plansHandler.List)

	// Platform webhooks (HMAC verified against the raw body)
	r.Post("/webhooks/app/subscriptions-update", webhookHandler.SubscriptionsUpdate)
	r.Post("/webhooks/app/uninstalled", webhookHandler.Uninstalled)

	// Storefront routes behind the app proxy (signature verified)
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.ProxyAuth(cfg.APISecret))

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.StrictRateLimiter())
			r.Post("/proxy/tryon/sessions", tryonHandler.CreateSession)
		})

		r.Get("/proxy/tryon/sessions/{sessionId}/confirm", tryonHandler.Confirm)
		r.Get("/proxy/tryon/sessions/{sessionId}/result", tryonHandler.Result)
	})

	// Embedded admin routes (session token verified)
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.SessionToken(cfg.APISecret))

		r.Post("/api/billing/register", billingHandler.Register)
		r.Get("/api/billing/subscription", billingHandler.GetSubscription)
		r.Get("/api/stats", statsHandler.Get)
	})

	// WebSocket status stream (proxy signature via query params)
	r.HandleFunc("/proxy/tryon/sessions/{sessionId}/ws", statusHandler.Handle)

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be 0 for WebSocket connections (they are long-lived)
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("🛑 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("🚀 FitRoom Backend listening at http://%s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("❌ Server error: %v", err)
	}
}

// loadDotEnv reads a .env file if it exists. Existing environment variables
// are never overridden.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
