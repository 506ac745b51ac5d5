package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"stepCreditAPI/handlers"
	"stepCreditAPI/internal/cache"
	"stepCreditAPI/internal/db"
	"stepCreditAPI/internal/notification"
	"stepCreditAPI/middleware"
	"stepCreditAPI/services"

	_ "net/http/pprof"
)

// Redemptions stuck in pending/processing release their inventory after this.
const redemptionTTL = 30 * 24 * time.Hour

var (
	dbPool              *pgxpool.Pool
	catalogCache        *cache.Cache
	creditService       *services.CreditService
	achievementService  *services.AchievementService
	stepService         *services.StepService
	rewardService       *services.RewardService
	notificationService *services.NotificationService
	fcmService          *notification.FCMService
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	if err := db.RunMigrations(dbURL); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}
	log.Println("Database migrations applied")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Successfully connected to Postgres")

	catalogCache = cache.New(os.Getenv("REDIS_ADDR"), os.Getenv("REDIS_PASSWORD"))

	creditService = services.NewCreditService(dbPool)
	achievementService = services.NewAchievementService(dbPool, creditService)
	stepService = services.NewStepService(dbPool, creditService, achievementService)
	rewardService = services.NewRewardService(dbPool, creditService, catalogCache)
	notificationService = services.NewNotificationService(dbPool)

	stepService.SetNotifier(notificationService)
	rewardService.SetNotifier(notificationService)

	fcmService, err = notification.NewFCMService("./serviceAccountKey.json")
	if err != nil {
		log.Printf("Warning: Could not initialize FCM: %v", err)
	} else {
		notificationService.SetPushProvider(fcmService)
		log.Println("FCM Push Provider initialized successfully")
	}

	middleware.InitPrometheus()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
		catalogCache.Close()
	}()

	// Initialize handlers
	creditHandler := handlers.NewCreditHandler(creditService, stepService, achievementService)
	stepHandler := handlers.NewStepHandler(stepService)
	rewardHandler := handlers.NewRewardHandler(rewardService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	r := mux.NewRouter()

	go middleware.CleanupVisitors()

	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	r.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "stepCredit-api"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER
	// -------------------------------------------------------------------------
	api := r.PathPrefix("/api/v1").Subrouter()

	// Catalog management is internal only, gated by the shared admin key
	// instead of Clerk. Registered before the protected subrouter so the
	// catch-all prefix does not swallow it.
	api.Handle("/rewards", middleware.AdminKeyMiddleware(http.HandlerFunc(rewardHandler.CreateReward))).Methods("POST")

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware)

	protected.HandleFunc("/steps", stepHandler.SubmitSteps).Methods("POST")
	protected.HandleFunc("/steps/bulk", stepHandler.SubmitStepsBulk).Methods("POST")
	protected.HandleFunc("/steps/daily", stepHandler.GetDaily).Methods("GET")
	protected.HandleFunc("/steps/weekly", stepHandler.GetWeekly).Methods("GET")
	protected.HandleFunc("/steps/stats", stepHandler.GetStats).Methods("GET")

	protected.HandleFunc("/credits/convert-steps", creditHandler.ConvertSteps).Methods("POST")
	protected.HandleFunc("/credits/balance", creditHandler.GetBalance).Methods("GET")
	protected.HandleFunc("/credits/transactions", creditHandler.ListTransactions).Methods("GET")
	protected.HandleFunc("/credits/spend", creditHandler.Spend).Methods("POST")

	protected.HandleFunc("/achievements", creditHandler.GetAchievements).Methods("GET")

	protected.HandleFunc("/rewards", rewardHandler.ListRewards).Methods("GET")
	protected.HandleFunc("/rewards/redeem", rewardHandler.Redeem).Methods("POST")
	protected.HandleFunc("/rewards/redemptions", rewardHandler.ListRedemptions).Methods("GET")
	protected.HandleFunc("/rewards/{id}", rewardHandler.GetReward).Methods("GET")
	protected.HandleFunc("/rewards/{id}/redeem", rewardHandler.Redeem).Methods("POST")

	protected.HandleFunc("/notifications", notificationHandler.List).Methods("GET")
	protected.HandleFunc("/notifications/unread-count", notificationHandler.UnreadCount).Methods("GET")
	protected.HandleFunc("/notifications/{id}/read", notificationHandler.MarkAsRead).Methods("PUT")
	protected.HandleFunc("/notifications/register-device", notificationHandler.RegisterDevice).Methods("POST")

	// Hourly sweep for redemptions that never reached fulfillment.
	c := cron.New()
	c.AddFunc("@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		expired, err := rewardService.ExpireStaleRedemptions(ctx, redemptionTTL)
		if err != nil {
			log.Printf("Redemption expiry sweep failed: %v", err)
			return
		}
		if expired > 0 {
			log.Printf("Expired %d stale redemptions", expired)
		}
	})
	c.Start()
	defer c.Stop()

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Admin-Key", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
