package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leadpay/backoffice/internal/config"
	"github.com/leadpay/backoffice/internal/database"
	"github.com/leadpay/backoffice/internal/handlers"
	mW "github.com/leadpay/backoffice/internal/middleware"
	"github.com/leadpay/backoffice/internal/services"
	"github.com/spf13/viper"
)

// @title LeadPay Back-Office Ledger API
// @version 1.0
// @description Multi-tenant ledger for the CPA-marketing back office
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("alerts.operator_channel", "OPERATOR_ALERT_CHANNEL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	limitsCfg := config.LoadLimitsConfig()
	fraudCfg := config.LoadFraudConfig()

	notifyService := services.NewNotifyService(redisClient, viper.GetString("alerts.operator_channel"))
	activityService := services.NewActivityService(db)
	ledgerService := services.NewLedgerService(db, activityService, notifyService)
	fraudService := services.NewFraudService(db, activityService, notifyService, fraudCfg)
	payoutLimiter := services.NewPayoutLimiter(db, limitsCfg)
	lifecycleService := services.NewLifecycleService(db, ledgerService, payoutLimiter, fraudService, activityService, notifyService)

	ledgerHandler := handlers.NewLedgerHandler(ledgerService, lifecycleService)
	lifecycleHandler := handlers.NewLifecycleHandler(lifecycleService)
	fraudHandler := handlers.NewFraudHandler(fraudService)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Business-event triggers
			r.Post("/events/lead-created", lifecycleHandler.LeadCreated)
			r.Post("/events/lead-approved", lifecycleHandler.LeadApproved)
			r.Post("/events/lead-cancelled", lifecycleHandler.LeadCancelled)
			r.Post("/events/order-delivered", lifecycleHandler.OrderDelivered)
			r.Post("/events/order-returned", lifecycleHandler.OrderReturned)

			// Payouts
			r.Post("/payouts", lifecycleHandler.RequestPayout)

			// Query surface
			r.Get("/users/{userId}/balances", ledgerHandler.GetUserBalances)
			r.Get("/users/{userId}/transactions", ledgerHandler.GetUserTransactions)

			// Privileged operations
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/payouts/{payoutId}/approve", lifecycleHandler.ApprovePayout)
				r.Post("/payouts/{payoutId}/reject", lifecycleHandler.RejectPayout)
				r.Post("/admin/adjust-balance", ledgerHandler.AdminAdjustBalance)
				r.Get("/admin/fraud-checks", fraudHandler.ListChecks)
				r.Post("/admin/fraud-checks/{checkId}/resolve", fraudHandler.ResolveCheck)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
