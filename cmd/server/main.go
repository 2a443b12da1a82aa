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
	"github.com/rupeeback/backend/docs"
	"github.com/rupeeback/backend/internal/config"
	"github.com/rupeeback/backend/internal/database"
	"github.com/rupeeback/backend/internal/handlers"
	mW "github.com/rupeeback/backend/internal/middleware"
	"github.com/rupeeback/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title RupeeBack Cashback Ledger API
// @version 1.0
// @description API for the RupeeBack cashback rewards ledger
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

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
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("webhook.merchant_secret", "WEBHOOK_MERCHANT_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "RupeeBack Cashback Ledger API"
	docs.SwaggerInfo.Description = "API for the RupeeBack cashback rewards ledger"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	payoutConfig := config.LoadPayoutConfig()

	ledgerService := services.NewLedgerService(db)
	transactionService := services.NewTransactionService(db, redisClient, ledgerService)
	withdrawalService := services.NewWithdrawalService(db, redisClient, ledgerService)
	voucherService := services.NewVoucherService(redisClient, payoutConfig)
	methodService := services.NewMethodService(payoutConfig)

	webhookHandler := handlers.NewWebhookHandler(transactionService)
	withdrawalHandler := handlers.NewWithdrawalHandler(withdrawalService, voucherService)
	accountHandler := handlers.NewAccountHandler(ledgerService, transactionService)

	// Replay every account against its audit trail after a restart.
	go ledgerService.StartupSweep(context.Background())

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin", "X-Webhook-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Merchant webhooks (HMAC-signed, no user auth)
		r.Group(func(r chi.Router) {
			r.Use(webhookHandler.VerifySignature)

			r.Post("/webhooks/transactions", webhookHandler.IngestTransaction)
			r.Post("/webhooks/transactions/{id}/confirm", webhookHandler.ConfirmTransaction)
			r.Post("/webhooks/transactions/{id}/cancel", webhookHandler.CancelTransaction)
			r.Post("/webhooks/transactions/{id}/fail", webhookHandler.FailTransaction)
		})

		// Public endpoints (no auth required)
		r.Get("/withdrawal-methods", methodService.GetAllMethods)
		r.Post("/vouchers/redeem", withdrawalHandler.RedeemVoucher)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/account/balances", accountHandler.GetBalances)
			r.Get("/account/transactions", accountHandler.ListTransactions)

			r.Get("/withdrawals", withdrawalHandler.ListWithdrawals)
			r.Post("/withdrawals", withdrawalHandler.RequestWithdrawal)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.AdminMiddleware)

				r.Post("/admin/withdrawals/{id}/process", withdrawalHandler.ProcessWithdrawal)
				r.Post("/admin/withdrawals/{id}/settle", withdrawalHandler.SettleWithdrawal)
				r.Post("/admin/withdrawals/{id}/fail", withdrawalHandler.FailWithdrawal)

				r.Get("/admin/accounts/{userId}/audit", accountHandler.GetAuditTrail)
				r.Post("/admin/accounts/{userId}/reconcile", accountHandler.ReconcileAccount)
				r.Get("/admin/accounts/{userId}/debts", accountHandler.ListDebts)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
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

	// Wait for interrupt signal
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
