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
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/kioskfy/backend/docs"
	"github.com/kioskfy/backend/internal/config"
	"github.com/kioskfy/backend/internal/database"
	"github.com/kioskfy/backend/internal/gateway"
	"github.com/kioskfy/backend/internal/handlers"
	mW "github.com/kioskfy/backend/internal/middleware"
	"github.com/kioskfy/backend/internal/services"
)

// @title kioskfy Backend API
// @version 1.0
// @description API for the kioskfy digital newsstand: catalog, orders, revenue ledger and agency withdrawals
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

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
	viper.BindEnv("gateway.secret_key", "GATEWAY_SECRET_KEY")
	viper.BindEnv("platform.commission_bps", "PLATFORM_COMMISSION_BPS")
	viper.BindEnv("platform.currency", "PLATFORM_CURRENCY")
	viper.BindEnv("reconciliation.interval", "RECONCILIATION_INTERVAL")
	viper.BindEnv("reconciliation.grace", "RECONCILIATION_GRACE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "kioskfy Backend API"
	docs.SwaggerInfo.Description = "API for the kioskfy digital newsstand"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize collaborators
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	paymentClient := gateway.NewPaymentClient(config.LoadGatewayConfig())
	payoutClient := gateway.NewPayoutClient(config.LoadPayoutConfig())

	// Initialize services
	ledgerService := services.NewLedgerService(db)
	webhookService := services.NewWebhookService(db, redisClient, ledgerService, viper.GetString("gateway.secret_key"))
	orderService := services.NewOrderService(db, paymentClient, webhookService)
	withdrawalService := services.NewWithdrawalService(db, payoutClient, ledgerService)
	organizationService := services.NewOrganizationService(db, redisClient, ledgerService)
	catalogService := services.NewCatalogService(db)
	bankService := services.NewBankService()
	webhookHandler := handlers.NewWebhookHandler(webhookService)

	// Background reconciliation of stuck orders and payouts
	reconciliationService := services.NewReconciliationService(db, paymentClient, payoutClient, webhookService, withdrawalService)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go reconciliationService.Run(workerCtx)

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
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

	// Static file server for mirrored cover images
	r.Handle("/static/covers/*", http.StripPrefix("/static/covers/",
		mW.StaticFileServer("./static/covers")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/webhooks/payments", webhookHandler.HandlePaymentWebhook)
		r.Get("/banks", bankService.GetAllBanks)
		r.Get("/newspapers", catalogService.ListNewspapers)
		r.Get("/newspapers/{newspaperId}", catalogService.GetNewspaper)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/orders", orderService.CreateOrder)
			r.Get("/orders", orderService.ListOrders)
			r.Get("/orders/{orderId}", orderService.GetOrder)
			r.Get("/orders/{orderId}/qr", orderService.GetOrderQR)
			r.Post("/orders/{orderId}/verify", orderService.VerifyOrder)

			r.Post("/withdrawals", withdrawalService.CreateWithdrawal)
			r.Get("/withdrawals", withdrawalService.ListWithdrawals)
			r.Post("/withdrawals/{withdrawalId}/cancel", withdrawalService.CancelWithdrawal)

			r.Get("/organizations/{orgId}/balance", organizationService.GetBalance)
			r.Get("/organizations/{orgId}/stats", organizationService.GetStats)
			r.Get("/organizations/{orgId}/ledger", organizationService.GetLedger)

			// Platform-side payout operations
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole("admin"))

				r.Post("/withdrawals/{withdrawalId}/payout", withdrawalService.InitiateWithdrawalPayout)
				r.Post("/withdrawals/{withdrawalId}/confirm", withdrawalService.ConfirmWithdrawal)
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
	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
