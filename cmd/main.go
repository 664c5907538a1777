package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vinc-payment-service/internal/config"
	"vinc-payment-service/internal/events"
	"vinc-payment-service/internal/gateway"
	"vinc-payment-service/internal/handlers"
	"vinc-payment-service/internal/middleware"
	"vinc-payment-service/internal/models"
	"vinc-payment-service/internal/repository"
	"vinc-payment-service/internal/services"
	"vinc-payment-service/internal/vault"
)

func main() {
	// Load .env in development; ignored when the file is absent
	_ = godotenv.Load()

	cfg := config.Load()

	appLogger := newLogger(cfg.LogLevel)

	// Connect to database
	db, err := connectDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto-migrate models
	if err := db.AutoMigrate(
		&models.TenantPaymentProvider{},
		&models.StorefrontPaymentMethod{},
		&models.PaymentTransaction{},
		&models.TransactionWebhookEvent{},
		&models.PaymentWebhookLog{},
	); err != nil {
		log.Printf("Warning: Auto-migration failed: %v", err)
	}

	// Credential vault
	credentialVault, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	// Redis is optional; webhook dedup falls back to the database
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: invalid REDIS_URL: %v (webhook dedup uses database only)", err)
		} else {
			redisClient = redis.NewClient(opts)
			log.Println("✓ Redis client initialized")
		}
	}

	// NATS is optional; a nil publisher drops events
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, appLogger)
		if err != nil {
			log.Printf("Warning: Failed to connect to NATS: %v (events won't be published)", err)
			publisher = nil
		} else {
			defer publisher.Close()
			log.Println("✓ NATS events publisher initialized")
		}
	}

	// Initialize repository and gateway registry
	paymentRepo := repository.NewPaymentRepository(db)
	registry := gateway.NewRegistry(credentialVault, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second)

	// Initialize services
	paymentService := services.NewPaymentService(paymentRepo, registry, publisher, appLogger)
	providerService := services.NewProviderService(paymentRepo, registry, credentialVault, appLogger)
	webhookService := services.NewWebhookService(paymentRepo, registry, redisClient, publisher, appLogger)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	providerHandler := handlers.NewProviderHandler(providerService)
	webhookHandler := handlers.NewWebhookHandler(webhookService, appLogger)

	// Setup router
	router := setupRouter(cfg, appLogger, db, publisher, paymentHandler, providerHandler, webhookHandler)

	// Start server
	log.Printf("Payment service starting on port %s (env: %s)", cfg.Port, cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// newLogger builds the structured logger shared by services and middleware
func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return l
}

// connectDatabase establishes a connection to the database
func connectDatabase(databaseURL string) (*gorm.DB, error) {
	// Silent gorm logging, statements can carry payment data
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✓ Connected to database")
	return db, nil
}

// setupRouter configures the HTTP router
func setupRouter(cfg *config.Config, appLogger *logrus.Logger, db *gorm.DB, publisher *events.Publisher, paymentHandler *handlers.PaymentHandler, providerHandler *handlers.ProviderHandler, webhookHandler *handlers.WebhookHandler) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	rateLimits := middleware.NewRateLimits()

	router.Use(middleware.SecurityHeaders())

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.CORSAllowedOrigins
	} else {
		// Development defaults; set CORS_ALLOWED_ORIGINS in production
		corsConfig.AllowedOrigins = []string{
			"http://localhost:3000",
			"http://localhost:3001",
		}
	}
	router.Use(middleware.CORS(corsConfig))

	router.Use(middleware.ValidateRequest())
	router.Use(middleware.TenantMiddleware())
	router.Use(middleware.AuditMiddleware(appLogger))

	// Health check (no rate limiting)
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		code := 200

		if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
			status = "unhealthy"
			code = 503
		}

		c.JSON(code, gin.H{
			"status":         status,
			"service":        "vinc-payment-service",
			"nats_connected": publisher.IsConnected(),
		})
	})

	v1 := router.Group("/api/v1/payments")
	v1.Use(middleware.RateLimitMiddleware(rateLimits.General))
	{
		// Storefront routes (customer-facing)
		v1.GET("/storefronts/:storefrontId/methods", paymentHandler.GetAvailableMethods)
		v1.POST("/intent",
			middleware.RateLimitMiddleware(rateLimits.CreateIntent),
			paymentHandler.CreatePaymentIntent)
		v1.GET("/:id/status", paymentHandler.GetTransactionStatus)

		// Back office routes, tenant identity required
		admin := v1.Group("")
		admin.Use(middleware.RequireTenantID())
		{
			admin.POST("/:id/refund",
				middleware.RateLimitMiddleware(rateLimits.Refund),
				paymentHandler.RefundTransaction)
			admin.POST("/:id/confirm-bank-transfer", paymentHandler.ConfirmBankTransfer)
			admin.GET("/transactions", paymentHandler.ListTransactions)
			admin.GET("/analytics", paymentHandler.GetAnalytics)
		}
	}

	// Tenant provider configuration, tenant identity required
	providers := router.Group("/api/v1/tenants/:tenantId/providers")
	providers.Use(middleware.RateLimitMiddleware(rateLimits.General))
	providers.Use(middleware.RequireTenantID())
	{
		providers.POST("", providerHandler.ConfigureProvider)
		providers.GET("", providerHandler.ListProviders)
		providers.PUT("/:provider", providerHandler.UpdateProvider)
		providers.DELETE("/:provider", providerHandler.DisableProvider)
	}

	// Storefront method configuration, tenant identity required
	storefronts := router.Group("/api/v1/storefronts/:storefrontId/methods")
	storefronts.Use(middleware.RateLimitMiddleware(rateLimits.General))
	storefronts.Use(middleware.RequireTenantID())
	{
		storefronts.POST("", providerHandler.ConfigureStorefrontMethod)
		storefronts.PUT("", providerHandler.ConfigureStorefrontMethod)
		storefronts.GET("", providerHandler.ListStorefrontMethods)
		storefronts.DELETE("/:provider", providerHandler.RemoveStorefrontMethod)
	}

	// Webhook endpoints, public but rate limited. Authenticity comes from
	// per-provider signature verification.
	webhooks := router.Group("/payments/webhooks")
	webhooks.Use(middleware.RateLimitMiddleware(rateLimits.Webhook))
	{
		webhooks.POST("/stripe", webhookHandler.HandleStripe)
		webhooks.POST("/paypal", webhookHandler.HandlePayPal)
		webhooks.POST("/nexi", webhookHandler.HandleNexi)
		webhooks.POST("/banca-sella", webhookHandler.HandleBancaSella)
		webhooks.POST("/scalapay", webhookHandler.HandleScalapay)
	}

	return router
}
