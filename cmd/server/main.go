package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openbank/ledger/docs"
	"github.com/openbank/ledger/internal/config"
	"github.com/openbank/ledger/internal/database"
	"github.com/openbank/ledger/internal/handlers"
	"github.com/openbank/ledger/internal/services"
	"github.com/spf13/viper"
)

// @title Open Bank Ledger API
// @version 0.1.0
// @description Custodial ledger with role authority governance, request debits and ISO 20022 settlement
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.driver", "DATABASE_DRIVER")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.path", "DATABASE_PATH")

	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("jwt.attachment_key", "JWT_ATTACHMENT_KEY")
	viper.BindEnv("jwt.attachment_ttl", "JWT_ATTACHMENT_TTL")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.public_url", "PUBLIC_URL")
	viper.BindEnv("server.rate_limit", "RATE_LIMIT")
	viper.BindEnv("server.rate_window", "RATE_WINDOW")

	for _, key := range config.Keys {
		viper.BindEnv(key, envName(key))
	}

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.public_url", "http://localhost:8080")
	viper.SetDefault("server.rate_limit", 120)
	viper.SetDefault("server.rate_window", time.Minute)

	ledgerConfig, err := config.LoadLedgerConfig()
	if err != nil {
		log.Fatalf("Invalid ledger configuration: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Host = trimScheme(viper.GetString("server.public_url"))

	ctx := context.Background()

	dbConfig := database.GetConfig()
	db, err := database.InitDB(dbConfig)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	stateRepo := database.NewStateRepository(db, dbConfig.Driver)
	if err := stateRepo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to prepare ledger schema: %v", err)
	}

	redisClient := database.InitRedis(ctx)
	if redisClient != nil {
		defer redisClient.Close()
	}

	settler, err := ledgerConfig.Settler()
	if err != nil {
		log.Fatalf("Failed to initialize settlement: %v", err)
	}

	authority := services.NewHTTPAuthorityClient(ledgerConfig.AuthorityURL, ledgerConfig.AuthorityTimeout)
	ledger := services.NewLedgerService(ledgerConfig.Settings(), authority, settler)

	state, err := stateRepo.Load(ctx, ledgerConfig.LedgerID)
	if err != nil {
		log.Fatalf("Failed to load ledger state: %v", err)
	}
	if state != nil {
		ledger.Restore(state)
	} else {
		if err := stateRepo.Save(ctx, ledger.Snapshot()); err != nil {
			log.Fatalf("Failed to save initial ledger state: %v", err)
		}
		log.Printf("[LEDGER] Initialised %s with opening balance %s", ledgerConfig.LedgerID, ledgerConfig.OpeningBalance)
	}
	ledger.SetStateStore(stateRepo)

	if redisClient != nil {
		ledger.SetPaymentFeed(services.NewRedisPaymentFeed(redisClient, ledgerConfig.LedgerID))
	}
	qrService := services.NewQRService(redisClient, ledgerConfig.QRCodeTTL)

	if ledger.IsTestMode() {
		log.Printf("[LEDGER] WARNING: test mode is on, role authority checks are bypassed")
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Ledger:     ledger,
		QR:         qrService,
		SwaggerURL: viper.GetString("server.public_url") + "/swagger/doc.json",
		Redis:      redisClient,
		RateLimit:  viper.GetInt64("server.rate_limit"),
		RateWindow: viper.GetDuration("server.rate_window"),
	})

	port := viper.GetString("server.port")

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
