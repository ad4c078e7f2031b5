package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/poimarket/market-api/internal/auth"
	"github.com/poimarket/market-api/internal/config"
	"github.com/poimarket/market-api/internal/database"
	"github.com/poimarket/market-api/internal/market"
	"github.com/poimarket/market-api/internal/pricing"
	"github.com/poimarket/market-api/internal/reserve"
	"github.com/poimarket/market-api/internal/settlement"
	"github.com/poimarket/market-api/internal/taxreport"
	"github.com/poimarket/market-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the market ledger API server with graceful
// shutdown support
func main() {
	cfg, err := config.Get()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DBPath, cfg.ReserveQuoteAsset, cfg.ReserveBaseAsset)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// The pricing regime is explicit configuration, shared by the order and
	// reserve command families.
	estimator := pricing.NewEstimator(cfg.FeeBps, cfg.SlippageBps)

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, auth.RoleAdmin)

	marketService := market.NewService(db, estimator)
	marketHandlers := market.NewGinHandlers(marketService)

	reserveService := reserve.NewService(db, estimator, cfg.ReserveQuoteAsset, cfg.ReserveBaseAsset)
	reserveHandlers := reserve.NewGinHandlers(reserveService)

	taxService := taxreport.NewService(db)
	taxHandlers := taxreport.NewGinHandlers(taxService)

	// Create and start the settlement processor
	processor := settlement.NewProcessor(db, cfg.ReserveQuoteAsset, cfg.ReserveBaseAsset, cfg.SettleInterval, cfg.SettleDelay)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go processor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, marketHandlers, reserveHandlers, taxHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Market-data routes: Public read-only derived views
// - Command routes: Protected by JWT authentication
// - Internal routes: Protected by admin-only authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	marketHandlers *market.GinHandlers,
	reserveHandlers *reserve.GinHandlers,
	taxHandlers *taxreport.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Market-data routes (advisory derived views, no auth)
		v1.GET("/orderbook", marketHandlers.OrderbookHandler())
		v1.GET("/trades", marketHandlers.TradesHandler())
		v1.GET("/stats", marketHandlers.StatsHandler())

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", marketHandlers.CreateOrderHandler())
			orders.GET("", marketHandlers.ListOrdersHandler())
			orders.GET("/:order_id", marketHandlers.GetOrderHandler())
			orders.PUT("/:order_id", marketHandlers.UpdateOrderHandler())
			orders.DELETE("/:order_id", marketHandlers.CancelOrderHandler())
		}

		// Reserve routes
		reserveGroup := v1.Group("/reserve")
		reserveGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			reserveGroup.POST("/buyback", reserveHandlers.BuybackHandler())
			reserveGroup.POST("/withdraw", reserveHandlers.WithdrawHandler())
		}

		// Tax report routes
		reports := v1.Group("/tax-reports")
		reports.Use(middleware.JWTAuth(jwtSecret))
		{
			reports.POST("", taxHandlers.GenerateReportHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/reserve/credit", reserveHandlers.CreditBalanceHandler())
		}
	}
}
