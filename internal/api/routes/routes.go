package routes

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/cap5/settlement_service/internal/api/handlers"
	"github.com/cap5/settlement_service/internal/api/middleware"
	"github.com/cap5/settlement_service/internal/infrastructure/config"
	"github.com/cap5/settlement_service/internal/infrastructure/di"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/tracing"
)

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	return NewRouter(
		container.Config,
		handlers.NewCoreHandlers(container.HealthCheckers(), container.Config.Version, container.Logger),
		handlers.NewSettlementHandlers(container.Settlement, container.Logger),
		container.Logger,
	)
}

// NewRouter builds the engine from already constructed handlers
func NewRouter(cfg *config.Config, coreHandlers *handlers.CoreHandlers, settlements *handlers.SettlementHandlers, log *logger.Logger) *gin.Engine {
	router := gin.New()

	// Global middleware - order matters
	router.Use(tracing.HTTPMiddleware()) // Tracing should be early in the chain
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	rateLimit := middleware.RateLimit(cfg.Server.RateLimitPerMin)

	// Health checks (no auth required)
	core := router.Group("/", rateLimit)
	{
		core.GET("/health", coreHandlers.Health)
		core.GET("/ready", coreHandlers.Ready)
		core.GET("/live", coreHandlers.Live)
		core.GET("/version", coreHandlers.Version)
		core.GET("/metrics", coreHandlers.Metrics)
	}

	// Swagger documentation (development only)
	if cfg.Environment != "production" {
		router.GET("/swagger/*any", rateLimit, ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := router.Group("/api")
	{
		// token authenticated and exempt from the per-IP limit
		api.POST("/helius-webhook",
			middleware.WebhookRecovery(log),
			middleware.WebhookAuth(cfg.Settlement.WebhookToken, log),
			settlements.HeliusWebhook,
		)

		settlementRoutes := api.Group("/settlements", rateLimit)
		{
			settlementRoutes.POST("/start", settlements.StartSettlement)
			settlementRoutes.POST("/payout", settlements.Payout)
			settlementRoutes.POST("/verify", settlements.Verify)
			settlementRoutes.GET("/:sig", settlements.GetSettlement)
		}
	}

	return router
}
