package routes

import (
	"time"

	"stockwatch_backend/controllers"
	"stockwatch_backend/middleware"
	"stockwatch_backend/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes sets up all API routes
func SetupRoutes(
	router *gin.Engine,
	db *gorm.DB,
	stockService *services.StockService,
	alertService *services.AlertService,
	realtimeService *services.RealtimeService,
	market services.QuoteProvider,
) {
	// Initialize controllers
	authController := controllers.NewAuthController(db)
	stockController := controllers.NewStockController(db, stockService, market)
	watchlistController := controllers.NewWatchlistController(db, stockService)
	alertController := controllers.NewAlertController(db, alertService, stockService)

	// The upstream quote API is rate limited, keep callers in budget
	searchLimiter := middleware.NewRateLimiter(30, time.Minute)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authController.Register)
			auth.POST("/login", authController.Login)
			auth.GET("/me", middleware.JWTAuthMiddleware(), authController.Me)
		}

		// Authenticated routes
		authed := api.Group("")
		authed.Use(middleware.JWTAuthMiddleware())
		{
			// Stock routes
			stocks := authed.Group("/stocks")
			{
				stocks.GET("", stockController.GetStocks)
				stocks.GET("/search", middleware.RateLimitMiddleware(searchLimiter), stockController.SearchStocks)
				stocks.GET("/:symbol/quote", stockController.GetQuote)
				stocks.GET("/:symbol/intraday", stockController.GetIntraday)
			}

			// Watchlist routes
			watchlist := authed.Group("/watchlist")
			{
				watchlist.GET("", watchlistController.GetWatchlist)
				watchlist.POST("", watchlistController.AddToWatchlist)
				watchlist.DELETE("/:symbol", watchlistController.RemoveFromWatchlist)
			}

			// Alert routes
			alerts := authed.Group("/alerts")
			{
				alerts.GET("", alertController.GetAlerts)
				alerts.POST("", alertController.CreateAlert)
				alerts.POST("/sweep", alertController.RunSweep)
				alerts.POST("/:id/toggle", alertController.ToggleAlert)
				alerts.POST("/:id/reset", alertController.ResetAlert)
				alerts.POST("/:id/evaluate", alertController.EvaluateAlert)
				alerts.POST("/:id/notify", alertController.NotifyAlert)
				alerts.DELETE("/:id", alertController.DeleteAlert)
			}
		}
	}

	// Live broadcast endpoint; the session authenticates its own token
	router.GET("/ws", func(c *gin.Context) {
		realtimeService.HandleWebSocket(c.Writer, c.Request)
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Stock Watchlist API is running",
		})
	})
}
