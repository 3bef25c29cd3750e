package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"stockwatch_backend/middleware"
	"stockwatch_backend/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// WatchlistController handles watchlist requests
type WatchlistController struct {
	db     *gorm.DB
	stocks *services.StockService
}

// NewWatchlistController creates a new watchlist controller
func NewWatchlistController(db *gorm.DB, stocks *services.StockService) *WatchlistController {
	return &WatchlistController{
		db:     db,
		stocks: stocks,
	}
}

// GetWatchlist returns the authenticated user's watchlist
// GET /api/v1/watchlist
func (wc *WatchlistController) GetWatchlist(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	items, err := wc.stocks.GetWatchlist(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watchlist"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

// AddToWatchlist adds a stock to the user's watchlist. Adding a symbol
// that is already watched reports the existing membership instead of
// creating a duplicate.
// POST /api/v1/watchlist
func (wc *WatchlistController) AddToWatchlist(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var request struct {
		Symbol string `json:"symbol" binding:"required"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stock symbol is required"})
		return
	}

	item, created, err := wc.stocks.AddToWatchlist(userID, request.Symbol, request.Notes)
	if err != nil {
		if errors.Is(err, services.ErrStockNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("Stock with symbol %s not found", request.Symbol),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add to watchlist"})
		return
	}

	if !created {
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("Stock %s is already in your watchlist", item.Stock.Symbol),
			"data":    item,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

// RemoveFromWatchlist removes a stock from the user's watchlist
// DELETE /api/v1/watchlist/:symbol
func (wc *WatchlistController) RemoveFromWatchlist(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	symbol := c.Param("symbol")
	if err := wc.stocks.RemoveFromWatchlist(userID, symbol); err != nil {
		if errors.Is(err, services.ErrStockNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("Stock with symbol %s not found", symbol),
			})
			return
		}
		if errors.Is(err, services.ErrNotInWatchlist) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("Stock %s is not in your watchlist", symbol),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove from watchlist"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Stock %s removed from watchlist", symbol),
	})
}
