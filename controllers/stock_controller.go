package controllers

import (
	"net/http"

	"stockwatch_backend/models"
	"stockwatch_backend/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StockController handles stock-related requests
type StockController struct {
	db     *gorm.DB
	stocks *services.StockService
	market services.QuoteProvider
}

// NewStockController creates a new stock controller
func NewStockController(db *gorm.DB, stocks *services.StockService, market services.QuoteProvider) *StockController {
	return &StockController{
		db:     db,
		stocks: stocks,
		market: market,
	}
}

// GetStocks returns the list of registered stocks
// GET /api/v1/stocks
func (sc *StockController) GetStocks(c *gin.Context) {
	query := sc.db.Model(&models.Stock{})

	if symbol := c.Query("symbol"); symbol != "" {
		query = query.Where("symbol = ?", models.NormalizeSymbol(symbol))
	}

	var stocks []models.Stock
	if err := query.Order("symbol ASC").Find(&stocks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stocks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stocks})
}

// SearchStocks searches the market data provider and pairs matches with quotes
// GET /api/v1/stocks/search
func (sc *StockController) SearchStocks(c *gin.Context) {
	query := c.Query("q")
	if len(query) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Search query must be at least 2 characters"})
		return
	}

	results := sc.stocks.CombineSearch(query)
	c.JSON(http.StatusOK, gin.H{"data": results})
}

// GetQuote returns the live quote for a symbol
// GET /api/v1/stocks/:symbol/quote
func (sc *StockController) GetQuote(c *gin.Context) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))

	quote := sc.market.GetQuote(symbol)
	if quote == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Could not retrieve quote for this stock"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

// GetIntraday returns the intraday series for a symbol
// GET /api/v1/stocks/:symbol/intraday
func (sc *StockController) GetIntraday(c *gin.Context) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))
	interval := c.DefaultQuery("interval", "5min")

	candles := sc.market.GetIntraday(symbol, interval)
	if len(candles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Could not retrieve intraday data for this stock"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": candles, "interval": interval})
}
