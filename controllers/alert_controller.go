package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"stockwatch_backend/middleware"
	"stockwatch_backend/models"
	"stockwatch_backend/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AlertController handles alert requests
type AlertController struct {
	db     *gorm.DB
	alerts *services.AlertService
	stocks *services.StockService
}

// NewAlertController creates a new alert controller
func NewAlertController(db *gorm.DB, alerts *services.AlertService, stocks *services.StockService) *AlertController {
	return &AlertController{
		db:     db,
		alerts: alerts,
		stocks: stocks,
	}
}

// GetAlerts returns the authenticated user's alerts
// GET /api/v1/alerts
func (ac *AlertController) GetAlerts(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var alerts []models.Alert
	if err := ac.db.Where("user_id = ?", userID).Preload("Stock").Find(&alerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

// CreateAlert creates a new alert for a stock
// POST /api/v1/alerts
func (ac *AlertController) CreateAlert(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var request struct {
		Symbol         string `json:"symbol"`
		AlertType      string `json:"alert_type"`
		ThresholdValue string `json:"threshold_value"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert request"})
		return
	}

	if request.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stock symbol is required"})
		return
	}
	if !models.IsValidAlertType(request.AlertType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Valid alert type is required"})
		return
	}

	threshold, err := decimal.NewFromString(request.ThresholdValue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Threshold value is required"})
		return
	}

	stock, err := ac.stocks.GetOrCreateStock(request.Symbol)
	if err != nil {
		if errors.Is(err, services.ErrStockNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("Stock with symbol %s not found", request.Symbol),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert"})
		return
	}

	alert := models.Alert{
		UserID:         userID,
		StockID:        stock.ID,
		AlertType:      request.AlertType,
		ThresholdValue: threshold,
		IsActive:       true,
	}
	if err := ac.db.Create(&alert).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert"})
		return
	}
	alert.Stock = *stock

	c.JSON(http.StatusCreated, gin.H{"data": alert})
}

// ToggleAlert toggles the active status of an alert
// POST /api/v1/alerts/:id/toggle
func (ac *AlertController) ToggleAlert(c *gin.Context) {
	alert, ok := ac.ownedAlert(c)
	if !ok {
		return
	}

	if err := ac.db.Model(alert).Update("is_active", !alert.IsActive).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alert})
}

// ResetAlert resets a triggered alert so it becomes eligible again
// POST /api/v1/alerts/:id/reset
func (ac *AlertController) ResetAlert(c *gin.Context) {
	alert, ok := ac.ownedAlert(c)
	if !ok {
		return
	}

	if !alert.IsTriggered {
		c.JSON(http.StatusOK, gin.H{"message": "Alert has not been triggered yet"})
		return
	}

	if err := ac.db.Model(alert).Update("is_triggered", false).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alert})
}

// DeleteAlert removes an alert
// DELETE /api/v1/alerts/:id
func (ac *AlertController) DeleteAlert(c *gin.Context) {
	alert, ok := ac.ownedAlert(c)
	if !ok {
		return
	}

	if err := ac.db.Delete(alert).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert deleted"})
}

// EvaluateAlert evaluates one alert immediately
// POST /api/v1/alerts/:id/evaluate
func (ac *AlertController) EvaluateAlert(c *gin.Context) {
	alert, ok := ac.ownedAlert(c)
	if !ok {
		return
	}

	triggered, err := ac.alerts.EvaluateAlert(alert.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Evaluation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"triggered": triggered})
}

// NotifyAlert sends the notification for one alert immediately
// POST /api/v1/alerts/:id/notify
func (ac *AlertController) NotifyAlert(c *gin.Context) {
	alert, ok := ac.ownedAlert(c)
	if !ok {
		return
	}

	if err := ac.alerts.NotifyAlert(alert.ID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Notification failed: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification sent"})
}

// RunSweep runs one alert sweep and returns its counts
// POST /api/v1/alerts/sweep
func (ac *AlertController) RunSweep(c *gin.Context) {
	result := ac.alerts.ProcessAlerts()
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// ownedAlert loads the alert named by the :id param and verifies the
// authenticated user owns it.
func (ac *AlertController) ownedAlert(c *gin.Context) (*models.Alert, bool) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return nil, false
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert id"})
		return nil, false
	}

	var alert models.Alert
	if err := ac.db.Preload("Stock").First(&alert, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return nil, false
	}
	if alert.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return nil, false
	}

	return &alert, true
}
