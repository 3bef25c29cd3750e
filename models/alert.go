package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Alert type constants
const (
	AlertPriceAbove    = "PRICE_ABOVE"
	AlertPriceBelow    = "PRICE_BELOW"
	AlertPercentChange = "PERCENT_CHANGE"
	AlertVolumeAbove   = "VOLUME_ABOVE"
)

// Alert represents a user-defined alert condition on a stock.
// A triggered alert is never re-evaluated until it is explicitly reset,
// and an inactive alert is never evaluated at all.
type Alert struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UserID          uint            `gorm:"index;not null" json:"user_id"`
	User            User            `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	StockID         uint            `gorm:"index;not null" json:"stock_id"`
	Stock           Stock           `gorm:"foreignKey:StockID;constraint:OnDelete:CASCADE" json:"stock,omitempty"`
	AlertType       string          `gorm:"type:varchar(20);not null" json:"alert_type"`
	ThresholdValue  decimal.Decimal `gorm:"type:decimal(15,4)" json:"threshold_value"`
	IsActive        bool            `gorm:"default:true" json:"is_active"`
	IsTriggered     bool            `gorm:"default:false" json:"is_triggered"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ValidAlertTypes returns the supported alert kinds
func ValidAlertTypes() []string {
	return []string{
		AlertPriceAbove,
		AlertPriceBelow,
		AlertPercentChange,
		AlertVolumeAbove,
	}
}

// IsValidAlertType checks if the alert type is supported
func IsValidAlertType(alertType string) bool {
	for _, valid := range ValidAlertTypes() {
		if alertType == valid {
			return true
		}
	}
	return false
}

// MigrateAlertModels runs database migrations for alert models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(&Alert{})
}
