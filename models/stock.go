package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock represents a tracked stock symbol with its cached quote fields.
// The cached fields are overwritten only by quote refreshes; the record
// itself is removed solely through cascading deletes.
type Stock struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Symbol        string          `gorm:"uniqueIndex;not null" json:"symbol"`
	Name          string          `json:"name"`
	LastPrice     decimal.Decimal `gorm:"type:decimal(15,2)" json:"last_price"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"change_percent"`
	Volume        int64           `json:"volume"`
	MarketCap     decimal.Decimal `gorm:"type:decimal(20,2)" json:"market_cap"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BeforeSave normalizes the symbol to its canonical uppercase form.
func (s *Stock) BeforeSave(tx *gorm.DB) error {
	s.Symbol = NormalizeSymbol(s.Symbol)
	return nil
}

// NormalizeSymbol returns the canonical form of a stock symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// WatchlistItem pairs a user with a stock they track. At most one item
// exists per (user, stock) pair.
type WatchlistItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_user_stock;not null" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	StockID   uint      `gorm:"uniqueIndex:idx_user_stock;not null" json:"stock_id"`
	Stock     Stock     `gorm:"foreignKey:StockID;constraint:OnDelete:CASCADE" json:"stock,omitempty"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

// MigrateStockModels runs database migrations for stock-related models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
		&WatchlistItem{},
	)
}
