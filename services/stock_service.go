package services

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"stockwatch_backend/models"
	"stockwatch_backend/services/marketdata"

	"gorm.io/gorm"
)

// Service errors
var (
	ErrStockNotFound    = errors.New("stock not found")
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrNotInWatchlist   = errors.New("stock not in watchlist")
)

// QuoteProvider is the slice of the market data client the services need
type QuoteProvider interface {
	SearchSymbols(query string) []marketdata.SymbolMatch
	GetQuote(symbol string) *marketdata.Quote
	GetIntraday(symbol, interval string) []marketdata.Candle
}

// SearchResult combines a symbol match with its live quote
type SearchResult struct {
	marketdata.SymbolMatch
	Quote *marketdata.Quote `json:"quote"`
}

// StockService owns canonical stock records and the user watchlist
type StockService struct {
	db     *gorm.DB
	market QuoteProvider
}

// NewStockService creates a new stock service
func NewStockService(db *gorm.DB, market QuoteProvider) *StockService {
	return &StockService{
		db:     db,
		market: market,
	}
}

// GetOrCreateStock returns the stock record for a symbol, creating it on
// first reference. An existing record gets its cached quote fields
// refreshed synchronously before being returned. Creation requires an
// exact case-insensitive symbol match among search results plus a live
// quote; otherwise ErrStockNotFound.
func (s *StockService) GetOrCreateStock(symbol string) (*models.Stock, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrStockNotFound
	}

	var stock models.Stock
	err := s.db.Where("symbol = ?", symbol).First(&stock).Error
	if err == nil {
		// Stale cache is acceptable: a failed refresh leaves the
		// record untouched rather than blocking the caller.
		if refreshErr := s.UpdateStockData(&stock); refreshErr != nil {
			log.Printf("Could not refresh quote for %s: %v", symbol, refreshErr)
		}
		return &stock, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up stock %s: %w", symbol, err)
	}

	matches := s.market.SearchSymbols(symbol)
	var match *marketdata.SymbolMatch
	for i := range matches {
		if strings.EqualFold(matches[i].Symbol, symbol) {
			match = &matches[i]
			break
		}
	}
	if match == nil {
		return nil, ErrStockNotFound
	}

	quote := s.market.GetQuote(symbol)
	if quote == nil {
		return nil, ErrStockNotFound
	}

	stock = models.Stock{
		Symbol:        symbol,
		Name:          match.Name,
		LastPrice:     quote.Price,
		ChangePercent: quote.ChangePercent,
		Volume:        quote.Volume,
	}
	if err := s.db.Create(&stock).Error; err != nil {
		// A concurrent caller may have created the record first
		if lookupErr := s.db.Where("symbol = ?", symbol).First(&stock).Error; lookupErr == nil {
			return &stock, nil
		}
		return nil, fmt.Errorf("failed to create stock %s: %w", symbol, err)
	}

	log.Printf("Created stock record for %s (%s)", stock.Symbol, stock.Name)
	return &stock, nil
}

// UpdateStockData re-fetches the quote for a stock and overwrites its
// cached price/change/volume fields. The record is left untouched when
// the quote is unavailable.
func (s *StockService) UpdateStockData(stock *models.Stock) error {
	quote := s.market.GetQuote(stock.Symbol)
	if quote == nil {
		return ErrQuoteUnavailable
	}

	updates := map[string]interface{}{
		"last_price":     quote.Price,
		"change_percent": quote.ChangePercent,
		"volume":         quote.Volume,
	}
	if err := s.db.Model(stock).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update stock %s: %w", stock.Symbol, err)
	}

	stock.LastPrice = quote.Price
	stock.ChangePercent = quote.ChangePercent
	stock.Volume = quote.Volume
	return nil
}

// CombineSearch searches for stocks and pairs each match with its live
// quote. A match whose quote is unavailable is still returned.
func (s *StockService) CombineSearch(query string) []SearchResult {
	matches := s.market.SearchSymbols(query)
	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, SearchResult{
			SymbolMatch: match,
			Quote:       s.market.GetQuote(match.Symbol),
		})
	}
	return results
}

// GetWatchlist returns the user's watchlist items with stock snapshots
func (s *StockService) GetWatchlist(userID uint) ([]models.WatchlistItem, error) {
	var items []models.WatchlistItem
	err := s.db.Where("user_id = ?", userID).
		Preload("Stock").
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist: %w", err)
	}
	return items, nil
}

// AddToWatchlist adds a stock to the user's watchlist. Adding a symbol
// that is already watched is a no-op returning the existing membership
// with created=false.
func (s *StockService) AddToWatchlist(userID uint, symbol, notes string) (*models.WatchlistItem, bool, error) {
	stock, err := s.GetOrCreateStock(symbol)
	if err != nil {
		return nil, false, err
	}

	var existing models.WatchlistItem
	err = s.db.Where("user_id = ? AND stock_id = ?", userID, stock.ID).First(&existing).Error
	if err == nil {
		existing.Stock = *stock
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to check watchlist: %w", err)
	}

	item := models.WatchlistItem{
		UserID:  userID,
		StockID: stock.ID,
		Notes:   notes,
	}
	if err := s.db.Create(&item).Error; err != nil {
		return nil, false, fmt.Errorf("failed to add to watchlist: %w", err)
	}
	item.Stock = *stock
	return &item, true, nil
}

// RemoveFromWatchlist removes a stock from the user's watchlist
func (s *StockService) RemoveFromWatchlist(userID uint, symbol string) error {
	symbol = models.NormalizeSymbol(symbol)

	var stock models.Stock
	if err := s.db.Where("symbol = ?", symbol).First(&stock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrStockNotFound
		}
		return fmt.Errorf("failed to look up stock %s: %w", symbol, err)
	}

	res := s.db.Where("user_id = ? AND stock_id = ?", userID, stock.ID).
		Delete(&models.WatchlistItem{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove from watchlist: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotInWatchlist
	}
	return nil
}
