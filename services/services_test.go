package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"stockwatch_backend/models"
	"stockwatch_backend/services/marketdata"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a per-test in-memory database with all tables migrated
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// sqlite cannot interleave writers; one connection serializes the
	// concurrent sweep workers at the pool instead of erroring
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := models.MigrateUserModels(db); err != nil {
		t.Fatalf("user migration failed: %v", err)
	}
	if err := models.MigrateStockModels(db); err != nil {
		t.Fatalf("stock migration failed: %v", err)
	}
	if err := models.MigrateAlertModels(db); err != nil {
		t.Fatalf("alert migration failed: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// fakeProvider serves canned market data keyed by symbol
type fakeProvider struct {
	mu         sync.Mutex
	quotes     map[string]*marketdata.Quote
	matches    map[string][]marketdata.SymbolMatch
	candles    map[string][]marketdata.Candle
	quoteCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		quotes:  make(map[string]*marketdata.Quote),
		matches: make(map[string][]marketdata.SymbolMatch),
		candles: make(map[string][]marketdata.Candle),
	}
}

func (f *fakeProvider) setQuote(symbol string, price, changePercent string, volume int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[symbol] = &marketdata.Quote{
		Symbol:        symbol,
		Price:         decimal.RequireFromString(price),
		ChangePercent: decimal.RequireFromString(changePercent),
		Volume:        volume,
	}
}

func (f *fakeProvider) setMatch(query string, matches ...marketdata.SymbolMatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[query] = matches
}

func (f *fakeProvider) SearchSymbols(query string) []marketdata.SymbolMatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matches[query]
}

func (f *fakeProvider) GetQuote(symbol string) *marketdata.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	q, ok := f.quotes[symbol]
	if !ok {
		return nil
	}
	copied := *q
	return &copied
}

func (f *fakeProvider) GetIntraday(symbol, interval string) []marketdata.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candles[symbol]
}

func (f *fakeProvider) quoteCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls
}

// sentMail records one delivery through the fake mailer
type sentMail struct {
	Subject string
	Body    string
	From    string
	To      string
}

// fakeMailer records sent mail and can be made to fail
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(subject, body, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{Subject: subject, Body: body, From: from, To: to})
	return nil
}

func (f *fakeMailer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeBroadcaster records stock snapshots pushed to live sessions
type fakeBroadcaster struct {
	mu     sync.Mutex
	stocks []models.Stock
}

func (f *fakeBroadcaster) BroadcastStockUpdate(stock *models.Stock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stocks = append(f.stocks, *stock)
}

func (f *fakeBroadcaster) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stocks)
}

var errMailDown = errors.New("smtp connection refused")

// seedUser inserts a user with a hashed password
func seedUser(t *testing.T, db *gorm.DB, username, email string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: email, IsActive: true}
	if err := user.SetPassword("test-password-123"); err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

// seedStock inserts a stock with cached quote fields
func seedStock(t *testing.T, db *gorm.DB, symbol, name, lastPrice string) *models.Stock {
	t.Helper()
	stock := &models.Stock{
		Symbol:    symbol,
		Name:      name,
		LastPrice: decimal.RequireFromString(lastPrice),
	}
	if err := db.Create(stock).Error; err != nil {
		t.Fatalf("failed to seed stock: %v", err)
	}
	return stock
}

// seedAlert inserts an active untriggered alert
func seedAlert(t *testing.T, db *gorm.DB, userID, stockID uint, alertType, threshold string) *models.Alert {
	t.Helper()
	alert := &models.Alert{
		UserID:         userID,
		StockID:        stockID,
		AlertType:      alertType,
		ThresholdValue: decimal.RequireFromString(threshold),
		IsActive:       true,
	}
	if err := db.Create(alert).Error; err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}
	return alert
}
