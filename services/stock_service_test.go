package services

import (
	"errors"
	"testing"

	"stockwatch_backend/models"
	"stockwatch_backend/services/marketdata"

	"github.com/shopspring/decimal"
)

func TestGetOrCreateStockCreates(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	market.setMatch("AAPL", marketdata.SymbolMatch{Symbol: "AAPL", Name: "Apple Inc."})
	market.setQuote("AAPL", "189.45", "1.23", 52000000)

	stock, err := svc.GetOrCreateStock("AAPL")
	if err != nil {
		t.Fatalf("GetOrCreateStock failed: %v", err)
	}
	if stock.Symbol != "AAPL" || stock.Name != "Apple Inc." {
		t.Errorf("stock = %s (%s)", stock.Symbol, stock.Name)
	}
	if !stock.LastPrice.Equal(decimal.RequireFromString("189.45")) {
		t.Errorf("last_price = %s, want 189.45", stock.LastPrice)
	}
	if stock.Volume != 52000000 {
		t.Errorf("volume = %d, want 52000000", stock.Volume)
	}

	var count int64
	db.Model(&models.Stock{}).Count(&count)
	if count != 1 {
		t.Errorf("stock rows = %d, want 1", count)
	}
}

func TestGetOrCreateStockNormalizesSymbol(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	market.setMatch("AAPL", marketdata.SymbolMatch{Symbol: "aapl", Name: "Apple Inc."})
	market.setQuote("AAPL", "189.45", "1.23", 52000000)

	stock, err := svc.GetOrCreateStock("  aapl ")
	if err != nil {
		t.Fatalf("GetOrCreateStock failed: %v", err)
	}
	if stock.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", stock.Symbol)
	}

	// A later lookup with different casing resolves to the same record
	again, err := svc.GetOrCreateStock("Aapl")
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if again.ID != stock.ID {
		t.Errorf("second lookup created a new record: %d vs %d", again.ID, stock.ID)
	}
}

func TestGetOrCreateStockRejectsNearMatch(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	// The provider returns only a prefix match, not the symbol itself
	market.setMatch("AAPL", marketdata.SymbolMatch{Symbol: "AAPLX", Name: "Not Apple"})
	market.setQuote("AAPL", "189.45", "1.23", 52000000)

	if _, err := svc.GetOrCreateStock("AAPL"); !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("err = %v, want ErrStockNotFound", err)
	}

	var count int64
	db.Model(&models.Stock{}).Count(&count)
	if count != 0 {
		t.Errorf("stock rows = %d, want 0", count)
	}
}

func TestGetOrCreateStockRequiresQuote(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	// Exact match but no live quote
	market.setMatch("AAPL", marketdata.SymbolMatch{Symbol: "AAPL", Name: "Apple Inc."})

	if _, err := svc.GetOrCreateStock("AAPL"); !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("err = %v, want ErrStockNotFound", err)
	}
}

func TestGetOrCreateStockEmptySymbol(t *testing.T) {
	db := newTestDB(t)
	svc := NewStockService(db, newFakeProvider())

	if _, err := svc.GetOrCreateStock("   "); !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("err = %v, want ErrStockNotFound", err)
	}
}

func TestGetOrCreateStockRefreshesExisting(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	seedStock(t, db, "AAPL", "Apple Inc.", "150.00")
	market.setQuote("AAPL", "155.55", "3.70", 61000000)

	stock, err := svc.GetOrCreateStock("AAPL")
	if err != nil {
		t.Fatalf("GetOrCreateStock failed: %v", err)
	}
	if !stock.LastPrice.Equal(decimal.RequireFromString("155.55")) {
		t.Errorf("last_price = %s, want refreshed 155.55", stock.LastPrice)
	}

	var stored models.Stock
	db.Where("symbol = ?", "AAPL").First(&stored)
	if !stored.LastPrice.Equal(decimal.RequireFromString("155.55")) {
		t.Errorf("stored last_price = %s, want 155.55", stored.LastPrice)
	}
}

func TestGetOrCreateStockKeepsStaleCacheOnRefreshFailure(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	seeded := seedStock(t, db, "AAPL", "Apple Inc.", "150.00")

	// No quote available: the cached record is returned unchanged
	stock, err := svc.GetOrCreateStock("AAPL")
	if err != nil {
		t.Fatalf("GetOrCreateStock failed: %v", err)
	}
	if stock.ID != seeded.ID {
		t.Errorf("returned a different record: %d vs %d", stock.ID, seeded.ID)
	}
	if !stock.LastPrice.Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("last_price = %s, want untouched 150.00", stock.LastPrice)
	}
}

func TestUpdateStockDataNoPartialWrites(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	stock := seedStock(t, db, "AAPL", "Apple Inc.", "150.00")

	if err := svc.UpdateStockData(stock); !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("err = %v, want ErrQuoteUnavailable", err)
	}

	var stored models.Stock
	db.First(&stored, stock.ID)
	if !stored.LastPrice.Equal(decimal.RequireFromString("150.00")) || stored.Volume != 0 {
		t.Errorf("record changed despite failed refresh: price=%s volume=%d", stored.LastPrice, stored.Volume)
	}
}

func TestCombineSearch(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	market.setMatch("app",
		marketdata.SymbolMatch{Symbol: "AAPL", Name: "Apple Inc."},
		marketdata.SymbolMatch{Symbol: "APP", Name: "AppLovin Corp"},
	)
	// Only AAPL has a live quote
	market.setQuote("AAPL", "189.45", "1.23", 52000000)

	results := svc.CombineSearch("app")
	if len(results) != 2 {
		t.Fatalf("result count = %d, want 2", len(results))
	}
	if results[0].Quote == nil || !results[0].Quote.Price.Equal(decimal.RequireFromString("189.45")) {
		t.Error("AAPL result missing its quote")
	}
	if results[1].Quote != nil {
		t.Error("quoteless match should still appear with a nil quote")
	}
}

func TestAddToWatchlistDuplicateIsNoOp(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	user := seedUser(t, db, "alice", "alice@example.com")
	market.setMatch("AAPL", marketdata.SymbolMatch{Symbol: "AAPL", Name: "Apple Inc."})
	market.setQuote("AAPL", "189.45", "1.23", 52000000)

	item, created, err := svc.AddToWatchlist(user.ID, "AAPL", "long term hold")
	if err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if !created {
		t.Error("first add reported created=false")
	}
	if item.Notes != "long term hold" {
		t.Errorf("notes = %q", item.Notes)
	}

	again, created, err := svc.AddToWatchlist(user.ID, "aapl", "different notes")
	if err != nil {
		t.Fatalf("duplicate add failed: %v", err)
	}
	if created {
		t.Error("duplicate add reported created=true")
	}
	if again.ID != item.ID {
		t.Errorf("duplicate add returned a different item: %d vs %d", again.ID, item.ID)
	}

	var count int64
	db.Model(&models.WatchlistItem{}).Count(&count)
	if count != 1 {
		t.Errorf("watchlist rows = %d, want 1", count)
	}
}

func TestGetWatchlistScopedToUser(t *testing.T) {
	db := newTestDB(t)
	market := newFakeProvider()
	svc := NewStockService(db, market)

	alice := seedUser(t, db, "alice", "alice@example.com")
	bob := seedUser(t, db, "bob", "bob@example.com")
	stock := seedStock(t, db, "AAPL", "Apple Inc.", "150.00")

	if err := db.Create(&models.WatchlistItem{UserID: alice.ID, StockID: stock.ID}).Error; err != nil {
		t.Fatalf("failed to seed watchlist: %v", err)
	}

	items, err := svc.GetWatchlist(alice.ID)
	if err != nil {
		t.Fatalf("GetWatchlist failed: %v", err)
	}
	if len(items) != 1 || items[0].Stock.Symbol != "AAPL" {
		t.Fatalf("alice watchlist = %+v", items)
	}

	items, err = svc.GetWatchlist(bob.ID)
	if err != nil {
		t.Fatalf("GetWatchlist failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("bob watchlist has %d items, want 0", len(items))
	}
}

func TestRemoveFromWatchlist(t *testing.T) {
	db := newTestDB(t)
	svc := NewStockService(db, newFakeProvider())

	user := seedUser(t, db, "alice", "alice@example.com")
	stock := seedStock(t, db, "AAPL", "Apple Inc.", "150.00")
	if err := db.Create(&models.WatchlistItem{UserID: user.ID, StockID: stock.ID}).Error; err != nil {
		t.Fatalf("failed to seed watchlist: %v", err)
	}

	if err := svc.RemoveFromWatchlist(user.ID, "aapl"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	var count int64
	db.Model(&models.WatchlistItem{}).Count(&count)
	if count != 0 {
		t.Errorf("watchlist rows = %d, want 0", count)
	}

	// Removing again: the stock exists but the membership is gone
	if err := svc.RemoveFromWatchlist(user.ID, "AAPL"); !errors.Is(err, ErrNotInWatchlist) {
		t.Fatalf("err = %v, want ErrNotInWatchlist", err)
	}

	// Unknown symbol entirely
	if err := svc.RemoveFromWatchlist(user.ID, "ZZZZ"); !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("err = %v, want ErrStockNotFound", err)
	}
}
