package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"stockwatch_backend/models"

	"gorm.io/gorm"
)

// ErrAlertNotFound is returned for unknown alert IDs
var ErrAlertNotFound = errors.New("alert not found")

// DefaultSweepConcurrency caps in-flight quote fetches during a sweep so
// the upstream rate limit is respected.
const DefaultSweepConcurrency = 5

// StockBroadcaster pushes a refreshed stock snapshot to live sessions
// subscribed to its symbol.
type StockBroadcaster interface {
	BroadcastStockUpdate(stock *models.Stock)
}

// SweepResult reports the outcome of one alert sweep
type SweepResult struct {
	Evaluated int `json:"evaluated"`
	Triggered int `json:"triggered"`
	Notified  int `json:"notified"`
}

// AlertService evaluates alert conditions against live quotes and
// dispatches notifications when they fire.
type AlertService struct {
	db          *gorm.DB
	market      QuoteProvider
	mailer      Mailer
	emailFrom   string
	broadcaster StockBroadcaster
	concurrency int
}

// NewAlertService creates a new alert service
func NewAlertService(db *gorm.DB, market QuoteProvider, mailer Mailer, emailFrom string) *AlertService {
	return &AlertService{
		db:          db,
		market:      market,
		mailer:      mailer,
		emailFrom:   emailFrom,
		concurrency: DefaultSweepConcurrency,
	}
}

// SetBroadcaster wires the live broadcast hub for per-symbol pushes
func (a *AlertService) SetBroadcaster(b StockBroadcaster) {
	a.broadcaster = b
}

// SetSweepConcurrency sets the cap on concurrent quote fetches per sweep
func (a *AlertService) SetSweepConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	a.concurrency = n
}

// CheckAlert evaluates a single alert against the current quote and
// returns whether it fired. Inactive and already-triggered alerts are
// skipped without any writes, as is an alert whose quote is unavailable.
// When the condition holds, the stock's cached quote fields and the
// alert's triggered state are written in one transaction, with the
// triggered flag flipped by a conditional update so two concurrent
// evaluations of the same alert can never both fire.
func (a *AlertService) CheckAlert(alert *models.Alert) bool {
	if !alert.IsActive || alert.IsTriggered {
		return false
	}

	if alert.Stock.ID == 0 {
		if err := a.db.First(&alert.Stock, alert.StockID).Error; err != nil {
			log.Printf("Could not load stock %d for alert %d: %v", alert.StockID, alert.ID, err)
			return false
		}
	}

	quote := a.market.GetQuote(alert.Stock.Symbol)
	if quote == nil {
		return false
	}

	triggered := false
	switch alert.AlertType {
	case models.AlertPriceAbove:
		triggered = quote.Price.GreaterThan(alert.ThresholdValue)
	case models.AlertPriceBelow:
		triggered = quote.Price.LessThan(alert.ThresholdValue)
	case models.AlertPercentChange:
		triggered = quote.ChangePercent.Abs().GreaterThanOrEqual(alert.ThresholdValue)
	case models.AlertVolumeAbove:
		// Threshold coerced to whole volume units
		triggered = quote.Volume > alert.ThresholdValue.IntPart()
	default:
		log.Printf("Unknown alert type %q for alert %d", alert.AlertType, alert.ID)
		return false
	}

	if !triggered {
		return false
	}

	now := time.Now()
	won := false
	err := a.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Alert{}).
			Where("id = ? AND is_triggered = ?", alert.ID, false).
			Updates(map[string]interface{}{
				"is_triggered":      true,
				"last_triggered_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent evaluation already fired this alert
			return nil
		}

		if err := tx.Model(&models.Stock{}).
			Where("id = ?", alert.StockID).
			Updates(map[string]interface{}{
				"last_price":     quote.Price,
				"change_percent": quote.ChangePercent,
				"volume":         quote.Volume,
			}).Error; err != nil {
			return err
		}

		won = true
		return nil
	})
	if err != nil {
		log.Printf("Failed to record trigger for alert %d: %v", alert.ID, err)
		return false
	}
	if !won {
		return false
	}

	alert.IsTriggered = true
	alert.LastTriggeredAt = &now
	alert.Stock.LastPrice = quote.Price
	alert.Stock.ChangePercent = quote.ChangePercent
	alert.Stock.Volume = quote.Volume

	if a.broadcaster != nil {
		a.broadcaster.BroadcastStockUpdate(&alert.Stock)
	}
	return true
}

// SendAlertNotification builds the kind-specific message for a triggered
// alert and sends it through the notification transport. A delivery
// failure is returned to the caller; the alert stays triggered either way.
func (a *AlertService) SendAlertNotification(alert *models.Alert) error {
	if alert.Stock.ID == 0 {
		if err := a.db.First(&alert.Stock, alert.StockID).Error; err != nil {
			return fmt.Errorf("failed to load stock for alert %d: %w", alert.ID, err)
		}
	}
	if alert.User.ID == 0 {
		if err := a.db.First(&alert.User, alert.UserID).Error; err != nil {
			return fmt.Errorf("failed to load user for alert %d: %w", alert.ID, err)
		}
	}

	stock := alert.Stock
	user := alert.User

	var subject, body string
	switch alert.AlertType {
	case models.AlertPriceAbove:
		subject = fmt.Sprintf("Price Alert: %s is above $%s", stock.Symbol, alert.ThresholdValue)
		body = fmt.Sprintf("Hi %s,\n\n", user.Username)
		body += fmt.Sprintf("Your price alert for %s (%s) has been triggered.\n", stock.Name, stock.Symbol)
		body += fmt.Sprintf("Current price: $%s is above your target of $%s.\n\n", stock.LastPrice, alert.ThresholdValue)
		body += fmt.Sprintf("Change: %s%%\n", stock.ChangePercent)
		body += fmt.Sprintf("Volume: %d\n\n", stock.Volume)
		body += "Best regards,\nStock Watchlist Alert System"

	case models.AlertPriceBelow:
		subject = fmt.Sprintf("Price Alert: %s is below $%s", stock.Symbol, alert.ThresholdValue)
		body = fmt.Sprintf("Hi %s,\n\n", user.Username)
		body += fmt.Sprintf("Your price alert for %s (%s) has been triggered.\n", stock.Name, stock.Symbol)
		body += fmt.Sprintf("Current price: $%s is below your target of $%s.\n\n", stock.LastPrice, alert.ThresholdValue)
		body += fmt.Sprintf("Change: %s%%\n", stock.ChangePercent)
		body += fmt.Sprintf("Volume: %d\n\n", stock.Volume)
		body += "Best regards,\nStock Watchlist Alert System"

	case models.AlertPercentChange:
		subject = fmt.Sprintf("Change Alert: %s moved by %s%%", stock.Symbol, stock.ChangePercent)
		body = fmt.Sprintf("Hi %s,\n\n", user.Username)
		body += fmt.Sprintf("Your percent change alert for %s (%s) has been triggered.\n", stock.Name, stock.Symbol)
		body += fmt.Sprintf("Current change: %s%% has exceeded your threshold of %s%%.\n\n", stock.ChangePercent, alert.ThresholdValue)
		body += fmt.Sprintf("Current price: $%s\n", stock.LastPrice)
		body += fmt.Sprintf("Volume: %d\n\n", stock.Volume)
		body += "Best regards,\nStock Watchlist Alert System"

	case models.AlertVolumeAbove:
		subject = fmt.Sprintf("Volume Alert: %s volume is above %s", stock.Symbol, alert.ThresholdValue)
		body = fmt.Sprintf("Hi %s,\n\n", user.Username)
		body += fmt.Sprintf("Your volume alert for %s (%s) has been triggered.\n", stock.Name, stock.Symbol)
		body += fmt.Sprintf("Current volume: %d has exceeded your threshold of %s.\n\n", stock.Volume, alert.ThresholdValue)
		body += fmt.Sprintf("Current price: $%s\n", stock.LastPrice)
		body += fmt.Sprintf("Change: %s%%\n\n", stock.ChangePercent)
		body += "Best regards,\nStock Watchlist Alert System"

	default:
		return fmt.Errorf("unknown alert type %q for alert %d", alert.AlertType, alert.ID)
	}

	return a.mailer.Send(subject, body, a.emailFrom, user.Email)
}

// ProcessAlerts runs one sweep: every active untriggered alert is
// evaluated, and triggered alerts are notified. Alerts are processed
// independently so one failure never aborts the rest, and concurrent
// quote fetches are capped by the configured concurrency bound.
func (a *AlertService) ProcessAlerts() SweepResult {
	var alerts []models.Alert
	err := a.db.Where("is_active = ? AND is_triggered = ?", true, false).
		Preload("Stock").
		Preload("User").
		Find(&alerts).Error
	if err != nil {
		log.Printf("Error loading alerts for sweep: %v", err)
		return SweepResult{}
	}

	result := SweepResult{Evaluated: len(alerts)}
	if len(alerts) == 0 {
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, a.concurrency)

	for i := range alerts {
		alert := &alerts[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if !a.CheckAlert(alert) {
				return
			}
			mu.Lock()
			result.Triggered++
			mu.Unlock()

			if err := a.SendAlertNotification(alert); err != nil {
				// The alert stays triggered; the notification is not
				// resent until the user resets it.
				log.Printf("Notification failed for alert %d: %v", alert.ID, err)
				return
			}
			mu.Lock()
			result.Notified++
			mu.Unlock()
		}()
	}
	wg.Wait()

	log.Printf("Alert sweep complete: evaluated=%d triggered=%d notified=%d",
		result.Evaluated, result.Triggered, result.Notified)
	return result
}

// GetAlert loads an alert with its stock and user
func (a *AlertService) GetAlert(alertID uint) (*models.Alert, error) {
	var alert models.Alert
	err := a.db.Preload("Stock").Preload("User").First(&alert, alertID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to load alert %d: %w", alertID, err)
	}
	return &alert, nil
}

// EvaluateAlert evaluates one alert by ID for manual invocation
func (a *AlertService) EvaluateAlert(alertID uint) (bool, error) {
	alert, err := a.GetAlert(alertID)
	if err != nil {
		return false, err
	}
	return a.CheckAlert(alert), nil
}

// NotifyAlert sends the notification for one alert by ID
func (a *AlertService) NotifyAlert(alertID uint) error {
	alert, err := a.GetAlert(alertID)
	if err != nil {
		return err
	}
	return a.SendAlertNotification(alert)
}
