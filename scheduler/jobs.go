package scheduler

import (
	"log"
	"time"

	"stockwatch_backend/models"
	"stockwatch_backend/services"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron         *gocron.Scheduler
	db           *gorm.DB
	alertService *services.AlertService
	stockService *services.StockService
	sweepMinutes int
}

// NewScheduler creates a new scheduler instance
func NewScheduler(db *gorm.DB, alertService *services.AlertService, stockService *services.StockService, sweepMinutes int) *Scheduler {
	if sweepMinutes < 1 {
		sweepMinutes = 5
	}
	return &Scheduler{
		cron:         gocron.NewScheduler(time.UTC),
		db:           db,
		alertService: alertService,
		stockService: stockService,
		sweepMinutes: sweepMinutes,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Sweep user alerts on the configured cadence
	s.cron.Every(s.sweepMinutes).Minutes().Do(func() {
		s.runAlertSweep()
	})

	// Refresh cached quotes for all stocks daily after US market close
	s.cron.Every(1).Day().At("21:30").Do(func() {
		if isTradingDay() {
			s.refreshStockQuotes()
		}
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runAlertSweep evaluates all eligible alerts and notifies on trigger
func (s *Scheduler) runAlertSweep() {
	log.Println("Checking user alerts...")
	result := s.alertService.ProcessAlerts()
	log.Printf("Alert sweep: evaluated=%d triggered=%d notified=%d",
		result.Evaluated, result.Triggered, result.Notified)
}

// refreshStockQuotes re-fetches quotes for every registered stock
func (s *Scheduler) refreshStockQuotes() {
	log.Println("Refreshing stock quotes...")

	var stocks []models.Stock
	if err := s.db.Find(&stocks).Error; err != nil {
		log.Printf("Error loading stocks: %v", err)
		return
	}

	refreshed := 0
	for i := range stocks {
		if err := s.stockService.UpdateStockData(&stocks[i]); err != nil {
			log.Printf("Error refreshing quote for %s: %v", stocks[i].Symbol, err)
			continue
		}
		refreshed++
	}

	log.Printf("Refreshed quotes for %d/%d stocks", refreshed, len(stocks))
}

// isTradingDay reports whether today is a weekday
func isTradingDay() bool {
	weekday := time.Now().Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}
