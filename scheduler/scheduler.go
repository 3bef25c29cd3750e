// Package scheduler provides scheduled job management for the stock
// watchlist backend. It handles:
// - Periodic alert sweeps (evaluate + notify)
// - Daily refresh of cached quotes for all registered stocks
//
// The jobs are implemented in jobs.go
package scheduler
