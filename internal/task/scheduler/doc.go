// Package scheduler drives the recurring polling tasks.
//
// Service is tick-driven: the owner calls Tick from a steady ticker and the
// service fires every task whose next time has passed. All methods must be
// called from the goroutine that calls Tick; callbacks run synchronously on
// that goroutine and may call back into the service.
//
// Clock wraps robfig/cron for wall-clock triggers (per-second window checks,
// midnight resets).
package scheduler
