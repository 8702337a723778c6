// Package schedule models recurring triggers as a Schedule (when to fire)
// plus a Runner (the clock that fires registered callbacks).
//
// The recovery sweep of the delivery pipeline is registered here with a
// one-minute cadence, but the callback itself is a plain function - any
// external clock (hosted cron hitting an HTTP endpoint, a test calling it
// directly) can invoke the same logic without the runner.
//
// Schedules come in three flavors: fixed intervals (EveryInterval), a
// daily wall-clock time (DailyAt), and cron expressions (Cron) parsed by
// robfig/cron.
package schedule
