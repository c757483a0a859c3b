// Package budget caps provider spend. Spend is read from recorded usage
// over sliding 24h and 30d windows, so a cap cannot be gamed by waiting
// for midnight.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/errors"
)

// ErrBudgetExceeded is returned when recorded spend has reached a cap
var ErrBudgetExceeded = errors.New("budget exceeded")

const (
	dailyWindow   = 24 * time.Hour
	monthlyWindow = 30 * 24 * time.Hour
)

// Limits are the caps in USD. Zero means unlimited.
type Limits struct {
	DailyUSD   float64 `json:"daily_usd"`
	MonthlyUSD float64 `json:"monthly_usd"`
}

// SpendSource reports recorded usage since a point in time.
type SpendSource interface {
	Stats(ctx context.Context, since time.Time) (*tracker.UsageStats, error)
}

// Status is current spend against the limits.
type Status struct {
	Limits           Limits  `json:"limits"`
	DailySpend       float64 `json:"daily_spend"`
	MonthlySpend     float64 `json:"monthly_spend"`
	DailyRemaining   float64 `json:"daily_remaining,omitempty"`
	MonthlyRemaining float64 `json:"monthly_remaining,omitempty"`
	DailyRequests    int     `json:"daily_requests"`
	MonthlyRequests  int     `json:"monthly_requests"`
}

// Guard checks spend before new work is admitted.
type Guard struct {
	source SpendSource
	mu     sync.RWMutex // protects limits
	limits Limits
	now    func() time.Time
}

// NewGuard creates a guard over source. A nil source records nothing, so
// every check passes.
func NewGuard(source SpendSource, limits Limits) *Guard {
	return &Guard{source: source, limits: limits, now: time.Now}
}

// SetLimits replaces the caps (config reload).
func (g *Guard) SetLimits(l Limits) {
	g.mu.Lock()
	g.limits = l
	g.mu.Unlock()
}

// Limits returns the current caps.
func (g *Guard) Limits() Limits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

// Status reads spend over both windows.
func (g *Guard) Status(ctx context.Context) (*Status, error) {
	limits := g.Limits()
	st := &Status{Limits: limits}
	if g.source == nil {
		return st, nil
	}
	now := g.now()

	daily, err := g.source.Stats(ctx, now.Add(-dailyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get daily spend")
	}
	monthly, err := g.source.Stats(ctx, now.Add(-monthlyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get monthly spend")
	}

	st.DailySpend, st.DailyRequests = daily.TotalCost, daily.TotalRequests
	st.MonthlySpend, st.MonthlyRequests = monthly.TotalCost, monthly.TotalRequests
	if limits.DailyUSD > 0 {
		st.DailyRemaining = limits.DailyUSD - st.DailySpend
	}
	if limits.MonthlyUSD > 0 {
		st.MonthlyRemaining = limits.MonthlyUSD - st.MonthlySpend
	}
	return st, nil
}

// Check returns ErrBudgetExceeded once spend in either window has reached
// its cap. A guard without caps never queries the source.
func (g *Guard) Check(ctx context.Context) error {
	if g == nil {
		return nil
	}
	limits := g.Limits()
	if limits.DailyUSD <= 0 && limits.MonthlyUSD <= 0 {
		return nil
	}
	st, err := g.Status(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	if limits.DailyUSD > 0 && st.DailySpend >= limits.DailyUSD {
		err := errors.Wrapf(ErrBudgetExceeded, "daily spend $%.3f reached the $%.2f cap", st.DailySpend, limits.DailyUSD)
		err = errors.WithDetailf(err, "Requests in the last 24h: %d", st.DailyRequests)
		return errors.WithHint(err, "raise pulse.daily_budget_usd or wait for the window to slide")
	}
	if limits.MonthlyUSD > 0 && st.MonthlySpend >= limits.MonthlyUSD {
		err := errors.Wrapf(ErrBudgetExceeded, "monthly spend $%.3f reached the $%.2f cap", st.MonthlySpend, limits.MonthlyUSD)
		err = errors.WithDetailf(err, "Requests in the last 30d: %d", st.MonthlyRequests)
		return errors.WithHint(err, "raise pulse.monthly_budget_usd")
	}
	return nil
}
