// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

// Package budget tracks spend against a period cap with atomic
// reserve/commit semantics. The ledger is process-wide state: seeded from
// an external store at startup, mutated only on committed spend, and
// notified back to that store fire-and-forget.
package budget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wardenai/warden/shared/logger"
)

// ErrBudgetExceeded is returned when a reservation would exceed the period
// cap. Retryable next period, or the router substitutes a zero-cost backend.
var ErrBudgetExceeded = errors.New("budget exceeded for current period")

// DefaultWarnThreshold is the fraction of the cap that triggers the
// non-blocking warning signal.
const DefaultWarnThreshold = 0.75

// State is a point-in-time snapshot of the ledger.
type State struct {
	CapUnits      float64   `json:"cap_units"`
	SpentUnits    float64   `json:"spent_units"`
	ReservedUnits float64   `json:"reserved_units"`
	WarnThreshold float64   `json:"warn_threshold"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

// Remaining returns the budget left for new reservations.
func (s State) Remaining() float64 {
	r := s.CapUnits - s.SpentUnits - s.ReservedUnits
	if r < 0 {
		return 0
	}
	return r
}

// WarnFunc receives the ledger state when spend crosses the warning
// threshold. It must not block.
type WarnFunc func(State)

// Persistence seeds prior spend at startup and receives committed spend.
// NotifySpend is fire-and-forget: the ledger never awaits it before
// returning a result.
type Persistence interface {
	// Seed returns the spend already recorded for the current period.
	Seed(ctx context.Context) (float64, error)

	// NotifySpend records the new period total after a commit.
	NotifySpend(ctx context.Context, spentUnits float64) error
}

// Ledger tracks spend against a cap for one period. All methods are safe
// for concurrent use; a single mutex guards the counters so two concurrent
// requests can never both pass a check only one can afford.
type Ledger struct {
	mu          sync.Mutex
	cap         float64
	spent       float64
	reserved    float64
	warnFrac    float64
	warned      bool
	periodStart time.Time
	periodLen   time.Duration

	persist Persistence
	onWarn  WarnFunc
	log     *logger.Logger
}

// Config configures a Ledger.
type Config struct {
	// CapUnits is the spend cap per period.
	CapUnits float64

	// PeriodLength is the budget period (default 24h).
	PeriodLength time.Duration

	// WarnThreshold is the warning fraction of the cap (default 0.75).
	WarnThreshold float64

	// Persistence is optional; nil disables seeding and notifications.
	Persistence Persistence

	// OnWarn is the optional non-blocking warning signal.
	OnWarn WarnFunc
}

// NewLedger creates a ledger and seeds prior-period spend from the
// configured persistence, if any.
func NewLedger(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.PeriodLength <= 0 {
		cfg.PeriodLength = 24 * time.Hour
	}
	if cfg.WarnThreshold <= 0 || cfg.WarnThreshold >= 1 {
		cfg.WarnThreshold = DefaultWarnThreshold
	}

	l := &Ledger{
		cap:         cfg.CapUnits,
		warnFrac:    cfg.WarnThreshold,
		periodStart: periodStart(time.Now().UTC(), cfg.PeriodLength),
		periodLen:   cfg.PeriodLength,
		persist:     cfg.Persistence,
		onWarn:      cfg.OnWarn,
		log:         logger.New("budget"),
	}

	if l.persist != nil {
		spent, err := l.persist.Seed(ctx)
		if err != nil {
			return nil, err
		}
		l.spent = spent
	}

	return l, nil
}

// PreviewCost estimates the cost of a request: tokens priced at the
// backend's per-1K-token rate.
func (l *Ledger) PreviewCost(tokens int, costPer1K float64) float64 {
	if tokens <= 0 || costPer1K <= 0 {
		return 0
	}
	return float64(tokens) / 1000.0 * costPer1K
}

// TryReserve atomically reserves cost against the remaining budget. It has
// a side effect only on success; a reservation that would exceed the cap
// is rejected outright, never queued.
func (l *Ledger) TryReserve(cost float64) bool {
	if cost < 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	if l.spent+l.reserved+cost > l.cap {
		return false
	}
	l.reserved += cost
	return true
}

// Commit converts a reservation into spend. actual may differ from the
// reserved estimate; spend only increases within a period. The configured
// persistence is notified asynchronously.
func (l *Ledger) Commit(reservedCost, actualCost float64) {
	if actualCost < 0 {
		actualCost = 0
	}

	l.mu.Lock()
	l.rolloverLocked()
	l.reserved -= reservedCost
	if l.reserved < 0 {
		l.reserved = 0
	}
	l.spent += actualCost
	crossed := !l.warned && l.cap > 0 && l.spent >= l.cap*l.warnFrac
	if crossed {
		l.warned = true
	}
	state := l.stateLocked()
	spent := l.spent
	l.mu.Unlock()

	if crossed && l.onWarn != nil {
		l.onWarn(state)
	}

	if l.persist != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.persist.NotifySpend(ctx, spent); err != nil {
				l.log.ErrorWithErr("", "budget persistence notify failed", err, nil)
			}
		}()
	}
}

// Release returns a reservation without spending it, for failed requests.
func (l *Ledger) Release(reservedCost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved -= reservedCost
	if l.reserved < 0 {
		l.reserved = 0
	}
}

// Remaining returns the budget available for new reservations.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.stateLocked().Remaining()
}

// Snapshot returns the current ledger state.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.stateLocked()
}

// rolloverLocked resets spend at period boundaries. Caller holds the lock.
func (l *Ledger) rolloverLocked() {
	now := time.Now().UTC()
	if now.Before(l.periodStart.Add(l.periodLen)) {
		return
	}
	l.periodStart = periodStart(now, l.periodLen)
	l.spent = 0
	l.reserved = 0
	l.warned = false
	l.log.Info("", "budget period rolled over", map[string]interface{}{
		"period_start": l.periodStart.Format(time.RFC3339),
		"cap_units":    l.cap,
	})
}

func (l *Ledger) stateLocked() State {
	return State{
		CapUnits:      l.cap,
		SpentUnits:    l.spent,
		ReservedUnits: l.reserved,
		WarnThreshold: l.warnFrac,
		PeriodStart:   l.periodStart,
		PeriodEnd:     l.periodStart.Add(l.periodLen),
	}
}

// periodStart aligns a timestamp to the start of its period.
func periodStart(now time.Time, period time.Duration) time.Time {
	return now.Truncate(period)
}
