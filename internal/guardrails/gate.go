package guardrails

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chainclaw-xyz/chainclaw/internal/risk"
)

// Check is one guardrail verdict. The pipeline aborts when any check in
// the returned list has Passed=false, aggregating the messages.
type Check struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// dayWindow tracks one user's spend within the current UTC day.
type dayWindow struct {
	day      time.Time
	spentUSD float64
	txCount  int
	lastSent time.Time
}

// Gate is the concrete guardrail policy gate. Safe for concurrent use
// across users; the pipeline holds no extra locking around it beyond the
// position lock already held during the call.
type Gate struct {
	mu     sync.Mutex
	policy Policy
	days   map[string]*dayWindow
	now    func() time.Time
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock overrides the time source for cooldown and day rollover.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithGateLogger sets the gate's logger.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate enforcing the given policy.
func NewGate(policy Policy, opts ...GateOption) *Gate {
	if policy.Users == nil {
		policy.Users = map[string]Limits{}
	}
	g := &Gate{
		policy: policy,
		days:   make(map[string]*dayWindow),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewDefaultGate creates a gate with the built-in default limits for every
// user.
func NewDefaultGate(opts ...GateOption) *Gate {
	return NewGate(Policy{Default: DefaultLimits()}, opts...)
}

// LimitsFor returns the effective limits for a user.
func (g *Gate) LimitsFor(userID string) Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy.limitsFor(userID)
}

// CheckEVM evaluates the spend guardrails for an EVM transaction.
func (g *Gate) CheckEVM(userID string, estimatedUSD float64) []Check {
	return g.check(userID, estimatedUSD)
}

// CheckSolana evaluates the spend guardrails for a Solana transaction.
func (g *Gate) CheckSolana(userID string, estimatedUSD float64) []Check {
	return g.check(userID, estimatedUSD)
}

func (g *Gate) check(userID string, estimatedUSD float64) []Check {
	g.mu.Lock()
	defer g.mu.Unlock()

	limits := g.policy.limitsFor(userID)
	win := g.windowLocked(userID)

	checks := make([]Check, 0, 4)

	if limits.MaxPerTxUSD > 0 && estimatedUSD > limits.MaxPerTxUSD {
		checks = append(checks, Check{false, fmt.Sprintf(
			"transaction value $%.2f exceeds per-transaction limit $%.2f", estimatedUSD, limits.MaxPerTxUSD)})
	} else {
		checks = append(checks, Check{true, "within per-transaction limit"})
	}

	if limits.DailyMaxUSD > 0 && win.spentUSD+estimatedUSD > limits.DailyMaxUSD {
		checks = append(checks, Check{false, fmt.Sprintf(
			"daily spend $%.2f + $%.2f exceeds daily limit $%.2f", win.spentUSD, estimatedUSD, limits.DailyMaxUSD)})
	} else {
		checks = append(checks, Check{true, "within daily spend limit"})
	}

	if limits.DailyMaxTxCount > 0 && win.txCount >= limits.DailyMaxTxCount {
		checks = append(checks, Check{false, fmt.Sprintf(
			"daily transaction count %d reached limit %d", win.txCount, limits.DailyMaxTxCount)})
	} else {
		checks = append(checks, Check{true, "within daily transaction count"})
	}

	if limits.CooldownSeconds > 0 && !win.lastSent.IsZero() {
		elapsed := g.now().Sub(win.lastSent)
		cooldown := time.Duration(limits.CooldownSeconds) * time.Second
		if elapsed < cooldown {
			checks = append(checks, Check{false, fmt.Sprintf(
				"cooldown: %s remaining before next transaction", (cooldown - elapsed).Round(time.Second))})
		} else {
			checks = append(checks, Check{true, "cooldown elapsed"})
		}
	} else {
		checks = append(checks, Check{true, "no cooldown in effect"})
	}

	return checks
}

// CheckVerdict converts a risk oracle verdict into a guardrail check.
// Skills call this and pass the result alongside the spend checks.
func (g *Gate) CheckVerdict(v risk.Verdict) Check {
	if v.Severe() {
		return Check{false, fmt.Sprintf("token %s flagged unsafe (score %d, flags %v)", v.Token, v.Score, v.Flags)}
	}
	return Check{true, fmt.Sprintf("token %s risk score %d acceptable", v.Token, v.Score)}
}

// RequiresConfirmation reports whether a transaction of the given USD value
// needs explicit human confirmation under the given limits.
func (g *Gate) RequiresConfirmation(estimatedUSD float64, limits Limits) bool {
	return limits.ConfirmOverUSD > 0 && estimatedUSD >= limits.ConfirmOverUSD
}

// RecordTxSent feeds the daily spend and cooldown tracking after a
// confirmed broadcast.
func (g *Gate) RecordTxSent(userID string, amountUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	win := g.windowLocked(userID)
	win.spentUSD += amountUSD
	win.txCount++
	win.lastSent = g.now()
}

// windowLocked returns the user's tracking window for the current UTC day,
// rolling it over when the day has changed.
func (g *Gate) windowLocked(userID string) *dayWindow {
	today := g.now().UTC().Truncate(24 * time.Hour)
	win, ok := g.days[userID]
	if !ok || !win.day.Equal(today) {
		win = &dayWindow{day: today}
		g.days[userID] = win
	}
	return win
}
