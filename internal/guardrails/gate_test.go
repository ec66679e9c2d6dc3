package guardrails

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainclaw-xyz/chainclaw/internal/risk"
	"github.com/chainclaw-xyz/chainclaw/internal/testutil"
)

func failures(checks []Check) []Check {
	var out []Check
	for _, c := range checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

func TestCheck_AllPassUnderLimits(t *testing.T) {
	g := NewDefaultGate()
	checks := g.CheckEVM("alice", 100)
	require.NotEmpty(t, checks)
	assert.Empty(t, failures(checks))
}

func TestCheck_PerTxLimit(t *testing.T) {
	g := NewGate(Policy{Default: Limits{MaxPerTxUSD: 500}})

	checks := g.CheckEVM("alice", 501)
	fails := failures(checks)
	require.Len(t, fails, 1)
	assert.Contains(t, fails[0].Message, "per-transaction limit")

	assert.Empty(t, failures(g.CheckEVM("alice", 500)), "limit is inclusive")
}

func TestCheck_DailySpendAccumulates(t *testing.T) {
	g := NewGate(Policy{Default: Limits{DailyMaxUSD: 1000}})

	assert.Empty(t, failures(g.CheckSolana("alice", 600)))
	g.RecordTxSent("alice", 600)

	fails := failures(g.CheckSolana("alice", 600))
	require.Len(t, fails, 1)
	assert.Contains(t, fails[0].Message, "daily limit")

	// A different user's budget is untouched.
	assert.Empty(t, failures(g.CheckSolana("bob", 600)))
}

func TestCheck_DailyTxCount(t *testing.T) {
	g := NewGate(Policy{Default: Limits{DailyMaxTxCount: 2}})

	g.RecordTxSent("alice", 1)
	g.RecordTxSent("alice", 1)

	fails := failures(g.CheckEVM("alice", 1))
	require.Len(t, fails, 1)
	assert.Contains(t, fails[0].Message, "transaction count")
}

func TestCheck_Cooldown(t *testing.T) {
	clk := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	g := NewGate(Policy{Default: Limits{CooldownSeconds: 60}}, WithGateClock(clk.Now))

	assert.Empty(t, failures(g.CheckEVM("alice", 10)), "no cooldown before first send")

	g.RecordTxSent("alice", 10)
	fails := failures(g.CheckEVM("alice", 10))
	require.Len(t, fails, 1)
	assert.Contains(t, fails[0].Message, "cooldown")

	clk.Advance(61 * time.Second)
	assert.Empty(t, failures(g.CheckEVM("alice", 10)))
}

func TestCheck_DayRollover(t *testing.T) {
	clk := testutil.NewFakeClock(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	g := NewGate(Policy{Default: Limits{DailyMaxUSD: 100}}, WithGateClock(clk.Now))

	g.RecordTxSent("alice", 90)
	require.NotEmpty(t, failures(g.CheckEVM("alice", 50)))

	// Crossing UTC midnight resets the window.
	clk.Advance(2 * time.Hour)
	assert.Empty(t, failures(g.CheckEVM("alice", 50)))
}

func TestLimitsFor_UserOverride(t *testing.T) {
	g := NewGate(Policy{
		Default: Limits{MaxPerTxUSD: 100},
		Users:   map[string]Limits{"whale": {MaxPerTxUSD: 100_000}},
	})

	assert.Equal(t, 100.0, g.LimitsFor("alice").MaxPerTxUSD)
	assert.Equal(t, 100_000.0, g.LimitsFor("whale").MaxPerTxUSD)
}

func TestRequiresConfirmation(t *testing.T) {
	g := NewDefaultGate()
	l := Limits{ConfirmOverUSD: 200}

	assert.False(t, g.RequiresConfirmation(199.99, l))
	assert.True(t, g.RequiresConfirmation(200, l))
	assert.False(t, g.RequiresConfirmation(1_000_000, Limits{}), "zero threshold never asks")
}

func TestCheckVerdict(t *testing.T) {
	g := NewDefaultGate()

	ok := g.CheckVerdict(risk.Verdict{Token: "0xaaa", Score: 10})
	assert.True(t, ok.Passed)

	bad := g.CheckVerdict(risk.Verdict{Token: "0xbbb", Score: 95})
	assert.False(t, bad.Passed)
	assert.Contains(t, bad.Message, "unsafe")

	honeypot := g.CheckVerdict(risk.Verdict{Token: "0xccc", Score: 5, Flags: []string{"honeypot"}})
	assert.False(t, honeypot.Passed)
}

func TestZeroLimits_DisableChecks(t *testing.T) {
	g := NewGate(Policy{Default: Limits{}})
	g.RecordTxSent("alice", 1_000_000)
	assert.Empty(t, failures(g.CheckEVM("alice", 1_000_000)))
}
