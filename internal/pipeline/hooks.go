package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chainclaw-xyz/chainclaw/internal/guardrails"
)

// Hooks are optional lifecycle observers invoked synchronously in pipeline
// order. Every field may be nil.
//
// Observer hooks (OnSimulated, OnGuardrails, OnBroadcast, OnConfirmed,
// OnFailed) cannot affect the run: a panic inside one is logged and
// contained. OnConfirmationRequired is the exception — it is a decision
// point, not an observer: its return value gates the broadcast, and an
// error from it is treated as "not confirmed" (fail closed).
type Hooks struct {
	OnSimulated  func(preview string)
	OnGuardrails func(checks []guardrails.Check)

	// OnConfirmationRequired is awaited when the estimated USD value
	// crosses the policy's confirmation threshold. Return true to proceed.
	// When nil and confirmation is required, the run is declined.
	OnConfirmationRequired func(ctx context.Context, preview string, estimatedUSD float64) (bool, error)

	OnBroadcast func(hash string)
	OnConfirmed func(hash string, blockNumber int64)
	OnFailed    func(code ErrorCode, message string)
}

func (h Hooks) simulated(logger *slog.Logger, preview string) {
	if h.OnSimulated == nil {
		return
	}
	defer contain(logger, "OnSimulated")
	h.OnSimulated(preview)
}

func (h Hooks) guardrails(logger *slog.Logger, checks []guardrails.Check) {
	if h.OnGuardrails == nil {
		return
	}
	defer contain(logger, "OnGuardrails")
	h.OnGuardrails(checks)
}

func (h Hooks) broadcast(logger *slog.Logger, hash string) {
	if h.OnBroadcast == nil {
		return
	}
	defer contain(logger, "OnBroadcast")
	h.OnBroadcast(hash)
}

func (h Hooks) confirmed(logger *slog.Logger, hash string, block int64) {
	if h.OnConfirmed == nil {
		return
	}
	defer contain(logger, "OnConfirmed")
	h.OnConfirmed(hash, block)
}

func (h Hooks) failed(logger *slog.Logger, code ErrorCode, message string) {
	if h.OnFailed == nil {
		return
	}
	defer contain(logger, "OnFailed")
	h.OnFailed(code, message)
}

func contain(logger *slog.Logger, hook string) {
	if r := recover(); r != nil {
		logger.Error("lifecycle hook panicked", "hook", hook, "panic", fmt.Sprint(r))
	}
}
