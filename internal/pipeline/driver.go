package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chainclaw-xyz/chainclaw/internal/guardrails"
	"github.com/chainclaw-xyz/chainclaw/internal/metrics"
	"github.com/chainclaw-xyz/chainclaw/internal/poslock"
	"github.com/chainclaw-xyz/chainclaw/internal/txlog"
)

// Family identifies a chain family for guardrail dispatch and metrics.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// ChainAdapter is the chain-specific half of the pipeline. One adapter
// instance carries one transaction request through one run; adapters are
// not reused.
type ChainAdapter interface {
	Family() Family
	ChainID() uint64

	// LockTarget is the address component of the position-lock key: the
	// explicit target address for Solana, the `to` address for EVM.
	LockTarget() string

	// Build prepares the unsigned transaction: nonce and gas parameters
	// for EVM, blockhash and priority-fee instruction for Solana.
	Build(ctx context.Context) error

	// Simulate dry-runs the built transaction against the chain and
	// returns a human-readable preview on success.
	Simulate(ctx context.Context) (preview string, err error)

	// EstimatedUSD converts the transaction's value using the supplied
	// price hint, or the adapter's fallback price when the hint is zero.
	EstimatedUSD(priceHint float64) float64

	// Broadcast signs and submits, returning the transaction hash or
	// signature.
	Broadcast(ctx context.Context) (hash string, err error)

	// WaitConfirmation blocks until the transaction is confirmed on chain.
	// Adapters whose Simulate already validated execution may return
	// immediately. A block number of 0 means the chain reports none.
	WaitConfirmation(ctx context.Context, hash string) (blockNumber int64, err error)
}

// GuardrailGate is the policy gate contract the driver consumes.
// Implemented by *guardrails.Gate.
type GuardrailGate interface {
	CheckEVM(userID string, estimatedUSD float64) []guardrails.Check
	CheckSolana(userID string, estimatedUSD float64) []guardrails.Check
	LimitsFor(userID string) guardrails.Limits
	RequiresConfirmation(estimatedUSD float64, limits guardrails.Limits) bool
	RecordTxSent(userID string, amountUSD float64)
}

// TransactionLog is the persistence contract the driver consumes.
// Implemented by *txlog.Store.
type TransactionLog interface {
	Create(ctx context.Context, p txlog.CreateParams) (string, error)
	UpdateStatus(ctx context.Context, id string, status txlog.Status, extra *txlog.StatusExtra) error
}

// Meta is the execution metadata attached to every request for audit
// logging and guardrail USD conversion.
type Meta struct {
	UserID string
	Skill  string
	Intent string
	// PriceUSDHint is the caller-supplied native-token price. Zero means
	// use the adapter's fallback.
	PriceUSDHint float64
}

// Result is the normalized outcome of a run. Code is empty on success.
type Result struct {
	Success     bool      `json:"success"`
	TxID        string    `json:"tx_id,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	BlockNumber int64     `json:"block_number,omitempty"`
	Code        ErrorCode `json:"code,omitempty"`
	Message     string    `json:"message"`
}

// DefaultLockTimeout bounds the lock-acquisition phase of a run.
const DefaultLockTimeout = 30 * time.Second

// Driver executes the shared state machine. One driver instance serves
// many concurrent runs; it holds no per-run state beyond the injected
// collaborators, which are internally synchronized.
type Driver struct {
	locks       *poslock.Service
	gate        GuardrailGate
	log         TransactionLog
	logger      *slog.Logger
	lockTimeout time.Duration
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLockTimeout overrides the lock-acquisition deadline.
func WithLockTimeout(d time.Duration) DriverOption {
	return func(dr *Driver) { dr.lockTimeout = d }
}

// WithLogger sets the driver's logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(dr *Driver) { dr.logger = l }
}

// NewDriver creates a driver over the injected collaborators.
func NewDriver(locks *poslock.Service, gate GuardrailGate, log TransactionLog, opts ...DriverOption) *Driver {
	d := &Driver{
		locks:       locks,
		gate:        gate,
		log:         log,
		logger:      slog.Default(),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drives one request through the state machine.
//
// The exclusive position lock is acquired first and released
// unconditionally when Run returns, whatever the exit path. On lock
// timeout Run returns immediately: no later phase runs and nothing is
// persisted.
func (d *Driver) Run(ctx context.Context, a ChainAdapter, meta Meta, hooks Hooks) Result {
	key := poslock.Key(meta.UserID, a.ChainID(), a.LockTarget())

	start := time.Now()
	handle, err := d.locks.AcquireTimeout(ctx, key, poslock.ModeExclusive, d.lockTimeout)
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.Warn("position lock not acquired", "key", key, "user", meta.UserID, "err", err)
		res := Result{Code: CodeLockTimeout, Message: "could not acquire position lock"}
		metrics.Executions.WithLabelValues(string(a.Family()), res.Code.outcome()).Inc()
		return res
	}
	defer d.locks.Release(handle)

	res := d.run(ctx, a, meta, hooks)
	metrics.Executions.WithLabelValues(string(a.Family()), res.Code.outcome()).Inc()
	return res
}

func (d *Driver) run(ctx context.Context, a ChainAdapter, meta Meta, hooks Hooks) (res Result) {
	var txID string

	// Catch-all: nothing may escape the pipeline as a panic. The lock
	// release in Run's defer still runs after this recovery.
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("unexpected pipeline failure: %v", r)
			d.logger.Error("pipeline panic recovered",
				"chain", a.Family(), "user", meta.UserID, "panic", fmt.Sprint(r))
			if txID != "" {
				d.markFailed(ctx, txID, "", msg)
			}
			hooks.failed(d.logger, CodeUnknown, msg)
			res = Result{TxID: txID, Code: CodeUnknown, Message: msg}
		}
	}()

	if err := a.Build(ctx); err != nil {
		msg := fmt.Sprintf("build transaction: %v", err)
		d.logger.Error("build failed", "chain", a.Family(), "user", meta.UserID, "err", err)
		hooks.failed(d.logger, CodeUnknown, msg)
		return Result{Code: CodeUnknown, Message: msg}
	}

	preview, err := a.Simulate(ctx)
	if err != nil {
		// Unsimulated attempts are never persisted.
		msg := fmt.Sprintf("simulation failed: %v", err)
		d.logger.Warn("simulation failed", "chain", a.Family(), "user", meta.UserID, "err", err)
		hooks.failed(d.logger, CodeSimulationFailed, msg)
		return Result{Code: CodeSimulationFailed, Message: msg}
	}
	hooks.simulated(d.logger, preview)

	estimatedUSD := a.EstimatedUSD(meta.PriceUSDHint)

	var checks []guardrails.Check
	if a.Family() == FamilySolana {
		checks = d.gate.CheckSolana(meta.UserID, estimatedUSD)
	} else {
		checks = d.gate.CheckEVM(meta.UserID, estimatedUSD)
	}
	hooks.guardrails(d.logger, checks)

	var reasons []string
	for _, c := range checks {
		if !c.Passed {
			reasons = append(reasons, c.Message)
		}
	}
	if len(reasons) > 0 {
		// Guardrail-rejected attempts are not persisted either: the record
		// is the first durable trace and is only created once policy has
		// passed.
		msg := "guardrails rejected transaction: " + strings.Join(reasons, "; ")
		d.logger.Info("guardrails rejected", "user", meta.UserID, "usd", estimatedUSD, "reasons", reasons)
		return Result{Code: CodeGuardrailRejected, Message: msg}
	}

	txID, err = d.log.Create(ctx, txlog.CreateParams{
		UserID:    meta.UserID,
		ChainID:   a.ChainID(),
		Skill:     meta.Skill,
		Intent:    meta.Intent,
		AmountUSD: estimatedUSD,
	})
	if err != nil {
		msg := fmt.Sprintf("persist transaction record: %v", err)
		d.logger.Error("record create failed", "user", meta.UserID, "err", err)
		hooks.failed(d.logger, CodeUnknown, msg)
		return Result{Code: CodeUnknown, Message: msg}
	}
	if err := d.log.UpdateStatus(ctx, txID, txlog.StatusSimulated, nil); err != nil {
		msg := fmt.Sprintf("advance record to simulated: %v", err)
		d.markFailed(ctx, txID, "", msg)
		hooks.failed(d.logger, CodeUnknown, msg)
		return Result{TxID: txID, Code: CodeUnknown, Message: msg}
	}

	limits := d.gate.LimitsFor(meta.UserID)
	if d.gate.RequiresConfirmation(estimatedUSD, limits) {
		if hooks.OnConfirmationRequired == nil {
			// Fail closed: confirmation required but nobody to ask.
			msg := "confirmation required but no confirmer available"
			d.reject(ctx, txID, msg)
			return Result{TxID: txID, Code: CodeUserDeclined, Message: msg}
		}
		approved, err := hooks.OnConfirmationRequired(ctx, preview, estimatedUSD)
		if err != nil {
			msg := fmt.Sprintf("confirmation not obtained: %v", err)
			d.reject(ctx, txID, msg)
			return Result{TxID: txID, Code: CodeConfirmationTimeout, Message: msg}
		}
		if !approved {
			msg := "transaction cancelled by user"
			d.reject(ctx, txID, msg)
			return Result{TxID: txID, Code: CodeUserDeclined, Message: msg}
		}
	}

	if err := d.log.UpdateStatus(ctx, txID, txlog.StatusApproved, nil); err != nil {
		msg := fmt.Sprintf("advance record to approved: %v", err)
		d.markFailed(ctx, txID, "", msg)
		hooks.failed(d.logger, CodeUnknown, msg)
		return Result{TxID: txID, Code: CodeUnknown, Message: msg}
	}

	hash, err := a.Broadcast(ctx)
	if err != nil {
		msg := fmt.Sprintf("broadcast failed: %v", err)
		d.logger.Error("broadcast failed", "chain", a.Family(), "tx", txID, "err", err)
		d.markFailed(ctx, txID, "", msg)
		hooks.failed(d.logger, CodeBroadcastFailed, msg)
		return Result{TxID: txID, Code: CodeBroadcastFailed, Message: msg}
	}
	hooks.broadcast(d.logger, hash)

	block, err := a.WaitConfirmation(ctx, hash)
	if err != nil {
		msg := fmt.Sprintf("confirmation failed: %v", err)
		d.logger.Error("confirmation failed", "chain", a.Family(), "tx", txID, "hash", hash, "err", err)
		d.markFailed(ctx, txID, hash, msg)
		hooks.failed(d.logger, CodeConfirmationTimeout, msg)
		return Result{TxID: txID, Hash: hash, Code: CodeConfirmationTimeout, Message: msg}
	}

	if err := d.log.UpdateStatus(ctx, txID, txlog.StatusConfirmed, &txlog.StatusExtra{
		TxHash:      hash,
		BlockNumber: block,
	}); err != nil {
		// The transaction IS confirmed on chain; a logging failure must
		// not flip the result.
		d.logger.Error("confirmed transaction not recorded", "tx", txID, "hash", hash, "err", err)
	}
	hooks.confirmed(d.logger, hash, block)
	d.gate.RecordTxSent(meta.UserID, estimatedUSD)

	d.logger.Info("transaction confirmed",
		"chain", a.Family(), "user", meta.UserID, "tx", txID, "hash", hash, "block", block)
	return Result{Success: true, TxID: txID, Hash: hash, BlockNumber: block, Message: "transaction confirmed"}
}

func (d *Driver) reject(ctx context.Context, txID, reason string) {
	if err := d.log.UpdateStatus(ctx, txID, txlog.StatusRejected, &txlog.StatusExtra{Error: reason}); err != nil {
		d.logger.Error("record not marked rejected", "tx", txID, "err", err)
	}
}

func (d *Driver) markFailed(ctx context.Context, txID, hash, reason string) {
	extra := &txlog.StatusExtra{TxHash: hash, Error: reason}
	if err := d.log.UpdateStatus(ctx, txID, txlog.StatusFailed, extra); err != nil {
		d.logger.Error("record not marked failed", "tx", txID, "err", err)
	}
}
