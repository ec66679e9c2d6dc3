// Package solana executes Solana transactions through the shared
// pipeline. Requests arrive as prepared instruction lists; the executor
// attaches a compute-budget price, fetches a recent blockhash, and
// submits through the caller's signer.
package solana

import (
	solanago "github.com/gagliardetto/solana-go"
)

// ChainID is the synthetic chain id used for Solana in transaction
// records and position lock keys. Solana has no EVM-style chain id, so
// a fixed value keeps the storage schema uniform.
const ChainID uint64 = 900

// Request describes one Solana transaction to execute.
type Request struct {
	From         solanago.PublicKey
	Instructions []solanago.Instruction

	// TargetAddress identifies the position the transaction touches,
	// usually a token mint or pool address. Empty falls back to From.
	TargetAddress string

	// EstimatedSolCost is the expected SOL spent by the transaction,
	// including fees, used for USD guardrail checks.
	EstimatedSolCost float64
}

// SimulateResult is the subset of the RPC simulation response the
// pipeline acts on.
type SimulateResult struct {
	// Err is non-nil when the simulated transaction would fail. The RPC
	// reports it as an untyped JSON value.
	Err           any
	Logs          []string
	UnitsConsumed uint64
}
