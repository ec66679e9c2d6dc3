// Package pipeline drives a transaction request through the execution
// state machine shared by every chain family:
//
//	lock → build → simulate → guardrail check → persist → confirmation
//	gate → approve → sign & broadcast → confirm → release
//
// The driver owns the sequencing, persistence, and guardrail policy; all
// chain-specific work (nonce/gas resolution, blockhash fetch, dry-run,
// broadcast, confirmation strategy) lives behind the ChainAdapter
// interface implemented by the evm and solana packages.
//
// LOCKING:
//
// The position lock wraps the entire run, not just the broadcast.
// Simulation results and guardrail spend totals are only valid if no
// concurrent operation on the same position can change balances or
// daily-spend counters between simulation and broadcast; holding the lock
// end to end gives the spend-limit check a consistent view. The lock is
// released unconditionally on every exit path.
//
// ERRORS:
//
// Nothing escapes Run as an error or panic. Every failure mode —
// lock timeout, simulation failure, guardrail rejection, user decline,
// broadcast failure, confirmation failure — is normalized into a Result
// with a distinct ErrorCode, and truly unexpected failures are caught and
// reported as CodeUnknown.
package pipeline
