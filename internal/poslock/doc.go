// Package poslock serializes conflicting operations on the same on-chain
// position.
//
// A position is identified by (user, chain, token). Writers (swaps,
// trailing-stop executions, rebalances) take the lock in exclusive mode;
// readers (balance refreshes, yield lookups) take it in shared mode. Any
// number of shared holders may coexist; an exclusive holder excludes
// everything else.
//
// FAIRNESS:
//
// Waiters are serviced strictly in arrival order. An exclusive waiter at the
// head of the queue blocks every waiter behind it, including shared waiters
// that would be compatible with the current holders, so a steady stream of
// shared acquisitions cannot starve a writer.
//
// STALENESS:
//
// The pipeline releases its lock on every exit path, but a crashed or hung
// invocation must not pin a position forever. A background sweeper
// force-releases any holder older than the configured TTL and logs a
// warning. The sweep is a backstop, not the primary release mechanism.
package poslock
