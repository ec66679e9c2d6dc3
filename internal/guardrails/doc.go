// Package guardrails is the policy gate consulted by the execution
// pipeline before funds move.
//
// A gate answers three questions: may this transaction proceed (spend
// limits, daily caps, cooldowns), does it need explicit human confirmation
// (USD threshold), and what happened (RecordTxSent feeds the daily
// counters). Limits come from CUE policy documents validated against an
// embedded schema, with a built-in default for users without an explicit
// policy.
//
// All checks are evaluated against USD estimates supplied by the caller;
// the gate does no price discovery of its own.
package guardrails
