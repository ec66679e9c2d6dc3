package pipeline

import "strings"

// ErrorCode categorizes the terminal failure of a pipeline run. Codes are
// stable identifiers surfaced to callers; skills branch on them to decide
// whether to re-prompt the user (never to retry automatically on
// LOCK_TIMEOUT or GUARDRAIL_REJECTED).
type ErrorCode string

const (
	// CodeLockTimeout indicates the position lock was not acquired in time.
	// No later phase ran and nothing was persisted.
	CodeLockTimeout ErrorCode = "LOCK_TIMEOUT"

	// CodeSimulationFailed indicates the chain rejected the dry run.
	// No record was persisted.
	CodeSimulationFailed ErrorCode = "SIMULATION_FAILED"

	// CodeGuardrailRejected indicates a policy check blocked the
	// transaction. No record was persisted.
	CodeGuardrailRejected ErrorCode = "GUARDRAIL_REJECTED"

	// CodeUserDeclined indicates the confirmation gate was not passed,
	// either by an explicit decline or because no confirmer was available.
	CodeUserDeclined ErrorCode = "USER_DECLINED"

	// CodeBroadcastFailed indicates signing or submission failed.
	CodeBroadcastFailed ErrorCode = "BROADCAST_FAILED"

	// CodeConfirmationTimeout indicates the transaction was broadcast but
	// on-chain confirmation was not observed.
	CodeConfirmationTimeout ErrorCode = "CONFIRMATION_TIMEOUT"

	// CodeUnknown is the catch-all for unexpected failures, including
	// recovered panics.
	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// outcome is the metrics label for a terminal result.
func (c ErrorCode) outcome() string {
	if c == "" {
		return "confirmed"
	}
	return strings.ToLower(string(c))
}
