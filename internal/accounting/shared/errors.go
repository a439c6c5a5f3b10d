package shared

import "errors"

// Typed errors surfaced to gateway callers. Every failure of a governed
// operation maps to exactly one of these kinds; the idempotency record
// stores the matching code for deterministic replay.
var (
	// ErrWorkflowDisabled indicates the switchboard refused the workflow.
	ErrWorkflowDisabled = errors.New("accounting: workflow disabled")
	// ErrEmergencyDisabled indicates an active emergency kill switch.
	ErrEmergencyDisabled = errors.New("accounting: emergency disabled")
	// ErrInvalidSourceLinkage indicates the source triple is not allowlisted
	// or the target record does not exist.
	ErrInvalidSourceLinkage = errors.New("accounting: invalid source linkage")
	// ErrOperationInProgress indicates another actor holds the idempotency key.
	ErrOperationInProgress = errors.New("accounting: operation in progress")
	// ErrNoOpenPeriod indicates no open period contains the entry date.
	ErrNoOpenPeriod = errors.New("accounting: no open period")
	// ErrPeriodClosed indicates the target period is closed.
	ErrPeriodClosed = errors.New("accounting: period closed")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrInvalidLine indicates a line failed validation.
	ErrInvalidLine = errors.New("accounting: invalid line")
	// ErrInvalidAccount indicates a missing, inactive, group or non-postable account.
	ErrInvalidAccount = errors.New("accounting: invalid account")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrPostedImmutable indicates an attempted mutation of a posted entry.
	ErrPostedImmutable = errors.New("accounting: posted entry immutable")
	// ErrReversalNotAllowed indicates reversal pre-conditions failed.
	ErrReversalNotAllowed = errors.New("accounting: reversal not allowed")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("accounting: journal entry not found")
	// ErrEntryExists indicates an entry was already committed under the
	// idempotency key.
	ErrEntryExists = errors.New("accounting: entry already recorded for idempotency key")
	// ErrNegativeStock indicates a movement would drive stock below zero.
	ErrNegativeStock = errors.New("accounting: negative stock")
	// ErrInvalidStatus indicates action can't proceed from the current status.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
)

// ErrorCode returns the stable code stored in idempotency and audit records.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrWorkflowDisabled):
		return "WORKFLOW_DISABLED"
	case errors.Is(err, ErrEmergencyDisabled):
		return "EMERGENCY_DISABLED"
	case errors.Is(err, ErrInvalidSourceLinkage):
		return "INVALID_SOURCE_LINKAGE"
	case errors.Is(err, ErrOperationInProgress):
		return "OPERATION_IN_PROGRESS"
	case errors.Is(err, ErrNoOpenPeriod):
		return "NO_OPEN_PERIOD"
	case errors.Is(err, ErrPeriodClosed):
		return "PERIOD_CLOSED"
	case errors.Is(err, ErrUnbalanced):
		return "UNBALANCED_ENTRY"
	case errors.Is(err, ErrInvalidLine):
		return "INVALID_LINE"
	case errors.Is(err, ErrInvalidAccount):
		return "INVALID_ACCOUNT"
	case errors.Is(err, ErrTooFewLines):
		return "TOO_FEW_LINES"
	case errors.Is(err, ErrPostedImmutable):
		return "POSTED_ENTRY_IMMUTABLE"
	case errors.Is(err, ErrReversalNotAllowed):
		return "REVERSAL_NOT_ALLOWED"
	case errors.Is(err, ErrEntryNotFound):
		return "ENTRY_NOT_FOUND"
	case errors.Is(err, ErrEntryExists):
		return "ENTRY_EXISTS"
	case errors.Is(err, ErrNegativeStock):
		return "NEGATIVE_STOCK"
	case errors.Is(err, ErrInvalidStatus):
		return "INVALID_STATUS"
	default:
		return "INTERNAL_ERROR"
	}
}

// ErrorFromCode reconstructs the sentinel for a stored failure code, so a
// replayed failure surfaces the same typed error as the original attempt.
func ErrorFromCode(code string) error {
	for _, candidate := range []error{
		ErrWorkflowDisabled, ErrEmergencyDisabled, ErrInvalidSourceLinkage,
		ErrOperationInProgress, ErrNoOpenPeriod, ErrPeriodClosed,
		ErrUnbalanced, ErrInvalidLine, ErrInvalidAccount, ErrTooFewLines,
		ErrPostedImmutable, ErrReversalNotAllowed, ErrEntryNotFound,
		ErrEntryExists, ErrNegativeStock, ErrInvalidStatus,
	} {
		if ErrorCode(candidate) == code {
			return candidate
		}
	}
	return errors.New("accounting: prior attempt failed with " + code)
}
