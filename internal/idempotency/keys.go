package idempotency

import "fmt"

// Key builders. Callers derive collision-free keys deterministically from
// the business record that triggered the operation.

// JournalEntryKey builds the key for a journal entry producing event:
// JE:<module>:<Model>:<id>:<event>.
func JournalEntryKey(module, model string, id int64, event string) string {
	return fmt.Sprintf("JE:%s:%s:%d:%s", module, model, id, event)
}

// MovementKey builds the key for a stock movement producing event:
// SM:<product_id>:<movement_type>:<reference_id>:<event>.
func MovementKey(productID int64, movementType, referenceID, event string) string {
	return fmt.Sprintf("SM:%d:%s:%s:%s", productID, movementType, referenceID, event)
}

// MovementJournalKey derives the key for the journal entry paired with a
// movement, so the two writes deduplicate independently.
func MovementJournalKey(movementKey string) string {
	return fmt.Sprintf("JE:movement:%s", movementKey)
}

// SignalKey builds the key for a governed signal handler invocation:
// SIG:<handler>:<module>.<Model>:<id>:<action>.
func SignalKey(handler, module, model string, id int64, action string) string {
	return fmt.Sprintf("SIG:%s:%s.%s:%d:%s", handler, module, model, id, action)
}
