package idempotency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournalEntryKey(t *testing.T) {
	key := JournalEntryKey("students", "StudentFee", 123, "create")
	require.Equal(t, "JE:students:StudentFee:123:create", key)
}

func TestMovementKey(t *testing.T) {
	key := MovementKey(42, "OUT", "SO-17", "deliver")
	require.Equal(t, "SM:42:OUT:SO-17:deliver", key)
}

func TestMovementJournalKeyDerivesDistinctNamespace(t *testing.T) {
	mk := MovementKey(42, "IN", "GRN-9", "receive")
	jk := MovementJournalKey(mk)
	require.NotEqual(t, mk, jk)
	require.Equal(t, "JE:movement:SM:42:IN:GRN-9:receive", jk)
}
