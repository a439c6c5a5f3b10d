package sourcelink

import (
	"errors"
	"time"
)

var (
	// ErrNotAllowlisted indicates the module.model pair is not a permitted source.
	ErrNotAllowlisted = errors.New("sourcelink: module.model not allowlisted")
	// ErrSourceMissing indicates no live record exists for the triple.
	ErrSourceMissing = errors.New("sourcelink: source record missing")
	// ErrNoResolver indicates an allowlisted pair without a registered resolver.
	ErrNoResolver = errors.New("sourcelink: no resolver registered")
)

// Ref is the source triple tying a ledger entry to a business record.
type Ref struct {
	Module string
	Model  string
	ID     int64
}

// Key returns the allowlist key "module.model".
func (r Ref) Key() string {
	return r.Module + "." + r.Model
}

// OrphanEntry is a ledger entry whose source triple fails validation.
type OrphanEntry struct {
	EntryID     int64
	EntryNumber string
	Source      Ref
	Reason      string
}

// BackfillResult reports the outcome of repairing an orphan's triple.
type BackfillResult struct {
	EntryID  int64
	Previous Ref
	Repaired Ref
	DryRun   bool
	At       time.Time
}
