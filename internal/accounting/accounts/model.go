package accounts

import "time"

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Account models a chart of accounts node as seen by the gateway.
// The chart itself is owned by an external collaborator; this module
// only reads the fields posting validation needs.
type Account struct {
	ID         int64
	Code       string
	Name       string
	Type       AccountType
	ParentID   *int64
	IsActive   bool
	IsLeaf     bool
	IsPostable bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Postable reports whether journal lines may target this account.
func (a Account) Postable() bool {
	return a.IsActive && a.IsLeaf && a.IsPostable
}
